package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError is one problem found in a profile.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "profile: " + e.Message
	}
	return fmt.Sprintf("profile: %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err contains a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Validate checks the profile against the embedded schema and the rules the
// schema cannot express. All problems are returned, joined.
func (p *Profile) Validate() error {
	errs := schemaErrors(p)

	if p.Filters.PriorExact != nil && p.Filters.PriorMax != nil {
		errs = append(errs, &ValidationError{
			Field:   "filters",
			Message: "prior_exact and prior_max are mutually exclusive",
		})
	}
	if p.Filters.MinGap > 0 && p.Campaign.Number == 0 {
		errs = append(errs, &ValidationError{
			Field:   "filters.min_gap",
			Message: "requires campaign.number",
		})
	}
	return errors.Join(errs...)
}

// ValidateBuild additionally checks what a build needs.
func (p *Profile) ValidateBuild() error {
	var errs []error
	if err := p.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(p.Campaign.Name) == "" {
		errs = append(errs, &ValidationError{Field: "campaign.name", Message: "is required"})
	}
	if p.Campaign.Number <= 0 {
		errs = append(errs, &ValidationError{Field: "campaign.number", Message: "must be positive"})
	}
	if p.Campaign.Target <= 0 {
		errs = append(errs, &ValidationError{Field: "campaign.target", Message: "must be positive"})
	}
	if len(p.Lists.Mandatory) == 0 {
		errs = append(errs, &ValidationError{Field: "lists.mandatory", Message: "at least one list is required"})
	}
	return errors.Join(errs...)
}

func schemaErrors(p *Profile) []error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []error{fmt.Errorf("compile profile schema: %w", err)}
	}
	def := schema.LookupPath(cue.ParsePath("#Profile"))

	value := def.Unify(ctx.Encode(p))
	err := value.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var out []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		path := e.Path()
		if len(path) > 0 && path[0] == "#Profile" {
			path = path[1:]
		}
		out = append(out, &ValidationError{
			Field:   strings.Join(path, "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return out
}
