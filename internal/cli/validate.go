package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mailmonkey/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Build bool
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                      `json:"valid"`
	Errors []*config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [profile.yaml]",
		Short: "Validate a campaign profile",
		Long: `Check a campaign profile against its schema without building anything.

With --build the profile must also name everything a build needs: campaign
name, number, target size and at least one mandatory list.

Exit codes:
  0 - Profile valid
  1 - Profile invalid
  2 - Command error (file not found, YAML syntax, etc.)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.ConfigPath = args[0]
			}
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Build, "build", false, "also require the settings build needs")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	profile, err := opts.profile()
	if err == nil && opts.Build {
		err = profile.ValidateBuild()
	}
	if err == nil {
		if opts.Format == "json" {
			return formatter.Success(ValidationResult{Valid: true})
		}
		fmt.Fprintln(formatter.Writer, "✓ Profile valid")
		return nil
	}

	errs := validationErrors(err)
	if len(errs) == 0 {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load profile", err)
	}
	return outputValidationErrors(formatter, errs)
}

// validationErrors flattens a joined error into its ValidationErrors.
func validationErrors(err error) []*config.ValidationError {
	var out []*config.ValidationError
	var walk func(error)
	walk = func(e error) {
		switch e := e.(type) {
		case *config.ValidationError:
			out = append(out, e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		default:
			if inner := errors.Unwrap(e); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []*config.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeInvalidProfile,
				Message: errs[0].Error(),
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		field := err.Field
		if field == "" {
			field = "profile"
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
