// Package config loads campaign profiles.
//
// A profile is a YAML file holding every knob of a campaign build plus the
// folder conventions finalize and rebuild share. Loading is strict: unknown
// keys are rejected, the decoded profile is checked against an embedded CUE
// schema, and MAILMONKEY_* environment variables (optionally from a .env
// file) override scalar settings.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mailmonkey/internal/campaign"
	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/eligibility"
	"github.com/roach88/mailmonkey/internal/presort"
	"github.com/roach88/mailmonkey/internal/tracker"
)

// Profile is a campaign profile.
type Profile struct {
	Campaign Campaign `yaml:"campaign" json:"campaign"`
	Lists    Lists    `yaml:"lists" json:"lists"`
	Filters  Filters  `yaml:"filters" json:"filters"`
	Presort  Presort  `yaml:"presort" json:"presort"`
	Paths    Paths    `yaml:"paths" json:"paths"`
	Marker   Marker   `yaml:"marker" json:"marker"`
	Archive  Archive  `yaml:"archive" json:"archive"`
}

type Campaign struct {
	Name       string `yaml:"name" json:"name,omitempty" env:"MAILMONKEY_CAMPAIGN_NAME"`
	Number     int    `yaml:"number" json:"number,omitempty" env:"MAILMONKEY_CAMPAIGN_NUMBER"`
	Target     int    `yaml:"target" json:"target,omitempty" env:"MAILMONKEY_TARGET"`
	TemplateID string `yaml:"template_id" json:"template_id,omitempty" env:"MAILMONKEY_TEMPLATE_ID"`
	// Overwrite allows rebuilding an unfinalized campaign master.
	Overwrite bool `yaml:"overwrite" json:"overwrite,omitempty"`
}

// Lists name the input CSVs. Mandatory lists are always mailed.
type Lists struct {
	Mandatory []string `yaml:"mandatory" json:"mandatory,omitempty"`
	Optional  []string `yaml:"optional" json:"optional,omitempty"`
}

type Filters struct {
	PriorExact       *int   `yaml:"prior_exact" json:"prior_exact,omitempty"`
	PriorMax         *int   `yaml:"prior_max" json:"prior_max,omitempty"`
	MinGap           int    `yaml:"min_gap" json:"min_gap,omitempty"`
	MinDaysSinceLast *int   `yaml:"min_days_since_last" json:"min_days_since_last,omitempty"`
	LastSentBefore   string `yaml:"last_sent_before" json:"last_sent_before,omitempty"`
	// MissingLastSent is the policy for time rules on rows without a usable
	// LastSentDt: fail (default), include or abort.
	MissingLastSent string `yaml:"missing_last_sent" json:"missing_last_sent,omitempty" env:"MAILMONKEY_MISSING_LAST_SENT"`
}

type Presort struct {
	Strict150     bool  `yaml:"strict_150" json:"strict_150,omitempty" env:"MAILMONKEY_STRICT_150"`
	TrayThreshold int   `yaml:"tray_threshold" json:"tray_threshold,omitempty"`
	Rates         Rates `yaml:"rates" json:"rates"`
}

type Rates struct {
	FiveDigit  float64 `yaml:"five_digit" json:"five_digit"`
	ThreeDigit float64 `yaml:"three_digit" json:"three_digit"`
	AADC       float64 `yaml:"aadc" json:"aadc"`
}

type Paths struct {
	// Root holds the campaign folders and the tracker directory.
	Root string `yaml:"root" json:"root,omitempty" env:"MAILMONKEY_ROOT"`
	// TrackerDir defaults to <Root>/MasterCampaignTracker.
	TrackerDir string `yaml:"tracker_dir" json:"tracker_dir,omitempty" env:"MAILMONKEY_TRACKER_DIR"`
	// CampaignDir overrides the generated <Name>_<N>_<MonYYYY> folder.
	CampaignDir string `yaml:"campaign_dir" json:"campaign_dir,omitempty"`
}

type Marker struct {
	Name     string `yaml:"name" json:"name,omitempty" env:"MAILMONKEY_MARKER_NAME"`
	Required bool   `yaml:"required" json:"required,omitempty" env:"MAILMONKEY_MARKER_REQUIRED"`
}

// Archive configures the off-site copy of logs and tracker exports.
type Archive struct {
	Bucket string `yaml:"bucket" json:"bucket,omitempty" env:"MAILMONKEY_ARCHIVE_BUCKET"`
	Prefix string `yaml:"prefix" json:"prefix,omitempty" env:"MAILMONKEY_ARCHIVE_PREFIX"`
	Region string `yaml:"region" json:"region,omitempty" env:"MAILMONKEY_ARCHIVE_REGION"`
}

// Default returns a profile with default rates, tray threshold and root ".".
func Default() *Profile {
	return &Profile{
		Presort: Presort{
			TrayThreshold: presort.DefaultTrayThreshold,
			Rates: Rates{
				FiveDigit:  presort.DefaultRates.FiveDigit,
				ThreeDigit: presort.DefaultRates.ThreeDigit,
				AADC:       presort.DefaultRates.AADC,
			},
		},
		Paths: Paths{Root: "."},
	}
}

// Load reads and validates the profile at path, layered over Default.
// An empty path returns the validated default profile.
func Load(path string) (*Profile, error) {
	p := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read profile: %w", err)
		}
		if err := decode(data, p); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decode(data []byte, p *Profile) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(p); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// RatesValue converts the configured rates.
func (p *Profile) RatesValue() presort.Rates {
	return presort.Rates{
		FiveDigit:  p.Presort.Rates.FiveDigit,
		ThreeDigit: p.Presort.Rates.ThreeDigit,
		AADC:       p.Presort.Rates.AADC,
	}
}

// EligibilityOptions converts the filters. Validate has already checked the
// date and policy, so parse errors cannot occur on a loaded profile.
func (p *Profile) EligibilityOptions(c clock.Clock) (eligibility.Options, error) {
	policy, err := eligibility.ParsePolicy(p.Filters.MissingLastSent)
	if err != nil {
		return eligibility.Options{}, err
	}
	opts := eligibility.Options{
		CurrentCampaign:  p.Campaign.Number,
		PriorExact:       p.Filters.PriorExact,
		PriorMax:         p.Filters.PriorMax,
		MinGap:           p.Filters.MinGap,
		MinDaysSinceLast: p.Filters.MinDaysSinceLast,
		MissingLastSent:  policy,
		Clock:            c,
	}
	if p.Filters.LastSentBefore != "" {
		d, err := clock.ParseDate(p.Filters.LastSentBefore)
		if err != nil {
			return eligibility.Options{}, fmt.Errorf("last_sent_before: %w", err)
		}
		opts.LastSentBefore = &d
	}
	return opts, nil
}

// CampaignDir returns the campaign folder for a build started at when.
func (p *Profile) CampaignDir(when time.Time) string {
	if p.Paths.CampaignDir != "" {
		return p.Paths.CampaignDir
	}
	return filepath.Join(p.Paths.Root, campaign.FolderName(p.Campaign.Name, p.Campaign.Number, when))
}

// TrackerLayout returns where the tracker CSVs and state live.
func (p *Profile) TrackerLayout() tracker.Layout {
	if p.Paths.TrackerDir != "" {
		return tracker.Layout{Dir: p.Paths.TrackerDir}
	}
	return tracker.LayoutFor(p.Paths.Root)
}
