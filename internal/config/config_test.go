package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/eligibility"
	"github.com/roach88/mailmonkey/internal/testutil"
)

const sampleProfile = `
campaign:
  name: Fall Probate
  number: 4
  target: 3000
  template_id: "101"
lists:
  mandatory: [probate.csv, liens.csv]
  optional: [absentee.csv]
filters:
  prior_max: 2
  min_gap: 1
  min_days_since_last: 45
  missing_last_sent: include
presort:
  strict_150: true
  rates:
    five_digit: 0.25
    three_digit: 0.28
    aadc: 0.34
paths:
  root: /data/mail
marker:
  required: true
`

func writeProfile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	testutil.WriteFile(t, path, content)
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writeProfile(t, sampleProfile))
	require.NoError(t, err)

	assert.Equal(t, "Fall Probate", p.Campaign.Name)
	assert.Equal(t, 4, p.Campaign.Number)
	assert.Equal(t, []string{"probate.csv", "liens.csv"}, p.Lists.Mandatory)
	require.NotNil(t, p.Filters.PriorMax)
	assert.Equal(t, 2, *p.Filters.PriorMax)
	assert.Nil(t, p.Filters.PriorExact)
	assert.Equal(t, 150, p.Presort.TrayThreshold, "default kept when not set")
	assert.Equal(t, 0.25, p.RatesValue().FiveDigit)
	assert.True(t, p.Marker.Required)
	assert.NoError(t, p.ValidateBuild())

	assert.Equal(t, filepath.Join("/data/mail", "MasterCampaignTracker"), p.TrackerLayout().Dir)
	when := time.Date(2025, time.September, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, filepath.Join("/data/mail", "FallProbate_4_Sep2025"), p.CampaignDir(when))
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
	assert.Error(t, p.ValidateBuild())
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	_, err := Load(writeProfile(t, "campaign:\n  nmae: typo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nmae")
}

func TestValidate(t *testing.T) {
	two := 2
	tests := []struct {
		name   string
		mutate func(p *Profile)
		field  string
	}{
		{"too many mandatory lists", func(p *Profile) { p.Lists.Mandatory = []string{"a", "b", "c", "d", "e"} }, "mandatory"},
		{"too many optional lists", func(p *Profile) { p.Lists.Optional = []string{"a", "b", "c"} }, "optional"},
		{"prior rules exclusive", func(p *Profile) { p.Filters.PriorExact, p.Filters.PriorMax = &two, &two }, "mutually exclusive"},
		{"bad policy", func(p *Profile) { p.Filters.MissingLastSent = "skip" }, "missing_last_sent"},
		{"negative rate", func(p *Profile) { p.Presort.Rates.AADC = -1 }, "aadc"},
		{"bad date", func(p *Profile) { p.Filters.LastSentBefore = "soon" }, "last_sent_before"},
		{"gap without campaign", func(p *Profile) { p.Filters.MinGap = 2 }, "min_gap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateBuild_ReportsAll(t *testing.T) {
	err := Default().ValidateBuild()
	require.Error(t, err)
	for _, field := range []string{"campaign.name", "campaign.number", "campaign.target", "lists.mandatory"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("MAILMONKEY_CAMPAIGN_NUMBER", "7")
	t.Setenv("MAILMONKEY_ROOT", "/srv/mail")
	t.Setenv("MAILMONKEY_STRICT_150", "false")

	p, err := LoadFromEnv(writeProfile(t, sampleProfile))
	require.NoError(t, err)
	assert.Equal(t, 7, p.Campaign.Number)
	assert.Equal(t, "/srv/mail", p.Paths.Root)
	assert.False(t, p.Presort.Strict150)
	assert.Equal(t, "Fall Probate", p.Campaign.Name, "unset variables leave values alone")
}

func TestLoadFromEnv_DotEnvFile(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), "mail.env")
	testutil.WriteFile(t, dotenv, "MAILMONKEY_ARCHIVE_BUCKET=mail-archive\n")
	t.Cleanup(func() { os.Unsetenv("MAILMONKEY_ARCHIVE_BUCKET") })

	p, err := LoadFromEnv("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "mail-archive", p.Archive.Bucket)

	_, err = LoadFromEnv("", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestEligibilityOptions(t *testing.T) {
	p, err := Load(writeProfile(t, sampleProfile))
	require.NoError(t, err)
	p.Filters.LastSentBefore = "2025-06-01"

	clk := clock.NewFixed(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	opts, err := p.EligibilityOptions(clk)
	require.NoError(t, err)
	assert.Equal(t, 4, opts.CurrentCampaign)
	assert.Equal(t, eligibility.PolicyInclude, opts.MissingLastSent)
	require.NotNil(t, opts.LastSentBefore)
	assert.Equal(t, testutil.Day(t, "2025-06-01"), *opts.LastSentBefore)
	assert.Equal(t, 45, *opts.MinDaysSinceLast)
}
