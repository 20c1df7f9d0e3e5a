package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/mailmonkey/internal/campaign"
	"github.com/roach88/mailmonkey/internal/eligibility"
	"github.com/roach88/mailmonkey/internal/ingest"
	"github.com/roach88/mailmonkey/internal/presort"
	"github.com/roach88/mailmonkey/internal/store"
	"github.com/roach88/mailmonkey/internal/table"
	"github.com/roach88/mailmonkey/internal/tracker"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	CampaignDir string
	DryRun      bool
}

// BuildResult is the JSON payload of a build.
type BuildResult struct {
	CampaignDir string                `json:"campaign_dir"`
	Ingested    int                   `json:"ingested"`
	Mandatory   int                   `json:"mandatory"`
	Dropped     int                   `json:"dropped"`
	Eligible    int                   `json:"eligible"`
	Rejections  map[string]int        `json:"rejections,omitempty"`
	Selected    int                   `json:"selected"`
	ZIP5Groups  int                   `json:"zip5_groups"`
	FullTrays   float64               `json:"full_tray_share"`
	Postage     BuildPostage          `json:"postage"`
	Warnings    []string              `json:"warnings,omitempty"`
	ZIP3Summary []presort.ZIP3Summary `json:"zip3_summary,omitempty"`
	DryRun      bool                  `json:"dry_run"`
}

// BuildPostage is the postage estimate in a BuildResult.
type BuildPostage struct {
	FiveDigit  int     `json:"five_digit"`
	ThreeDigit int     `json:"three_digit"`
	AADC       int     `json:"aadc"`
	Total      float64 `json:"total"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Select and presort a new campaign",
		Long: `Ingest the profile's lists, drop identities the tracker rules out, pack the
rest toward the target size in full trays, and write the campaign folder.

Exit codes:
  0 - Campaign written (or planned with --dry-run)
  1 - Mandatory records exceed the target, eligibility aborted, or the
      folder is already finalized
  2 - Command error (invalid profile, unreadable list, etc.)

Examples:
  mailmonkey build --config fall.yaml
  mailmonkey build --config fall.yaml --dry-run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CampaignDir, "campaign-dir", "", "campaign folder (default <root>/<Name>_<N>_<MonYYYY>)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report the selection without writing files")

	return cmd
}

func runBuild(opts *BuildOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd)

	profile, err := opts.profile()
	if err != nil {
		return fail(formatter, "failed to load profile", err)
	}
	if err := profile.ValidateBuild(); err != nil {
		return fail(formatter, "profile cannot build a campaign", err)
	}
	layout := profile.TrackerLayout()

	var sources []ingest.Source
	for _, p := range profile.Lists.Mandatory {
		sources = append(sources, ingest.Source{Path: p, Mandatory: true})
	}
	for _, p := range profile.Lists.Optional {
		sources = append(sources, ingest.Source{Path: p})
	}
	ing, err := ingest.New(logger).Ingest(sources)
	if err != nil {
		return fail(formatter, "failed to read lists", err)
	}

	snap, err := loadSnapshot(ctx, layout)
	if err != nil {
		return fail(formatter, "failed to read tracker", err)
	}

	filterOpts, err := profile.EligibilityOptions(opts.clock())
	if err != nil {
		return fail(formatter, "invalid filters", err)
	}
	filterOpts.Logger = logger
	filtered, err := eligibility.Filter(ing.Records, snap, filterOpts)
	if err != nil {
		return fail(formatter, "eligibility aborted", err)
	}

	threshold := profile.Presort.TrayThreshold
	packed, err := presort.Pack(filtered.Eligible, presort.Options{
		Target:        profile.Campaign.Target,
		Strict150:     profile.Presort.Strict150,
		TrayThreshold: threshold,
		Logger:        logger,
	})
	if err != nil {
		return fail(formatter, "presort failed", err)
	}
	postage := presort.EstimatePostage(packed.ZIPs(), profile.RatesValue(), threshold)

	dir := opts.CampaignDir
	if dir == "" {
		dir = profile.CampaignDir(opts.clock().Now())
	}
	if !opts.DryRun {
		err := campaign.NewWriter(logger).Write(&campaign.Output{
			Folder:    campaign.Folder{Dir: dir},
			Header:    ing.Header,
			Presort:   packed,
			Postage:   postage,
			Threshold: threshold,
			Overwrite: profile.Campaign.Overwrite,
		})
		if err != nil {
			return fail(formatter, "failed to write campaign folder", err)
		}
	}

	result := BuildResult{
		CampaignDir: dir,
		Ingested:    len(ing.Records),
		Mandatory:   ing.MandatoryCount(),
		Dropped:     len(ing.Dropped),
		Eligible:    len(filtered.Eligible),
		Rejections:  rejectionCounts(filtered),
		Selected:    len(packed.Selected),
		ZIP5Groups:  len(packed.ZIP5Report),
		FullTrays:   packed.FullTrayShare(threshold),
		Postage: BuildPostage{
			FiveDigit:  postage.FiveDigit,
			ThreeDigit: postage.ThreeDigit,
			AADC:       postage.AADC,
			Total:      postage.Total(),
		},
		Warnings:    packed.Warnings,
		ZIP3Summary: packed.ZIP3Summary,
		DryRun:      opts.DryRun,
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	outputBuildText(formatter, result)
	return nil
}

// loadSnapshot reads prior campaigns from the state store when one exists,
// else from the tracker CSV. No tracker at all is an empty history.
func loadSnapshot(ctx context.Context, layout tracker.Layout) (tracker.Snapshot, error) {
	if table.Exists(layout.StatePath()) {
		st, err := store.Open(layout.StatePath())
		if err != nil {
			return nil, err
		}
		defer st.Close()
		empty, err := st.IsEmpty(ctx)
		if err != nil {
			return nil, err
		}
		if !empty {
			t, err := st.Load(ctx)
			if err != nil {
				return nil, err
			}
			return t.Snapshot(), nil
		}
	}
	return tracker.ReadSnapshot(layout.TrackerPath())
}

func rejectionCounts(res *eligibility.Result) map[string]int {
	if len(res.Rejections) == 0 {
		return nil
	}
	out := make(map[string]int, len(res.Rejections))
	for reason, n := range res.Rejections {
		out[string(reason)] = n
	}
	return out
}

func outputBuildText(f *OutputFormatter, r BuildResult) {
	if r.DryRun {
		f.Textf("Dry run: nothing written to %s", r.CampaignDir)
	} else {
		f.Textf("Campaign written to %s", r.CampaignDir)
	}
	f.Textf("  ingested:  %d (%d mandatory, %d dropped for missing fields)", r.Ingested, r.Mandatory, r.Dropped)
	f.Textf("  eligible:  %d", r.Eligible)
	for _, reason := range eligibility.Priority {
		if n := r.Rejections[string(reason)]; n > 0 {
			f.Textf("    rejected %-18s %d", string(reason)+":", n)
		}
	}
	f.Textf("  selected:  %d in %d ZIP5 groups (%.0f%% full trays)", r.Selected, r.ZIP5Groups, r.FullTrays*100)
	f.Textf("  postage:   5-digit %d, 3-digit %d, AADC %d, total $%.2f",
		r.Postage.FiveDigit, r.Postage.ThreeDigit, r.Postage.AADC, r.Postage.Total)
	for _, w := range r.Warnings {
		f.Textf("  warning: %s", w)
	}
	if f.Verbose {
		for _, z := range r.ZIP3Summary {
			f.Textf("  %s: %d pieces across %d ZIP5s", z.ZIP3, z.Pieces, z.ZIP5Buckets)
		}
	}
}
