package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/mailmonkey/internal/recovery"
	"github.com/roach88/mailmonkey/internal/store"
)

// RebuildOptions holds flags for the rebuild command.
type RebuildOptions struct {
	*RootOptions
	Root           string
	MarkerRequired bool
	MarkerName     string
	DryRun         bool
}

// RebuildFolder is one replayed folder in a RebuildResult.
type RebuildFolder struct {
	Path       string `json:"path"`
	Campaign   int    `json:"campaign,omitempty"`
	Rows       int    `json:"rows"`
	Merged     int    `json:"merged"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped,omitempty"`
	BadDates   int    `json:"bad_dates,omitempty"`
}

// RebuildResult is the JSON payload of a rebuild.
type RebuildResult struct {
	Root            string          `json:"root"`
	Folders         []RebuildFolder `json:"folders"`
	Merged          int             `json:"merged"`
	Duplicates      int             `json:"duplicates"`
	Identities      int             `json:"identities"`
	ZIPs            int             `json:"zips"`
	Inconsistencies []string        `json:"inconsistencies,omitempty"`
	DryRun          bool            `json:"dry_run"`
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RebuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "rebuild",
		Aliases: []string{"reindex"},
		Short:   "Reconstruct the tracker from every executed log",
		Long: `Discover every campaign folder under the root, replay their executed logs
in campaign order and replace the tracker state and CSVs with the result.

Replay is deterministic: the same logs always produce byte-identical tracker
and tally files. ZIP5 disagreements between logs are reported; the log
replayed last wins.

Exit codes:
  0 - Tracker rebuilt (or planned with --dry-run)
  2 - Command error (unreadable log, invalid profile, etc.)

Examples:
  mailmonkey rebuild --root /data/mail
  mailmonkey reindex --root /data/mail --marker-required
  mailmonkey rebuild --root /data/mail --dry-run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "campaign root (default the profile's root)")
	cmd.Flags().BoolVar(&opts.MarkerRequired, "marker-required", false, "only replay folders with a marker file")
	cmd.Flags().StringVar(&opts.MarkerName, "marker-name", "", "marker file name (default CAMPAIGN.TAG)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "replay and report without writing")

	return cmd
}

func runRebuild(opts *RebuildOptions, cmd *cobra.Command) error {
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
	root, layout := resolveRoot(profile, opts.Root, profile.Paths.Root)

	markerName := opts.MarkerName
	if markerName == "" {
		markerName = profile.Marker.Name
	}
	discover := recovery.DiscoverOptions{
		MarkerRequired: opts.MarkerRequired || profile.Marker.Required,
		MarkerName:     markerName,
	}

	st, err := store.OpenLayout(layout)
	if err != nil {
		return fail(formatter, "failed to open tracker state", err)
	}
	defer st.Close()

	r := recovery.NewRebuilder(st, layout, opts.RunIDs, opts.clock(), logger)
	res, err := r.Rebuild(ctx, recovery.RebuildOptions{
		Root:     root,
		Discover: discover,
		DryRun:   opts.DryRun,
	})
	if err != nil {
		return fail(formatter, "rebuild failed", err)
	}

	result := RebuildResult{
		Root:       root,
		Folders:    make([]RebuildFolder, 0, len(res.Folders)),
		Merged:     res.Merged(),
		Duplicates: res.Duplicates(),
		Identities: res.Tracker.Len(),
		ZIPs:       len(res.Tracker.Tally()),
		DryRun:     opts.DryRun,
	}
	for _, f := range res.Folders {
		result.Folders = append(result.Folders, RebuildFolder{
			Path:       f.Path,
			Campaign:   f.Number,
			Rows:       f.Rows,
			Merged:     f.Merged,
			Duplicates: f.Duplicates,
			Skipped:    f.Skipped,
			BadDates:   f.BadDates,
		})
	}
	for _, inc := range res.Inconsistencies {
		result.Inconsistencies = append(result.Inconsistencies, inc.Conflict.String())
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	outputRebuildText(formatter, result)
	return nil
}

func outputRebuildText(f *OutputFormatter, r RebuildResult) {
	if r.DryRun {
		f.Textf("Dry run: tracker under %s not written", r.Root)
	} else {
		f.Textf("Tracker rebuilt from %s", r.Root)
	}
	for _, folder := range r.Folders {
		f.Textf("  %s: %d rows, %d merged, %d duplicates", folder.Path, folder.Rows, folder.Merged, folder.Duplicates)
	}
	f.Textf("  %d folders, %d identities, %d ZIP5s", len(r.Folders), r.Identities, r.ZIPs)
	for _, inc := range r.Inconsistencies {
		f.Textf("  inconsistency: %s", inc)
	}
}
