package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/mailmonkey/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Root string
}

// ExportResult is the JSON payload of an export.
type ExportResult struct {
	Tracker    string `json:"tracker"`
	Tally      string `json:"tally"`
	Identities int    `json:"identities"`
	Letters    int    `json:"letters"`
}

// errNoState is returned when there is nothing to export.
var errNoState = errors.New("tracker state is empty; run finalize or rebuild first")

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Rewrite the tracker and tally CSVs from the state store",
		Long: `Rewrite MasterPropertyCampaignTracker.csv and Zip5_LetterTally.csv from the
tracker state, replacing any hand edits.

Examples:
  mailmonkey export --root /data/mail`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "campaign root (default the profile's root)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	profile, err := opts.profile()
	if err != nil {
		return fail(formatter, "failed to load profile", err)
	}
	_, layout := resolveRoot(profile, opts.Root, profile.Paths.Root)

	st, err := store.OpenLayout(layout)
	if err != nil {
		return fail(formatter, "failed to open tracker state", err)
	}
	defer st.Close()

	empty, err := st.IsEmpty(ctx)
	if err != nil {
		return fail(formatter, "failed to read tracker state", err)
	}
	if empty {
		_ = formatter.Error(ErrCodeStateMissing, errNoState.Error(), nil)
		return WrapExitError(ExitFailure, "export failed", errNoState)
	}

	t, err := st.Load(ctx)
	if err != nil {
		return fail(formatter, "failed to read tracker state", err)
	}
	if err := t.Export(layout); err != nil {
		return fail(formatter, "export failed", err)
	}

	result := ExportResult{
		Tracker:    layout.TrackerPath(),
		Tally:      layout.TallyPath(),
		Identities: t.Len(),
		Letters:    t.Tally().Total(),
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	formatter.Textf("Exported %d identities to %s", result.Identities, result.Tracker)
	formatter.Textf("Exported %d letters to %s", result.Letters, result.Tally)
	return nil
}
