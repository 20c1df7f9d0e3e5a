package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/config"
	"github.com/roach88/mailmonkey/internal/finalize"
	"github.com/roach88/mailmonkey/internal/recovery"
	"github.com/roach88/mailmonkey/internal/store"
	"github.com/roach88/mailmonkey/internal/tracker"
)

// FinalizeOptions holds flags for the finalize command.
type FinalizeOptions struct {
	*RootOptions
	CampaignDir      string
	Mapping          string
	CampaignName     string
	CampaignNumber   int
	TemplateID       string
	SentDate         string
	Root             string
	DryRun           bool
	WriteMarker      bool
	MarkerName       string
	RebuildTemplates bool
}

// FinalizeResult is the JSON payload of a finalize.
type FinalizeResult struct {
	CampaignDir    string   `json:"campaign_dir"`
	CampaignName   string   `json:"campaign_name"`
	CampaignNumber int      `json:"campaign_number"`
	Mapping        string   `json:"mapping,omitempty"`
	MappingRows    int      `json:"mapping_rows"`
	Appended       int      `json:"appended"`
	AlreadyLogged  int      `json:"already_logged"`
	BadDates       int      `json:"bad_dates,omitempty"`
	Merged         int      `json:"merged"`
	Duplicates     int      `json:"duplicates"`
	NewIdentities  int      `json:"new_identities"`
	Updated        int      `json:"updated_identities"`
	AffectedZIPs   []string `json:"affected_zips,omitempty"`
	Conflicts      []string `json:"zip_conflicts,omitempty"`
	HistoryRebuilt *int     `json:"history_rebuilt,omitempty"`
	Identities     int      `json:"identities"`
	RunID          string   `json:"run_id"`
	DryRun         bool     `json:"dry_run"`
	// Changes is the per-row diff, reported on dry runs.
	Changes []FinalizeChange `json:"changes,omitempty"`
}

// FinalizeChange is one executed-log row as the merge classified it.
type FinalizeChange struct {
	PropertyAddress string `json:"property_address"`
	OwnerName       string `json:"owner_name"`
	Campaign        int    `json:"campaign"`
	RefCode         string `json:"ref_code,omitempty"`
	ZIP5            string `json:"zip5,omitempty"`
	Outcome         string `json:"outcome"`
	NewIdentity     bool   `json:"new_identity,omitempty"`
}

// NewFinalizeCommand creates the finalize command.
func NewFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FinalizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Record a mailed campaign in the executed log and tracker",
		Long: `Turn the letter renderer's mapping file into executed-log rows, append the
new ones to the campaign's executed log and merge the whole log into the
master tracker.

Finalize is idempotent: rows already in the log or the tracker ledger are
not applied twice. The mapping is looked up in RefFiles/ and then in the
folder itself unless --mapping is given.

Exit codes:
  0 - Campaign finalized (or planned with --dry-run)
  1 - Mapping file not found, or tracker state missing (run rebuild)
  2 - Command error (invalid flags, unreadable files, etc.)

Examples:
  mailmonkey finalize --campaign-dir ./Fall_1_Jan2025
  mailmonkey finalize --campaign-dir ./Fall_1_Jan2025 --template-id 101 --write-marker
  mailmonkey finalize --campaign-dir ./Fall_1_Jan2025 --dry-run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFinalize(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CampaignDir, "campaign-dir", "", "campaign folder to finalize (required)")
	_ = cmd.MarkFlagRequired("campaign-dir")
	cmd.Flags().StringVar(&opts.Mapping, "mapping", "", "mapping file (default RefFiles/letters_mapping.csv, then the folder)")
	cmd.Flags().StringVar(&opts.CampaignName, "campaign-name", "", "campaign name (default from the folder name)")
	cmd.Flags().IntVar(&opts.CampaignNumber, "campaign-number", 0, "campaign number (default from the folder name)")
	cmd.Flags().StringVar(&opts.TemplateID, "template-id", "", "template id for mapping rows without one")
	cmd.Flags().StringVar(&opts.SentDate, "sent-date", "", "sent date for mapping rows without one (default today)")
	cmd.Flags().StringVar(&opts.Root, "root", "", "campaign root holding the tracker (default the folder's parent)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without writing")
	cmd.Flags().BoolVar(&opts.WriteMarker, "write-marker", false, "create the marker file after finalizing")
	cmd.Flags().StringVar(&opts.MarkerName, "marker-name", "", "marker file name (default CAMPAIGN.TAG)")
	cmd.Flags().BoolVar(&opts.RebuildTemplates, "rebuild-templates", false, "recompute campaigns and templates from every executed log")

	return cmd
}

func runFinalize(opts *FinalizeOptions, cmd *cobra.Command) error {
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

	var sent time.Time
	if opts.SentDate != "" {
		sent, err = clock.ParseDate(opts.SentDate)
		if err != nil {
			return fail(formatter, "invalid --sent-date", err)
		}
	}

	root, layout := resolveRoot(profile, opts.Root, filepath.Dir(filepath.Clean(opts.CampaignDir)))
	st, err := store.OpenLayout(layout)
	if err != nil {
		return fail(formatter, "failed to open tracker state", err)
	}
	defer st.Close()

	templateID := opts.TemplateID
	if templateID == "" {
		templateID = profile.Campaign.TemplateID
	}
	markerName := opts.MarkerName
	if markerName == "" {
		markerName = profile.Marker.Name
	}

	f := finalize.New(st, layout, opts.RunIDs, opts.clock(), logger)
	res, err := f.Finalize(ctx, finalize.Options{
		CampaignDir:      opts.CampaignDir,
		MappingPath:      opts.Mapping,
		CampaignName:     opts.CampaignName,
		CampaignNumber:   opts.CampaignNumber,
		TemplateID:       templateID,
		SentDate:         sent,
		DryRun:           opts.DryRun,
		WriteMarker:      opts.WriteMarker,
		MarkerName:       markerName,
		RebuildTemplates: opts.RebuildTemplates,
		Root:             root,
		Discover: recovery.DiscoverOptions{
			MarkerRequired: profile.Marker.Required,
			MarkerName:     markerName,
		},
	})
	if err != nil {
		return fail(formatter, "finalize failed", err)
	}

	result := finalizeResult(res)
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	outputFinalizeText(formatter, result)
	return nil
}

// resolveRoot picks the campaign root: the flag, then a non-default profile
// root, then fallback. The tracker lives under the root unless the profile
// names a tracker directory.
func resolveRoot(p *config.Profile, flagRoot, fallback string) (string, tracker.Layout) {
	root := flagRoot
	if root == "" {
		root = p.Paths.Root
		if root == "" || root == "." {
			root = fallback
		}
	}
	if p.Paths.TrackerDir != "" {
		return root, tracker.Layout{Dir: p.Paths.TrackerDir}
	}
	return root, tracker.LayoutFor(root)
}

func finalizeResult(res *finalize.Result) FinalizeResult {
	out := FinalizeResult{
		CampaignDir:    res.Folder,
		CampaignName:   res.CampaignName,
		CampaignNumber: res.CampaignNumber,
		Mapping:        res.MappingPath,
		MappingRows:    res.MappingRows,
		Appended:       len(res.Appended),
		AlreadyLogged:  res.AlreadyLogged,
		BadDates:       res.BadDates,
		Merged:         res.Merge.Merged,
		Duplicates:     res.Merge.Duplicates,
		NewIdentities:  len(res.Merge.NewIdentities),
		Updated:        len(res.Merge.UpdatedIdentities),
		AffectedZIPs:   res.Merge.AffectedZIPs,
		RunID:          res.RunID,
		DryRun:         res.DryRun,
	}
	for _, c := range res.Merge.Conflicts {
		out.Conflicts = append(out.Conflicts, c.String())
	}
	if res.DryRun {
		for _, c := range res.Merge.Changes {
			out.Changes = append(out.Changes, FinalizeChange{
				PropertyAddress: c.Key.PropertyAddress,
				OwnerName:       c.Key.OwnerName,
				Campaign:        c.Campaign,
				RefCode:         c.RefCode,
				ZIP5:            c.ZIP5,
				Outcome:         string(c.Outcome),
				NewIdentity:     c.NewIdentity,
			})
		}
	}
	if res.History != nil {
		n := res.History.Rebuilt
		out.HistoryRebuilt = &n
	}
	if res.Tracker != nil {
		out.Identities = res.Tracker.Len()
	}
	return out
}

func outputFinalizeText(f *OutputFormatter, r FinalizeResult) {
	if r.DryRun {
		f.Textf("Dry run: %s (%s #%d) not written", r.CampaignDir, r.CampaignName, r.CampaignNumber)
	} else {
		f.Textf("Finalized %s (%s #%d)", r.CampaignDir, r.CampaignName, r.CampaignNumber)
	}
	if r.Mapping != "" {
		f.Textf("  mapping:    %s (%d rows, %d already logged)", r.Mapping, r.MappingRows, r.AlreadyLogged)
	}
	f.Textf("  appended:   %d", r.Appended)
	f.Textf("  merged:     %d (%d duplicates)", r.Merged, r.Duplicates)
	f.Textf("  identities: %d new, %d updated, %d total", r.NewIdentities, r.Updated, r.Identities)
	if r.BadDates > 0 {
		f.Textf("  warning: %d mapping dates unreadable, default sent date used", r.BadDates)
	}
	for _, c := range r.Conflicts {
		f.Textf("  warning: %s", c)
	}
	if r.HistoryRebuilt != nil {
		f.Textf("  history rebuilt for %d identities", *r.HistoryRebuilt)
	}
	for _, c := range r.Changes {
		f.Textf("  %-9s #%d %s | %s  %s %s", c.Outcome, c.Campaign, c.PropertyAddress, c.OwnerName, c.ZIP5, c.RefCode)
	}
	if f.Verbose {
		f.Textf("  run: %s", r.RunID)
	}
}
