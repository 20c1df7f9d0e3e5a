package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/mailmonkey/internal/archive"
	"github.com/roach88/mailmonkey/internal/recovery"
)

// ArchiveOptions holds flags for the archive command.
type ArchiveOptions struct {
	*RootOptions
	Root   string
	Bucket string
	Prefix string
	Region string
	DryRun bool
}

// ArchiveResult is the JSON payload of an archive.
type ArchiveResult struct {
	Bucket   string   `json:"bucket"`
	Keys     []string `json:"keys"`
	Uploaded int      `json:"uploaded"`
	DryRun   bool     `json:"dry_run"`
}

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy executed logs and tracker exports to S3",
		Long: `Upload every campaign folder's executed log, campaign master and marker,
plus the tracker CSVs, to an S3 bucket. Keys mirror paths under the root, so
a downloaded archive can be passed to rebuild as its root.

AWS credentials come from the default chain (environment, shared config,
instance role).

Examples:
  mailmonkey archive --root /data/mail --bucket mail-archive --prefix 2025
  mailmonkey archive --root /data/mail --bucket mail-archive --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "campaign root (default the profile's root)")
	cmd.Flags().StringVar(&opts.Bucket, "bucket", "", "S3 bucket (default the profile's archive.bucket)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "key prefix (default the profile's archive.prefix)")
	cmd.Flags().StringVar(&opts.Region, "region", "", "AWS region (default the profile's, then the AWS chain)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list the keys without uploading")

	return cmd
}

func runArchive(opts *ArchiveOptions, cmd *cobra.Command) error {
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
	bucket := firstNonEmpty(opts.Bucket, profile.Archive.Bucket)
	prefix := firstNonEmpty(opts.Prefix, profile.Archive.Prefix)
	region := firstNonEmpty(opts.Region, profile.Archive.Region)
	if bucket == "" && !opts.DryRun {
		_ = formatter.Error(ErrCodeGeneric, "no bucket: pass --bucket or set archive.bucket", nil)
		return NewExitError(ExitCommandError, "no bucket configured")
	}

	plan, err := archive.Plan(archive.PlanOptions{
		Root:   root,
		Layout: layout,
		Discover: recovery.DiscoverOptions{
			MarkerRequired: profile.Marker.Required,
			MarkerName:     profile.Marker.Name,
		},
		Prefix: prefix,
	})
	if err != nil {
		return fail(formatter, "failed to plan archive", err)
	}

	result := ArchiveResult{Bucket: bucket, Keys: make([]string, 0, len(plan)), DryRun: opts.DryRun}
	for _, obj := range plan {
		result.Keys = append(result.Keys, obj.Key)
	}

	if !opts.DryRun {
		newPutter := opts.NewPutter
		if newPutter == nil {
			newPutter = defaultPutter
		}
		client, err := newPutter(ctx, region)
		if err != nil {
			return fail(formatter, "failed to create S3 client", err)
		}
		n, err := archive.New(client, bucket, logger).Upload(ctx, plan)
		result.Uploaded = n
		if err != nil {
			return fail(formatter, "archive upload failed", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	if opts.DryRun {
		formatter.Textf("Dry run: %d objects would be uploaded", len(result.Keys))
	} else {
		formatter.Textf("Uploaded %d objects to s3://%s", result.Uploaded, bucket)
	}
	if opts.Verbose || opts.DryRun {
		for _, k := range result.Keys {
			formatter.Textf("  %s", k)
		}
	}
	return nil
}

func defaultPutter(ctx context.Context, region string) (archive.ObjectPutter, error) {
	return archive.NewS3Client(ctx, region)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
