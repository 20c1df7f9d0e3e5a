// Package archive copies the files recovery depends on to S3: every campaign
// folder's executed log, campaign master and marker, plus the tracker
// exports. An archived prefix is a complete replay source for rebuild.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/roach88/mailmonkey/internal/campaign"
	"github.com/roach88/mailmonkey/internal/recovery"
	"github.com/roach88/mailmonkey/internal/table"
	"github.com/roach88/mailmonkey/internal/tracker"
)

// ObjectPutter is the part of *s3.Client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client from the default AWS configuration chain.
// An empty region leaves region resolution to that chain.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Object is one file to upload.
type Object struct {
	Key  string
	Path string
}

// PlanOptions select what to archive.
type PlanOptions struct {
	Root     string
	Layout   tracker.Layout
	Discover recovery.DiscoverOptions
	Prefix   string
}

// Plan lists the objects to upload in a fixed order: campaign folders in
// replay order, then the tracker exports. Keys mirror paths relative to Root.
func Plan(opts PlanOptions) ([]Object, error) {
	folders, err := recovery.Discover(opts.Root, opts.Discover)
	if err != nil {
		return nil, err
	}

	var out []Object
	add := func(p, rel string) {
		if table.Exists(p) {
			out = append(out, Object{Key: objectKey(opts.Prefix, rel), Path: p})
		}
	}
	for _, f := range folders {
		rel, err := filepath.Rel(opts.Root, f.Path)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", f.Path, err)
		}
		cf := campaign.Folder{Dir: f.Path}
		add(cf.ExecutedLogPath(), filepath.Join(rel, campaign.ExecutedLogFile))
		add(cf.MasterPath(), filepath.Join(rel, campaign.MasterFile))
		marker := cf.MarkerPath(opts.Discover.MarkerName)
		add(marker, filepath.Join(rel, filepath.Base(marker)))
	}
	add(opts.Layout.TrackerPath(), filepath.Join(tracker.DefaultDir, tracker.TrackerCSV))
	add(opts.Layout.TallyPath(), filepath.Join(tracker.DefaultDir, tracker.TallyCSV))
	return out, nil
}

func objectKey(prefix, rel string) string {
	key := filepath.ToSlash(rel)
	if p := strings.Trim(prefix, "/"); p != "" {
		key = path.Join(p, key)
	}
	return key
}

// Archiver uploads planned objects to one bucket.
type Archiver struct {
	client ObjectPutter
	bucket string
	logger *slog.Logger
}

// New creates an Archiver. A nil logger discards output.
func New(client ObjectPutter, bucket string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Archiver{client: client, bucket: bucket, logger: logger}
}

// Upload puts every object in order and stops at the first failure.
// It returns the number of objects uploaded.
func (a *Archiver) Upload(ctx context.Context, objects []Object) (int, error) {
	for i, obj := range objects {
		if err := a.put(ctx, obj); err != nil {
			return i, err
		}
		a.logger.Debug("object uploaded", "bucket", a.bucket, "key", obj.Key)
	}
	a.logger.Info("archive uploaded", "bucket", a.bucket, "objects", len(objects))
	return len(objects), nil
}

func (a *Archiver) put(ctx context.Context, obj Object) error {
	f, err := os.Open(obj.Path)
	if err != nil {
		return fmt.Errorf("archive %s: %w", obj.Path, err)
	}
	defer f.Close()

	contentType := "text/csv"
	if !strings.EqualFold(filepath.Ext(obj.Path), ".csv") {
		contentType = "application/octet-stream"
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(obj.Key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, obj.Key, err)
	}
	return nil
}
