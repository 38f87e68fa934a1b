// Package archive copies published products to an S3-compatible bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/me/qcpipe/internal/config"
)

// uploader is the subset of manager.Uploader used here.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver uploads files under <prefix>/<molecule>/<name>.
type S3Archiver struct {
	bucket string
	prefix string
	up     uploader
	logger *slog.Logger
}

// New creates an S3Archiver from the ambient AWS credential chain. When
// cfg.Endpoint is set, requests go there with path-style addressing.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*S3Archiver, error) {
	if !cfg.Enabled() {
		return nil, errors.New("archive bucket not configured")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newArchiver(cfg, manager.NewUploader(client), logger), nil
}

func newArchiver(cfg config.ArchiveConfig, up uploader, logger *slog.Logger) *S3Archiver {
	return &S3Archiver{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		up:     up,
		logger: logger.With("component", "archive", "bucket", cfg.Bucket),
	}
}

// Key returns the object key for a local file.
func (a *S3Archiver) Key(molecule, localPath string) string {
	return path.Join(a.prefix, molecule, filepath.Base(localPath))
}

// Archive uploads every file in paths. All files are attempted; the
// returned error joins the individual failures.
func (a *S3Archiver) Archive(ctx context.Context, molecule string, paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := a.upload(ctx, molecule, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *S3Archiver) upload(ctx context.Context, molecule, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	key := a.Key(molecule, localPath)
	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := a.up.Upload(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Debug("archived", "key", key)
	return nil
}
