package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("GCS URI %q must name a bucket and an object", uri)
	}
	return bucket, object, nil
}

func GCSURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// DownloadObject streams a GCS object into a local file.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for %s: %w", GCSURI(bucket, object), err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

// UploadOptions tunes UploadFile.
type UploadOptions struct {
	ContentType string
	// IfAbsent makes the upload conditional on the object not existing. A precondition
	// failure is treated as success and reported through the skipped return value.
	IfAbsent   bool
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

// UploadFile copies a local file to bucket/object, retrying transient failures with
// exponential backoff.
func UploadFile(ctx context.Context, bucket *storage.BucketHandle, localPath, object string, opts UploadOptions) (skipped bool, err error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 50 * time.Second
	}

	backoff := opts.Backoff
	var lastErr error
	for i := 0; i < opts.MaxRetries; i++ {
		err := uploadOnce(ctx, bucket, localPath, object, opts)
		if err == nil {
			return false, nil
		}
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", object)
			return true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return false, err
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", opts.MaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return false, ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", object, "error", lastErr)
	return false, fmt.Errorf("upload for %s failed after all retries: %w", object, lastErr)
}

func uploadOnce(ctx context.Context, bucket *storage.BucketHandle, localPath, object string, opts UploadOptions) error {
	localFileReader, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", localPath, err)
	}
	defer localFileReader.Close()

	writeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	handle := bucket.Object(object)
	if opts.IfAbsent {
		handle = handle.If(storage.Conditions{DoesNotExist: true})
	}
	gcsWriter := handle.NewWriter(writeCtx)
	if opts.ContentType != "" {
		gcsWriter.ContentType = opts.ContentType
	}

	if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
		_ = gcsWriter.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := gcsWriter.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
