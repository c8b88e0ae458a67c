package upload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/audiolibrelab/micrecord/internal/config"
	"github.com/audiolibrelab/micrecord/internal/recorder"
)

// HTTPUploader posts the artifact as multipart form data.
type HTTPUploader struct {
	url     string
	retries int
	wait    time.Duration
	client  *resty.Client
}

func NewHTTPUploader(cfg config.UploadConfig) *HTTPUploader {
	client := resty.New().
		SetHeader("User-Agent", "micrecord")
	if cfg.TimeoutMs > 0 {
		client.SetTimeout(cfg.Timeout())
	}
	return &HTTPUploader{
		url:     cfg.URL,
		retries: cfg.Retries,
		wait:    500 * time.Millisecond,
		client:  client,
	}
}

// Upload sends the artifact in the "file" field. Server errors and transport
// failures are retried; client errors are not.
func (u *HTTPUploader) Upload(ctx context.Context, artifact *recorder.Artifact) error {
	var lastErr error
	for attempt := 0; attempt <= u.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.wait * time.Duration(attempt)):
			}
			slog.Debug("Retrying upload", "attempt", attempt, "error", lastErr)
		}

		retry, err := u.post(ctx, artifact)
		if err == nil {
			slog.Info("Recording uploaded", "url", u.url, "artifact", artifact.ID, "bytes", artifact.Size())
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// post builds a fresh request per attempt since the multipart body is consumed.
func (u *HTTPUploader) post(ctx context.Context, artifact *recorder.Artifact) (retry bool, err error) {
	resp, err := u.client.R().
		SetContext(ctx).
		SetFileReader("file", artifact.Filename(), bytes.NewReader(artifact.Data)).
		SetFormData(map[string]string{
			"content_type": artifact.ContentType,
			"artifact_id":  artifact.ID,
		}).
		Post(u.url)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("failed to upload recording: %w", err)
	}
	if resp.IsError() {
		return resp.StatusCode() >= 500, fmt.Errorf("upload rejected: %s: %s", resp.Status(), resp.String())
	}
	return false, nil
}
