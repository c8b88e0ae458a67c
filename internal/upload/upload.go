// Package upload delivers finalized recordings to their destinations.
package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/audiolibrelab/micrecord/internal/config"
	"github.com/audiolibrelab/micrecord/internal/recorder"
)

// Uploader hands a finalized artifact to a destination. Implementations must not
// mutate the artifact.
type Uploader interface {
	Upload(ctx context.Context, artifact *recorder.Artifact) error
}

// Multi delivers to every uploader in order and reports all failures.
type Multi []Uploader

func (m Multi) Upload(ctx context.Context, artifact *recorder.Artifact) error {
	var errs []error
	for _, u := range m {
		if err := u.Upload(ctx, artifact); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the uploaders configured by cfg: the output directory export
// and, when an URL is set, the HTTP upload.
func FromConfig(cfg *config.Config) (Uploader, error) {
	var uploaders Multi
	if cfg.Output.Directory != "" {
		dir, err := NewDirUploader(cfg.Output.Directory, cfg.Output.Format)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, dir)
	}
	if cfg.Upload.URL != "" {
		uploaders = append(uploaders, NewHTTPUploader(cfg.Upload))
	}
	if len(uploaders) == 0 {
		return nil, fmt.Errorf("no output directory or upload URL configured")
	}
	if len(uploaders) == 1 {
		return uploaders[0], nil
	}
	return uploaders, nil
}
