package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/capture"
	"github.com/audiolibrelab/micrecord/internal/level"
	"github.com/audiolibrelab/micrecord/internal/play"
	"github.com/audiolibrelab/micrecord/internal/session"
	"github.com/audiolibrelab/micrecord/internal/upload"
)

// newSession wires a controller from the loaded configuration. The returned
// platform must be closed after the controller.
func newSession(submit bool) (*session.Controller, *play.Preview, audio.Platform, error) {
	platform, err := audio.NewPlatform(cfg.Audio)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create audio platform: %w", err)
	}

	preview := play.NewPreview(play.NewPlayer())

	opts := session.Options{
		Platform: platform,
		Capture: capture.Options{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
		Monitor: level.Options{
			Interval:  cfg.Monitor.Interval(),
			FFTSize:   cfg.Monitor.FFTSize,
			Smoothing: cfg.Monitor.Smoothing,
		},
		Timeslice:       cfg.Recording.Timeslice(),
		PreferredFormat: cfg.Recording.PreferredFormat,
		FallbackFormat:  cfg.Recording.FallbackFormat,
		Countdown:       cfg.Recording.Countdown(),
		Preview:         preview,
		Logger:          slog.Default(),
	}

	if submit {
		uploader, err := upload.FromConfig(cfg)
		if err != nil {
			slog.Warn("Submit disabled", "error", err)
		} else {
			opts.Uploader = uploader
		}
	}

	return session.NewController(opts), preview, platform, nil
}
