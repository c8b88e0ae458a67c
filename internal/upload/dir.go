package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/micrecord/internal/recorder"
)

// ffmpeg audio codec per exported format
var transcodeCodecs = map[string]string{
	"flac": "flac",
	"mp3":  "libmp3lame",
	"ogg":  "libvorbis",
}

// DirUploader exports recordings into a directory.
type DirUploader struct {
	dir    string
	format string
	now    func() time.Time

	mu   sync.Mutex
	last string
}

// NewDirUploader validates format. "raw" writes the artifact bytes unchanged,
// "wav" re-encodes with exact sizes, other formats go through ffmpeg.
func NewDirUploader(dir, format string) (*DirUploader, error) {
	if format == "" {
		format = "wav"
	}
	if format != "wav" && format != "raw" {
		if _, ok := transcodeCodecs[format]; !ok {
			return nil, fmt.Errorf("unsupported output format: %s", format)
		}
	}
	return &DirUploader{dir: dir, format: format, now: time.Now}, nil
}

func (u *DirUploader) Upload(ctx context.Context, artifact *recorder.Artifact) error {
	if err := os.MkdirAll(u.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	base := filepath.Join(u.dir, exportName(u.now(), artifact.ID))
	var path string
	var err error

	switch u.format {
	case "raw":
		path = base + "." + artifact.Extension()
		err = os.WriteFile(path, artifact.Data, 0644)
	case "wav":
		path = base + ".wav"
		err = artifact.WriteWAV(path)
	default:
		path = base + "." + u.format
		err = u.transcode(ctx, artifact, path)
	}
	if err != nil {
		return fmt.Errorf("failed to export recording: %w", err)
	}

	u.mu.Lock()
	u.last = path
	u.mu.Unlock()

	slog.Info("Recording saved to", "file", path)
	return nil
}

// exportName is "audio-recording-<timestamp>-<id prefix>" so exports within the
// same second do not overwrite each other.
func exportName(t time.Time, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "audio-recording-" + t.Format("20060102-150405") + "-" + id
}

func (u *DirUploader) transcode(ctx context.Context, artifact *recorder.Artifact, output string) error {
	tmp, err := os.CreateTemp("", "micrecord-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := artifact.WriteWAV(tmp.Name()); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", tmp.Name(),
		"-c:a", transcodeCodecs[u.format],
		"-y", // Overwrite output file
		output,
	)
	slog.Debug("Running FFmpeg for export", "command", strings.Join(cmd.Args, " "))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg export failed: %w\nOutput: %s", err, string(out))
	}
	if _, err := os.Stat(output); err != nil {
		return fmt.Errorf("output file not created: %s", output)
	}
	return nil
}

// LastPath returns the file written by the last successful upload.
func (u *DirUploader) LastPath() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}
