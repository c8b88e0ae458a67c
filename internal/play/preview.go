package play

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/recorder"
)

// ErrNothingToPlay is returned by Play when no artifact is shown.
var ErrNothingToPlay = errors.New("no recording to play")

type Mode string

const (
	ModeNone     Mode = ""
	ModeLive     Mode = "live"
	ModeArtifact Mode = "artifact"
)

// Preview shows either the live stream or the finalized artifact. An artifact is
// exposed as a temporary file that lives until the preview is cleared or replaced.
type Preview struct {
	player *Player

	mu       sync.Mutex
	mode     Mode
	stream   audio.Stream
	artifact *recorder.Artifact
	path     string
}

func NewPreview(player *Player) *Preview {
	if player == nil {
		player = NewPlayer()
	}
	return &Preview{player: player}
}

func (p *Preview) ShowLive(stream audio.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeLocked()
	p.mode = ModeLive
	p.stream = stream
}

// ShowArtifact writes the artifact to a temporary file for playback. WAV output is
// preferred so every player can read it.
func (p *Preview) ShowArtifact(artifact *recorder.Artifact) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeLocked()
	p.stream = nil
	if artifact == nil {
		p.mode = ModeNone
		return
	}

	path, err := writeTemp(artifact)
	if err != nil {
		slog.Warn("Failed to prepare recording for playback", "artifact", artifact.ID, "error", err)
	}
	p.mode = ModeArtifact
	p.artifact = artifact
	p.path = path
}

func writeTemp(artifact *recorder.Artifact) (string, error) {
	f, err := os.CreateTemp("", "micrecord-preview-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create preview file: %w", err)
	}
	f.Close()

	if err := artifact.WriteWAV(f.Name()); err != nil {
		// Keep the original container when it cannot be decoded
		if werr := os.WriteFile(f.Name(), artifact.Data, 0600); werr != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("failed to write preview file: %w", werr)
		}
		raw := f.Name() + "." + artifact.Extension()
		if err := os.Rename(f.Name(), raw); err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("failed to write preview file: %w", err)
		}
		return raw, nil
	}
	return f.Name(), nil
}

// Clear drops whatever is shown and deletes the preview file.
func (p *Preview) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeLocked()
	p.mode = ModeNone
	p.stream = nil
}

func (p *Preview) revokeLocked() {
	if p.path != "" {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove preview file", "path", p.path, "error", err)
		}
	}
	p.path = ""
	p.artifact = nil
}

func (p *Preview) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Path returns the playback file of the shown artifact, empty otherwise.
func (p *Preview) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

// Play plays the shown artifact and blocks until playback ends.
func (p *Preview) Play(ctx context.Context) error {
	path := p.Path()
	if path == "" {
		return ErrNothingToPlay
	}
	return p.player.PlayFile(ctx, path)
}
