package play

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/audio/audiotest"
	"github.com/audiolibrelab/micrecord/internal/recorder"
)

func testArtifact(t *testing.T) *recorder.Artifact {
	t.Helper()
	stream := audio.NewPCMStream("Test mic", audio.Format{SampleRate: 8000, Channels: 1}, nil)
	defer stream.Stop()
	r := recorder.New(recorder.Options{Timeslice: time.Hour})
	require.NoError(t, r.Start(stream, recorder.MimeWAV, recorder.MimeBasic))
	stream.Deliver(audiotest.Sine(400, 8000, 440, 0.5))
	a := r.Stop()
	require.NotNil(t, a)
	return a
}

func TestPreviewLifecycle(t *testing.T) {
	p := NewPreview(nil)
	stream := audio.NewPCMStream("Test mic", audio.Format{SampleRate: 8000, Channels: 1}, nil)
	defer stream.Stop()

	p.ShowLive(stream)
	assert.Equal(t, ModeLive, p.Mode())
	assert.Empty(t, p.Path())

	p.ShowArtifact(testArtifact(t))
	first := p.Path()
	require.NotEmpty(t, first)
	assert.FileExists(t, first)
	assert.Equal(t, ModeArtifact, p.Mode())

	p.ShowArtifact(testArtifact(t))
	second := p.Path()
	assert.NotEqual(t, first, second)
	assert.NoFileExists(t, first)

	p.Clear()
	assert.Equal(t, ModeNone, p.Mode())
	assert.NoFileExists(t, second)
	p.Clear()
}

func TestPlayWithoutArtifact(t *testing.T) {
	p := NewPreview(nil)
	assert.ErrorIs(t, p.Play(context.Background()), ErrNothingToPlay)
}

func TestFindAudioPlayer(t *testing.T) {
	p := &Player{lookPath: func(file string) (string, error) {
		if file == "mpv" || file == "aplay" {
			return "/usr/bin/" + file, nil
		}
		return "", errors.New("not found")
	}}
	player, err := p.findAudioPlayer()
	require.NoError(t, err)
	assert.Equal(t, "mpv", player)

	p.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, err = p.findAudioPlayer()
	assert.Error(t, err)
}

func TestPlayerArgs(t *testing.T) {
	args, err := playerArgs("ffplay", "/tmp/a.wav")
	require.NoError(t, err)
	assert.Equal(t, []string{"-nodisp", "-autoexit", "-loglevel", "error", "/tmp/a.wav"}, args)

	_, err = playerArgs("aplay", "/tmp/a.flac")
	assert.Error(t, err)

	_, err = playerArgs("winamp", "/tmp/a.wav")
	assert.Error(t, err)
}

func TestPlayFileMissing(t *testing.T) {
	p := NewPlayer()
	err := p.PlayFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio file not found")
}
