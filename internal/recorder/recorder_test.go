package recorder

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/audio/audiotest"
)

type prober map[string]bool

func (p prober) SupportsFormat(mimeType string) bool { return p[mimeType] }

func newStream() *audio.PCMStream {
	return audio.NewPCMStream("Test mic", audio.Format{SampleRate: 8000, Channels: 1}, nil)
}

func TestStartWithoutStream(t *testing.T) {
	r := New(Options{})
	err := r.Start(nil, MimeWAV, MimeBasic)
	assert.ErrorIs(t, err, ErrNoActiveStream)
	assert.False(t, r.IsActive())
}

func TestStartTwice(t *testing.T) {
	r := New(Options{Timeslice: time.Hour})
	s := newStream()
	require.NoError(t, r.Start(s, MimeWAV, MimeBasic))
	defer r.Discard()

	assert.ErrorIs(t, r.Start(s, MimeWAV, MimeBasic), ErrRecorderActive)
}

func TestNegotiation(t *testing.T) {
	tests := []struct {
		name   string
		prober audio.FormatProber
		want   string
	}{
		{"no probe accepts preferred", nil, MimeWAV},
		{"probe confirms preferred", prober{MimeWAV: true}, MimeWAV},
		{"probe rejects preferred", prober{MimeBasic: true}, MimeBasic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Options{Timeslice: time.Hour, Prober: tt.prober})
			require.NoError(t, r.Start(newStream(), MimeWAV, MimeBasic))
			defer r.Discard()
			assert.Equal(t, tt.want, r.MimeType())
		})
	}
}

func TestNegotiatedFormatWithoutEncoder(t *testing.T) {
	r := New(Options{})
	err := r.Start(newStream(), "audio/webm;codecs=opus", MimeBasic)
	assert.ErrorIs(t, err, ErrRecorderUnsupported)
	assert.False(t, r.IsActive())
}

func TestAvailable(t *testing.T) {
	assert.NoError(t, Available(MimeWAV, MimeBasic))
	assert.NoError(t, Available("audio/webm", MimeBasic))
	assert.ErrorIs(t, Available("audio/webm", "audio/ogg"), ErrRecorderUnsupported)
}

func TestStopConcatenatesChunks(t *testing.T) {
	r := New(Options{Timeslice: time.Hour})
	require.NoError(t, r.Start(newStream(), MimeWAV, MimeBasic))

	r.OnData([]byte("c1"))
	r.OnData([]byte("c2"))
	r.OnData(nil)
	r.OnData([]byte("c3"))
	assert.Equal(t, 3, r.Buffered())

	artifact := r.Stop()
	require.NotNil(t, artifact)
	assert.Equal(t, []byte("c1c2c3"), artifact.Data)
	assert.Equal(t, MimeWAV, artifact.ContentType)
	assert.NotEmpty(t, artifact.ID)
	assert.Equal(t, 0, r.Buffered())
	assert.False(t, r.IsActive())
}

func TestStopIsIdempotent(t *testing.T) {
	r := New(Options{Timeslice: time.Hour})
	require.NoError(t, r.Start(newStream(), MimeWAV, MimeBasic))
	r.OnData([]byte("x"))

	first := r.Stop()
	second := r.Stop()

	assert.NotNil(t, first)
	assert.Nil(t, second)
}

func TestStopFlushesCapturedPCM(t *testing.T) {
	s := newStream()
	defer s.Stop()
	r := New(Options{Timeslice: time.Hour})
	require.NoError(t, r.Start(s, MimeWAV, MimeBasic))

	pcm := audiotest.Sine(800, 8000, 440, 0.5)
	s.Deliver(pcm)

	artifact := r.Stop()
	require.NotNil(t, artifact)
	require.Len(t, artifact.Data, wavHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(artifact.Data[0:4]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(artifact.Data[24:]))
	assert.Equal(t, pcm, artifact.Data[wavHeaderSize:])
	assert.Equal(t, 100*time.Millisecond, artifact.Duration())
	assert.Equal(t, 0, s.Subscribers())
}

func TestTimesliceEmitsChunks(t *testing.T) {
	s := newStream()
	defer s.Stop()
	r := New(Options{Timeslice: 5 * time.Millisecond})
	require.NoError(t, r.Start(s, MimeWAV, MimeBasic))

	s.Deliver(audiotest.Sine(160, 8000, 440, 0.5))
	require.Eventually(t, func() bool { return r.Buffered() == 1 }, time.Second, time.Millisecond)
	s.Deliver(audiotest.Sine(160, 8000, 440, 0.5))
	require.Eventually(t, func() bool { return r.Buffered() == 2 }, time.Second, time.Millisecond)

	artifact := r.Stop()
	require.NotNil(t, artifact)
	// One header for the whole recording
	assert.Len(t, artifact.Data, wavHeaderSize+2*320)
}

func TestEmptyRecordingIsValidContainer(t *testing.T) {
	r := New(Options{Timeslice: time.Hour})
	require.NoError(t, r.Start(newStream(), MimeBasic, MimeWAV))

	artifact := r.Stop()
	require.NotNil(t, artifact)
	assert.Equal(t, ".snd", string(artifact.Data[0:4]))
	assert.Equal(t, "audio-recording.au", artifact.Filename())
}

func TestDiscardDropsBuffer(t *testing.T) {
	r := New(Options{Timeslice: time.Hour})
	require.NoError(t, r.Start(newStream(), MimeWAV, MimeBasic))
	r.OnData([]byte("c1"))

	r.Discard()
	r.Discard()

	assert.False(t, r.IsActive())
	assert.Equal(t, 0, r.Buffered())
	assert.Nil(t, r.Stop())
}

func TestMutedStreamRecordsSilence(t *testing.T) {
	s := newStream()
	defer s.Stop()
	s.Tracks()[0].SetEnabled(false)

	r := New(Options{Timeslice: time.Hour})
	require.NoError(t, r.Start(s, MimeWAV, MimeBasic))
	s.Deliver(audiotest.Sine(80, 8000, 440, 0.5))

	artifact := r.Stop()
	require.NotNil(t, artifact)
	assert.Equal(t, make([]byte, 160), artifact.Data[wavHeaderSize:])
}

func TestArtifactWriteWAV(t *testing.T) {
	for _, mime := range []string{MimeWAV, MimeBasic} {
		t.Run(mime, func(t *testing.T) {
			s := newStream()
			defer s.Stop()
			r := New(Options{Timeslice: time.Hour})
			require.NoError(t, r.Start(s, mime, mime))
			s.Deliver(audiotest.Sine(400, 8000, 440, 0.5))
			artifact := r.Stop()
			require.NotNil(t, artifact)

			path := filepath.Join(t.TempDir(), "out.wav")
			require.NoError(t, artifact.WriteWAV(path))

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()

			dec := wav.NewDecoder(f)
			require.True(t, dec.IsValidFile())
			buf, err := dec.FullPCMBuffer()
			require.NoError(t, err)
			assert.Len(t, buf.Data, 400)
			assert.Equal(t, 8000, int(dec.SampleRate))
		})
	}
}

func TestArtifactRevoke(t *testing.T) {
	a := newArtifact([]byte("x"), MimeWAV, audio.Format{SampleRate: 8000, Channels: 1})
	assert.False(t, a.Revoked())
	a.Revoke()
	assert.True(t, a.Revoked())
	assert.Equal(t, "audio-recording.wav", a.Filename())
}
