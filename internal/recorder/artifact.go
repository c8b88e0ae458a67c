package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/zaf/g711"

	"github.com/audiolibrelab/micrecord/internal/audio"
)

// Artifact is the finalized result of one recording. Data is never mutated after
// Stop returns it.
type Artifact struct {
	ID          string
	Data        []byte
	ContentType string
	Format      audio.Format
	CreatedAt   time.Time

	revoked atomic.Bool
}

func newArtifact(data []byte, contentType string, format audio.Format) *Artifact {
	return &Artifact{
		ID:          uuid.NewString(),
		Data:        data,
		ContentType: contentType,
		Format:      format,
		CreatedAt:   time.Now(),
	}
}

// Revoke invalidates the artifact reference. Readers holding it should drop it.
func (a *Artifact) Revoke()       { a.revoked.Store(true) }
func (a *Artifact) Revoked() bool { return a.revoked.Load() }
func (a *Artifact) Size() int     { return len(a.Data) }

func (a *Artifact) Extension() string {
	if enc, ok := EncoderFor(a.ContentType); ok {
		return enc.Extension()
	}
	return "bin"
}

// Filename is the name the artifact is submitted under.
func (a *Artifact) Filename() string {
	return "audio-recording." + a.Extension()
}

// Duration estimates the recorded length from the payload size.
func (a *Artifact) Duration() time.Duration {
	pcm, err := a.PCM()
	if err != nil || a.Format.SampleRate <= 0 {
		return 0
	}
	frames := len(pcm) / a.Format.BytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(a.Format.SampleRate)
}

// PCM decodes the artifact back to s16le samples.
func (a *Artifact) PCM() ([]byte, error) {
	enc, ok := EncoderFor(a.ContentType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecorderUnsupported, a.ContentType)
	}
	switch enc.(type) {
	case wavEncoder:
		if len(a.Data) < wavHeaderSize || !bytes.Equal(a.Data[0:4], []byte("RIFF")) {
			return nil, fmt.Errorf("invalid WAV artifact")
		}
		return a.Data[wavHeaderSize:], nil
	case auEncoder:
		if len(a.Data) < auHeaderSize || !bytes.Equal(a.Data[0:4], []byte(".snd")) {
			return nil, fmt.Errorf("invalid AU artifact")
		}
		offset := int(binary.BigEndian.Uint32(a.Data[4:]))
		if offset > len(a.Data) {
			return nil, fmt.Errorf("invalid AU data offset %d", offset)
		}
		return g711.DecodeUlaw(a.Data[offset:]), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRecorderUnsupported, a.ContentType)
}

// WriteWAV writes the artifact as a 16-bit WAV file with exact chunk sizes.
func (a *Artifact) WriteWAV(path string) error {
	pcm, err := a.PCM()
	if err != nil {
		return fmt.Errorf("failed to decode artifact: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	channels := a.Format.Channels
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	enc := wav.NewEncoder(f, a.Format.SampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: a.Format.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return nil
}
