// Package recorder captures a live stream into timesliced encoded chunks and
// finalizes them into a single artifact.
package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/micrecord/internal/audio"
)

var (
	ErrNoActiveStream      = errors.New("no active stream")
	ErrRecorderUnsupported = errors.New("recording is not supported")
	ErrRecorderActive      = errors.New("recorder already active")
)

// DefaultTimeslice is how often buffered PCM is flushed as an encoded chunk.
const DefaultTimeslice = 2 * time.Second

type Options struct {
	Timeslice time.Duration
	// Prober answers container capability queries. When nil the preferred
	// format is accepted without a check.
	Prober audio.FormatProber
}

// Available reports whether either format can be recorded at all.
func Available(preferred, fallback string) error {
	if _, ok := EncoderFor(preferred); ok {
		return nil
	}
	if _, ok := EncoderFor(fallback); ok {
		return nil
	}
	return fmt.Errorf("%w: %s, %s", ErrRecorderUnsupported, preferred, fallback)
}

// Recorder is a read-only consumer of a stream. At most one recording runs per
// Recorder; the session owns a single instance.
type Recorder struct {
	opts Options

	mu            sync.Mutex
	active        bool
	encoder       Encoder
	mimeType      string
	format        audio.Format
	pending       []byte
	chunks        [][]byte
	headerWritten bool
	unsubscribe   func()
	stop          chan struct{}
	done          chan struct{}
}

func New(opts Options) *Recorder {
	if opts.Timeslice <= 0 {
		opts.Timeslice = DefaultTimeslice
	}
	return &Recorder{opts: opts}
}

// negotiate picks the container. The fallback is used only when a probe exists
// and rejects the preferred format.
func (r *Recorder) negotiate(preferred, fallback string) string {
	if r.opts.Prober == nil {
		return preferred
	}
	if r.opts.Prober.SupportsFormat(preferred) {
		return preferred
	}
	slog.Debug("Preferred recording format unsupported, using fallback", "preferred", preferred, "fallback", fallback)
	return fallback
}

// Start begins recording stream, flushing an encoded chunk every timeslice.
func (r *Recorder) Start(stream audio.Stream, preferred, fallback string) error {
	if stream == nil {
		return ErrNoActiveStream
	}

	mimeType := r.negotiate(preferred, fallback)
	enc, ok := EncoderFor(mimeType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecorderUnsupported, mimeType)
	}

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrRecorderActive
	}
	r.active = true
	r.encoder = enc
	r.mimeType = enc.ContentType()
	r.format = stream.Format()
	r.pending = nil
	r.chunks = nil
	r.headerWritten = false
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	unsubscribe := stream.Subscribe(func(pcm []byte) {
		r.mu.Lock()
		if r.active {
			r.pending = append(r.pending, pcm...)
		}
		r.mu.Unlock()
	})
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	go r.slice(stop, done)

	slog.Info("Recording started", "stream", stream.ID(), "mime_type", r.mimeType, "timeslice", r.opts.Timeslice)
	return nil
}

func (r *Recorder) slice(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.opts.Timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			chunk := r.flushLocked()
			r.mu.Unlock()
			if chunk != nil {
				r.OnData(chunk)
			}
		}
	}
}

// flushLocked encodes pending PCM into a chunk, prefixing the container header on
// the first one. Returns nil when there is nothing to flush.
func (r *Recorder) flushLocked() []byte {
	if len(r.pending) == 0 || r.encoder == nil {
		return nil
	}
	frame := r.format.BytesPerFrame()
	n := len(r.pending) - len(r.pending)%frame
	if n == 0 {
		return nil
	}

	var chunk []byte
	if !r.headerWritten {
		chunk = append(chunk, r.encoder.Header(r.format)...)
		r.headerWritten = true
	}
	chunk = append(chunk, r.encoder.Encode(r.pending[:n])...)
	r.pending = append(r.pending[:0], r.pending[n:]...)
	return chunk
}

// OnData appends a chunk to the recording buffer. Empty chunks are ignored.
func (r *Recorder) OnData(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	r.chunks = append(r.chunks, chunk)
	r.mu.Unlock()
}

// halt marks the recorder inactive and stops the slicing loop. It reports false
// when the recorder was not active.
func (r *Recorder) halt() bool {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return false
	}
	r.active = false
	unsubscribe, stop, done := r.unsubscribe, r.stop, r.done
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	close(stop)
	<-done
	return true
}

// Stop finalizes the recording into one artifact and clears the buffer. A second
// call returns nil.
func (r *Recorder) Stop() *Artifact {
	if !r.halt() {
		return nil
	}

	r.mu.Lock()
	if chunk := r.flushLocked(); chunk != nil {
		r.chunks = append(r.chunks, chunk)
	}
	if len(r.chunks) == 0 && r.encoder != nil {
		r.chunks = append(r.chunks, r.encoder.Header(r.format))
	}
	data := bytes.Join(r.chunks, nil)
	artifact := newArtifact(data, r.mimeType, r.format)
	r.chunks = nil
	r.pending = nil
	r.mu.Unlock()

	slog.Info("Recording finalized", "artifact", artifact.ID, "bytes", len(data), "mime_type", artifact.ContentType)
	return artifact
}

// Discard stops without producing an artifact.
func (r *Recorder) Discard() {
	stopped := r.halt()

	r.mu.Lock()
	r.chunks = nil
	r.pending = nil
	r.mu.Unlock()

	if stopped {
		slog.Debug("Recording discarded")
	}
}

func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// MimeType returns the negotiated content type of the current or last recording.
func (r *Recorder) MimeType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mimeType
}

// Buffered returns the number of chunks in the recording buffer.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}
