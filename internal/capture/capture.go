// Package capture owns the lifetime of the live microphone stream.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/micrecord/internal/audio"
)

var (
	// ErrStreamHeld is returned by Acquire while a stream is still held.
	ErrStreamHeld = errors.New("capture stream still held")
	// ErrNoStream is returned by operations that need a held stream.
	ErrNoStream = errors.New("no capture stream held")
)

// Acquirer opens capture streams.
type Acquirer interface {
	Acquire(ctx context.Context, c audio.Constraints) (audio.Stream, error)
}

type Options struct {
	SampleRate int
	Channels   int
}

// Session holds zero or one capture stream.
type Session struct {
	acquirer Acquirer
	opts     Options

	mu       sync.Mutex
	held     audio.Stream
	acquired int
	released int
}

func New(acquirer Acquirer, opts Options) *Session {
	return &Session{acquirer: acquirer, opts: opts}
}

// Acquire opens a stream for deviceID, or the default input when it is empty.
// The stream is not held until Adopt; callers that no longer want it must Discard it.
func (s *Session) Acquire(ctx context.Context, deviceID string) (audio.Stream, error) {
	s.mu.Lock()
	if s.held != nil {
		s.mu.Unlock()
		return nil, ErrStreamHeld
	}
	s.mu.Unlock()

	constraints := audio.Constraints{
		DeviceID:   deviceID,
		SampleRate: s.opts.SampleRate,
		Channels:   s.opts.Channels,
	}
	slog.Debug("Requesting capture stream", "device", deviceID, "sample_rate", constraints.SampleRate, "channels", constraints.Channels)

	stream, err := s.acquirer.Acquire(ctx, constraints)
	if err != nil {
		return nil, normalize(err)
	}

	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return stream, nil
}

// normalize maps platform failures onto the capture error taxonomy.
func normalize(err error) error {
	switch {
	case errors.Is(err, audio.ErrAccessDenied),
		errors.Is(err, audio.ErrDevicesUnavailable),
		errors.Is(err, audio.ErrDeviceNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", audio.ErrDevicesUnavailable, err)
}

// Adopt takes ownership of a stream returned by Acquire.
func (s *Session) Adopt(stream audio.Stream) error {
	if stream == nil {
		return ErrNoStream
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held != nil {
		return ErrStreamHeld
	}
	s.held = stream
	return nil
}

// Release stops every track of the held stream and clears the slot. No-op when
// nothing is held.
func (s *Session) Release() {
	s.mu.Lock()
	stream := s.held
	s.held = nil
	if stream != nil {
		s.released++
	}
	s.mu.Unlock()

	if stream == nil {
		return
	}
	stream.Stop()
	slog.Debug("Capture stream released", "stream", stream.ID())
}

// Discard stops a stream that was acquired but never adopted.
func (s *Session) Discard(stream audio.Stream) {
	if stream == nil {
		return
	}
	s.mu.Lock()
	if s.held == stream {
		s.mu.Unlock()
		s.Release()
		return
	}
	s.released++
	s.mu.Unlock()

	stream.Stop()
	slog.Debug("Stale capture stream discarded", "stream", stream.ID())
}

// Held returns the held stream or nil.
func (s *Session) Held() audio.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// SetMuted enables or disables every audio track of the held stream.
func (s *Session) SetMuted(muted bool) error {
	stream := s.Held()
	if stream == nil {
		return ErrNoStream
	}
	for _, t := range audio.AudioTracks(stream) {
		t.SetEnabled(!muted)
	}
	return nil
}

// IsMuted is true iff the held stream has audio tracks and all of them are disabled.
func (s *Session) IsMuted() bool {
	tracks := audio.AudioTracks(s.Held())
	if len(tracks) == 0 {
		return false
	}
	for _, t := range tracks {
		if t.Enabled() {
			return false
		}
	}
	return true
}

// Acquired counts successful acquisitions.
func (s *Session) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Released counts streams stopped through Release or Discard.
func (s *Session) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
