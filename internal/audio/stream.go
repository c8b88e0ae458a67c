package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// PCMStream is the Stream implementation shared by all backends. A backend pushes
// captured blocks with Deliver and reports failures with Fail; the stream takes care
// of fan-out, mute and stop bookkeeping.
type PCMStream struct {
	id     string
	format Format
	onStop func()

	mu      sync.Mutex
	tracks  []*pcmTrack
	subs    map[int]func([]byte)
	nextSub int
	fatal   func(error)
	stopped bool
	failed  bool
	// undelivered holds a failure reported before any handler was registered.
	undelivered error
}

// NewPCMStream creates a live stream with a single audio track. onStop is called
// exactly once when the last track stops.
func NewPCMStream(label string, format Format, onStop func()) *PCMStream {
	s := &PCMStream{
		id:     uuid.NewString(),
		format: format,
		onStop: onStop,
		subs:   make(map[int]func([]byte)),
	}
	s.tracks = []*pcmTrack{{id: uuid.NewString(), label: label, stream: s}}
	s.tracks[0].enabled.Store(true)
	return s
}

func (s *PCMStream) ID() string     { return s.id }
func (s *PCMStream) Format() Format { return s.format }

func (s *PCMStream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracks := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		tracks[i] = t
	}
	return tracks
}

func (s *PCMStream) Subscribe(fn func(pcm []byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (s *PCMStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// OnFatal registers the failure handler. A failure reported before registration
// is replayed to fn.
func (s *PCMStream) OnFatal(fn func(err error)) {
	s.mu.Lock()
	s.fatal = fn
	err := s.undelivered
	replay := err != nil && fn != nil && !s.stopped
	if replay {
		s.undelivered = nil
	}
	s.mu.Unlock()

	if replay {
		go fn(err)
	}
}

func (s *PCMStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

func (s *PCMStream) Stop() {
	s.mu.Lock()
	tracks := s.tracks
	s.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
}

// Deliver fans a captured block out to every subscriber. The block is copied, so
// backends may reuse their buffer. Disabled tracks deliver silence.
func (s *PCMStream) Deliver(pcm []byte) {
	s.mu.Lock()
	if s.stopped || len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	muted := true
	for _, t := range s.tracks {
		if t.Enabled() {
			muted = false
			break
		}
	}
	subs := make([]func([]byte), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	block := make([]byte, len(pcm))
	if !muted {
		copy(block, pcm)
	}
	for _, fn := range subs {
		fn(block)
	}
}

// Fail reports a fatal stream error. The handler runs on its own goroutine so
// backends may call Fail from their audio callback. Ignored once the stream stopped.
func (s *PCMStream) Fail(err error) {
	s.mu.Lock()
	if s.stopped || s.failed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	fn := s.fatal
	if fn == nil {
		s.undelivered = err
	}
	s.mu.Unlock()

	slog.Warn("Capture stream failed", "stream", s.id, "error", err)
	if fn != nil {
		go fn(err)
	}
}

func (s *PCMStream) trackStopped() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	for _, t := range s.tracks {
		if !t.Stopped() {
			s.mu.Unlock()
			return
		}
	}
	s.stopped = true
	s.subs = make(map[int]func([]byte))
	onStop := s.onStop
	s.mu.Unlock()

	if onStop != nil {
		onStop()
	}
	slog.Debug("Capture stream stopped", "stream", s.id)
}

type pcmTrack struct {
	id      string
	label   string
	stream  *PCMStream
	enabled atomic.Bool
	stopped atomic.Bool
}

func (t *pcmTrack) ID() string              { return t.id }
func (t *pcmTrack) Kind() Kind              { return KindAudioInput }
func (t *pcmTrack) Label() string           { return t.label }
func (t *pcmTrack) Enabled() bool           { return t.enabled.Load() }
func (t *pcmTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *pcmTrack) Stopped() bool           { return t.stopped.Load() }

func (t *pcmTrack) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	t.stream.trackStopped()
}
