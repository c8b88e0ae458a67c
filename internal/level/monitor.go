package level

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/micrecord/internal/audio"
)

// Options configure the analysis tap.
type Options struct {
	Interval  time.Duration
	FFTSize   int
	Smoothing float64
}

// DefaultOptions samples every 100ms over 1024 samples with 0.3 smoothing.
func DefaultOptions() Options {
	return Options{Interval: 100 * time.Millisecond, FFTSize: 1024, Smoothing: 0.3}
}

// Monitor attaches analysis taps to live streams. publish receives every computed
// level on the tap goroutine; it must not block or call back into Detach.
type Monitor struct {
	opts    Options
	publish func(level int)

	active atomic.Int32
}

func NewMonitor(opts Options, publish func(level int)) *Monitor {
	defaults := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.FFTSize <= 0 {
		opts.FFTSize = defaults.FFTSize
	}
	if publish == nil {
		publish = func(int) {}
	}
	return &Monitor{opts: opts, publish: publish}
}

// Handle owns one tap and its sampling loop.
type Handle struct {
	monitor     *Monitor
	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
	once        sync.Once

	mu       sync.Mutex
	analyser *Analyser
	level    atomic.Int32
}

// Attach taps stream and starts the sampling loop. The monitor never stops or
// mutates the stream.
func (m *Monitor) Attach(stream audio.Stream) *Handle {
	h := &Handle{
		monitor:  m,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		analyser: NewAnalyser(m.opts.FFTSize, m.opts.Smoothing, stream.Format().Channels),
	}
	h.unsubscribe = stream.Subscribe(func(pcm []byte) {
		h.mu.Lock()
		h.analyser.Write(pcm)
		h.mu.Unlock()
	})

	m.active.Add(1)
	go h.loop(m.opts.Interval)

	slog.Debug("Level monitor attached", "stream", stream.ID(), "interval", m.opts.Interval)
	return h
}

// Detach stops h. Nil handles are ignored.
func (m *Monitor) Detach(h *Handle) {
	if h != nil {
		h.Detach()
	}
}

// Active returns the number of attached taps.
func (m *Monitor) Active() int {
	return int(m.active.Load())
}

func (h *Handle) loop(interval time.Duration) {
	defer close(h.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.mu.Lock()
			level := h.analyser.Level()
			h.mu.Unlock()
			h.level.Store(int32(level))

			// A detach racing with this tick wins
			select {
			case <-h.stop:
				return
			default:
			}
			h.monitor.publish(level)
		}
	}
}

// Detach removes the tap and waits for the sampling loop to exit. Idempotent.
func (h *Handle) Detach() {
	h.once.Do(func() {
		h.unsubscribe()
		close(h.stop)
		<-h.done
		h.level.Store(0)
		h.monitor.active.Add(-1)
		slog.Debug("Level monitor detached")
	})
}

// Level returns the most recent level of this tap, 0 after detach.
func (h *Handle) Level() int {
	return int(h.level.Load())
}
