package level

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/audio/audiotest"
)

func testStream() *audio.PCMStream {
	return audio.NewPCMStream("Test mic", audio.Format{SampleRate: 16000, Channels: 1}, nil)
}

func TestMonitorPublishesLevel(t *testing.T) {
	var last atomic.Int32
	m := NewMonitor(Options{Interval: 5 * time.Millisecond, FFTSize: 1024, Smoothing: 0.3}, func(level int) {
		last.Store(int32(level))
	})
	stream := testStream()
	defer stream.Stop()

	h := m.Attach(stream)
	defer h.Detach()
	assert.Equal(t, 1, m.Active())

	stream.Deliver(audiotest.Noise(1024, 0.5, 3))
	require.Eventually(t, func() bool { return last.Load() > 30 }, time.Second, 5*time.Millisecond)
	assert.Greater(t, h.Level(), 0)
}

func TestMonitorMutedStreamReadsZero(t *testing.T) {
	var last atomic.Int32
	last.Store(-1)
	m := NewMonitor(Options{Interval: 5 * time.Millisecond, FFTSize: 512}, func(level int) {
		last.Store(int32(level))
	})
	stream := testStream()
	defer stream.Stop()
	stream.Tracks()[0].SetEnabled(false)

	h := m.Attach(stream)
	defer h.Detach()

	stream.Deliver(audiotest.Noise(1024, 0.5, 4))
	require.Eventually(t, func() bool { return last.Load() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMonitorNoPublishAfterDetach(t *testing.T) {
	var mu sync.Mutex
	var calls int
	m := NewMonitor(Options{Interval: time.Millisecond, FFTSize: 256}, func(int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	stream := testStream()
	defer stream.Stop()

	h := m.Attach(stream)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	}, time.Second, time.Millisecond)

	h.Detach()
	mu.Lock()
	after := calls
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, calls)
	mu.Unlock()

	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 0, stream.Subscribers())
	assert.Equal(t, 0, h.Level())
	assert.True(t, stream.Active(), "monitor must not stop the stream")
}

func TestMonitorDetachIdempotent(t *testing.T) {
	m := NewMonitor(Options{}, nil)
	stream := testStream()
	defer stream.Stop()

	h := m.Attach(stream)
	h.Detach()
	h.Detach()
	m.Detach(h)
	m.Detach(nil)

	assert.Equal(t, 0, m.Active())
}
