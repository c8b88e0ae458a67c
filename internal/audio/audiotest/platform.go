// Package audiotest provides an in-memory capture platform for tests.
package audiotest

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"

	"github.com/audiolibrelab/micrecord/internal/audio"
)

// Platform is a scripted audio.Platform. Streams it hands out are real
// audio.PCMStream values, so tests can push PCM with Deliver and break them with Fail.
type Platform struct {
	mu           sync.Mutex
	devices      []audio.Device
	enumerateErr error
	acquireErr   error
	deadErr      error
	gate         chan struct{}
	pending      int
	requests     []audio.Constraints
	streams      []*audio.PCMStream
	acquired     int
	released     int
	enumerations int
	watchers     map[int]func()
	nextWatcher  int
	formats      map[string]bool
}

// New returns a platform exposing devices.
func New(devices ...audio.Device) *Platform {
	return &Platform{
		devices:  devices,
		watchers: make(map[int]func()),
	}
}

// Mic is a shorthand for an audio input descriptor.
func Mic(id, label string) audio.Device {
	return audio.Device{ID: id, Label: label, Kind: audio.KindAudioInput}
}

func (p *Platform) SetDevices(devices ...audio.Device) {
	p.mu.Lock()
	p.devices = devices
	p.mu.Unlock()
}

// Plug replaces the device list and fires every hot-plug watcher.
func (p *Platform) Plug(devices ...audio.Device) {
	p.mu.Lock()
	p.devices = devices
	watchers := make([]func(), 0, len(p.watchers))
	for _, fn := range p.watchers {
		watchers = append(watchers, fn)
	}
	p.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

func (p *Platform) FailEnumerate(err error) {
	p.mu.Lock()
	p.enumerateErr = err
	p.mu.Unlock()
}

func (p *Platform) FailAcquire(err error) {
	p.mu.Lock()
	p.acquireErr = err
	p.mu.Unlock()
}

// FailOnAcquire makes subsequent streams fail with err before Acquire returns,
// like a backend process that exits right after it started.
func (p *Platform) FailOnAcquire(err error) {
	p.mu.Lock()
	p.deadErr = err
	p.mu.Unlock()
}

// HoldAcquire makes subsequent acquisitions block until the returned func is called.
func (p *Platform) HoldAcquire() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.gate == gate {
				p.gate = nil
			}
			p.mu.Unlock()
			close(gate)
		})
	}
}

// SetFormats makes the platform a FormatProber answering from supported.
func (p *Platform) SetFormats(supported map[string]bool) {
	p.mu.Lock()
	p.formats = supported
	p.mu.Unlock()
}

func (p *Platform) SupportsFormat(mimeType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.formats == nil {
		return true
	}
	return p.formats[mimeType]
}

func (p *Platform) Enumerate(ctx context.Context) ([]audio.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enumerations++
	if p.enumerateErr != nil {
		return nil, p.enumerateErr
	}
	return append([]audio.Device(nil), p.devices...), nil
}

func (p *Platform) Acquire(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, c)
	gate := p.gate
	p.pending++
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			p.mu.Lock()
			p.pending--
			p.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--

	if p.acquireErr != nil {
		return nil, p.acquireErr
	}

	label := "Default microphone"
	for _, d := range p.devices {
		if d.ID == c.DeviceID {
			label = d.Label
		}
	}
	format := audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
	if format.SampleRate == 0 {
		format.SampleRate = 16000
	}
	if format.Channels == 0 {
		format.Channels = 1
	}
	stream := audio.NewPCMStream(label, format, func() {
		p.mu.Lock()
		p.released++
		p.mu.Unlock()
	})
	p.acquired++
	p.streams = append(p.streams, stream)
	if p.deadErr != nil {
		stream.Fail(p.deadErr)
	}
	return stream, nil
}

func (p *Platform) WatchDevices(onChange func()) (func(), error) {
	p.mu.Lock()
	id := p.nextWatcher
	p.nextWatcher++
	p.watchers[id] = onChange
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}, nil
}

func (p *Platform) Close() error { return nil }

// Requests returns the constraints of every Acquire call, including failed ones.
func (p *Platform) Requests() []audio.Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Constraints(nil), p.requests...)
}

// Acquired counts streams handed out; Released counts streams stopped.
func (p *Platform) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

func (p *Platform) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Pending counts acquisitions blocked on HoldAcquire.
func (p *Platform) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *Platform) Enumerations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enumerations
}

func (p *Platform) Watchers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watchers)
}

// LastStream returns the most recently acquired stream, or nil.
func (p *Platform) LastStream() *audio.PCMStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// Sine returns frames of a mono s16le sine wave.
func Sine(frames, sampleRate int, freq, amplitude float64) []byte {
	buf := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		v := int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return buf
}

// Noise returns frames of mono s16le uniform white noise. The same seed yields the same block.
func Noise(frames int, amplitude float64, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		v := int16(amplitude * 32767 * (2*r.Float64() - 1))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return buf
}
