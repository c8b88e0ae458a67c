package audio

import (
	"context"
	"errors"
)

var (
	// ErrAccessDenied is returned when the user or the OS refuses access to a capture device.
	ErrAccessDenied = errors.New("access to capture device denied")
	// ErrDevicesUnavailable is returned when no capture subsystem is present.
	ErrDevicesUnavailable = errors.New("capture devices unavailable")
	// ErrDeviceNotFound is returned when a specific device id no longer exists.
	ErrDeviceNotFound = errors.New("capture device not found")
	// ErrStreamFatal is reported asynchronously when a live stream fails.
	ErrStreamFatal = errors.New("capture stream failed")
)

// Kind is the kind of a media device.
type Kind string

const (
	KindAudioInput  Kind = "audioinput"
	KindAudioOutput Kind = "audiooutput"
)

// Device describes an enumerated media device. Values are immutable once enumerated.
type Device struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Kind    Kind   `json:"kind"`
	Default bool   `json:"default"`
}

// Constraints select the device and PCM shape requested from a platform.
// An empty DeviceID requests the default input device.
type Constraints struct {
	DeviceID   string
	SampleRate int
	Channels   int
}

// Format is the PCM layout delivered by a stream. Samples are always signed 16-bit little endian.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// BytesPerFrame returns the size of one interleaved frame.
func (f Format) BytesPerFrame() int {
	if f.Channels <= 0 {
		return 2
	}
	return 2 * f.Channels
}

// Track is one media track of a stream.
type Track interface {
	ID() string
	Kind() Kind
	Label() string
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	Stopped() bool
}

// Stream is a live capture stream. Consumers only read from it; the owner stops it.
type Stream interface {
	ID() string
	Format() Format
	Tracks() []Track
	// Subscribe registers fn for every PCM block. The returned func unsubscribes.
	Subscribe(fn func(pcm []byte)) (unsubscribe func())
	// OnFatal sets the handler invoked once if the stream fails while live. A failure
	// that happened before registration is delivered to fn.
	OnFatal(fn func(err error))
	// Stop stops every track. Safe to call more than once.
	Stop()
	Active() bool
}

// Platform is the set of capture primitives the recorder depends on.
type Platform interface {
	Enumerate(ctx context.Context) ([]Device, error)
	Acquire(ctx context.Context, c Constraints) (Stream, error)
	// WatchDevices calls onChange whenever the device set changes until stop is called.
	WatchDevices(onChange func()) (stop func(), err error)
	Close() error
}

// FormatProber is implemented by platforms that can answer a container capability query.
type FormatProber interface {
	SupportsFormat(mimeType string) bool
}

// AudioTracks filters the audio tracks of s.
func AudioTracks(s Stream) []Track {
	if s == nil {
		return nil
	}
	var tracks []Track
	for _, t := range s.Tracks() {
		if t.Kind() == KindAudioInput {
			tracks = append(tracks, t)
		}
	}
	return tracks
}
