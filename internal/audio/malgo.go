package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoPlatform captures through miniaudio, which picks the native backend
// (ALSA/PulseAudio on Linux, CoreAudio, WASAPI).
type MalgoPlatform struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoPlatform initializes the miniaudio context.
func NewMalgoPlatform() (*MalgoPlatform, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", mapMalgoError(err))
	}
	return &MalgoPlatform{ctx: ctx}, nil
}

func (p *MalgoPlatform) Enumerate(ctx context.Context) ([]Device, error) {
	infos, err := p.captureDevices()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:      info.ID.String(),
			Label:   info.Name(),
			Kind:    KindAudioInput,
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}

func (p *MalgoPlatform) captureDevices() ([]malgo.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		return nil, ErrDevicesUnavailable
	}
	infos, err := p.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", mapMalgoError(err))
	}
	return infos, nil
}

func (p *MalgoPlatform) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = uint32(c.Channels)
	deviceCfg.SampleRate = uint32(c.SampleRate)

	label := "Default microphone"
	if c.DeviceID != "" {
		infos, err := p.captureDevices()
		if err != nil {
			return nil, err
		}
		var found *malgo.DeviceInfo
		for i := range infos {
			if infos[i].ID.String() == c.DeviceID {
				found = &infos[i]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, c.DeviceID)
		}
		deviceCfg.Capture.DeviceID = found.ID.Pointer()
		label = found.Name()
	}

	var device *malgo.Device
	stream := NewPCMStream(label, Format{SampleRate: c.SampleRate, Channels: c.Channels}, func() {
		if device == nil {
			return
		}
		if err := device.Stop(); err != nil {
			slog.Debug("Failed to stop capture device", "error", err)
		}
		device.Uninit()
	})

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.Deliver(input)
		},
		Stop: func() {
			stream.Fail(ErrStreamFatal)
		},
	}

	p.mu.Lock()
	if p.ctx == nil {
		p.mu.Unlock()
		return nil, ErrDevicesUnavailable
	}
	dev, err := malgo.InitDevice(p.ctx.Context, deviceCfg, callbacks)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device: %w", mapMalgoError(err))
	}
	device = dev

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start capture device: %w", mapMalgoError(err))
	}

	slog.Info("Capture device started", "device", label, "sample_rate", c.SampleRate, "channels", c.Channels)
	return stream, nil
}

// WatchDevices polls, miniaudio has no device-change notification for enumeration.
func (p *MalgoPlatform) WatchDevices(onChange func()) (func(), error) {
	return PollDevices(p.Enumerate, DefaultPollInterval, onChange), nil
}

func (p *MalgoPlatform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		return nil
	}
	err := p.ctx.Uninit()
	p.ctx.Free()
	p.ctx = nil
	if err != nil {
		return fmt.Errorf("failed to uninitialize audio context: %w", err)
	}
	return nil
}

// mapMalgoError translates miniaudio result codes into the platform taxonomy.
func mapMalgoError(err error) error {
	var result malgo.Result
	if !errors.As(err, &result) {
		return err
	}
	switch result {
	case malgo.ErrAccessDenied:
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case malgo.ErrNoBackend, malgo.ErrFailedToInitBackend, malgo.ErrNoDevice:
		return fmt.Errorf("%w: %v", ErrDevicesUnavailable, err)
	case malgo.ErrDoesNotExist:
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	return err
}
