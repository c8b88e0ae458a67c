package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// PipeWirePlatform enumerates capture nodes with pw-link and records them with pw-record.
type PipeWirePlatform struct {
	pipewire *PipeWire
}

// NewPipeWirePlatform checks that the PipeWire tools are installed.
func NewPipeWirePlatform() (*PipeWirePlatform, error) {
	for _, tool := range []string{"pw-link", "pw-record"} {
		if _, err := exec.LookPath(tool); err != nil {
			return nil, fmt.Errorf("%w: %s not found in PATH", ErrDevicesUnavailable, tool)
		}
	}
	return &PipeWirePlatform{pipewire: NewPipeWire()}, nil
}

func (p *PipeWirePlatform) Enumerate(ctx context.Context) ([]Device, error) {
	devices, err := p.pipewire.CaptureDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevicesUnavailable, err)
	}
	return devices, nil
}

func (p *PipeWirePlatform) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	label := "Default microphone"
	if c.DeviceID != "" {
		devices, err := p.Enumerate(ctx)
		if err != nil {
			return nil, err
		}
		found := false
		for _, d := range devices {
			if d.ID == c.DeviceID {
				label = d.Label
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, c.DeviceID)
		}
	}

	capture := &pipewireCapture{}
	stream := NewPCMStream(label, Format{SampleRate: c.SampleRate, Channels: c.Channels}, capture.stop)
	if err := capture.start(c, stream); err != nil {
		return nil, err
	}

	slog.Info("PipeWire capture started", "target", c.DeviceID, "sample_rate", c.SampleRate, "channels", c.Channels)
	return stream, nil
}

func (p *PipeWirePlatform) WatchDevices(onChange func()) (func(), error) {
	return PollDevices(p.Enumerate, DefaultPollInterval, onChange), nil
}

func (p *PipeWirePlatform) Close() error { return nil }

// pipewireCapture owns one pw-record process writing raw s16le to stdout.
type pipewireCapture struct {
	cmd  *exec.Cmd
	done chan error
}

func pwRecordArgs(c Constraints) []string {
	args := []string{
		"--rate", strconv.Itoa(c.SampleRate),
		"--channels", strconv.Itoa(c.Channels),
		"--format", "s16",
		"--raw",
	}
	if c.DeviceID != "" {
		args = append(args, "--target", c.DeviceID)
	}
	return append(args, "-")
}

func (pc *pipewireCapture) start(c Constraints, stream *PCMStream) error {
	cmd := exec.Command("pw-record", pwRecordArgs(c)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start pw-record: %v", ErrDevicesUnavailable, err)
	}
	pc.cmd = cmd
	pc.done = make(chan error, 1)

	go readOutput(stderr, "pw-record")
	go func() {
		pc.pump(stdout, stream, Format{SampleRate: c.SampleRate, Channels: c.Channels})
		pc.done <- cmd.Wait()
	}()
	return nil
}

// pump forwards 20 ms blocks until the process closes its output. An unexpected
// end of stream is fatal; after stop() it is ignored by the stream.
func (pc *pipewireCapture) pump(r io.Reader, stream *PCMStream, format Format) {
	frames := format.SampleRate / 50
	if frames <= 0 {
		frames = 960
	}
	buf := make([]byte, frames*format.BytesPerFrame())
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			stream.Deliver(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Debug("pw-record read failed", "error", err)
			}
			stream.Fail(fmt.Errorf("%w: pw-record output closed", ErrStreamFatal))
			return
		}
	}
}

// stop sends SIGINT and waits, then kills the process if it does not exit in time.
func (pc *pipewireCapture) stop() {
	if pc.cmd == nil || pc.cmd.Process == nil {
		return
	}

	slog.Debug("Sending SIGINT to pw-record")
	if err := pc.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to pw-record, killing", "error", err)
		pc.cmd.Process.Kill()
	}

	select {
	case err := <-pc.done:
		if err != nil {
			slog.Debug("pw-record exited", "state", err)
		}
	case <-time.After(2 * time.Second):
		slog.Warn("pw-record did not exit within timeout, force killing")
		pc.cmd.Process.Kill()
		<-pc.done
	}
}

// readOutput logs a subprocess pipe line by line.
func readOutput(pipe io.ReadCloser, label string) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		slog.Debug("Subprocess output", "process", label, "line", scanner.Text())
	}
	pipe.Close()
}
