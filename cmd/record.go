package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/micrecord/internal/play"
	"github.com/audiolibrelab/micrecord/internal/session"

	"github.com/spf13/cobra"
)

// errQuit ends the terminal session without an error.
var errQuit = errors.New("quit")

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a take from the microphone",
	Long: `Open the microphone, show the input level and record a take.

Press Enter to start (after the countdown) and Enter again to stop. The take can
then be played back, submitted to the configured output, or retaken.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		device, _ := cmd.Flags().GetString("device")
		noSubmit, _ := cmd.Flags().GetBool("no-submit")
		if device == "" {
			device = cfg.Microphone.Device
		}

		ctrl, preview, platform, err := newSession(!noSubmit)
		if err != nil {
			return err
		}
		defer platform.Close()
		defer ctrl.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctrl.Mount(ctx)

		t := &terminal{ctrl: ctrl, preview: preview, device: device, lines: readLines()}
		err = t.run(ctx)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case errors.Is(err, context.Canceled):
			fmt.Println()
			slog.Info("Recording session cancelled")
			if cerr := ctrl.Cancel(); cerr != nil {
				slog.Debug("Cancel on interrupt", "error", cerr)
			}
			return nil
		}
		return err
	},
}

func init() {
	recordCmd.Flags().StringP("device", "d", "", "device id to record from (default from profile, else system default)")
	recordCmd.Flags().Bool("no-submit", false, "disable submit, only preview takes")
}

// terminal drives a controller from stdin.
type terminal struct {
	ctrl    *session.Controller
	preview *play.Preview
	device  string
	lines   <-chan string
}

func readLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}

func (t *terminal) run(ctx context.Context) error {
	for {
		if err := t.open(ctx); err != nil {
			return err
		}
		if err := t.take(ctx); err != nil {
			return err
		}
		retake, err := t.review(ctx)
		if err != nil || !retake {
			return err
		}
	}
}

// open acquires the device and waits until it is ready.
func (t *terminal) open(ctx context.Context) error {
	var err error
	if t.device != "" {
		err = t.ctrl.SelectDevice(t.device)
	} else {
		err = t.ctrl.EnableMic()
	}
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	fmt.Println("Requesting microphone access...")
	state, err := t.ctrl.WaitFor(ctx, session.StateDeviceReady, session.StateError)
	if err != nil {
		return err
	}
	if state == session.StateError {
		return fmt.Errorf("%s", t.ctrl.Snapshot().Error)
	}

	snap := t.ctrl.Snapshot()
	for _, d := range snap.Devices {
		if d.ID == snap.DeviceID {
			fmt.Printf("Using %s\n", d.Label)
		}
	}
	return nil
}

// take records one take: Enter to start, Enter to stop.
func (t *terminal) take(ctx context.Context) error {
	fmt.Println("Press Enter to start recording (m + Enter toggles mute, q + Enter quits)")

	meterCtx, stopMeter := context.WithCancel(ctx)
	defer stopMeter()
	go t.meter(meterCtx)

	for {
		line, err := t.readLine(ctx)
		if err != nil {
			return err
		}
		switch line {
		case "q":
			if err := t.ctrl.Reset(); err != nil {
				slog.Debug("Reset on quit", "error", err)
			}
			return errQuit
		case "m":
			if err := t.ctrl.ToggleMute(); err != nil {
				fmt.Printf("\nCannot toggle mute: %v\n", err)
			}
			continue
		}

		state := t.ctrl.State()
		switch state {
		case session.StateDeviceReady:
			if err := t.ctrl.Start(); err != nil {
				return fmt.Errorf("failed to start recording: %w", err)
			}
		case session.StatePreparing:
			// Enter during the countdown is ignored
		case session.StateRecording:
			if err := t.ctrl.Stop(); err != nil {
				return fmt.Errorf("failed to stop recording: %w", err)
			}
			stopMeter()
			fmt.Println()
			return nil
		case session.StateError:
			return fmt.Errorf("%s", t.ctrl.Snapshot().Error)
		}
	}
}

// review offers playback, submit and retake. It reports whether to record again.
func (t *terminal) review(ctx context.Context) (bool, error) {
	snap := t.ctrl.Snapshot()
	if snap.State != session.StateReviewing {
		return false, fmt.Errorf("recording did not finish: %s", snap.Error)
	}
	if a := snap.Artifact; a != nil {
		fmt.Printf("Recorded %s (%s, %d bytes)\n", time.Duration(a.DurationMs)*time.Millisecond, a.ContentType, a.Size)
	}

	for {
		fmt.Println("[p]lay  [s]ubmit  [r]etake  [q]uit")
		line, err := t.readLine(ctx)
		if err != nil {
			return false, err
		}

		switch line {
		case "p":
			if err := t.preview.Play(ctx); err != nil {
				fmt.Printf("Playback failed: %v\n", err)
			}
		case "s":
			fmt.Println("Submitting...")
			if err := t.ctrl.Submit(ctx); err != nil {
				if errors.Is(err, session.ErrNoUploader) {
					fmt.Println("Submit is disabled, configure output.directory or upload.url")
					continue
				}
				fmt.Printf("%s\n", t.ctrl.Snapshot().Error)
				continue
			}
			fmt.Println("Recording submitted")
			return false, nil
		case "r":
			if err := t.ctrl.Reset(); err != nil {
				return false, err
			}
			return true, nil
		case "q":
			if err := t.ctrl.Reset(); err != nil {
				slog.Debug("Reset on quit", "error", err)
			}
			return false, nil
		}
	}
}

func (t *terminal) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", errQuit
		}
		return strings.ToLower(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// meter redraws the level and countdown line until ctx is done.
func (t *terminal) meter(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Printf("\r%s", meterLine(t.ctrl.Snapshot()))
		}
	}
}

func meterLine(snap session.Snapshot) string {
	const width = 30
	filled := snap.Level * width / 100
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	status := "ready"
	switch {
	case snap.State == session.StatePreparing:
		status = fmt.Sprintf("starting in %.1fs", float64(snap.CountdownMs)/1000)
	case snap.Recording:
		status = "● recording " + stopwatch(snap.RecordingMs)
	}
	if snap.Muted {
		status += " (muted)"
	}
	return fmt.Sprintf("%s %3d%%  %-22s", bar, snap.Level, status)
}

// stopwatch formats elapsed milliseconds as m:ss.
func stopwatch(ms int64) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
