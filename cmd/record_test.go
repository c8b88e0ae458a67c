package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/micrecord/internal/audio/audiotest"
	"github.com/audiolibrelab/micrecord/internal/session"
)

func TestMeterLineShowsElapsedRecordingTime(t *testing.T) {
	line := meterLine(session.Snapshot{State: session.StateRecording, Recording: true, Level: 50, RecordingMs: 75_500})
	if !strings.Contains(line, "recording 1:15") {
		t.Errorf("Expected elapsed time 1:15 in %q", line)
	}

	line = meterLine(session.Snapshot{State: session.StatePreparing, CountdownMs: 1500})
	if !strings.Contains(line, "starting in 1.5s") {
		t.Errorf("Expected countdown in %q", line)
	}
}

func TestStopwatch(t *testing.T) {
	tests := map[int64]string{
		0:       "0:00",
		999:     "0:00",
		61_000:  "1:01",
		600_000: "10:00",
	}
	for ms, want := range tests {
		if got := stopwatch(ms); got != want {
			t.Errorf("stopwatch(%d): expected %s, got %s", ms, want, got)
		}
	}
}

func TestTakeMuteWithoutStreamKeepsPrompting(t *testing.T) {
	ctrl := session.NewController(session.Options{
		Platform:  audiotest.New(audiotest.Mic("a", "Mic A")),
		Countdown: time.Millisecond,
	})
	defer ctrl.Close()

	lines := make(chan string, 2)
	lines <- "m"
	lines <- "q"
	term := &terminal{ctrl: ctrl, lines: lines}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := term.take(ctx); !errors.Is(err, errQuit) {
		t.Fatalf("Expected quit after the rejected mute, got: %v", err)
	}
	if ctrl.State() != session.StateIdle {
		t.Errorf("Expected IDLE, got %s", ctrl.State())
	}
	if ctrl.IsMuted() {
		t.Error("Expected mute to stay off without a stream")
	}
}
