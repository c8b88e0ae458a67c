package audio

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval is how often backends without native notifications rescan devices.
const DefaultPollInterval = 2 * time.Second

// PollDevices rescans devices on a ticker and calls onChange whenever the set of
// device ids or labels differs from the previous scan. The first scan only records
// the baseline. The returned func stops the loop and waits for it to exit.
func PollDevices(enumerate func(ctx context.Context) ([]Device, error), interval time.Duration, onChange func()) func() {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last string
		if devices, err := enumerate(ctx); err == nil {
			last = deviceSignature(devices)
		}
		slog.Debug("Device polling started", "interval", interval)

		for {
			select {
			case <-stop:
				slog.Debug("Device polling stopped")
				return
			case <-ticker.C:
				devices, err := enumerate(ctx)
				if err != nil {
					slog.Debug("Device poll failed", "error", err)
					continue
				}
				sig := deviceSignature(devices)
				if sig != last {
					last = sig
					slog.Info("Audio device set changed", "devices", len(devices))
					onChange()
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			close(stop)
			<-done
		})
	}
}

func deviceSignature(devices []Device) string {
	keys := make([]string, 0, len(devices))
	for _, d := range devices {
		keys = append(keys, string(d.Kind)+"|"+d.ID+"|"+d.Label)
	}
	sort.Strings(keys)
	return strings.Join(keys, "\n")
}
