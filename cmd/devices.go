package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/catalog"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available microphones",
	Long:    `List the audio input devices the configured backend can record from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, err := audio.NewPlatform(cfg.Audio)
		if err != nil {
			return fmt.Errorf("failed to create audio platform: %w", err)
		}
		defer platform.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		devices := catalog.New(platform).Refresh(ctx)
		return listDevices(devices)
	},
}

func listDevices(devices []audio.Device) error {
	fmt.Printf("🎤 Audio Inputs (%s)\n", runtime.GOOS)
	fmt.Printf("═══════════════════════════════════════\n\n")

	backends := audio.GetAvailableBackends()
	fmt.Printf("Backends: ")
	for i, b := range backends {
		if i > 0 {
			fmt.Printf(", ")
		}
		fmt.Printf("%s", b)
	}
	fmt.Printf("\n\n")

	if len(devices) == 0 {
		fmt.Println("No microphones found. Access may be denied or no device is connected.")
		return nil
	}

	for i, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %d. %s\n", marker, i+1, d.Label)
		fmt.Printf("     id: %s\n", d.ID)
		if cfg.Microphone.Device != "" && cfg.Microphone.Device == d.ID {
			fmt.Printf("     (configured for profile %s)\n", cfg.Profile)
		}
	}

	slog.Debug("Devices listed", "count", len(devices))
	return nil
}
