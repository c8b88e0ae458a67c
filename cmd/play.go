package cmd

import (
	"fmt"

	"github.com/audiolibrelab/micrecord/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play a recorded file",
	Long:  `Play a recording with the first available player (ffplay, mpv, vlc or aplay).`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Playing: %s\n", args[0])

		if err := play.NewPlayer().PlayFile(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
