// Package play provides local playback of recordings.
package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// players in order of preference
var players = []string{"ffplay", "mpv", "vlc", "aplay"}

type Player struct {
	lookPath func(file string) (string, error)
}

func NewPlayer() *Player {
	return &Player{lookPath: exec.LookPath}
}

// PlayFile plays path with the first available system player and blocks until
// playback ends or ctx is cancelled.
func (p *Player) PlayFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	args, err := playerArgs(player, path)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, player, args...)
	slog.Debug("Starting playback", "command", strings.Join(cmd.Args, " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

func playerArgs(player, path string) ([]string, error) {
	switch player {
	case "vlc":
		return []string{"--intf", "dummy", "--play-and-exit", path}, nil
	case "mpv":
		return []string{"--no-video", path}, nil
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", path}, nil
	case "aplay":
		// aplay only understands WAV and AU containers
		switch strings.ToLower(filepath.Ext(path)) {
		case ".wav", ".au":
			return []string{path}, nil
		}
		return nil, fmt.Errorf("aplay cannot play %s files", filepath.Ext(path))
	}
	return nil, fmt.Errorf("unsupported player: %s", player)
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
