package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/audiolibrelab/micrecord/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeMalgo    BackendType = "malgo"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeAuto     BackendType = "auto"
)

// NewPlatform creates the capture platform selected by configuration
func NewPlatform(cfg config.AudioConfig) (Platform, error) {
	backendType := determineBackend(cfg)
	slog.Debug("Selected audio backend", "backend", backendType)

	switch backendType {
	case BackendTypePipeWire:
		return NewPipeWirePlatform()
	case BackendTypeMalgo:
		return NewMalgoPlatform()
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", backendType)
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg config.AudioConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case "pipewire":
		return BackendTypePipeWire
	case "malgo", "miniaudio":
		return BackendTypeMalgo
	case "", "auto":
		if pipewireInstalled() {
			return BackendTypePipeWire
		}
		return BackendTypeMalgo
	}
	return BackendType(cfg.Backend)
}

func pipewireInstalled() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	_, err := exec.LookPath("pw-record")
	return err == nil
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypeMalgo}
	if pipewireInstalled() {
		backends = append(backends, BackendTypePipeWire)
	}
	return backends
}
