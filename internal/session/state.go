package session

import (
	"time"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/recorder"
)

// State is the single state of a recording session.
type State string

const (
	StateIdle             State = "IDLE"
	StateRequestingAccess State = "REQUESTING_ACCESS"
	StateDeviceReady      State = "DEVICE_READY"
	StatePreparing        State = "PREPARING"
	StateRecording        State = "RECORDING"
	StateReviewing        State = "REVIEWING"
	StateError            State = "ERROR"
)

// HoldsStream reports whether a capture stream is live in s.
func (s State) HoldsStream() bool {
	switch s {
	case StateDeviceReady, StatePreparing, StateRecording:
		return true
	}
	return false
}

// Active reports whether s owns or is acquiring hardware resources.
func (s State) Active() bool {
	return s == StateRequestingAccess || s.HoldsStream()
}

// Snapshot is everything the view layer renders. Booleans are derived from State.
type Snapshot struct {
	State       State          `json:"state"`
	Error       string         `json:"error"`
	Level       int            `json:"level"`
	Devices     []audio.Device `json:"devices"`
	DeviceID    string         `json:"device_id"`
	HasAccess   bool           `json:"has_access"`
	MicEnabled  bool           `json:"mic_enabled"`
	Recording   bool           `json:"recording"`
	Reviewing   bool           `json:"reviewing"`
	Muted       bool           `json:"muted"`
	Submitting  bool           `json:"submitting"`
	CountdownMs int64          `json:"countdown_ms"`
	RecordingMs int64          `json:"recording_ms"`
	Artifact    *ArtifactInfo  `json:"artifact,omitempty"`
}

// ArtifactInfo describes the finalized recording under review.
type ArtifactInfo struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	Filename    string    `json:"filename"`
	Size        int       `json:"size"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func artifactInfo(a *recorder.Artifact) *ArtifactInfo {
	if a == nil || a.Revoked() {
		return nil
	}
	return &ArtifactInfo{
		ID:          a.ID,
		ContentType: a.ContentType,
		Filename:    a.Filename(),
		Size:        a.Size(),
		DurationMs:  a.Duration().Milliseconds(),
		CreatedAt:   a.CreatedAt,
	}
}
