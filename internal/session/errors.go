package session

import (
	"errors"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/recorder"
)

var (
	// ErrInvalidTransition rejects an action that is not valid in the current state.
	ErrInvalidTransition = errors.New("action not allowed in current state")
	// ErrBusy rejects an action while a recording or an upload is in progress.
	ErrBusy = errors.New("session busy")
	// ErrNoUploader is returned by Submit when no upload destination is configured.
	ErrNoUploader = errors.New("no upload destination configured")

	errRecorderStart = errors.New("recorder failed to start")
	errUpload        = errors.New("upload failed")
)

const (
	MsgAccessDenied        = "Error getting devices, you may have denied access already, if so you will have to allow access in system settings."
	MsgDevicesUnavailable  = "Audio capture is not available on this system."
	MsgDeviceNotFound      = "The selected microphone is no longer connected, pick another device."
	MsgRecorderUnsupported = "Recording is not supported on this system, no encoder is available for the configured formats."
	MsgRecorderStart       = "Error attempting to start recording, check logs for details"
	MsgStreamFatal         = "The microphone stopped unexpectedly, check the device and try again."
	MsgUpload              = "Error submitting the recording, please try again."
)

// userMessage converts a controller error into the text shown to the user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrAccessDenied):
		return MsgAccessDenied
	case errors.Is(err, audio.ErrDeviceNotFound):
		return MsgDeviceNotFound
	case errors.Is(err, audio.ErrDevicesUnavailable):
		return MsgDevicesUnavailable
	case errors.Is(err, recorder.ErrRecorderUnsupported):
		return MsgRecorderUnsupported
	case errors.Is(err, audio.ErrStreamFatal):
		return MsgStreamFatal
	case errors.Is(err, errUpload):
		return MsgUpload
	}
	return MsgRecorderStart
}
