// Package session sequences device acquisition, level monitoring, countdown and
// recording for one recording session, and guarantees that every exit path
// releases what it acquired.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/micrecord/internal/audio"
	"github.com/audiolibrelab/micrecord/internal/capture"
	"github.com/audiolibrelab/micrecord/internal/catalog"
	"github.com/audiolibrelab/micrecord/internal/countdown"
	"github.com/audiolibrelab/micrecord/internal/level"
	"github.com/audiolibrelab/micrecord/internal/recorder"
)

// Recorder is the chunked recorder driven by the controller.
type Recorder interface {
	Start(stream audio.Stream, preferred, fallback string) error
	Stop() *recorder.Artifact
	Discard()
	IsActive() bool
	MimeType() string
}

// Preview shows the live stream while capturing and the artifact while reviewing.
// Its methods are called with the controller locked and must not call back into it.
type Preview interface {
	ShowLive(stream audio.Stream)
	ShowArtifact(artifact *recorder.Artifact)
	Clear()
}

// Uploader receives the finalized artifact on submit.
type Uploader interface {
	Upload(ctx context.Context, artifact *recorder.Artifact) error
}

type Options struct {
	Platform audio.Platform
	Capture  capture.Options
	Monitor  level.Options

	// Recorder defaults to a recorder.Recorder probing the platform when it
	// implements audio.FormatProber.
	Recorder        Recorder
	Timeslice       time.Duration
	PreferredFormat string
	FallbackFormat  string

	Countdown time.Duration
	Preview   Preview
	Uploader  Uploader
	Logger    *slog.Logger
}

// Controller is the session state machine. All transitions run under one mutex;
// acquisition, enumeration and upload run outside it and re-enter through
// generation-checked continuations.
type Controller struct {
	log       *slog.Logger
	platform  audio.Platform
	catalog   *catalog.Catalog
	capture   *capture.Session
	monitor   *level.Monitor
	rec       Recorder
	gate      *countdown.Gate
	preview   Preview
	uploader  Uploader
	preferred string
	fallback  string

	ctx    context.Context
	cancel context.CancelFunc

	level atomic.Int32

	mu           sync.Mutex
	state        State
	errText      string
	gen          uint64
	deviceID     string
	lastDeviceID string
	hasAccess    bool
	micEnabled   bool
	tap          *level.Handle
	artifact     *recorder.Artifact
	submitting   bool
	startedAt    time.Time
	changed      chan struct{}
	unsubscribe  func()
	closed       bool
}

func NewController(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.PreferredFormat == "" {
		opts.PreferredFormat = recorder.MimeWAV
	}
	if opts.FallbackFormat == "" {
		opts.FallbackFormat = recorder.MimeBasic
	}
	rec := opts.Recorder
	if rec == nil {
		recOpts := recorder.Options{Timeslice: opts.Timeslice}
		if prober, ok := opts.Platform.(audio.FormatProber); ok {
			recOpts.Prober = prober
		}
		rec = recorder.New(recOpts)
	}
	preview := opts.Preview
	if preview == nil {
		preview = nopPreview{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		log:       log,
		platform:  opts.Platform,
		catalog:   catalog.New(opts.Platform),
		capture:   capture.New(opts.Platform, opts.Capture),
		rec:       rec,
		gate:      countdown.New(opts.Countdown),
		preview:   preview,
		uploader:  opts.Uploader,
		preferred: opts.PreferredFormat,
		fallback:  opts.FallbackFormat,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		changed:   make(chan struct{}),
	}
	c.monitor = level.NewMonitor(opts.Monitor, func(v int) {
		c.level.Store(int32(v))
	})
	return c
}

// Mount loads the initial device list and starts following hot-plug changes.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	c.unsubscribe = c.catalog.Subscribe(func([]audio.Device) {
		c.mu.Lock()
		c.notifyLocked()
		c.mu.Unlock()
	})
	c.mu.Unlock()

	c.catalog.Refresh(ctx)
	if err := c.catalog.Watch(c.platform); err != nil {
		c.log.Warn("Hot-plug notifications unavailable", "error", err)
	}
}

// Close tears the session down. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.hardCleanupLocked()
	c.revokeArtifactLocked()
	c.errText = ""
	c.setStateLocked(StateIdle)
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	c.cancel()
	c.catalog.Close()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.log.Debug("Session controller closed")
}

// SelectDevice switches capture to deviceID, or to the default input when empty.
func (c *Controller) SelectDevice(deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrInvalidTransition
	case c.state == StatePreparing, c.state == StateRecording, c.state == StateReviewing:
		return ErrBusy
	case c.state == StateDeviceReady && c.deviceID == deviceID && c.micEnabled:
		return nil
	}

	if err := recorder.Available(c.preferred, c.fallback); err != nil {
		c.failLocked(err)
		return nil
	}

	// Switching devices releases the old stream before acquiring the new one
	c.softCleanupLocked()
	c.preview.Clear()
	c.capture.Release()
	c.requestLocked(deviceID)
	return nil
}

// EnableMic acquires the default input device.
func (c *Controller) EnableMic() error {
	return c.SelectDevice("")
}

// Retry re-enters acquisition for the last requested device after an error.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateError {
		return ErrInvalidTransition
	}
	if err := recorder.Available(c.preferred, c.fallback); err != nil {
		c.failLocked(err)
		return nil
	}
	c.hardCleanupLocked()
	c.requestLocked(c.lastDeviceID)
	return nil
}

func (c *Controller) requestLocked(deviceID string) {
	c.gen++
	gen := c.gen
	c.deviceID = deviceID
	c.lastDeviceID = deviceID
	c.errText = ""
	c.setStateLocked(StateRequestingAccess)

	go c.acquire(gen, deviceID)
}

// acquire runs outside the lock. Its result applies only when the request is
// still current; otherwise the stream is stopped.
func (c *Controller) acquire(gen uint64, deviceID string) {
	c.catalog.Refresh(c.ctx)

	stream, err := c.capture.Acquire(c.ctx, deviceID)

	c.mu.Lock()
	if gen != c.gen || c.state != StateRequestingAccess {
		c.mu.Unlock()
		if stream != nil {
			c.log.Debug("Discarding stale capture stream", "device", deviceID, "stream", stream.ID())
			c.capture.Discard(stream)
		} else if err != nil {
			c.log.Debug("Stale acquisition failed", "device", deviceID, "error", err)
		}
		return
	}
	if err != nil {
		c.failLocked(fmt.Errorf("failed to acquire capture stream: %w", err))
		c.mu.Unlock()
		return
	}
	if err := c.capture.Adopt(stream); err != nil {
		c.mu.Unlock()
		c.capture.Discard(stream)
		c.mu.Lock()
		if gen == c.gen {
			c.failLocked(fmt.Errorf("failed to adopt capture stream: %w", err))
		}
		c.mu.Unlock()
		return
	}

	stream.OnFatal(func(err error) { c.streamFailed(stream, err) })
	c.hasAccess = true
	c.micEnabled = true
	c.tap = c.monitor.Attach(stream)
	c.preview.ShowLive(stream)
	c.setStateLocked(StateDeviceReady)
	c.log.Info("Microphone ready", "device", deviceID, "stream", stream.ID())
	c.mu.Unlock()

	// Labels may only be exposed once access is granted
	c.catalog.Refresh(c.ctx)
}

func (c *Controller) streamFailed(stream audio.Stream, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture.Held() != stream || !c.state.HoldsStream() {
		c.log.Debug("Ignoring failure of inactive stream", "stream", stream.ID(), "error", err)
		return
	}
	c.failLocked(fmt.Errorf("capture stream failed: %w", err))
}

// Start begins the countdown before recording.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateDeviceReady {
		return ErrInvalidTransition
	}
	if err := recorder.Available(c.preferred, c.fallback); err != nil {
		c.failLocked(err)
		return nil
	}

	gen := c.gen
	c.setStateLocked(StatePreparing)
	c.gate.Start(func() { c.countdownElapsed(gen) })
	return nil
}

func (c *Controller) countdownElapsed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StatePreparing {
		c.log.Debug("Ignoring stale countdown")
		return
	}

	stream := c.capture.Held()
	if err := c.rec.Start(stream, c.preferred, c.fallback); err != nil {
		c.failLocked(fmt.Errorf("%w: %w", errRecorderStart, err))
		return
	}
	c.startedAt = time.Now()
	c.setStateLocked(StateRecording)
}

// Stop finalizes the recording and moves to review. The capture stream is released.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateRecording {
		return ErrInvalidTransition
	}

	var artifact *recorder.Artifact
	if c.rec.IsActive() {
		artifact = c.rec.Stop()
	}
	if artifact == nil {
		c.failLocked(fmt.Errorf("%w: recorder produced no artifact", errRecorderStart))
		return nil
	}

	c.revokeArtifactLocked()
	c.artifact = artifact
	c.preview.ShowArtifact(artifact)
	c.detachMonitorLocked()
	c.capture.Release()
	c.micEnabled = false
	c.setStateLocked(StateReviewing)
	c.log.Info("Recording ready for review", "artifact", artifact.ID, "bytes", artifact.Size())
	return nil
}

// Cancel abandons whatever is in progress and returns to Idle. A recording under
// review is discarded.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrInvalidTransition
	}
	if c.state == StateReviewing {
		c.revokeArtifactLocked()
	}
	c.toIdleLocked()
	return nil
}

// Reset discards the artifact and returns to Idle.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrInvalidTransition
	}
	c.revokeArtifactLocked()
	c.toIdleLocked()
	return nil
}

func (c *Controller) toIdleLocked() {
	c.hardCleanupLocked()
	c.errText = ""
	c.setStateLocked(StateIdle)
}

// Submit hands the artifact under review to the uploader. On success the session
// returns to Idle; on failure it stays in review so the submit can be retried.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != StateReviewing || c.artifact == nil {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if c.submitting {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.uploader == nil {
		c.mu.Unlock()
		return ErrNoUploader
	}
	artifact := c.artifact
	c.submitting = true
	c.errText = ""
	c.notifyLocked()
	c.mu.Unlock()

	c.log.Info("Submitting recording", "artifact", artifact.ID, "filename", artifact.Filename())
	err := c.uploader.Upload(ctx, artifact)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false

	if c.state != StateReviewing || c.artifact != artifact {
		c.notifyLocked()
		if err != nil {
			return fmt.Errorf("failed to submit recording: %w", err)
		}
		return nil
	}
	if err != nil {
		c.log.Error("Submit failed", "artifact", artifact.ID, "error", err)
		c.errText = userMessage(fmt.Errorf("%w: %w", errUpload, err))
		c.notifyLocked()
		return fmt.Errorf("failed to submit recording: %w", err)
	}

	// The artifact stays valid for the uploader until the next stop or reset
	c.hardCleanupLocked()
	c.setStateLocked(StateIdle)
	c.log.Info("Recording submitted", "artifact", artifact.ID)
	return nil
}

// SetMuted enables or disables the audio tracks of the live stream. The session
// state is not affected.
func (c *Controller) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.HoldsStream() {
		return capture.ErrNoStream
	}
	if err := c.capture.SetMuted(muted); err != nil {
		return err
	}
	c.log.Debug("Microphone mute changed", "muted", muted)
	c.notifyLocked()
	return nil
}

func (c *Controller) ToggleMute() error {
	return c.SetMuted(!c.IsMuted())
}

func (c *Controller) IsMuted() bool {
	return c.capture.IsMuted()
}

// RefreshDevices re-enumerates input devices. Live streams are not touched.
func (c *Controller) RefreshDevices(ctx context.Context) []audio.Device {
	return c.catalog.Refresh(ctx)
}

// Artifact returns the finalized recording, or nil when none is valid.
func (c *Controller) Artifact() *recorder.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifact == nil || c.artifact.Revoked() {
		return nil
	}
	return c.artifact
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the view model of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		Error:      c.errText,
		Devices:    c.catalog.Devices(),
		DeviceID:   c.deviceID,
		HasAccess:  c.hasAccess,
		MicEnabled: c.micEnabled,
		Recording:  c.state == StateRecording,
		Reviewing:  c.state == StateReviewing,
		Submitting: c.submitting,
	}
	if c.state.HoldsStream() {
		snap.Level = int(c.level.Load())
		snap.Muted = c.capture.IsMuted()
	}
	if c.state == StatePreparing {
		snap.CountdownMs = c.gate.Remaining().Milliseconds()
	}
	if c.state == StateRecording {
		snap.RecordingMs = time.Since(c.startedAt).Milliseconds()
	}
	if c.state == StateReviewing || c.state == StateIdle {
		snap.Artifact = artifactInfo(c.artifact)
	}
	return snap
}

// Changes returns a channel closed on the next state or device list change.
func (c *Controller) Changes() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// WaitFor blocks until the session is in one of states.
func (c *Controller) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		c.mu.Lock()
		current := c.state
		changed := c.changed
		c.mu.Unlock()

		if slices.Contains(states, current) {
			return current, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return current, ctx.Err()
		}
	}
}

// Stats exposes resource counters for diagnostics.
type Stats struct {
	Acquired       int `json:"acquired"`
	Released       int `json:"released"`
	ActiveMonitors int `json:"active_monitors"`
}

func (c *Controller) Stats() Stats {
	return Stats{
		Acquired:       c.capture.Acquired(),
		Released:       c.capture.Released(),
		ActiveMonitors: c.monitor.Active(),
	}
}

// failLocked cleans everything up before showing the error.
func (c *Controller) failLocked(err error) {
	c.log.Error("Recording session error", "state", c.state, "error", err)
	c.hardCleanupLocked()
	c.errText = userMessage(err)
	c.setStateLocked(StateError)
}

// softCleanupLocked stops the recorder and the level monitor. The stream stays held.
func (c *Controller) softCleanupLocked() {
	c.gate.Reset()
	if c.rec.IsActive() {
		c.rec.Discard()
	}
	c.detachMonitorLocked()
	c.errText = ""
}

// hardCleanupLocked additionally releases the stream and forgets the device.
// It also invalidates pending acquisitions and countdowns.
func (c *Controller) hardCleanupLocked() {
	c.gen++
	c.softCleanupLocked()
	c.preview.Clear()
	c.capture.Release()
	c.deviceID = ""
	c.hasAccess = false
	c.micEnabled = false
}

func (c *Controller) detachMonitorLocked() {
	if c.tap != nil {
		c.monitor.Detach(c.tap)
		c.tap = nil
	}
	c.level.Store(0)
}

func (c *Controller) revokeArtifactLocked() {
	if c.artifact != nil {
		c.artifact.Revoke()
		c.artifact = nil
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state != s {
		c.log.Debug("Session state changed", "from", c.state, "to", s)
	}
	c.state = s
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

type nopPreview struct{}

func (nopPreview) ShowLive(audio.Stream)           {}
func (nopPreview) ShowArtifact(*recorder.Artifact) {}
func (nopPreview) Clear()                          {}
