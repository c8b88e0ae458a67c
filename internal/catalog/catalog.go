// Package catalog keeps the list of available audio input devices.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/micrecord/internal/audio"
)

// Enumerator lists media devices of every kind.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]audio.Device, error)
}

// Watcher delivers device change notifications.
type Watcher interface {
	WatchDevices(onChange func()) (stop func(), err error)
}

// Catalog holds the last enumeration of audio inputs. The list is replaced
// wholesale on every refresh and never patched.
type Catalog struct {
	enumerator Enumerator

	mu        sync.Mutex
	devices   []audio.Device
	seq       uint64
	applied   uint64
	subs      map[int]func([]audio.Device)
	nextSub   int
	stopWatch func()
}

func New(enumerator Enumerator) *Catalog {
	return &Catalog{
		enumerator: enumerator,
		subs:       make(map[int]func([]audio.Device)),
	}
}

// Refresh enumerates audio inputs and replaces the list. Enumeration errors are
// logged and produce an empty list.
func (c *Catalog) Refresh(ctx context.Context) []audio.Device {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	all, err := c.enumerator.Enumerate(ctx)
	if err != nil {
		slog.Warn("Device enumeration failed", "error", err)
		all = nil
	}

	devices := make([]audio.Device, 0, len(all))
	for _, d := range all {
		if d.Kind == audio.KindAudioInput {
			devices = append(devices, d)
		}
	}

	c.mu.Lock()
	if seq < c.applied {
		// A newer refresh already landed
		current := append([]audio.Device(nil), c.devices...)
		c.mu.Unlock()
		return current
	}
	c.applied = seq
	c.devices = devices
	subs := make([]func([]audio.Device), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	slog.Debug("Device catalog refreshed", "inputs", len(devices))
	for _, fn := range subs {
		fn(append([]audio.Device(nil), devices...))
	}
	return append([]audio.Device(nil), devices...)
}

// Devices returns a copy of the current list.
func (c *Catalog) Devices() []audio.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Device(nil), c.devices...)
}

// Find looks a device up by id.
func (c *Catalog) Find(id string) (audio.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.ID == id {
			return d, true
		}
	}
	return audio.Device{}, false
}

// Subscribe registers fn for every applied refresh. fn must not call Refresh.
func (c *Catalog) Subscribe(fn func(devices []audio.Device)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Watch refreshes the catalog on every hot-plug notification from w until Close.
func (c *Catalog) Watch(w Watcher) error {
	stop, err := w.WatchDevices(func() {
		slog.Info("Device change detected, refreshing catalog")
		c.Refresh(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to watch devices: %w", err)
	}

	c.mu.Lock()
	previous := c.stopWatch
	c.stopWatch = stop
	c.mu.Unlock()

	if previous != nil {
		previous()
	}
	return nil
}

// Close stops the hot-plug watch. Safe to call more than once.
func (c *Catalog) Close() {
	c.mu.Lock()
	stop := c.stopWatch
	c.stopWatch = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
}
