/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"

	"github.com/friendsincode/mimir_news/internal/loader"
)

// NopCue skips the lead-in cue entirely.
type NopCue struct{}

func (NopCue) Play(ctx context.Context) error { return nil }

// SourceCue plays a fixed cue reference on a dedicated secondary device.
// The cue device is never shared with the main engine device.
type SourceCue struct {
	device Device
	ref    string
}

// NewSourceCue creates a cue player for the given media reference.
func NewSourceCue(device Device, ref string) *SourceCue {
	return &SourceCue{device: device, ref: ref}
}

// Play runs the cue to completion. It returns on the first ended or error
// signal, or when ctx is cancelled.
func (c *SourceCue) Play(ctx context.Context) error {
	c.device.SetSource(&loader.Handle{Ref: c.ref})
	c.device.Load()
	if err := c.device.Play(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.device.Pause()
			return ctx.Err()
		case ev, ok := <-c.device.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case DeviceEnded:
				return nil
			case DeviceError:
				return ev.Err
			}
		}
	}
}
