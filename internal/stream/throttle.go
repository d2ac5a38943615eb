// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"sync"
	"time"
)

// =============================================================================
// RENDER THROTTLE
// =============================================================================

const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
	maxMaxFPS        = 60
)

// RenderThrottle coalesces assembler updates for renderers that cannot
// redraw on every increment. Updates are released when either batchSize
// increments have accumulated or 1/maxFPS has elapsed since the last
// release. The latest update always carries the full content, so skipping
// intermediate ones loses nothing.
//
// Offer is called from the streaming goroutine and Flush from the render
// loop; both are safe for concurrent use.
type RenderThrottle struct {
	mu          sync.Mutex
	latest      Update
	hasPending  bool
	pendingIncs int
	lastRelease time.Time

	batchSize   int
	minInterval time.Duration
	now         func() time.Time
}

// NewRenderThrottle returns a throttle with a batch size of 15 increments
// and a 30fps cap.
func NewRenderThrottle() *RenderThrottle {
	return NewRenderThrottleWithConfig(defaultBatchSize, defaultMaxFPS)
}

// NewRenderThrottleWithConfig returns a throttle with custom thresholds.
// Out-of-range values fall back to the defaults.
func NewRenderThrottleWithConfig(batchSize, maxFPS int) *RenderThrottle {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxFPS <= 0 || maxFPS > maxMaxFPS {
		maxFPS = defaultMaxFPS
	}
	return &RenderThrottle{
		batchSize:   batchSize,
		minInterval: time.Second / time.Duration(maxFPS),
		now:         time.Now,
		lastRelease: time.Now(),
	}
}

// Offer records u and returns the update to render now, if any.
func (t *RenderThrottle) Offer(u Update) (Update, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = u
	t.hasPending = true
	t.pendingIncs++
	if t.dueLocked() {
		return t.releaseLocked(), true
	}
	return Update{}, false
}

// Flush returns the pending update if a threshold has been reached. Render
// loops call it on each tick.
func (t *RenderThrottle) Flush() (Update, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasPending || !t.dueLocked() {
		return Update{}, false
	}
	return t.releaseLocked(), true
}

// Reset drops anything pending.
func (t *RenderThrottle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = Update{}
	t.hasPending = false
	t.pendingIncs = 0
	t.lastRelease = t.now()
}

func (t *RenderThrottle) dueLocked() bool {
	if t.pendingIncs >= t.batchSize {
		return true
	}
	return t.now().Sub(t.lastRelease) >= t.minInterval
}

func (t *RenderThrottle) releaseLocked() Update {
	u := t.latest
	t.latest = Update{}
	t.hasPending = false
	t.pendingIncs = 0
	t.lastRelease = t.now()
	return u
}
