// Package playback contains the storymap playback engine: route animators
// driven by a frame scheduler, the sequential playback coordinator, and the
// camera follow controller. All animation state advances inside frame
// callbacks; no background timers do geometry work.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TickHandle identifies a pending frame callback.
type TickHandle uint64

// FrameScheduler is the host rendering surface's frame callback primitive.
// Callbacks are one-shot: a consumer that wants a tick every frame re-requests
// from inside its callback. Any host able to provide this (a map widget, a
// canvas renderer, a game loop) can drive the engine.
type FrameScheduler interface {
	RequestTick(cb func(now time.Time)) TickHandle
	CancelTick(h TickHandle)
}

// ClockScheduler implements FrameScheduler on a clockwork ticker. In
// production it runs on a real clock at a fixed frame interval; tests drive it
// with a fake clock.
type ClockScheduler struct {
	clock    clockwork.Clock
	interval time.Duration

	mu      sync.Mutex
	nextID  TickHandle
	pending map[TickHandle]func(now time.Time)
}

// DefaultFrameInterval approximates a 60fps host surface.
const DefaultFrameInterval = 16 * time.Millisecond

// NewClockScheduler creates a scheduler ticking every interval on clock.
func NewClockScheduler(clock clockwork.Clock, interval time.Duration) *ClockScheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &ClockScheduler{
		clock:    clock,
		interval: interval,
		pending:  make(map[TickHandle]func(now time.Time)),
	}
}

// RequestTick registers cb to run on the next frame.
func (s *ClockScheduler) RequestTick(cb func(now time.Time)) TickHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := s.nextID
	s.pending[h] = cb
	return h
}

// CancelTick removes a pending callback. Canceling an already-fired or
// unknown handle is a no-op.
func (s *ClockScheduler) CancelTick(h TickHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

// Run drives frames until ctx is canceled. Pending callbacks left at shutdown
// never fire.
func (s *ClockScheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", s.interval).Msg("frame scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("frame scheduler stopped")
			return
		case <-ticker.Chan():
			s.fire(s.clock.Now())
		}
	}
}

// fire runs every callback pending at the start of the frame. Callbacks
// registered during the frame run on the next one.
func (s *ClockScheduler) fire(now time.Time) {
	s.mu.Lock()
	batch := make([]func(now time.Time), 0, len(s.pending))
	for h, cb := range s.pending {
		batch = append(batch, cb)
		delete(s.pending, h)
	}
	s.mu.Unlock()

	for _, cb := range batch {
		cb(now)
	}
}
