package app

import (
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

type rateKey struct {
	room        domain.RoomID
	participant domain.ParticipantID
}

// RoomRateLimiter is a sliding-window limiter keyed by participant within a room.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[rateKey][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[rateKey][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(room domain.RoomID, pid domain.ParticipantID) bool {
	key := rateKey{room: room, participant: pid}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}

// Forget drops the history of a participant that left.
func (rl *RoomRateLimiter) Forget(room domain.RoomID, pid domain.ParticipantID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, rateKey{room: room, participant: pid})
}
