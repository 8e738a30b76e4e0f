package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRoomRateLimiter(2, 10*time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("R1", "u1"))
	assert.True(t, rl.Allow("R1", "u1"))
	assert.False(t, rl.Allow("R1", "u1"))
	assert.True(t, rl.Allow("R2", "u1"), "rooms are independent")

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow("R1", "u1"))
}

func TestRoomRateLimiter_Forget(t *testing.T) {
	rl := NewRoomRateLimiter(1, time.Hour)

	assert.True(t, rl.Allow("R1", "u1"))
	assert.False(t, rl.Allow("R1", "u1"))

	rl.Forget("R1", "u1")
	assert.True(t, rl.Allow("R1", "u1"))
}
