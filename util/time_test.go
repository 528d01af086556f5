package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextAligned(t *testing.T) {
	now := time.Date(2026, 2, 14, 10, 19, 30, 0, time.UTC)
	next := NextAligned(now, 0, time.Minute)
	assert.Equal(t, time.Date(2026, 2, 14, 10, 20, 0, 0, time.UTC), next)

	// exactly on the boundary rolls to the next one
	next = NextAligned(time.Date(2026, 2, 14, 10, 20, 0, 0, time.UTC), 0, time.Minute)
	assert.Equal(t, time.Date(2026, 2, 14, 10, 21, 0, 0, time.UTC), next)
}

func TestShortDuration(t *testing.T) {
	assert.Equal(t, "2d 4h", ShortDuration(52*time.Hour))
	assert.Equal(t, "1h 30m", ShortDuration(90*time.Minute))
	assert.Equal(t, "3m 2s", ShortDuration(182*time.Second))
	assert.Equal(t, "45s", ShortDuration(45*time.Second))
	assert.Equal(t, "500ms", ShortDuration(500*time.Millisecond))
	assert.Equal(t, "0s", ShortDuration(0))
}
