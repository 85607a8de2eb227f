package marketplace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDailyLimiterAllowsUpToLimit(t *testing.T) {
	l := NewDailyLimiter(3)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestDailyLimiterRemaining(t *testing.T) {
	l := NewDailyLimiter(5)
	l.Allow()
	l.Allow()
	assert.Equal(t, 3, l.Remaining())
}

func TestDailyLimiterResetsOnNewDay(t *testing.T) {
	l := NewDailyLimiter(1)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	// Force a rollover by rewinding resetDay, simulating a UTC date change.
	l.mu.Lock()
	l.resetDay = "2000-01-01"
	l.mu.Unlock()

	assert.True(t, l.Allow())
}
