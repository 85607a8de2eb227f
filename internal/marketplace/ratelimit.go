package marketplace

import (
	"sync"
	"time"
)

// DailyLimiter enforces a per-calendar-day (UTC) request budget,
// matching the original_source rate-limiting behaviour: the counter
// resets at UTC midnight rather than on a rolling window.
type DailyLimiter struct {
	mu       sync.Mutex
	limit    int
	used     int
	resetDay string // YYYY-MM-DD, UTC
}

func NewDailyLimiter(limit int) *DailyLimiter {
	return &DailyLimiter{limit: limit, resetDay: today()}
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// Allow reports whether one more request fits in today's budget and,
// if so, consumes it. It is safe for concurrent use.
func (l *DailyLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := today()
	if d != l.resetDay {
		l.resetDay = d
		l.used = 0
	}
	if l.used >= l.limit {
		return false
	}
	l.used++
	return true
}

// Remaining reports how many requests are left in today's budget.
func (l *DailyLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := today()
	if d != l.resetDay {
		return l.limit
	}
	remaining := l.limit - l.used
	if remaining < 0 {
		return 0
	}
	return remaining
}
