// Package rate implements a per-key fixed-window request limiter. State is
// in-process only; each replica enforces its own budget.
package rate

import (
	"sync"
	"time"
)

type window struct {
	hits    int
	resetAt time.Time
}

type Limiter struct {
	mu      sync.Mutex
	windows map[string]window
	sweepAt time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{windows: map[string]window{}, sweepAt: time.Now().Add(time.Minute)}
}

// Allow records a hit for key and reports whether it fits inside the
// current window. Expired entries are swept opportunistically so the map
// cannot grow without bound under churning keys.
func (l *Limiter) Allow(key string, limit int, span time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.sweepAt) {
		for k, w := range l.windows {
			if now.After(w.resetAt) {
				delete(l.windows, k)
			}
		}
		l.sweepAt = now.Add(time.Minute)
	}

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = window{hits: 1, resetAt: now.Add(span)}
		return true
	}
	if w.hits >= limit {
		return false
	}
	w.hits++
	l.windows[key] = w
	return true
}
