package usecase

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"botbridge/internal/domain"
)

// staleAfter is how long an idle user's limiter is kept before pruning.
const staleAfter = 10 * time.Minute

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateGate bounds how fast each platform user may submit chat turns. A token
// bucket per user allows short bursts while holding the sustained rate.
type RateGate struct {
	mu    sync.Mutex
	every time.Duration
	burst int
	users map[string]*userLimiter
	now   func() time.Time // for testing
}

// NewRateGate allows perMinute turns per user with the given burst.
func NewRateGate(perMinute, burst int) *RateGate {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateGate{
		every: time.Minute / time.Duration(perMinute),
		burst: burst,
		users: make(map[string]*userLimiter),
		now:   time.Now,
	}
}

// Allow reports whether the user may submit a turn now, and records it.
func (g *RateGate) Allow(platform domain.Platform, userID string) bool {
	key := string(platform) + ":" + userID

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	u, ok := g.users[key]
	if !ok {
		if len(g.users) > 1024 {
			g.pruneLocked(now)
		}
		u = &userLimiter{lim: rate.NewLimiter(rate.Every(g.every), g.burst)}
		g.users[key] = u
	}
	u.lastSeen = now
	return u.lim.AllowN(now, 1)
}

func (g *RateGate) pruneLocked(now time.Time) {
	for key, u := range g.users {
		if now.Sub(u.lastSeen) > staleAfter {
			delete(g.users, key)
		}
	}
}
