package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"botbridge/internal/domain"
)

func TestRateGateAllowsBurstThenDenies(t *testing.T) {
	g := NewRateGate(6, 3) // one token per 10s, burst 3
	base := time.Now()
	g.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		assert.True(t, g.Allow(domain.PlatformTelegram, "u1"), "burst call %d", i)
	}
	assert.False(t, g.Allow(domain.PlatformTelegram, "u1"))
}

func TestRateGateRefillsOverTime(t *testing.T) {
	g := NewRateGate(6, 1)
	base := time.Now()
	now := base
	g.now = func() time.Time { return now }

	assert.True(t, g.Allow(domain.PlatformSlack, "u1"))
	assert.False(t, g.Allow(domain.PlatformSlack, "u1"))

	now = base.Add(11 * time.Second)
	assert.True(t, g.Allow(domain.PlatformSlack, "u1"))
}

func TestRateGateUsersIndependent(t *testing.T) {
	g := NewRateGate(6, 1)

	assert.True(t, g.Allow(domain.PlatformTelegram, "u1"))
	assert.False(t, g.Allow(domain.PlatformTelegram, "u1"))

	// A different user, and the same user ID on a different platform, both
	// have their own budget.
	assert.True(t, g.Allow(domain.PlatformTelegram, "u2"))
	assert.True(t, g.Allow(domain.PlatformDiscord, "u1"))
}
