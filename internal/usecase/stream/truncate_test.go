package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botbridge/internal/domain"
)

func TestTruncateIdentityUnderLimit(t *testing.T) {
	limits := DefaultLimits()
	for _, p := range domain.KnownPlatforms() {
		limit := limits.For(p)
		text := strings.Repeat("a", limit)
		assert.Equal(t, text, Truncate(text, limit), "platform %s", p)
	}
}

func TestTruncateIdempotent(t *testing.T) {
	limits := DefaultLimits()
	long := strings.Repeat("lorem ipsum dolor sit amet ", 500)
	for _, p := range domain.KnownPlatforms() {
		limit := limits.For(p)
		once := Truncate(long, limit)
		twice := Truncate(once, limit)
		assert.Equal(t, once, twice, "platform %s", p)
		assert.LessOrEqual(t, len([]rune(once)), limit, "platform %s", p)
	}
}

func TestTruncatePrefersWordBoundary(t *testing.T) {
	// Words close to the cut point: the clip should land on whitespace.
	text := strings.Repeat("word ", 600)
	got := Truncate(text, 2000)
	require.NotEqual(t, text, got)
	assert.True(t, strings.HasSuffix(got, truncationSuffix))
	body := strings.TrimSuffix(got, truncationSuffix)
	assert.True(t, strings.HasSuffix(body, "word"), "cut mid-word: %q", body[len(body)-10:])
}

func TestTruncateHardCutWithoutBoundary(t *testing.T) {
	// No whitespace anywhere: the cut must still respect the limit.
	text := strings.Repeat("x", 5000)
	got := Truncate(text, 2000)
	assert.LessOrEqual(t, len([]rune(got)), 2000)
	assert.True(t, strings.HasSuffix(got, truncationSuffix))
}

func TestTruncateIgnoresDistantBoundary(t *testing.T) {
	// Whitespace exists but only far before the cut point; using it would
	// waste most of the budget, so the cut happens mid-word.
	text := "a " + strings.Repeat("b", 5000)
	got := Truncate(text, 2000)
	body := strings.TrimSuffix(got, truncationSuffix)
	assert.Greater(t, len(body), 1000)
}

func TestTruncateMultibyte(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 400)
	got := Truncate(text, 2000)
	assert.LessOrEqual(t, len([]rune(got)), 2000)
	assert.Equal(t, got, Truncate(got, 2000))
}

func TestLimitsFallback(t *testing.T) {
	l := DefaultLimits()
	assert.Equal(t, 2000, l.For(domain.PlatformDiscord))
	assert.Equal(t, 4000, l.For(domain.PlatformSlack))
	assert.Equal(t, 4096, l.For(domain.PlatformTelegram))
	assert.Equal(t, 4096, l.For(domain.PlatformWhatsApp))
	// Unknown platform falls back to the most restrictive budget.
	assert.Equal(t, 2000, l.For(domain.Platform("matrix")))
	// A nil table still yields a safe budget.
	assert.Equal(t, 2000, Limits(nil).For(domain.PlatformSlack))
}
