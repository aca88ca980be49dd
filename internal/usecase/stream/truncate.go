package stream

import (
	"strings"
	"unicode"

	"botbridge/internal/domain"
)

// truncationSuffix is appended whenever a message had to be clipped.
const truncationSuffix = "\n\n[response truncated]"

// wordBoundaryRatio: a whitespace cut point is only used when it keeps at
// least this fraction of the limit; otherwise the text is cut mid-word.
const wordBoundaryRatio = 0.8

// Limits maps each platform to its maximum message length in characters.
type Limits map[domain.Platform]int

// DefaultLimits returns the per-platform character budgets.
func DefaultLimits() Limits {
	return Limits{
		domain.PlatformDiscord:  2000,
		domain.PlatformSlack:    4000,
		domain.PlatformTelegram: 4096,
		domain.PlatformWhatsApp: 4096,
	}
}

// For returns the limit for p, falling back to the most restrictive known
// budget so an unconfigured platform never overflows.
func (l Limits) For(p domain.Platform) int {
	if n, ok := l[p]; ok && n > 0 {
		return n
	}
	min := 0
	for _, n := range l {
		if n > 0 && (min == 0 || n < min) {
			min = n
		}
	}
	if min == 0 {
		min = 2000
	}
	return min
}

// Truncate clips text to at most limit characters, preferring a word
// boundary, and appends a truncation notice. Text at or under the limit is
// returned unchanged.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	suffix := []rune(truncationSuffix)
	cut := limit - len(suffix)
	if cut <= 0 {
		return string(runes[:limit])
	}

	// Prefer the last whitespace at or before the cut point, but only when
	// it keeps most of the budget; a boundary too far back wastes the limit.
	boundary := -1
	for i := cut; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			boundary = i
			break
		}
	}
	if boundary >= int(float64(limit)*wordBoundaryRatio) {
		cut = boundary
	}

	clipped := strings.TrimRight(string(runes[:cut]), " \t\r\n")
	return clipped + truncationSuffix
}
