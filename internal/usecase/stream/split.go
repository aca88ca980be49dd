package stream

import "strings"

// BreakMarker is the literal token the backend embeds in a response to
// request that the current message be closed and a new one opened.
const BreakMarker = "<NEW_MESSAGE_BREAK>"

// StripMarkers removes every break marker from text, joining the surrounding
// segments with a blank line. Used when a channel cannot open new messages
// mid-stream, and as a display guard: no marker may ever reach the user.
func StripMarkers(text string) string {
	if !strings.Contains(text, BreakMarker) {
		return text
	}
	parts := SplitSegments(text)
	return strings.Join(parts, "\n\n")
}

// SplitSegments partitions text on break markers into trimmed segments,
// dropping segments that are empty after trimming. Markers are fully
// consumed and never appear in the output.
func SplitSegments(text string) []string {
	raw := strings.Split(text, BreakMarker)
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
