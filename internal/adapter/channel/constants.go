package channel

// typingPlaceholder is the initial reply text shown while the first chunk of
// a streamed answer is still in flight.
const typingPlaceholder = "…"

// AuthPromptText formats the sign-in prompt shown when the backend asks the
// user to link their account.
func AuthPromptText(authURL string) string {
	return "🔐 You need to connect your account before I can answer that.\n\nSign in here: " + authURL
}
