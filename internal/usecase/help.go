package usecase

import "botbridge/internal/domain"

const (
	helpTelegram = `🤖 botbridge Commands

/help - Show this help
/start - Say hello
/login - Link your account
/privacy - Data usage policy

**Usage:**
Just send me a message and I'll answer. Long answers arrive as I write
them, so the reply fills in live.

Some features need a linked account. If I ask you to sign in, use /login
and follow the link.`

	helpDiscord = `**botbridge Help**

**Commands:**
` + "`/help`" + ` - Show this help
` + "`/login`" + ` - Link your account
` + "`/privacy`" + ` - Data usage policy

**How to Use:**
• DM me directly, or mention me in a channel
• Chat naturally - no special syntax needed

Some features need a linked account. Use ` + "`/login`" + ` to connect it.`

	helpSlack = `*botbridge Help*

*Commands:*
` + "`/help`" + ` - Show this help
` + "`/login`" + ` - Link your account
` + "`/privacy`" + ` - Privacy policy

*How to Use:*
• DM: chat normally
• Channels: mention me
• Long answers stream in as they are written

Use ` + "`/login`" + ` if I ask you to connect your account.`

	helpWhatsApp = `🤖 *botbridge Commands*

/help - Show this help
/login - Link your account
/privacy - Data usage policy

*Tips:*
• Chat naturally - no special format needed
• Long answers may arrive as several messages`

	privacyText = `🔒 Privacy & Data Usage

**What is processed:**
• Your messages, relayed to the assistant backend to generate answers
• Your platform user ID, used to link conversations to your account

**What is stored here:**
• A local mapping from your platform ID to your conversation, so context
  survives restarts
• No message content is stored by this bot

**Your control:**
• /login - Link or re-link your account
• Unlinking from the account portal detaches this bot immediately`
)

// HelpText returns the help text for a platform.
func HelpText(p domain.Platform) string {
	switch p {
	case domain.PlatformTelegram:
		return helpTelegram
	case domain.PlatformDiscord:
		return helpDiscord
	case domain.PlatformSlack:
		return helpSlack
	case domain.PlatformWhatsApp:
		return helpWhatsApp
	default:
		return helpTelegram
	}
}

// PrivacyText returns the privacy information text.
func PrivacyText() string {
	return privacyText
}
