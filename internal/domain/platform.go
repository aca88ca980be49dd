package domain

// Platform identifies a chat platform the bot serves.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformSlack    Platform = "slack"
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

// KnownPlatforms lists every platform the bot can be configured for.
func KnownPlatforms() []Platform {
	return []Platform{PlatformDiscord, PlatformSlack, PlatformTelegram, PlatformWhatsApp}
}

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformDiscord, PlatformSlack, PlatformTelegram, PlatformWhatsApp:
		return true
	}
	return false
}
