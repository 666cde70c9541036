package models

import "strings"

// Providers known to the service.
const (
	ProviderWhapi     = "whapi"
	ProviderWassenger = "wassenger"
	ProviderTwilio    = "twilio"
)

// Message types.
const (
	MessageTypeText        = "text"
	MessageTypeImage       = "image"
	MessageTypeVideo       = "video"
	MessageTypeAudio       = "audio"
	MessageTypeVoice       = "voice"
	MessageTypeDocument    = "document"
	MessageTypeGIF         = "gif"
	MessageTypeSticker     = "sticker"
	MessageTypeLocation    = "location"
	MessageTypeContact     = "contact"
	MessageTypePoll        = "poll"
	MessageTypeInteractive = "interactive"
	MessageTypeSystem      = "system"
	MessageTypeAction      = "action"
)

// Canonical message statuses.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
	StatusDeleted   = "deleted"
	StatusUnknown   = "unknown"
)

// InviteBaseURL prefixes a group invite code to form the invite link.
const InviteBaseURL = "https://chat.whatsapp.com/"

// Chat identifier suffixes.
const (
	GroupSuffix  = "@g.us"
	UserSuffix   = "@s.whatsapp.net"
	LegacySuffix = "@c.us"
)

// SyncableMessageTypes are the types message sync persists; everything else is skipped.
var SyncableMessageTypes = map[string]bool{
	MessageTypeText:     true,
	MessageTypeImage:    true,
	MessageTypeVideo:    true,
	MessageTypeGIF:      true,
	MessageTypeAudio:    true,
	MessageTypeVoice:    true,
	MessageTypeDocument: true,
}

// MediaMessageTypes carry a caption and a media reference.
var MediaMessageTypes = map[string]bool{
	MessageTypeImage:    true,
	MessageTypeVideo:    true,
	MessageTypeAudio:    true,
	MessageTypeVoice:    true,
	MessageTypeDocument: true,
	MessageTypeGIF:      true,
}

// IsGroupChat reports whether chatID addresses a group conversation.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, GroupSuffix)
}

// PhoneFromChatID strips the user suffixes from a chat or contact id.
func PhoneFromChatID(id string) string {
	id = strings.TrimSuffix(id, UserSuffix)
	return strings.TrimSuffix(id, LegacySuffix)
}

// UserChatID turns a bare phone number into a user chat id.
func UserChatID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return DigitsOnly(phone) + UserSuffix
}

// IsDigits reports whether s is a non-empty string of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DigitsOnly drops every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
