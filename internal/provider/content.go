package provider

import (
	"strings"

	"whatsapp-sync/internal/models"
)

// Title upper-cases the first letter of a message type.
func Title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// MessageBody derives the stored body of a message from its type-specific
// payload object (raw[msgType]):
// text uses text.body, documents use "Document: <filename>", other media
// the caption and everything else "<Type> message".
func MessageBody(msgType string, raw map[string]any) string {
	if msgType == models.MessageTypeText {
		if body := String(raw, "text", "body"); body != "" {
			return body
		}
		return String(raw, "body")
	}

	payload := Map(raw, msgType)
	if msgType == models.MessageTypeDocument {
		if filename := FirstString(payload, "filename", "file_name"); filename != "" {
			return "Document: " + filename
		}
	}
	if models.MediaMessageTypes[msgType] && payload != nil {
		if caption := String(payload, "caption"); caption != "" {
			return caption
		}
	}
	return Title(msgType) + " message"
}

// MessageMedia extracts the attachment of a media message, or nil.
func MessageMedia(msgType string, raw map[string]any) *Media {
	if !models.MediaMessageTypes[msgType] {
		return nil
	}
	payload := Map(raw, msgType)
	if payload == nil {
		return nil
	}
	return &Media{
		ID:       String(payload, "id"),
		URL:      FirstString(payload, "link", "url"),
		MimeType: FirstString(payload, "mime_type", "mimetype"),
		Filename: FirstString(payload, "filename", "file_name"),
		Caption:  String(payload, "caption"),
	}
}

var (
	participantFields   = []string{"participants", "members", "participants_list", "group_participants"}
	participantIDFields = []string{"id", "contact_id", "phone", "number", "jid"}
)

// ParticipantsFromRaw finds the participant list of a group payload under
// any of the field names gateways use. Entries may be objects or bare ids.
func ParticipantsFromRaw(raw map[string]any) []Participant {
	var list []any
	for _, field := range participantFields {
		if l := Slice(raw, field); len(l) > 0 {
			list = l
			break
		}
	}

	out := make([]Participant, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			if v != "" {
				out = append(out, Participant{ID: v, Phone: models.PhoneFromChatID(v), Role: "member"})
			}
		case map[string]any:
			id := FirstString(v, participantIDFields...)
			if id == "" {
				continue
			}
			role := FirstString(v, "role", "rank")
			if role == "" {
				role = "member"
			}
			phone := String(v, "phone")
			if phone == "" {
				phone = models.PhoneFromChatID(id)
			}
			out = append(out, Participant{
				ID:    id,
				Phone: phone,
				Name:  FirstString(v, "name", "pushname", "display_name"),
				Role:  role,
			})
		}
	}
	return out
}
