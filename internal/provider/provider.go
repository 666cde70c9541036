// Package provider defines the uniform contract every WhatsApp gateway
// adapter implements, the DTOs exchanged through it and the factory that
// turns stored configurations into ready adapters.
package provider

import (
	"context"
	"net/http"
)

// Provider is implemented by each gateway adapter. Operations never return Go
// errors; failures and capability gaps come back as unsuccessful results.
type Provider interface {
	Name() string

	ValidateConfig(ctx context.Context) ValidationResult
	HealthCheck(ctx context.Context) HealthResult

	SendText(ctx context.Context, to, body string) SendResult
	SendMedia(ctx context.Context, to string, media MediaMessage) SendResult
	GetMessageStatus(ctx context.Context, messageID string) StatusResult
	ListMessages(ctx context.Context, query MessageQuery) MessagePage

	GetContacts(ctx context.Context, limit, offset int) ContactPage
	GetChats(ctx context.Context, limit, offset int) ChatPage
	CheckContactsExist(ctx context.Context, phones []string) ContactCheckResult

	GetGroups(ctx context.Context, limit, offset int) GroupPage
	CreateGroup(ctx context.Context, name string, participants []string, description string) GroupCreateResult
	GetGroupInfo(ctx context.Context, groupID string) GroupInfoResult
	GetGroupInviteLink(ctx context.Context, groupID string) InviteResult
	AddGroupParticipants(ctx context.Context, groupID string, participants []string) ParticipantsResult
	RemoveGroupParticipants(ctx context.Context, groupID string, participants []string) ParticipantsResult

	UploadMedia(ctx context.Context, media MediaMessage) UploadResult
	DownloadMedia(ctx context.Context, mediaID string) DownloadResult

	ValidateWebhook(req WebhookRequest) bool
	ParseWebhookMessage(body []byte) []Message
	ParseWebhookStatus(body []byte) []StatusUpdate
}

// Credentials are the decrypted per-account settings an adapter needs.
type Credentials struct {
	Token           string
	AccountSID      string
	FromNumber      string
	DeviceID        string
	SupervisorPhone string
}

// Result error types.
const (
	ErrorTypeAPI          = "api_error"
	ErrorTypeTransport    = "transport_error"
	ErrorTypeNotSupported = "not_supported"
	ErrorTypeValidation   = "validation_error"
	ErrorTypeUnknown      = "unknown_error"
)

// Result is embedded in every operation result.
type Result struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Ok is a plain successful result.
func Ok() Result {
	return Result{Success: true}
}

// Fail builds an unsuccessful result.
func Fail(errorType, message string) Result {
	return Result{Success: false, ErrorType: errorType, Message: message}
}

// NotSupported reports a capability the provider does not offer.
func NotSupported(provider, capability string) Result {
	return Fail(ErrorTypeNotSupported, provider+" does not support "+capability)
}

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

type HealthResult struct {
	Result
	Healthy   bool  `json:"healthy"`
	LatencyMs int64 `json:"latency_ms"`
}

type SendResult struct {
	Result
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

type StatusResult struct {
	Result
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Contact is an address book entry as reported by the provider.
type Contact struct {
	ContactID      string `json:"contact_id"`
	Phone          string `json:"phone"`
	Name           string `json:"name"`
	Pushname       string `json:"pushname"`
	IsWAContact    bool   `json:"is_wa_contact"`
	IsPhoneContact bool   `json:"is_phone_contact"`
}

type ContactPage struct {
	Result
	Contacts []Contact `json:"contacts"`
	Total    int       `json:"total"`
}

// Chat is a conversation entry. Type is "chat" for one-to-one conversations.
type Chat struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type ChatPage struct {
	Result
	Chats []Chat `json:"chats"`
	Total int    `json:"total"`
}

type ContactCheck struct {
	Input  string `json:"input"`
	WaID   string `json:"wa_id,omitempty"`
	Exists bool   `json:"exists"`
}

type ContactCheckResult struct {
	Result
	Contacts []ContactCheck `json:"contacts"`
}

type Participant struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Group is a group as reported by the provider. Raw keeps the full payload
// so participant lists under alternative field names stay reachable.
type Group struct {
	GroupID      string         `json:"group_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Participants []Participant  `json:"participants"`
	CreatedAt    int64          `json:"created_at,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

type GroupPage struct {
	Result
	Groups []Group `json:"groups"`
	Total  int     `json:"total"`
}

type GroupInfoResult struct {
	Result
	Group *Group `json:"group,omitempty"`
}

type GroupCreateResult struct {
	Result
	GroupID    string `json:"group_id,omitempty"`
	InviteCode string `json:"invite_code,omitempty"`
	InviteLink string `json:"invite_link,omitempty"`
}

type InviteResult struct {
	Result
	InviteCode string `json:"invite_code,omitempty"`
	InviteLink string `json:"invite_link,omitempty"`
}

type ParticipantsResult struct {
	Result
	Participants []string `json:"participants,omitempty"`
}

// MessageQuery pages through stored provider history. Zero TimeFrom/TimeTo
// mean "provider default window".
type MessageQuery struct {
	Count    int
	Offset   int
	TimeFrom int64
	TimeTo   int64
	FromMe   *bool
	Sort     string
	ChatID   string
}

// Media describes an attachment on an inbound or historical message.
type Media struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Message is a provider message normalized for persistence.
type Message struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	ChatName  string         `json:"chat_name,omitempty"`
	Type      string         `json:"type"`
	Body      string         `json:"body"`
	FromMe    bool           `json:"from_me"`
	From      string         `json:"from,omitempty"`
	FromName  string         `json:"from_name,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Status    string         `json:"status,omitempty"`
	Media     *Media         `json:"media,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

type MessagePage struct {
	Result
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
	Total    int       `json:"total"`
}

// MediaMessage is an outbound attachment. Either Payload (raw bytes or
// base64 text) or URL must be set.
type MediaMessage struct {
	Type     string `json:"type"`
	Payload  []byte `json:"-"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type UploadResult struct {
	Result
	MediaID string `json:"media_id,omitempty"`
	URL     string `json:"url,omitempty"`
}

type DownloadResult struct {
	Result
	URL       string           `json:"url,omitempty"`
	MimeType  string           `json:"mime_type,omitempty"`
	MediaList []map[string]any `json:"media_list,omitempty"`
}

// StatusUpdate is a delivery receipt carried by a webhook.
type StatusUpdate struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WebhookRequest is what an adapter needs to authenticate an inbound call.
type WebhookRequest struct {
	URL       string
	Headers   http.Header
	Body      []byte
	Signature string
}
