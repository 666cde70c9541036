// Package whapi adapts the WHAPI.cloud gateway to provider.Provider.
package whapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"whatsapp-sync/internal/media"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/provider_client"
)

const (
	DefaultBaseURL = "https://gate.whapi.cloud"
	// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
	SignatureHeader = "X-Whapi-Signature"

	inviteAttempts    = 3
	messageWindow     = 30 * 24 * time.Hour
	defaultInviteWait = 2 * time.Second
)

var statusMap = map[string]string{
	"pending":   models.StatusPending,
	"sent":      models.StatusSent,
	"server":    models.StatusSent,
	"delivered": models.StatusDelivered,
	"device":    models.StatusDelivered,
	"read":      models.StatusRead,
	"played":    models.StatusRead,
	"viewed":    models.StatusRead,
	"failed":    models.StatusFailed,
	"error":     models.StatusFailed,
}

// MapStatus maps a WHAPI status onto the canonical vocabulary.
func MapStatus(status string) string {
	if s, ok := statusMap[strings.ToLower(status)]; ok {
		return s
	}
	return models.StatusUnknown
}

type Adapter struct {
	provider.Base
	token         string
	webhookSecret string
	inviteWait    time.Duration
	now           func() time.Time
}

// New is the provider.Constructor for WHAPI.
func New(creds provider.Credentials, deps provider.Dependencies) (provider.Provider, error) {
	if creds.Token == "" {
		return nil, errors.New("whapi token is required")
	}
	inviteWait := defaultInviteWait
	if deps.RetryDelay > 0 {
		inviteWait = 2 * deps.RetryDelay
	}
	return &Adapter{
		Base:          provider.NewBase(models.ProviderWhapi, DefaultBaseURL, creds.Token, provider_client.BearerAuth(creds.Token), deps),
		token:         creds.Token,
		webhookSecret: deps.WebhookSecret,
		inviteWait:    inviteWait,
		now:           time.Now,
	}, nil
}

func (a *Adapter) Name() string {
	return models.ProviderWhapi
}

func (a *Adapter) ValidateConfig(ctx context.Context) provider.ValidationResult {
	if a.token == "" {
		return provider.ValidationResult{Errors: []string{"Missing required field: token"}}
	}
	health := a.HealthCheck(ctx)
	if !health.Healthy {
		return provider.ValidationResult{Errors: []string{"API health check failed: " + health.Message}}
	}
	return provider.ValidationResult{Valid: true}
}

func (a *Adapter) HealthCheck(ctx context.Context) provider.HealthResult {
	started := time.Now()
	_, result := a.Call(ctx, provider_client.Request{Method: http.MethodGet, Path: "/health"}, provider.CallTags{})
	return provider.HealthResult{
		Result:    result,
		Healthy:   result.Success,
		LatencyMs: time.Since(started).Milliseconds(),
	}
}

func (a *Adapter) SendText(ctx context.Context, to, body string) provider.SendResult {
	to = models.UserChatID(to)
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodPost,
		Path:   "/messages/text",
		JSON:   map[string]any{"to": to, "body": body},
	}, provider.CallTags{ContactPhone: to})
	return sendResult(resp, result)
}

func (a *Adapter) SendMedia(ctx context.Context, to string, msg provider.MediaMessage) provider.SendResult {
	to = models.UserChatID(to)
	var source string
	switch {
	case len(msg.Payload) > 0:
		mime := msg.MimeType
		if mime == "" {
			mime = media.MimeType(msg.Type, msg.Filename)
		}
		source = media.DataURL(mime, msg.Filename, media.NormalizePayload(msg.Payload))
	case msg.URL != "":
		source = msg.URL
	default:
		return provider.SendResult{Result: provider.Fail(provider.ErrorTypeValidation, "media payload or url is required")}
	}

	query := url.Values{"to": {to}}
	if msg.Caption != "" {
		query.Set("caption", msg.Caption)
	}
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodPost,
		Path:   "/messages/media/" + url.PathEscape(msg.Type),
		Query:  query,
		JSON:   map[string]any{"media": source, "no_encode": false},
		Upload: true,
	}, provider.CallTags{ContactPhone: to})
	return sendResult(resp, result)
}

func sendResult(resp *provider_client.Response, result provider.Result) provider.SendResult {
	if !result.Success {
		return provider.SendResult{Result: result}
	}
	if !provider.Bool(resp.Data, "sent") {
		r := provider.Fail(provider.ErrorTypeAPI, "Message not sent")
		r.Data = resp.Data
		return provider.SendResult{Result: r}
	}
	result.Data = resp.Data
	return provider.SendResult{
		Result:    result,
		MessageID: provider.String(resp.Data, "message", "id"),
		Status:    models.StatusSent,
	}
}

func (a *Adapter) GetMessageStatus(ctx context.Context, messageID string) provider.StatusResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   "/messages/" + url.PathEscape(messageID),
	}, provider.CallTags{MessageID: messageID})
	if !result.Success {
		return provider.StatusResult{Result: result, MessageID: messageID, Status: models.StatusUnknown}
	}
	result.Data = resp.Data
	return provider.StatusResult{
		Result:    result,
		MessageID: messageID,
		Status:    MapStatus(provider.String(resp.Data, "status")),
		Timestamp: provider.Int64(resp.Data, "timestamp"),
	}
}

// ListMessages reads /messages/list, or the history of one chat when
// ChatID is set. Without an explicit window the last 30 days are read.
func (a *Adapter) ListMessages(ctx context.Context, q provider.MessageQuery) provider.MessagePage {
	query := url.Values{
		"count":  {strconv.Itoa(q.Count)},
		"offset": {strconv.Itoa(q.Offset)},
	}
	path := "/messages/list"
	if q.ChatID != "" {
		path = "/chats/" + url.PathEscape(q.ChatID) + "/messages"
	} else {
		now := a.now()
		timeFrom, timeTo := q.TimeFrom, q.TimeTo
		if timeFrom == 0 {
			timeFrom = now.Add(-messageWindow).Unix()
		}
		if timeTo == 0 {
			timeTo = now.Unix()
		}
		sort := q.Sort
		if sort == "" {
			sort = "desc"
		}
		query.Set("time_from", strconv.FormatInt(timeFrom, 10))
		query.Set("time_to", strconv.FormatInt(timeTo, 10))
		query.Set("normal_types", "false")
		query.Set("from_me", strconv.FormatBool(q.FromMe != nil && *q.FromMe))
		query.Set("sort", sort)
	}

	resp, result := a.Call(ctx, provider_client.Request{Method: http.MethodGet, Path: path, Query: query}, provider.CallTags{})
	if !result.Success {
		return provider.MessagePage{Result: result}
	}
	raw := provider.Maps(resp.Data, "messages")
	messages := make([]provider.Message, 0, len(raw))
	for _, m := range raw {
		messages = append(messages, ParseMessage(m))
	}
	return provider.MessagePage{
		Result:   result,
		Messages: messages,
		Count:    provider.Int(resp.Data, "count"),
		Total:    provider.Int(resp.Data, "total"),
	}
}

// ParseMessage normalizes one WHAPI message object.
func ParseMessage(raw map[string]any) provider.Message {
	msgType := provider.String(raw, "type")
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	msg := provider.Message{
		ID:        provider.String(raw, "id"),
		ChatID:    provider.String(raw, "chat_id"),
		ChatName:  provider.String(raw, "chat_name"),
		Type:      msgType,
		Body:      provider.MessageBody(msgType, raw),
		FromMe:    provider.Bool(raw, "from_me"),
		From:      provider.String(raw, "from"),
		FromName:  provider.String(raw, "from_name"),
		Timestamp: provider.Int64(raw, "timestamp"),
		Media:     provider.MessageMedia(msgType, raw),
		Raw:       raw,
	}
	if status := provider.String(raw, "status"); status != "" {
		msg.Status = MapStatus(status)
	}
	return msg
}

func (a *Adapter) GetContacts(ctx context.Context, limit, offset int) provider.ContactPage {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   "/contacts",
		Query:  pageQuery(limit, offset),
	}, provider.CallTags{})
	if !result.Success {
		return provider.ContactPage{Result: result}
	}
	raw := provider.Maps(resp.Data, "contacts")
	contacts := make([]provider.Contact, 0, len(raw))
	for _, c := range raw {
		id := provider.String(c, "id")
		phone := provider.String(c, "phone")
		if phone == "" {
			phone = models.PhoneFromChatID(id)
		}
		isWA := true
		if _, ok := c["isWAContact"]; ok {
			isWA = provider.Bool(c, "isWAContact")
		}
		contacts = append(contacts, provider.Contact{
			ContactID:      id,
			Phone:          phone,
			Name:           provider.String(c, "name"),
			Pushname:       provider.String(c, "pushname"),
			IsWAContact:    isWA,
			IsPhoneContact: true,
		})
	}
	return provider.ContactPage{Result: result, Contacts: contacts, Total: totalOr(resp.Data, len(contacts))}
}

func (a *Adapter) GetChats(ctx context.Context, limit, offset int) provider.ChatPage {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   "/chats",
		Query:  pageQuery(limit, offset),
	}, provider.CallTags{})
	if !result.Success {
		return provider.ChatPage{Result: result}
	}
	raw := provider.Maps(resp.Data, "chats")
	chats := make([]provider.Chat, 0, len(raw))
	for _, c := range raw {
		chats = append(chats, provider.Chat{
			ID:   provider.String(c, "id"),
			Name: provider.String(c, "name"),
			Type: provider.String(c, "type"),
		})
	}
	return provider.ChatPage{Result: result, Chats: chats, Total: totalOr(resp.Data, len(chats))}
}

func (a *Adapter) CheckContactsExist(ctx context.Context, phones []string) provider.ContactCheckResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodPost,
		Path:   "/contacts/check",
		JSON:   map[string]any{"blocking": "wait", "contacts": phones},
	}, provider.CallTags{})
	if !result.Success {
		return provider.ContactCheckResult{Result: result}
	}
	raw := provider.Maps(resp.Data, "contacts")
	checks := make([]provider.ContactCheck, 0, len(raw))
	for _, c := range raw {
		checks = append(checks, provider.ContactCheck{
			Input:  provider.String(c, "input"),
			WaID:   provider.String(c, "wa_id"),
			Exists: provider.String(c, "status") == "valid",
		})
	}
	return provider.ContactCheckResult{Result: result, Contacts: checks}
}

func (a *Adapter) GetGroups(ctx context.Context, limit, offset int) provider.GroupPage {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   "/groups",
		Query:  pageQuery(limit, offset),
	}, provider.CallTags{})
	if !result.Success {
		return provider.GroupPage{Result: result}
	}
	raw := provider.Maps(resp.Data, "groups")
	groups := make([]provider.Group, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, parseGroup(g))
	}
	return provider.GroupPage{Result: result, Groups: groups, Total: totalOr(resp.Data, len(groups))}
}

func parseGroup(raw map[string]any) provider.Group {
	return provider.Group{
		GroupID:      provider.FirstString(raw, "id", "group_id"),
		Name:         provider.FirstString(raw, "name", "subject"),
		Description:  provider.String(raw, "description"),
		Participants: provider.ParticipantsFromRaw(raw),
		CreatedAt:    provider.Int64(raw, "created_at"),
		Raw:          raw,
	}
}

// CreateGroup creates the group and then fetches its invite code, retrying
// a few times since WHAPI does not always have it ready immediately.
func (a *Adapter) CreateGroup(ctx context.Context, name string, participants []string, description string) provider.GroupCreateResult {
	body := map[string]any{"subject": name, "participants": participants}
	if description != "" {
		body["description"] = description
	}
	resp, result := a.Call(ctx, provider_client.Request{Method: http.MethodPost, Path: "/groups", JSON: body}, provider.CallTags{})
	if !result.Success {
		return provider.GroupCreateResult{Result: result}
	}

	groupID := provider.FirstString(resp.Data, "group_id", "id")
	if groupID == "" {
		msg := provider.String(resp.Data, "message")
		if msg == "" {
			msg = "Failed to create group"
		}
		return provider.GroupCreateResult{Result: provider.Fail(provider.ErrorTypeAPI, msg)}
	}

	out := provider.GroupCreateResult{Result: provider.Ok(), GroupID: groupID}
	out.Data = resp.Data
	for attempt := 1; attempt <= inviteAttempts; attempt++ {
		invite := a.GetGroupInviteLink(ctx, groupID)
		if invite.Success && invite.InviteCode != "" {
			out.InviteCode = invite.InviteCode
			out.InviteLink = invite.InviteLink
			break
		}
		a.Logger.Warn("Invite code not available yet",
			zap.String("group_id", groupID),
			zap.Int("attempt", attempt),
		)
		if attempt < inviteAttempts {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(a.inviteWait):
			}
		}
	}
	if out.InviteCode == "" {
		out.Message = "Group created but invite link could not be fetched after " + strconv.Itoa(inviteAttempts) + " attempts"
	}
	return out
}

func (a *Adapter) GetGroupInfo(ctx context.Context, groupID string) provider.GroupInfoResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   "/groups/" + url.PathEscape(groupID),
	}, provider.CallTags{GroupID: groupID})
	if !result.Success {
		return provider.GroupInfoResult{Result: result}
	}
	if len(resp.Data) == 0 || resp.Sentinel {
		return provider.GroupInfoResult{Result: provider.Fail(provider.ErrorTypeAPI, "empty group info response")}
	}
	group := parseGroup(resp.Data)
	if group.GroupID == "" {
		group.GroupID = groupID
	}
	return provider.GroupInfoResult{Result: result, Group: &group}
}

func (a *Adapter) GetGroupInviteLink(ctx context.Context, groupID string) provider.InviteResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   "/groups/" + url.PathEscape(groupID) + "/invite",
	}, provider.CallTags{GroupID: groupID})
	if !result.Success {
		return provider.InviteResult{Result: result}
	}
	code := provider.String(resp.Data, "invite_code")
	if code == "" {
		return provider.InviteResult{Result: provider.Fail(provider.ErrorTypeAPI, "no invite_code in response")}
	}
	return provider.InviteResult{Result: result, InviteCode: code, InviteLink: models.InviteBaseURL + code}
}

func (a *Adapter) AddGroupParticipants(ctx context.Context, groupID string, participants []string) provider.ParticipantsResult {
	return a.participants(ctx, http.MethodPost, groupID, participants)
}

func (a *Adapter) RemoveGroupParticipants(ctx context.Context, groupID string, participants []string) provider.ParticipantsResult {
	return a.participants(ctx, http.MethodDelete, groupID, participants)
}

func (a *Adapter) participants(ctx context.Context, method, groupID string, participants []string) provider.ParticipantsResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: method,
		Path:   "/groups/" + url.PathEscape(groupID) + "/participants",
		JSON:   map[string]any{"participants": participants},
	}, provider.CallTags{GroupID: groupID})
	if !result.Success {
		return provider.ParticipantsResult{Result: result}
	}
	result.Data = resp.Data
	return provider.ParticipantsResult{Result: result, Participants: participants}
}

// UploadMedia is not offered: WHAPI takes media inline as data URLs.
func (a *Adapter) UploadMedia(ctx context.Context, msg provider.MediaMessage) provider.UploadResult {
	return provider.UploadResult{Result: provider.NotSupported(models.ProviderWhapi, "media upload")}
}

func (a *Adapter) DownloadMedia(ctx context.Context, mediaID string) provider.DownloadResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   "/media/" + url.PathEscape(mediaID),
	}, provider.CallTags{})
	if !result.Success {
		return provider.DownloadResult{Result: result}
	}
	mime := provider.FirstString(resp.Data, "mime_type", "content_type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	result.Data = resp.Data
	return provider.DownloadResult{
		Result:   result,
		URL:      provider.FirstString(resp.Data, "link", "url"),
		MimeType: mime,
	}
}

// ValidateWebhook checks the hex HMAC-SHA256 of the body when a webhook
// secret is configured and accepts everything otherwise.
func (a *Adapter) ValidateWebhook(req provider.WebhookRequest) bool {
	if a.webhookSecret == "" {
		return true
	}
	signature := req.Signature
	if signature == "" {
		signature = provider.HeaderValue(req.Headers, SignatureHeader)
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// ParseWebhookMessage returns the inbound messages of a webhook body.
// Messages sent by the account itself are skipped.
func (a *Adapter) ParseWebhookMessage(body []byte) []provider.Message {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	var out []provider.Message
	for _, raw := range provider.Maps(payload, "messages") {
		msg := ParseMessage(raw)
		if msg.FromMe {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// ParseWebhookStatus reads top-level statuses as well as the nested
// entry/changes/value layout.
func (a *Adapter) ParseWebhookStatus(body []byte) []provider.StatusUpdate {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	raw := provider.Maps(payload, "statuses")
	for _, entry := range provider.Maps(payload, "entry") {
		for _, change := range provider.Maps(entry, "changes") {
			raw = append(raw, provider.Maps(change, "value", "statuses")...)
		}
	}

	out := make([]provider.StatusUpdate, 0, len(raw))
	for _, s := range raw {
		update := provider.StatusUpdate{
			MessageID: provider.String(s, "id"),
			Status:    MapStatus(provider.String(s, "status")),
			Timestamp: provider.Int64(s, "timestamp"),
		}
		if errs := provider.Maps(s, "errors"); len(errs) > 0 {
			update.Error = provider.FirstString(errs[0], "message", "title")
		}
		out = append(out, update)
	}
	return out
}

func pageQuery(limit, offset int) url.Values {
	return url.Values{
		"count":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
}

func totalOr(data map[string]any, fallback int) int {
	if _, ok := data["total"]; ok {
		return provider.Int(data, "total")
	}
	return fallback
}
