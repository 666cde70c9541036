// Package wassenger adapts the legacy Wassenger gateway to provider.Provider.
package wassenger

import (
	"context"
	"encoding/base64"
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

const DefaultBaseURL = "https://api.wassenger.com/v1"

var statusMap = map[string]string{
	"queued":     models.StatusPending,
	"pending":    models.StatusPending,
	"processing": models.StatusPending,
	"sent":       models.StatusSent,
	"server":     models.StatusSent,
	"delivered":  models.StatusDelivered,
	"device":     models.StatusDelivered,
	"read":       models.StatusRead,
	"played":     models.StatusRead,
	"failed":     models.StatusFailed,
	"error":      models.StatusFailed,
}

func MapStatus(status string) string {
	if s, ok := statusMap[strings.ToLower(status)]; ok {
		return s
	}
	return models.StatusUnknown
}

type Adapter struct {
	provider.Base
	token    string
	deviceID string
}

// New is the provider.Constructor for Wassenger. A device id is mandatory.
func New(creds provider.Credentials, deps provider.Dependencies) (provider.Provider, error) {
	if creds.Token == "" {
		return nil, errors.New("wassenger token is required")
	}
	if creds.DeviceID == "" {
		return nil, errors.New("wassenger device_id is required")
	}
	return &Adapter{
		Base:     provider.NewBase(models.ProviderWassenger, DefaultBaseURL, creds.DeviceID, provider_client.BearerAuth(creds.Token), deps),
		token:    creds.Token,
		deviceID: creds.DeviceID,
	}, nil
}

func (a *Adapter) Name() string {
	return models.ProviderWassenger
}

func (a *Adapter) devicePath(parts ...string) string {
	return "/devices/" + url.PathEscape(a.deviceID) + joinPath(parts)
}

func (a *Adapter) chatPath(parts ...string) string {
	return "/chat/" + url.PathEscape(a.deviceID) + joinPath(parts)
}

func joinPath(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// recipient addresses groups by id and people by +digits.
func recipient(to string) (string, string) {
	if models.IsGroupChat(to) {
		return "group", to
	}
	if phone, ok := provider.ValidatePhoneNumber(models.PhoneFromChatID(to)); ok {
		return "phone", phone
	}
	return "phone", "+" + models.DigitsOnly(to)
}

// canonicalChatID rewrites legacy @c.us ids to the @s.whatsapp.net form.
func canonicalChatID(id string) string {
	if strings.HasSuffix(id, models.LegacySuffix) {
		return strings.TrimSuffix(id, models.LegacySuffix) + models.UserSuffix
	}
	return id
}

func pageQuery(limit, offset int) url.Values {
	if limit <= 0 {
		limit = 100
	}
	return url.Values{
		"page": {strconv.Itoa(offset / limit)},
		"size": {strconv.Itoa(limit)},
	}
}

func (a *Adapter) ValidateConfig(ctx context.Context) provider.ValidationResult {
	var errs []string
	if a.token == "" {
		errs = append(errs, "Missing required field: token")
	}
	if a.deviceID == "" {
		errs = append(errs, "Missing required field: device_id")
	}
	if len(errs) > 0 {
		return provider.ValidationResult{Errors: errs}
	}
	health := a.HealthCheck(ctx)
	if !health.Healthy {
		return provider.ValidationResult{Errors: []string{"API health check failed: " + health.Message}}
	}
	return provider.ValidationResult{Valid: true}
}

func (a *Adapter) HealthCheck(ctx context.Context) provider.HealthResult {
	started := time.Now()
	_, result := a.Call(ctx, provider_client.Request{Method: http.MethodGet, Path: a.devicePath()}, provider.CallTags{})
	return provider.HealthResult{
		Result:    result,
		Healthy:   result.Success,
		LatencyMs: time.Since(started).Milliseconds(),
	}
}

func (a *Adapter) SendText(ctx context.Context, to, body string) provider.SendResult {
	key, value := recipient(to)
	return a.sendMessage(ctx, map[string]any{
		key:          value,
		"message":    body,
		"device":     a.deviceID,
		"previewUrl": true,
	}, value)
}

// SendMedia uploads inline payloads first and sends by file id; external
// URLs are passed through.
func (a *Adapter) SendMedia(ctx context.Context, to string, msg provider.MediaMessage) provider.SendResult {
	key, value := recipient(to)
	body := map[string]any{
		key:       value,
		"message": msg.Caption,
		"device":  a.deviceID,
	}
	switch {
	case len(msg.Payload) > 0:
		upload := a.UploadMedia(ctx, msg)
		if !upload.Success {
			return provider.SendResult{Result: upload.Result}
		}
		body["media"] = map[string]any{"file": upload.MediaID}
	case msg.URL != "":
		body["media"] = map[string]any{"url": msg.URL}
	default:
		return provider.SendResult{Result: provider.Fail(provider.ErrorTypeValidation, "Either file payload or media url must be provided")}
	}
	return a.sendMessage(ctx, body, value)
}

func (a *Adapter) sendMessage(ctx context.Context, body map[string]any, to string) provider.SendResult {
	resp, result := a.Call(ctx, provider_client.Request{Method: http.MethodPost, Path: "/messages", JSON: body}, provider.CallTags{ContactPhone: to})
	if !result.Success {
		return provider.SendResult{Result: result}
	}
	status := models.StatusSent
	if s := provider.FirstString(resp.Data, "deliveryStatus", "status"); s != "" {
		status = MapStatus(s)
	}
	result.Data = resp.Data
	return provider.SendResult{
		Result:    result,
		MessageID: provider.FirstString(resp.Data, "id", "waId"),
		Status:    status,
	}
}

func (a *Adapter) GetMessageStatus(ctx context.Context, messageID string) provider.StatusResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   "/messages/" + url.PathEscape(messageID) + "/status",
	}, provider.CallTags{MessageID: messageID})
	if !result.Success {
		return provider.StatusResult{Result: result, MessageID: messageID, Status: models.StatusUnknown}
	}
	result.Data = resp.Data
	return provider.StatusResult{
		Result:    result,
		MessageID: messageID,
		Status:    MapStatus(provider.FirstString(resp.Data, "deliveryStatus", "status")),
		Timestamp: parseTime(provider.FirstString(resp.Data, "updatedAt", "date")),
	}
}

// ListMessages pages through the device history. Wassenger reports no
// total, so callers detect the end from a short page.
func (a *Adapter) ListMessages(ctx context.Context, q provider.MessageQuery) provider.MessagePage {
	path := a.chatPath("messages")
	if q.ChatID != "" {
		path = a.chatPath("chats", q.ChatID, "messages")
	}
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  pageQuery(q.Count, q.Offset),
	}, provider.CallTags{})
	if !result.Success {
		return provider.MessagePage{Result: result}
	}
	raw := provider.ObjectsOf(resp.List)
	messages := make([]provider.Message, 0, len(raw))
	for _, m := range raw {
		msg := ParseMessage(m)
		if q.FromMe != nil && msg.FromMe != *q.FromMe {
			continue
		}
		messages = append(messages, msg)
	}
	return provider.MessagePage{Result: result, Messages: messages, Count: len(raw)}
}

// ParseMessage normalizes one Wassenger message object.
func ParseMessage(raw map[string]any) provider.Message {
	msgType := provider.String(raw, "type")
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	chatID := provider.FirstString(raw, "chat", "chatId")
	if chat := provider.Map(raw, "chat"); chat != nil {
		chatID = provider.String(chat, "id")
	}
	fromMe := provider.Bool(raw, "fromMe") || provider.String(raw, "flow") == "outbound"

	body := provider.String(raw, "body")
	if body == "" {
		body = provider.MessageBody(msgType, raw)
	}
	msg := provider.Message{
		ID:        provider.FirstString(raw, "id", "waId"),
		ChatID:    canonicalChatID(chatID),
		ChatName:  provider.String(raw, "chat", "name"),
		Type:      msgType,
		Body:      body,
		FromMe:    fromMe,
		From:      provider.FirstString(raw, "fromNumber", "from"),
		FromName:  provider.String(raw, "meta", "notifyName"),
		Timestamp: provider.Int64(raw, "timestamp"),
		Raw:       raw,
	}
	if m := provider.Map(raw, "media"); m != nil && models.MediaMessageTypes[msgType] {
		msg.Media = &provider.Media{
			ID:       provider.String(m, "id"),
			URL:      provider.FirstString(m, "url", "link"),
			MimeType: provider.FirstString(m, "mime", "mimetype"),
			Filename: provider.FirstString(m, "filename", "name"),
			Caption:  provider.String(m, "caption"),
		}
	}
	if status := provider.FirstString(raw, "ack", "status"); status != "" {
		msg.Status = MapStatus(status)
	}
	return msg
}

func (a *Adapter) GetContacts(ctx context.Context, limit, offset int) provider.ContactPage {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   a.chatPath("contacts"),
		Query:  pageQuery(limit, offset),
	}, provider.CallTags{})
	if !result.Success {
		return provider.ContactPage{Result: result}
	}
	raw := provider.ObjectsOf(resp.List)
	contacts := make([]provider.Contact, 0, len(raw))
	for _, c := range raw {
		id := canonicalChatID(provider.FirstString(c, "wid", "id"))
		phone := strings.TrimPrefix(provider.String(c, "phone"), "+")
		if phone == "" {
			phone = models.PhoneFromChatID(id)
		}
		contacts = append(contacts, provider.Contact{
			ContactID:      id,
			Phone:          phone,
			Name:           provider.FirstString(c, "name", "displayName"),
			Pushname:       provider.FirstString(c, "shortName", "pushname"),
			IsWAContact:    true,
			IsPhoneContact: provider.Bool(c, "isAddressBookContact"),
		})
	}
	return provider.ContactPage{Result: result, Contacts: contacts, Total: len(contacts)}
}

func (a *Adapter) GetChats(ctx context.Context, limit, offset int) provider.ChatPage {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   a.chatPath("chats"),
		Query:  pageQuery(limit, offset),
	}, provider.CallTags{})
	if !result.Success {
		return provider.ChatPage{Result: result}
	}
	raw := provider.ObjectsOf(resp.List)
	chats := make([]provider.Chat, 0, len(raw))
	for _, c := range raw {
		chatType := provider.String(c, "type")
		if chatType == "" || chatType == "user" {
			chatType = "chat"
		}
		chats = append(chats, provider.Chat{
			ID:   canonicalChatID(provider.FirstString(c, "id", "wid")),
			Name: provider.String(c, "name"),
			Type: chatType,
		})
	}
	return provider.ChatPage{Result: result, Chats: chats, Total: len(chats)}
}

// CheckContactsExist asks once per number; Wassenger has no batch endpoint.
func (a *Adapter) CheckContactsExist(ctx context.Context, phones []string) provider.ContactCheckResult {
	checks := make([]provider.ContactCheck, 0, len(phones))
	for _, phone := range phones {
		digits := models.DigitsOnly(phone)
		resp, result := a.Call(ctx, provider_client.Request{
			Method: http.MethodGet,
			Path:   a.devicePath("numbers", digits, "exists"),
		}, provider.CallTags{ContactPhone: phone})
		if !result.Success {
			return provider.ContactCheckResult{Result: result, Contacts: checks}
		}
		check := provider.ContactCheck{Input: phone, Exists: provider.Bool(resp.Data, "exists")}
		if check.Exists {
			check.WaID = digits
		}
		checks = append(checks, check)
	}
	return provider.ContactCheckResult{Result: provider.Ok(), Contacts: checks}
}

// GetGroups fetches the full group list and pages it locally.
func (a *Adapter) GetGroups(ctx context.Context, limit, offset int) provider.GroupPage {
	resp, result := a.Call(ctx, provider_client.Request{Method: http.MethodGet, Path: a.devicePath("groups")}, provider.CallTags{})
	if !result.Success {
		return provider.GroupPage{Result: result}
	}
	raw := provider.ObjectsOf(resp.List)
	total := len(raw)
	if offset > len(raw) {
		offset = len(raw)
	}
	raw = raw[offset:]
	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}
	groups := make([]provider.Group, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, parseGroup(g))
	}
	return provider.GroupPage{Result: result, Groups: groups, Total: total}
}

func parseGroup(raw map[string]any) provider.Group {
	return provider.Group{
		GroupID:      provider.FirstString(raw, "wid", "id"),
		Name:         provider.FirstString(raw, "name", "subject"),
		Description:  provider.String(raw, "description"),
		Participants: provider.ParticipantsFromRaw(raw),
		CreatedAt:    parseTime(provider.String(raw, "createdAt")),
		Raw:          raw,
	}
}

func participantObjects(participants []string) []map[string]any {
	out := make([]map[string]any, 0, len(participants))
	for _, p := range participants {
		_, phone := recipient(p)
		out = append(out, map[string]any{"phone": phone, "admin": false})
	}
	return out
}

func (a *Adapter) CreateGroup(ctx context.Context, name string, participants []string, description string) provider.GroupCreateResult {
	body := map[string]any{"name": name, "participants": participantObjects(participants)}
	if description != "" {
		body["description"] = description
	}
	resp, result := a.Call(ctx, provider_client.Request{Method: http.MethodPost, Path: a.devicePath("groups"), JSON: body}, provider.CallTags{})
	if !result.Success {
		return provider.GroupCreateResult{Result: result}
	}
	groupID := provider.FirstString(resp.Data, "wid", "id")
	if groupID == "" {
		return provider.GroupCreateResult{Result: provider.Fail(provider.ErrorTypeAPI, "Failed to create group")}
	}

	out := provider.GroupCreateResult{Result: provider.Ok(), GroupID: groupID}
	out.Data = resp.Data
	invite := a.GetGroupInviteLink(ctx, groupID)
	if invite.Success {
		out.InviteCode = invite.InviteCode
		out.InviteLink = invite.InviteLink
	} else {
		a.Logger.Warn("Failed to get invite code", zap.String("group_id", groupID), zap.String("error", invite.Message))
	}
	return out
}

// GetGroupInfo falls back to the participants endpoint when the group
// payload carries no member list.
func (a *Adapter) GetGroupInfo(ctx context.Context, groupID string) provider.GroupInfoResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   a.devicePath("groups", groupID),
	}, provider.CallTags{GroupID: groupID})
	if !result.Success {
		return provider.GroupInfoResult{Result: result}
	}
	group := parseGroup(resp.Data)
	if group.GroupID == "" {
		group.GroupID = groupID
	}
	if len(group.Participants) == 0 {
		presp, presult := a.Call(ctx, provider_client.Request{
			Method: http.MethodGet,
			Path:   a.chatPath("chats", groupID, "participants"),
		}, provider.CallTags{GroupID: groupID})
		if presult.Success {
			group.Participants = provider.ParticipantsFromRaw(map[string]any{"participants": presp.List})
		}
	}
	return provider.GroupInfoResult{Result: result, Group: &group}
}

func (a *Adapter) GetGroupInviteLink(ctx context.Context, groupID string) provider.InviteResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   a.devicePath("groups", groupID, "invite"),
	}, provider.CallTags{GroupID: groupID})
	if !result.Success {
		return provider.InviteResult{Result: result}
	}
	code := provider.FirstString(resp.Data, "code", "invite_code", "inviteCode")
	link := provider.String(resp.Data, "url")
	if code == "" && strings.HasPrefix(link, models.InviteBaseURL) {
		code = strings.TrimPrefix(link, models.InviteBaseURL)
	}
	if code == "" {
		return provider.InviteResult{Result: provider.Fail(provider.ErrorTypeAPI, "no invite code in response")}
	}
	return provider.InviteResult{Result: result, InviteCode: code, InviteLink: models.InviteBaseURL + code}
}

func (a *Adapter) AddGroupParticipants(ctx context.Context, groupID string, participants []string) provider.ParticipantsResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodPost,
		Path:   a.devicePath("groups", groupID, "participants"),
		JSON:   map[string]any{"participants": participantObjects(participants)},
	}, provider.CallTags{GroupID: groupID})
	if !result.Success {
		return provider.ParticipantsResult{Result: result}
	}
	result.Data = resp.Data
	return provider.ParticipantsResult{Result: result, Participants: participants}
}

func (a *Adapter) RemoveGroupParticipants(ctx context.Context, groupID string, participants []string) provider.ParticipantsResult {
	phones := make([]string, 0, len(participants))
	for _, p := range participants {
		_, phone := recipient(p)
		phones = append(phones, phone)
	}
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodDelete,
		Path:   a.devicePath("groups", groupID, "participants"),
		JSON:   phones,
	}, provider.CallTags{GroupID: groupID})
	if !result.Success {
		return provider.ParticipantsResult{Result: result}
	}
	result.Data = resp.Data
	return provider.ParticipantsResult{Result: result, Participants: participants}
}

// UploadMedia stores the file on Wassenger, reusing an existing upload with
// the same SHA-256 when there is one.
func (a *Adapter) UploadMedia(ctx context.Context, msg provider.MediaMessage) provider.UploadResult {
	payload := media.NormalizePayload(msg.Payload)
	hash, err := media.FileHash(payload)
	if err != nil {
		return provider.UploadResult{Result: provider.Fail(provider.ErrorTypeValidation, "Failed to calculate file hash")}
	}

	if resp, result := a.Call(ctx, provider_client.Request{Method: http.MethodGet, Path: "/files"}, provider.CallTags{}); result.Success {
		for _, f := range provider.ObjectsOf(resp.List) {
			if provider.String(f, "sha2") == hash {
				a.Logger.Info("Reusing uploaded file", zap.String("sha2", hash))
				return provider.UploadResult{Result: provider.Ok(), MediaID: provider.String(f, "id"), URL: provider.String(f, "url")}
			}
		}
	}

	data, _ := base64.StdEncoding.DecodeString(payload)
	filename := msg.Filename
	if filename == "" {
		filename = "file"
	}
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodPost,
		Path:   "/files",
		File:   &provider_client.FileUpload{FieldName: "file", Filename: filename, Data: data},
	}, provider.CallTags{})
	if !result.Success {
		return provider.UploadResult{Result: result}
	}

	file := resp.Data
	if list := provider.ObjectsOf(resp.List); len(list) > 0 {
		file = list[0]
	}
	id := provider.String(file, "id")
	if id == "" {
		return provider.UploadResult{Result: provider.Fail(provider.ErrorTypeAPI, "Invalid response format from API")}
	}
	return provider.UploadResult{Result: provider.Ok(), MediaID: id, URL: provider.String(file, "url")}
}

func (a *Adapter) DownloadMedia(ctx context.Context, mediaID string) provider.DownloadResult {
	resp, result := a.Call(ctx, provider_client.Request{Method: http.MethodGet, Path: "/files/" + url.PathEscape(mediaID)}, provider.CallTags{})
	if !result.Success {
		return provider.DownloadResult{Result: result}
	}
	mime := provider.FirstString(resp.Data, "mime", "mimetype")
	if mime == "" {
		mime = "application/octet-stream"
	}
	result.Data = resp.Data
	return provider.DownloadResult{Result: result, URL: provider.String(resp.Data, "url"), MimeType: mime}
}

// ValidateWebhook accepts every call; Wassenger does not sign webhooks.
func (a *Adapter) ValidateWebhook(req provider.WebhookRequest) bool {
	return true
}

// webhookObjects returns the data objects of a webhook body, which carries
// either one object or a list under "data".
func webhookObjects(body []byte) (string, []map[string]any) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	event := provider.String(payload, "event")
	if obj := provider.Map(payload, "data"); obj != nil {
		return event, []map[string]any{obj}
	}
	return event, provider.Maps(payload, "data")
}

func (a *Adapter) ParseWebhookMessage(body []byte) []provider.Message {
	event, objects := webhookObjects(body)
	if event != "" && !strings.HasPrefix(event, "message:in") {
		return nil
	}
	var out []provider.Message
	for _, raw := range objects {
		msg := ParseMessage(raw)
		if msg.FromMe {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// ParseWebhookStatus reads delivery acks from message:out:ack and
// message:update events.
func (a *Adapter) ParseWebhookStatus(body []byte) []provider.StatusUpdate {
	event, objects := webhookObjects(body)
	if event != "" && event != "message:out:ack" && event != "message:update" {
		return nil
	}
	out := make([]provider.StatusUpdate, 0, len(objects))
	for _, raw := range objects {
		status := provider.FirstString(raw, "ack", "deliveryStatus", "status")
		if status == "" {
			continue
		}
		out = append(out, provider.StatusUpdate{
			MessageID: provider.FirstString(raw, "id", "waId"),
			Status:    MapStatus(status),
			Timestamp: provider.Int64(raw, "timestamp"),
			Error:     provider.String(raw, "failureReason"),
		})
	}
	return out
}

func parseTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}
