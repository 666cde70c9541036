// Package twilio adapts the Twilio WhatsApp API to provider.Provider.
// Twilio has no group or address book support; those operations report
// not_supported.
package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"whatsapp-sync/internal/media"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/provider_client"
)

const (
	DefaultBaseURL  = "https://api.twilio.com/2010-04-01"
	SignatureHeader = "X-Twilio-Signature"

	mediaHost     = "https://api.twilio.com"
	addressPrefix = "whatsapp:"
)

var statusMap = map[string]string{
	"accepted":    models.StatusPending,
	"queued":      models.StatusPending,
	"sending":     models.StatusPending,
	"sent":        models.StatusSent,
	"delivered":   models.StatusDelivered,
	"read":        models.StatusRead,
	"undelivered": models.StatusFailed,
	"failed":      models.StatusFailed,
}

var sentStatuses = map[string]bool{"accepted": true, "queued": true, "sent": true, "delivered": true}

func MapStatus(status string) string {
	if s, ok := statusMap[strings.ToLower(status)]; ok {
		return s
	}
	return models.StatusUnknown
}

type Adapter struct {
	provider.Base
	accountSID string
	authToken  string
	fromNumber string
	now        func() time.Time
}

// New is the provider.Constructor for Twilio.
func New(creds provider.Credentials, deps provider.Dependencies) (provider.Provider, error) {
	if creds.AccountSID == "" || creds.Token == "" {
		return nil, errors.New("twilio account_sid and auth_token are required")
	}
	return &Adapter{
		Base:       provider.NewBase(models.ProviderTwilio, DefaultBaseURL, creds.AccountSID, provider_client.BasicAuth(creds.AccountSID, creds.Token), deps),
		accountSID: creds.AccountSID,
		authToken:  creds.Token,
		fromNumber: creds.FromNumber,
		now:        time.Now,
	}, nil
}

func (a *Adapter) Name() string {
	return models.ProviderTwilio
}

func (a *Adapter) accountPath(suffix string) string {
	return "/Accounts/" + url.PathEscape(a.accountSID) + suffix
}

// Address formats a phone number or chat id as whatsapp:+<digits>.
func Address(phone string) string {
	clean := models.PhoneFromChatID(strings.TrimPrefix(phone, addressPrefix))
	if !strings.HasPrefix(clean, "+") {
		clean = "+" + clean
	}
	return addressPrefix + clean
}

// chatIDFromAddress maps whatsapp:+<digits> back to a user chat id.
func chatIDFromAddress(address string) string {
	digits := models.DigitsOnly(strings.TrimPrefix(address, addressPrefix))
	if digits == "" {
		return ""
	}
	return digits + models.UserSuffix
}

// ParseDate converts Twilio's RFC 1123 dates to unix seconds, 0 when absent.
func ParseDate(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC1123Z, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func (a *Adapter) ValidateConfig(ctx context.Context) provider.ValidationResult {
	var errs []string
	if a.accountSID == "" {
		errs = append(errs, "Missing required field: account_sid")
	}
	if a.authToken == "" {
		errs = append(errs, "Missing required field: auth_token")
	}
	if a.fromNumber == "" {
		errs = append(errs, "Missing required field: from_number")
	} else if !strings.HasPrefix(a.fromNumber, addressPrefix) {
		errs = append(errs, "from_number must be in format: whatsapp:+1234567890")
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
	_, result := a.Call(ctx, provider_client.Request{Method: http.MethodGet, Path: a.accountPath(".json")}, provider.CallTags{})
	return provider.HealthResult{
		Result:    result,
		Healthy:   result.Success,
		LatencyMs: time.Since(started).Milliseconds(),
	}
}

func (a *Adapter) SendText(ctx context.Context, to, body string) provider.SendResult {
	return a.send(ctx, url.Values{
		"From": {a.fromNumber},
		"To":   {Address(to)},
		"Body": {body},
	})
}

// SendMedia only accepts media hosted at a public URL.
func (a *Adapter) SendMedia(ctx context.Context, to string, msg provider.MediaMessage) provider.SendResult {
	if msg.URL == "" {
		return provider.SendResult{Result: provider.Fail(provider.ErrorTypeValidation, "Twilio requires media to be hosted externally and accessed via URL")}
	}
	form := url.Values{
		"From":     {a.fromNumber},
		"To":       {Address(to)},
		"MediaUrl": {msg.URL},
	}
	if msg.Caption != "" {
		form.Set("Body", msg.Caption)
	}
	return a.send(ctx, form)
}

func (a *Adapter) send(ctx context.Context, form url.Values) provider.SendResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodPost,
		Path:   a.accountPath("/Messages.json"),
		Form:   form,
	}, provider.CallTags{ContactPhone: strings.TrimPrefix(form.Get("To"), addressPrefix)})
	if !result.Success {
		return provider.SendResult{Result: result}
	}
	status := provider.String(resp.Data, "status")
	if !sentStatuses[status] {
		r := provider.Fail(provider.ErrorTypeAPI, "Message failed with status: "+status)
		r.Data = resp.Data
		return provider.SendResult{Result: r}
	}
	result.Data = resp.Data
	return provider.SendResult{
		Result:    result,
		MessageID: provider.String(resp.Data, "sid"),
		Status:    MapStatus(status),
	}
}

func (a *Adapter) GetMessageStatus(ctx context.Context, messageID string) provider.StatusResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   a.accountPath("/Messages/" + url.PathEscape(messageID) + ".json"),
	}, provider.CallTags{MessageID: messageID})
	if !result.Success {
		return provider.StatusResult{Result: result, MessageID: messageID, Status: models.StatusUnknown}
	}
	result.Data = resp.Data
	return provider.StatusResult{
		Result:    result,
		MessageID: messageID,
		Status:    MapStatus(provider.String(resp.Data, "status")),
		Timestamp: ParseDate(provider.String(resp.Data, "date_sent")),
	}
}

// ListMessages reads the account message log with Page/PageSize paging.
func (a *Adapter) ListMessages(ctx context.Context, q provider.MessageQuery) provider.MessagePage {
	size := q.Count
	if size <= 0 {
		size = 50
	}
	query := url.Values{
		"PageSize": {strconv.Itoa(size)},
		"Page":     {strconv.Itoa(q.Offset / size)},
	}
	if q.TimeFrom > 0 {
		query.Set("DateSent>", time.Unix(q.TimeFrom, 0).UTC().Format("2006-01-02"))
	}
	if q.TimeTo > 0 {
		query.Set("DateSent<", time.Unix(q.TimeTo, 0).UTC().Format("2006-01-02"))
	}
	if q.ChatID != "" {
		query.Set("To", Address(q.ChatID))
	}

	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   a.accountPath("/Messages.json"),
		Query:  query,
	}, provider.CallTags{})
	if !result.Success {
		return provider.MessagePage{Result: result}
	}
	raw := provider.Maps(resp.Data, "messages")
	messages := make([]provider.Message, 0, len(raw))
	for _, m := range raw {
		msg := parseLogMessage(m)
		if q.FromMe != nil && msg.FromMe != *q.FromMe {
			continue
		}
		messages = append(messages, msg)
	}
	return provider.MessagePage{Result: result, Messages: messages, Count: len(raw)}
}

func parseLogMessage(raw map[string]any) provider.Message {
	fromMe := strings.HasPrefix(provider.String(raw, "direction"), "outbound")
	peer := provider.String(raw, "from")
	if fromMe {
		peer = provider.String(raw, "to")
	}
	msgType := models.MessageTypeText
	body := provider.String(raw, "body")
	if provider.Int(raw, "num_media") > 0 {
		msgType = models.MessageTypeImage
		if body == "" {
			body = provider.Title(msgType) + " message"
		}
	}
	return provider.Message{
		ID:        provider.String(raw, "sid"),
		ChatID:    chatIDFromAddress(peer),
		Type:      msgType,
		Body:      body,
		FromMe:    fromMe,
		From:      strings.TrimPrefix(provider.String(raw, "from"), addressPrefix),
		Timestamp: ParseDate(provider.String(raw, "date_sent")),
		Status:    MapStatus(provider.String(raw, "status")),
		Raw:       raw,
	}
}

func (a *Adapter) GetContacts(ctx context.Context, limit, offset int) provider.ContactPage {
	return provider.ContactPage{Result: provider.NotSupported(models.ProviderTwilio, "contact listing")}
}

func (a *Adapter) GetChats(ctx context.Context, limit, offset int) provider.ChatPage {
	return provider.ChatPage{Result: provider.NotSupported(models.ProviderTwilio, "chat listing")}
}

func (a *Adapter) CheckContactsExist(ctx context.Context, phones []string) provider.ContactCheckResult {
	return provider.ContactCheckResult{Result: provider.NotSupported(models.ProviderTwilio, "contact lookup")}
}

func (a *Adapter) GetGroups(ctx context.Context, limit, offset int) provider.GroupPage {
	return provider.GroupPage{Result: provider.NotSupported(models.ProviderTwilio, "groups")}
}

func (a *Adapter) CreateGroup(ctx context.Context, name string, participants []string, description string) provider.GroupCreateResult {
	return provider.GroupCreateResult{Result: provider.NotSupported(models.ProviderTwilio, "groups")}
}

func (a *Adapter) GetGroupInfo(ctx context.Context, groupID string) provider.GroupInfoResult {
	return provider.GroupInfoResult{Result: provider.NotSupported(models.ProviderTwilio, "groups")}
}

func (a *Adapter) GetGroupInviteLink(ctx context.Context, groupID string) provider.InviteResult {
	return provider.InviteResult{Result: provider.NotSupported(models.ProviderTwilio, "groups")}
}

func (a *Adapter) AddGroupParticipants(ctx context.Context, groupID string, participants []string) provider.ParticipantsResult {
	return provider.ParticipantsResult{Result: provider.NotSupported(models.ProviderTwilio, "groups")}
}

func (a *Adapter) RemoveGroupParticipants(ctx context.Context, groupID string, participants []string) provider.ParticipantsResult {
	return provider.ParticipantsResult{Result: provider.NotSupported(models.ProviderTwilio, "groups")}
}

func (a *Adapter) UploadMedia(ctx context.Context, msg provider.MediaMessage) provider.UploadResult {
	return provider.UploadResult{Result: provider.NotSupported(models.ProviderTwilio, "media upload")}
}

// DownloadMedia resolves the media attached to a message sid.
func (a *Adapter) DownloadMedia(ctx context.Context, mediaID string) provider.DownloadResult {
	resp, result := a.Call(ctx, provider_client.Request{
		Method: http.MethodGet,
		Path:   a.accountPath("/Messages/" + url.PathEscape(mediaID) + "/Media.json"),
	}, provider.CallTags{MessageID: mediaID})
	if !result.Success {
		return provider.DownloadResult{Result: result}
	}
	items := provider.Maps(resp.Data, "media_list")
	if len(items) == 0 {
		return provider.DownloadResult{Result: provider.Fail(provider.ErrorTypeAPI, "No media found")}
	}
	uri := strings.TrimSuffix(provider.String(items[0], "uri"), ".json")
	if uri == "" {
		return provider.DownloadResult{Result: provider.Fail(provider.ErrorTypeAPI, "Media URL not available")}
	}
	mime := provider.String(items[0], "content_type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return provider.DownloadResult{Result: result, URL: mediaHost + uri, MimeType: mime, MediaList: items}
}

// Signature computes X-Twilio-Signature: base64 HMAC-SHA1 keyed with the
// auth token over the URL followed by every form key and value in key order.
func Signature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateWebhook rejects calls without a signature.
func (a *Adapter) ValidateWebhook(req provider.WebhookRequest) bool {
	signature := req.Signature
	if signature == "" {
		signature = provider.HeaderValue(req.Headers, SignatureHeader)
	}
	if signature == "" {
		return false
	}
	params, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return false
	}
	expected := Signature(a.authToken, req.URL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// webhookValues reads a form-encoded webhook body, or a flat JSON object
// when the body was relayed as JSON.
func webhookValues(body []byte) url.Values {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil
		}
		values := url.Values{}
		for k := range obj {
			values.Set(k, provider.String(obj, k))
		}
		return values
	}
	values, err := url.ParseQuery(trimmed)
	if err != nil {
		return nil
	}
	return values
}

// ParseWebhookMessage reads the single inbound message of a Twilio
// callback. Callbacks for messages sent from the account are skipped.
func (a *Adapter) ParseWebhookMessage(body []byte) []provider.Message {
	values := webhookValues(body)
	sid := values.Get("MessageSid")
	if sid == "" || (values.Get("Body") == "" && values.Get("NumMedia") == "") {
		return nil
	}
	from := values.Get("From")
	if a.fromNumber != "" && from == a.fromNumber {
		return nil
	}

	msgType := models.MessageTypeText
	text := values.Get("Body")
	var attachment *provider.Media
	if n, _ := strconv.Atoi(values.Get("NumMedia")); n > 0 {
		mime := values.Get("MediaContentType0")
		msgType = media.MessageTypeFromMime(mime)
		attachment = &provider.Media{URL: values.Get("MediaUrl0"), MimeType: mime, Caption: text}
		if text == "" {
			text = provider.Title(msgType) + " message"
		}
	}

	raw := make(map[string]any, len(values))
	for k := range values {
		raw[k] = values.Get(k)
	}
	return []provider.Message{{
		ID:        sid,
		ChatID:    chatIDFromAddress(from),
		Type:      msgType,
		Body:      text,
		From:      strings.TrimPrefix(from, addressPrefix),
		FromName:  values.Get("ProfileName"),
		Timestamp: a.now().Unix(),
		Media:     attachment,
		Raw:       raw,
	}}
}

// ParseWebhookStatus reads a status callback.
func (a *Adapter) ParseWebhookStatus(body []byte) []provider.StatusUpdate {
	values := webhookValues(body)
	sid := values.Get("MessageSid")
	status := values.Get("MessageStatus")
	if sid == "" || status == "" {
		return nil
	}
	update := provider.StatusUpdate{
		MessageID: sid,
		Status:    MapStatus(status),
		Timestamp: a.now().Unix(),
	}
	if code := values.Get("ErrorCode"); code != "" {
		update.Error = "error code " + code
	}
	return []provider.StatusUpdate{update}
}
