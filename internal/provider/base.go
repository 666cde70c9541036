package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"whatsapp-sync/internal/audit"
	"whatsapp-sync/internal/provider_client"
)

// Dependencies are the shared collaborators handed to adapter constructors.
type Dependencies struct {
	HTTPClient    *http.Client
	Recorder      audit.Recorder
	Logger        *zap.Logger
	Limiters      *provider_client.LimiterPool
	MaxRetries    int
	RetryDelay    time.Duration
	BaseURL       string
	WebhookSecret string
}

// Base carries what every adapter shares: the API client, audit sink and logger.
type Base struct {
	ProviderName string
	Client       *provider_client.Client
	Recorder     audit.Recorder
	Logger       *zap.Logger
}

// NewBase builds the API client for one account. limiterKey identifies the
// account so adapters for the same account share a rate budget.
func NewBase(name, baseURL, limiterKey string, auth provider_client.AuthFunc, deps Dependencies) Base {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if deps.BaseURL != "" {
		baseURL = deps.BaseURL
	}
	return Base{
		ProviderName: name,
		Client: provider_client.NewClient(provider_client.Options{
			BaseURL:    baseURL,
			Auth:       auth,
			HTTPClient: deps.HTTPClient,
			MaxRetries: deps.MaxRetries,
			RetryDelay: deps.RetryDelay,
			Limiter:    deps.Limiters.Get(name + ":" + limiterKey),
			Logger:     logger.With(zap.String("provider", name)),
		}),
		Recorder: recorder,
		Logger:   logger.With(zap.String("provider", name)),
	}
}

// CallTags attribute an API call to a message, group or phone in the audit log.
type CallTags struct {
	MessageID    string
	GroupID      string
	ContactPhone string
}

// Call performs req, records it in the audit log and converts failures into
// a Result. The response is nil whenever the result is unsuccessful.
func (b *Base) Call(ctx context.Context, req provider_client.Request, tags CallTags) (*provider_client.Response, Result) {
	started := time.Now()
	resp, err := b.Client.Do(ctx, req)

	call := audit.APICall{
		Provider:     b.ProviderName,
		Method:       req.Method,
		Endpoint:     req.Path,
		Success:      err == nil,
		Latency:      time.Since(started),
		MessageID:    tags.MessageID,
		GroupID:      tags.GroupID,
		ContactPhone: tags.ContactPhone,
	}
	if err != nil {
		var apiErr *provider_client.APIError
		if errors.As(err, &apiErr) {
			call.StatusCode = apiErr.StatusCode
			call.Attempts = apiErr.Attempts
		}
		call.Error = err.Error()
		b.Recorder.RecordAPICall(ctx, call)
		return nil, ErrorResult(err)
	}

	call.Attempts = resp.Attempts
	b.Recorder.RecordAPICall(ctx, call)
	return resp, Ok()
}

// ErrorResult converts a client error into an unsuccessful Result.
func ErrorResult(err error) Result {
	var apiErr *provider_client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsTransport() {
			return Fail(ErrorTypeTransport, apiErr.Error())
		}
		r := Fail(ErrorTypeAPI, apiErr.Error())
		if data, ok := apiErr.Data.(map[string]any); ok {
			r.Data = data
		}
		return r
	}
	return Fail(ErrorTypeUnknown, err.Error())
}

// ValidatePhoneNumber keeps the digits, requires at least ten of them,
// drops leading zeros and returns the number in +<digits> form.
func ValidatePhoneNumber(phone string) (string, bool) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 {
		return "", false
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "", false
	}
	return "+" + digits, true
}

// HeaderValue reads a header case-insensitively from a possibly nil map.
func HeaderValue(h http.Header, key string) string {
	if h == nil {
		return ""
	}
	return h.Get(key)
}
