package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-sync/internal/audit"
	"whatsapp-sync/internal/crypto"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider_client"
	"whatsapp-sync/internal/repository"
	"whatsapp-sync/internal/repository/memstore"
)

// stubProvider embeds the interface so only the methods a test needs exist.
type stubProvider struct {
	Provider
	name  string
	creds Credentials
	valid bool
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) ValidateConfig(ctx context.Context) ValidationResult {
	if !s.valid {
		return ValidationResult{Valid: false, Errors: []string{"token rejected"}}
	}
	return ValidationResult{Valid: true}
}

type recordingRecorder struct {
	calls []audit.APICall
}

func (r *recordingRecorder) RecordAPICall(ctx context.Context, call audit.APICall) {
	r.calls = append(r.calls, call)
}

func (r *recordingRecorder) RecordOperation(ctx context.Context, op audit.Operation) {}

func newTestFactory(t *testing.T, valid bool, built *int32) (*Factory, *crypto.KeyManager, *memstoreConfigs) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keys, err := crypto.NewKeyManagerFromKey(key)
	require.NoError(t, err)

	registry := NewRegistry()
	for _, name := range []string{"whapi", "twilio"} {
		name := name
		registry.Register(name, func(creds Credentials, deps Dependencies) (Provider, error) {
			atomic.AddInt32(built, 1)
			return &stubProvider{name: name, creds: creds, valid: valid}, nil
		})
	}
	store := memstore.New()
	configs := &memstoreConfigs{store: store.Configurations}
	return NewFactory(registry, store.Configurations, keys, Dependencies{}, nil, "whapi", nil), keys, configs
}

type memstoreConfigs struct {
	store repository.ConfigurationRepository
}

func (m *memstoreConfigs) add(t *testing.T, keys *crypto.KeyManager, cfg *models.Configuration) *models.Configuration {
	t.Helper()
	enc, err := keys.EncryptToken("secret-token")
	require.NoError(t, err)
	cfg.TokenEncrypted = enc
	cfg.Active = true
	require.NoError(t, m.store.Create(cfg))
	return cfg
}

func TestRegistry_NamesAreSortedAndCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register("Wassenger", nil)
	r.Register("twilio", nil)
	r.Register("whapi", nil)

	assert.Equal(t, []string{"twilio", "wassenger", "whapi"}, r.Names())
	_, ok := r.Lookup("WHAPI")
	assert.True(t, ok)
	_, ok = r.Lookup("signal")
	assert.False(t, ok)
}

func TestFactory_CreateProvider(t *testing.T) {
	var built int32
	f, _, _ := newTestFactory(t, true, &built)

	p := f.CreateProvider(context.Background(), "WHAPI", Credentials{Token: "t"})
	require.NotNil(t, p)
	assert.Equal(t, "whapi", p.Name())

	assert.Nil(t, f.CreateProvider(context.Background(), "unknown", Credentials{}))
}

func TestFactory_CreateProviderFailsValidation(t *testing.T) {
	var built int32
	f, _, _ := newTestFactory(t, false, &built)

	assert.Nil(t, f.CreateProvider(context.Background(), "whapi", Credentials{Token: "bad"}))
	assert.Equal(t, int32(1), built)
}

func TestFactory_ProviderForConfigurationDecryptsAndCaches(t *testing.T) {
	var built int32
	f, keys, configs := newTestFactory(t, true, &built)
	cfg := configs.add(t, keys, &models.Configuration{Name: "main", Provider: "whapi"})

	p, err := f.ProviderForConfiguration(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", p.(*stubProvider).creds.Token)

	_, err = f.ProviderForConfiguration(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(1), built)

	cfg.UpdatedAt = cfg.UpdatedAt.Add(time.Minute)
	_, err = f.ProviderForConfiguration(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(2), built)
}

func TestFactory_ProviderForConfigurationBadToken(t *testing.T) {
	var built int32
	f, _, _ := newTestFactory(t, true, &built)

	_, err := f.ProviderForConfiguration(context.Background(), &models.Configuration{
		ID: 9, Provider: "whapi", TokenEncrypted: "not-a-ciphertext",
	})
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
	assert.Equal(t, int32(0), built)
}

func TestFactory_ScopeResolution(t *testing.T) {
	var built int32
	f, keys, configs := newTestFactory(t, true, &built)
	first := configs.add(t, keys, &models.Configuration{Name: "first", Provider: "whapi"})
	second := configs.add(t, keys, &models.Configuration{
		Name: "second", Provider: "twilio", AllowedUsers: []string{"alice", "root"},
	})

	cfg, err := f.ResolveConfiguration(models.Scope{Username: "alice", Role: models.RoleOperator})
	require.NoError(t, err)
	assert.Equal(t, second.ID, cfg.ID)

	cfg, err = f.ResolveConfiguration(models.Scope{Username: "root", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, second.ID, cfg.ID)

	cfg, err = f.ResolveConfiguration(models.Scope{Username: "boss", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, first.ID, cfg.ID)

	_, err = f.ResolveConfiguration(models.Scope{Username: "mallory", Role: models.RoleOperator})
	assert.True(t, errors.Is(err, ErrNoConfiguration))

	p, got, err := f.ProviderForScope(context.Background(), models.Scope{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "twilio", p.Name())
	assert.Equal(t, second.ID, got.ID)
}

func TestFactory_ProviderForScopeAsOverride(t *testing.T) {
	var built int32
	f, keys, configs := newTestFactory(t, true, &built)
	configs.add(t, keys, &models.Configuration{Name: "main", Provider: "whapi", AllowedUsers: []string{"alice"}})

	p, _, err := f.ProviderForScopeAs(context.Background(), models.Scope{Username: "alice"}, "twilio")
	require.NoError(t, err)
	assert.Equal(t, "twilio", p.Name())

	_, _, err = f.ProviderForScopeAs(context.Background(), models.Scope{Username: "alice"}, "signal")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestFactory_DefaultProvider(t *testing.T) {
	var built int32
	f, keys, configs := newTestFactory(t, true, &built)

	_, _, err := f.DefaultProvider(context.Background())
	assert.True(t, errors.Is(err, ErrNoConfiguration))

	configs.add(t, keys, &models.Configuration{Name: "tw", Provider: "twilio"})
	wh := configs.add(t, keys, &models.Configuration{Name: "wh", Provider: "whapi"})

	p, cfg, err := f.DefaultProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "whapi", p.Name())
	assert.Equal(t, wh.ID, cfg.ID)
}

func TestBase_CallRecordsAuditAndMapsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"m1"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad phone"}}`))
	}))
	defer server.Close()

	rec := &recordingRecorder{}
	base := NewBase("whapi", server.URL, "acct", provider_client.BearerAuth("t"), Dependencies{
		Recorder:   rec,
		RetryDelay: time.Millisecond,
	})

	resp, result := base.Call(context.Background(), provider_client.Request{Method: http.MethodGet, Path: "/ok"}, CallTags{MessageID: "m1"})
	require.True(t, result.Success)
	assert.Equal(t, "m1", String(resp.Data, "id"))

	resp, result = base.Call(context.Background(), provider_client.Request{Method: http.MethodPost, Path: "/fail"}, CallTags{ContactPhone: "+15550001111"})
	assert.Nil(t, resp)
	assert.False(t, result.Success)
	assert.Equal(t, ErrorTypeAPI, result.ErrorType)
	assert.Contains(t, result.Message, "bad phone")

	require.Len(t, rec.calls, 2)
	assert.True(t, rec.calls[0].Success)
	assert.Equal(t, "m1", rec.calls[0].MessageID)
	assert.False(t, rec.calls[1].Success)
	assert.Equal(t, http.StatusBadRequest, rec.calls[1].StatusCode)
	assert.Equal(t, "+15550001111", rec.calls[1].ContactPhone)
}

func TestErrorResult_Unknown(t *testing.T) {
	r := ErrorResult(errors.New("boom"))
	assert.Equal(t, ErrorTypeUnknown, r.ErrorType)
	assert.Equal(t, "boom", r.Message)
}

func TestValidatePhoneNumber(t *testing.T) {
	got, ok := ValidatePhoneNumber("+1 (555) 000-1111")
	assert.True(t, ok)
	assert.Equal(t, "+15550001111", got)

	got, ok = ValidatePhoneNumber("0044 20 7946 0000")
	assert.True(t, ok)
	assert.Equal(t, "+442079460000", got)

	_, ok = ValidatePhoneNumber("12345")
	assert.False(t, ok)
}

func TestValues(t *testing.T) {
	m := map[string]any{
		"a":     map[string]any{"b": "x", "n": float64(3)},
		"count": "42",
		"flag":  "true",
		"list":  []any{map[string]any{"id": "1"}, "skip", map[string]any{"id": "2"}},
	}
	assert.Equal(t, "x", String(m, "a", "b"))
	assert.Equal(t, "3", String(m, "a", "n"))
	assert.Equal(t, "", String(m, "a", "missing", "deeper"))
	assert.Equal(t, int64(42), Int64(m, "count"))
	assert.True(t, Bool(m, "flag"))
	assert.Len(t, Maps(m, "list"), 2)
	assert.Equal(t, "42", FirstString(m, "nope", "count"))
}

func TestMessageBody(t *testing.T) {
	assert.Equal(t, "hi", MessageBody("text", map[string]any{"text": map[string]any{"body": "hi"}}))
	assert.Equal(t, "plain", MessageBody("text", map[string]any{"body": "plain"}))
	assert.Equal(t, "look", MessageBody("image", map[string]any{"image": map[string]any{"caption": "look"}}))
	assert.Equal(t, "Document: a.pdf", MessageBody("document", map[string]any{"document": map[string]any{"filename": "a.pdf"}}))
	assert.Equal(t, "Document: report.pdf", MessageBody("document", map[string]any{"document": map[string]any{"filename": "report.pdf", "caption": "see attached"}}))
	assert.Equal(t, "see attached", MessageBody("document", map[string]any{"document": map[string]any{"caption": "see attached"}}))
	assert.Equal(t, "Location message", MessageBody("location", map[string]any{}))
	assert.Equal(t, "Image message", MessageBody("image", map[string]any{}))
}

func TestMessageMedia(t *testing.T) {
	media := MessageMedia("image", map[string]any{"image": map[string]any{
		"id": "med1", "link": "https://x/y.jpg", "mime_type": "image/jpeg",
	}})
	require.NotNil(t, media)
	assert.Equal(t, "med1", media.ID)
	assert.Equal(t, "https://x/y.jpg", media.URL)
	assert.Equal(t, "image/jpeg", media.MimeType)

	assert.Nil(t, MessageMedia("text", map[string]any{}))
	assert.Nil(t, MessageMedia("image", map[string]any{}))
}

func TestParticipantsFromRaw(t *testing.T) {
	got := ParticipantsFromRaw(map[string]any{
		"members": []any{
			map[string]any{"jid": "15550001111@s.whatsapp.net", "pushname": "Ann", "rank": "admin"},
			"15550002222@c.us",
			map[string]any{"name": "no id"},
		},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "15550001111@s.whatsapp.net", got[0].ID)
	assert.Equal(t, "15550001111", got[0].Phone)
	assert.Equal(t, "Ann", got[0].Name)
	assert.Equal(t, "admin", got[0].Role)
	assert.Equal(t, "15550002222", got[1].Phone)
	assert.Equal(t, "member", got[1].Role)

	assert.Empty(t, ParticipantsFromRaw(map[string]any{"participants": []any{}}))
}
