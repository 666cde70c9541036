package wassenger

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-sync/internal/provider"
)

func newAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(provider.Credentials{Token: "tok", DeviceID: "dev1"}, provider.Dependencies{
		BaseURL:    server.URL,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return p.(*Adapter)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresDeviceID(t *testing.T) {
	_, err := New(provider.Credentials{Token: "tok"}, provider.Dependencies{})
	assert.EqualError(t, err, "wassenger device_id is required")
}

func TestSendText_PhoneAndGroupRecipients(t *testing.T) {
	var bodies []map[string]any
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		writeJSON(w, map[string]any{"id": "w1", "deliveryStatus": "queued"})
	})

	res := a.SendText(context.Background(), "15550001111@s.whatsapp.net", "hi")
	require.True(t, res.Success)
	assert.Equal(t, "w1", res.MessageID)
	assert.Equal(t, "pending", res.Status)

	res = a.SendText(context.Background(), "120363@g.us", "hi all")
	require.True(t, res.Success)

	require.Len(t, bodies, 2)
	assert.Equal(t, "+15550001111", bodies[0]["phone"])
	assert.Equal(t, "dev1", bodies[0]["device"])
	assert.Equal(t, "120363@g.us", bodies[1]["group"])
	assert.NotContains(t, bodies[1], "phone")
}

func TestUploadMedia_DedupesBySHA256(t *testing.T) {
	data := []byte("%PDF-1.4 fake document")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	var uploads int32
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/files":
			writeJSON(w, []any{map[string]any{"id": "f-old", "sha2": hash}})
		case r.Method == http.MethodPost:
			atomic.AddInt32(&uploads, 1)
			writeJSON(w, []any{map[string]any{"id": "f-new"}})
		}
	})

	res := a.UploadMedia(context.Background(), provider.MediaMessage{Type: "document", Payload: data, Filename: "a.pdf"})
	require.True(t, res.Success)
	assert.Equal(t, "f-old", res.MediaID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&uploads))
}

func TestUploadMedia_UploadsNewFile(t *testing.T) {
	data := []byte("%PDF-1.4 another document")
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, []any{})
			return
		}
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		got, _ := io.ReadAll(file)
		assert.Equal(t, data, got)
		assert.Equal(t, "b.pdf", header.Filename)
		writeJSON(w, []any{map[string]any{"id": "f-new"}})
	})

	res := a.UploadMedia(context.Background(), provider.MediaMessage{
		Type:     "document",
		Payload:  []byte(base64.StdEncoding.EncodeToString(data)),
		Filename: "b.pdf",
	})
	require.True(t, res.Success)
	assert.Equal(t, "f-new", res.MediaID)
}

func TestSendMedia_SendsByFileID(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files":
			if r.Method == http.MethodGet {
				writeJSON(w, []any{})
				return
			}
			writeJSON(w, map[string]any{"id": "f1"})
		case "/messages":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]any{"file": "f1"}, body["media"])
			assert.Equal(t, "cap", body["message"])
			writeJSON(w, map[string]any{"id": "m1"})
		}
	})

	res := a.SendMedia(context.Background(), "15550001111", provider.MediaMessage{
		Type: "image", Payload: []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2}, Filename: "x.jpg", Caption: "cap",
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "m1", res.MessageID)
}

func TestGetContacts_PageFromOffset(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/dev1/contacts", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "500", r.URL.Query().Get("size"))
		writeJSON(w, []any{
			map[string]any{"wid": "15550001111@c.us", "name": "Ann", "phone": "+15550001111"},
		})
	})
	page := a.GetContacts(context.Background(), 500, 1000)
	require.True(t, page.Success)
	require.Len(t, page.Contacts, 1)
	assert.Equal(t, "15550001111@s.whatsapp.net", page.Contacts[0].ContactID)
	assert.Equal(t, "15550001111", page.Contacts[0].Phone)
}

func TestGetGroups_PagesLocally(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{
			map[string]any{"wid": "1@g.us", "name": "a"},
			map[string]any{"wid": "2@g.us", "name": "b"},
			map[string]any{"wid": "3@g.us", "name": "c"},
		})
	})
	page := a.GetGroups(context.Background(), 2, 0)
	require.True(t, page.Success)
	assert.Len(t, page.Groups, 2)
	assert.Equal(t, 3, page.Total)

	page = a.GetGroups(context.Background(), 2, 2)
	require.Len(t, page.Groups, 1)
	assert.Equal(t, "3@g.us", page.Groups[0].GroupID)

	page = a.GetGroups(context.Background(), 2, 10)
	assert.Empty(t, page.Groups)
}

func TestGetGroupInfo_FallsBackToParticipantsEndpoint(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/devices/dev1/groups/1@g.us":
			writeJSON(w, map[string]any{"wid": "1@g.us", "name": "Team"})
		case "/chat/dev1/chats/1@g.us/participants":
			writeJSON(w, []any{map[string]any{"id": "15550001111@c.us", "isAdmin": true}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	res := a.GetGroupInfo(context.Background(), "1@g.us")
	require.True(t, res.Success)
	require.Len(t, res.Group.Participants, 1)
	assert.Equal(t, "15550001111", res.Group.Participants[0].Phone)
}

func TestCheckContactsExist_OnePerNumber(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"exists": r.URL.Path == "/devices/dev1/numbers/15550001111/exists"})
	})
	res := a.CheckContactsExist(context.Background(), []string{"+1 555 000 1111", "+1 555 000 2222"})
	require.True(t, res.Success)
	require.Len(t, res.Contacts, 2)
	assert.True(t, res.Contacts[0].Exists)
	assert.False(t, res.Contacts[1].Exists)
}

func TestParseWebhook(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {})

	msgs := a.ParseWebhookMessage([]byte(`{"event":"message:in:new","data":{
		"id":"x1","type":"text","body":"hello","fromNumber":"+15550001111",
		"chat":{"id":"15550001111@c.us","name":"Ann"},"timestamp":1700000000}}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "15550001111@s.whatsapp.net", msgs[0].ChatID)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, "Ann", msgs[0].ChatName)

	assert.Empty(t, a.ParseWebhookMessage([]byte(`{"event":"message:out:new","data":{"id":"x2"}}`)))

	updates := a.ParseWebhookStatus([]byte(`{"event":"message:out:ack","data":{"id":"x3","ack":"read"}}`))
	require.Len(t, updates, 1)
	assert.Equal(t, "read", updates[0].Status)

	assert.True(t, a.ValidateWebhook(provider.WebhookRequest{}))
}
