package telegram_bot

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/repository/memstore"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func command(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func TestNilBotIsSafe(t *testing.T) {
	var b *Bot
	b.NotifySyncRun(&models.SyncRun{})
	b.SetTrigger(nil)
	assert.NoError(t, b.Start(context.Background()))
}

func TestNotifySyncRun(t *testing.T) {
	api := &fakeSender{}
	b := &Bot{api: api, adminChatID: 42, logger: zap.NewNop()}

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	b.NotifySyncRun(&models.SyncRun{
		ID:         7,
		Trigger:    "cron",
		Status:     models.SyncStatusSuccess,
		Message:    "main: contacts 2, groups 1",
		StartedAt:  started,
		FinishedAt: &finished,
	})

	require.Len(t, api.sent, 1)
	assert.Equal(t, int64(42), api.sent[0].ChatID)
	assert.Contains(t, api.sent[0].Text, "Sync run #7 (cron): success")
	assert.Contains(t, api.sent[0].Text, "Duration: 1m30s")
	assert.Contains(t, api.sent[0].Text, "main: contacts 2, groups 1")
}

func TestStatusCommand(t *testing.T) {
	api := &fakeSender{}
	store := memstore.New()
	b := &Bot{api: api, adminChatID: 42, syncRuns: store.SyncRuns, logger: zap.NewNop()}
	b.SetTrigger(func(ctx context.Context) (*models.SyncRun, error) { return nil, nil })

	b.handleMessage(command(42, "/status"))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "No synchronization has run yet.", api.sent[0].Text)
	assert.NotNil(t, api.sent[0].ReplyMarkup)

	require.NoError(t, store.SyncRuns.Create(&models.SyncRun{Trigger: "manual", Status: models.SyncStatusRunning, StartedAt: time.Now()}))
	b.handleMessage(command(99, "/status"))
	require.Len(t, api.sent, 2)
	assert.Contains(t, api.sent[1].Text, "(manual): running")
	assert.Nil(t, api.sent[1].ReplyMarkup)
}

func TestSyncNowCallback(t *testing.T) {
	api := &fakeSender{}
	triggered := make(chan struct{}, 1)
	b := &Bot{api: api, adminChatID: 42, logger: zap.NewNop()}
	b.SetTrigger(func(ctx context.Context) (*models.SyncRun, error) {
		triggered <- struct{}{}
		return &models.SyncRun{}, nil
	})

	b.handleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 5},
		Data:    callbackSyncNow,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
	})
	assert.Empty(t, api.sent)

	b.handleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "q2",
		From:    &tgbotapi.User{ID: 5},
		Data:    callbackSyncNow,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	})
	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("sync was not triggered")
	}
	require.NotEmpty(t, api.sent)
	assert.Equal(t, "Sync started.", api.sent[0].Text)
}
