package telegram_bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/repository"
)

const callbackSyncNow = "sync:now"

// sender is the part of the bot API used to talk to chats.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// SyncTrigger starts a manual full sync.
type SyncTrigger func(ctx context.Context) (*models.SyncRun, error)

// Bot posts sync-run summaries to the admin chat and answers /status.
type Bot struct {
	api         sender
	updates     func() tgbotapi.UpdatesChannel
	stop        func()
	adminChatID int64
	syncRuns    repository.SyncRunRepository
	trigger     SyncTrigger
	logger      *zap.Logger
}

// NewBot creates a new Telegram bot instance. It returns nil, nil when the
// notifier is disabled; a nil *Bot is safe to use.
func NewBot(enabled bool, token string, adminChatID int64, syncRuns repository.SyncRunRepository, logger *zap.Logger) (*Bot, error) {
	if !enabled || token == "" {
		logger.Info("Telegram notifier is disabled (notifier.enabled=false or token is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	return &Bot{
		api: botAPI,
		updates: func() tgbotapi.UpdatesChannel {
			u := tgbotapi.NewUpdate(0)
			u.Timeout = 60
			return botAPI.GetUpdatesChan(u)
		},
		stop:        botAPI.StopReceivingUpdates,
		adminChatID: adminChatID,
		syncRuns:    syncRuns,
		logger:      logger,
	}, nil
}

// SetTrigger wires the "sync now" button. The engine notifies the bot, so
// the trigger is attached after both exist.
func (b *Bot) SetTrigger(trigger SyncTrigger) {
	if b == nil {
		return
	}
	b.trigger = trigger
}

// Start begins listening for updates from Telegram
func (b *Bot) Start(ctx context.Context) error {
	if b == nil {
		return nil // Bot is disabled
	}

	updates := b.updates()
	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.stop()
			return nil
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallbackQuery(ctx, update.CallbackQuery)
			} else if update.Message != nil {
				b.handleMessage(update.Message)
			}
		}
	}
}

// NotifySyncRun posts the outcome of a finished sync run to the admin chat.
func (b *Bot) NotifySyncRun(run *models.SyncRun) {
	if b == nil || run == nil || b.adminChatID == 0 {
		return
	}
	b.sendMessage(b.adminChatID, formatRun(run))
}

// handleCallbackQuery processes the inline "sync now" button.
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	b.logger.Info("Received callback query",
		zap.String("data", query.Data),
		zap.Int64("user_id", query.From.ID),
	)

	// Acknowledge the callback query
	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Error("Failed to send callback response", zap.Error(err))
	}

	if query.Message == nil || query.Message.Chat == nil || query.Message.Chat.ID != b.adminChatID {
		b.logger.Warn("Ignoring callback from foreign chat", zap.Int64("user_id", query.From.ID))
		return
	}
	if query.Data != callbackSyncNow || b.trigger == nil {
		b.sendMessage(b.adminChatID, "Unknown action.")
		return
	}

	b.sendMessage(b.adminChatID, "Sync started.")
	go func() {
		if _, err := b.trigger(ctx); err != nil {
			b.logger.Error("Manual sync from Telegram failed", zap.Error(err))
			b.sendMessage(b.adminChatID, "Sync failed: "+err.Error())
		}
	}()
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	if !message.IsCommand() {
		return
	}
	switch message.Command() {
	case "start", "help":
		b.sendMessage(message.Chat.ID, "Commands:\n"+
			"/status - latest synchronization run\n"+
			"/help - this help\n\n"+
			"Your chat ID: "+strconv.FormatInt(message.Chat.ID, 10))
	case "status":
		b.handleStatusCommand(message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help.")
	}
}

func (b *Bot) handleStatusCommand(message *tgbotapi.Message) {
	run, err := b.syncRuns.Latest()
	if err != nil {
		b.logger.Error("Failed to load latest sync run", zap.Error(err))
		b.sendMessage(message.Chat.ID, "Failed to load sync status.")
		return
	}
	text := "No synchronization has run yet."
	if run != nil {
		text = formatRun(run)
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	if message.Chat.ID == b.adminChatID && b.trigger != nil {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Sync now", callbackSyncNow),
			),
		)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send status", zap.Int64("chat_id", message.Chat.ID), zap.Error(err))
	}
}

func formatRun(run *models.SyncRun) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sync run #%d (%s): %s\n", run.ID, run.Trigger, run.Status)
	fmt.Fprintf(&sb, "Started: %s", run.StartedAt.UTC().Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(&sb, "\nDuration: %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.Message != "" {
		sb.WriteString("\n\n" + run.Message)
	}
	return sb.String()
}

// sendMessage is a helper to send a simple text message
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
