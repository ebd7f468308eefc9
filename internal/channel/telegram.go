package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"hrchat/internal/config"
	"hrchat/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for a Telegram bot. Every chat is one
// widget session; /start mounts it and leaves the welcome screen.
type Telegram struct {
	token     string
	allowFrom []string // user IDs; empty = allow all

	bot    *tgbotapi.BotAPI
	chat   *chatRouter
	logger *slog.Logger
	send   func(chatID int64, text string)
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	Injected  domain.Injected
	Copy      *config.WidgetCopy
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &Telegram{
		token:     cfg.Token,
		allowFrom: trimAll(cfg.AllowFrom),
		logger:    cfg.Logger,
	}
	t.send = t.sendMessage
	t.chat = newChatRouter(t.Name(), "/", cfg.Injected, cfg.Copy, cfg.Logger)
	t.chat.send = func(chatID, text string) {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "session", chatID, "err", err)
			return
		}
		t.send(id, text)
	}
	t.chat.typing = func(chatID string) {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil && t.bot != nil {
			_, _ = t.bot.Send(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
		}
	}
	return t
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx ends.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	t.chat.attach(bus)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			t.chat.closeAll()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, sessionID string, content string) error {
	id, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.send(id, content)
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.send(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message.Command())
		return
	}
	t.handleText(chatID, update.Message.Text)
}

func (t *Telegram) handleCommand(chatID int64, command string) {
	t.chat.command(strconv.FormatInt(chatID, 10), command)
}

func (t *Telegram) handleText(chatID int64, text string) {
	t.chat.text(strconv.FormatInt(chatID, 10), text)
}

func (t *Telegram) isAllowed(userID int64) bool {
	return allowed(t.allowFrom, strconv.FormatInt(userID, 10))
}

// sendMessage splits text at Telegram's message size limit.
func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one chunk, backing off on rate limits and transient errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	if t.bot == nil {
		return
	}
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}

		backoff := time.Duration(attempt+1) * time.Second
		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff *= 3
			t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		} else if attempt < telegramMaxSendRetries {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		}
		if attempt < telegramMaxSendRetries {
			time.Sleep(backoff)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
