package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/seqbot/internal/config"
	"github.com/harun/seqbot/internal/logger"
	"github.com/harun/seqbot/internal/metrics"
	"github.com/harun/seqbot/pkg/fsub"
	"github.com/harun/seqbot/pkg/sequence"
	"github.com/rs/zerolog"
)

// UpdateHandler receives every update from the polling loop. It must not
// block for long; slow work belongs on a queue lane.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Bot represents a Telegram bot instance
type Bot struct {
	api     *tgbotapi.BotAPI
	config  *config.TelegramConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics

	handler UpdateHandler

	mu      sync.Mutex
	running bool
	done    chan struct{}

	// sleep waits before a rate-limited retry
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, log *logger.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	// long polling holds the request open for PollTimeout seconds
	client := &http.Client{Timeout: time.Duration(cfg.PollTimeout+15) * time.Second}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := &Bot{
		api:    api,
		config: cfg,
		logger: log.GetZerolog().With().Str("component", "telegram").Logger(),
		sleep:  sleepContext,
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// SetHandler sets the update handler
func (b *Bot) SetHandler(handler UpdateHandler) {
	b.handler = handler
}

// SetMetrics enables transport metrics
func (b *Bot) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// Start begins long polling and hands updates to the handler until ctx is
// cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bot is already running")
	}
	if b.handler == nil {
		return fmt.Errorf("update handler is required")
	}

	b.logger.Info().Msg("Starting Telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(u)
	b.running = true
	b.done = make(chan struct{})

	go b.processUpdates(ctx, updates, b.done)

	b.logger.Info().Msg("Telegram bot started")

	return nil
}

// Stop stops polling and waits for the update loop to exit
func (b *Bot) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot is not running")
	}
	b.running = false
	done := b.done
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping Telegram bot")
	b.api.StopReceivingUpdates()
	<-done
	b.logger.Info().Msg("Telegram bot stopped")

	return nil
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// processUpdates processes incoming updates
func (b *Bot) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if b.metrics != nil {
				b.metrics.TelegramUpdatesReceivedTotal.Inc()
			}
			b.handler.HandleUpdate(ctx, update)
		}
	}
}

// Username returns the bot's username
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Notify sends text with an optional inline keyboard and returns the new
// message id.
func (b *Bot) Notify(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if len(kb) > 0 {
		msg.ReplyMarkup = kb.Markup()
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		b.countError()
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	b.countSent()

	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("message_id", sent.MessageID).
		Msg("Message sent")

	return sent.MessageID, nil
}

// Edit replaces the text and keyboard of a message sent by the bot
func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.DisableWebPagePreview = true
	if len(kb) > 0 {
		markup := kb.Markup()
		edit.ReplyMarkup = &markup
	}

	if _, err := b.api.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		b.countError()
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// Delete removes a message
func (b *Bot) Delete(ctx context.Context, chatID int64, messageID int) error {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.countError()
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press, optionally as an alert
func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert

	if _, err := b.api.Request(cb); err != nil {
		b.countError()
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// ForwardItem copies a buffered message into dest. The copy carries no
// "forwarded from" header and reuses the stored file, so nothing is
// re-uploaded. A rate-limit response is retried once after the wait the
// server asked for.
func (b *Bot) ForwardItem(ctx context.Context, dest int64, ref sequence.ItemRef) error {
	cfg := tgbotapi.NewCopyMessage(dest, ref.ChatID, ref.MessageID)

	for attempt := 0; ; attempt++ {
		_, err := b.api.CopyMessage(cfg)
		if err == nil {
			b.countSent()
			return nil
		}

		var apiErr *tgbotapi.Error
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			b.logger.Warn().
				Int("message_id", ref.MessageID).
				Dur("retry_after", wait).
				Msg("Rate limited while copying, retrying")
			if err := b.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		b.countError()
		return fmt.Errorf("copy message %d: %w", ref.MessageID, err)
	}
}

// Membership implements fsub.MembershipChecker
func (b *Bot) Membership(ctx context.Context, channelID, userID int64) (fsub.MemberStatus, error) {
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: channelID,
			UserID: userID,
		},
	})
	if err != nil {
		b.countError()
		return fsub.MemberUnknown, fmt.Errorf("get chat member: %w", err)
	}
	return fsub.ParseMemberStatus(member.Status, member.IsMember), nil
}

// ResolveChannel looks up a channel from "@name", a t.me link or a numeric id
func (b *Bot) ResolveChannel(ctx context.Context, ref string) (fsub.Channel, error) {
	id, username, err := ParseChannelRef(ref)
	if err != nil {
		return fsub.Channel{}, err
	}

	cfg := tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}}
	if username != "" {
		cfg.ChatConfig = tgbotapi.ChatConfig{SuperGroupUsername: "@" + username}
	}

	chat, err := b.api.GetChat(cfg)
	if err != nil {
		b.countError()
		return fsub.Channel{}, fmt.Errorf("get chat %s: %w", ref, err)
	}
	if chat.IsPrivate() {
		return fsub.Channel{}, fmt.Errorf("%s is a private chat, not a channel or group", ref)
	}

	return fsub.Channel{
		ID:         chat.ID,
		Title:      chat.Title,
		Username:   chat.UserName,
		InviteLink: chat.InviteLink,
	}, nil
}

// SetCommands publishes the command menu
func (b *Bot) SetCommands(commands []tgbotapi.BotCommand) error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}

	b.logger.Info().Int("count", len(commands)).Msg("Bot commands updated")
	return nil
}

func (b *Bot) countSent() {
	if b.metrics != nil {
		b.metrics.TelegramMessagesSentTotal.Inc()
	}
}

func (b *Bot) countError() {
	if b.metrics != nil {
		b.metrics.TelegramErrorsTotal.Inc()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
