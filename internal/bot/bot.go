package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"channelwatch/internal/config"
	"channelwatch/internal/model"
	"channelwatch/internal/scheduler"
	"channelwatch/internal/watch"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Watcher is the subscription service behind the chat commands.
type Watcher interface {
	Register(ctx context.Context, reference string, dest model.Destination, owner string) (watch.Registration, error)
	Unregister(ctx context.Context, reference string, dest model.Destination) (model.FeedID, error)
	Subscriptions(dest model.Destination) []model.Subscription
}

// Sweeper runs an immediate sweep for /check.
type Sweeper interface {
	Sweep(ctx context.Context) (scheduler.Stats, error)
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api     telegramAPI
	watcher Watcher
	sweeper Sweeper
	cfg     *config.Config
	limiter *rate.Limiter
	log     *slog.Logger

	// checks tracks /check sweeps running outside the update loop.
	checks sync.WaitGroup
}

// New connects to the Telegram API, retrying transient failures until ctx
// is cancelled. An invalid token fails immediately.
func New(ctx context.Context, token string, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	var api *tgbotapi.BotAPI
	err := retry.Do(
		func() error {
			var err error
			api, err = tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 90 * time.Second})
			return err
		},
		retry.Attempts(10),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("connect to telegram, retrying", "attempt", n+1, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var apiErr *tgbotapi.Error
			return !errors.As(err, &apiErr) || apiErr.Code != http.StatusUnauthorized
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("connected to telegram", "username", api.Self.UserName)

	return newBot(api, cfg, log), nil
}

func newBot(api telegramAPI, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     log,
	}
}

// SetWatcher attaches the subscription service. It must be called before Run.
func (b *Bot) SetWatcher(w Watcher) {
	b.watcher = w
}

// SetSweeper enables /check.
func (b *Bot) SetSweeper(s Sweeper) {
	b.sweeper = s
}

// SetSendRate caps outgoing notifications at rps messages per second.
// Zero disables the cap.
func (b *Bot) SetSendRate(rps float64) {
	if rps <= 0 {
		b.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled
// and any running /check has replied.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.checks.Wait()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		if update.CallbackQuery.From == nil || !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
			b.ackCallback(update.CallbackQuery.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.From == nil {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

// Send delivers a notification to a telegram:<chatID> destination.
func (b *Bot) Send(ctx context.Context, dest model.Destination, text string) error {
	chatID, err := ParseChatID(dest)
	if err != nil {
		return err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdWatch:
		b.handleWatch(ctx, chatID, args, OwnerRef(msg.From))
	case cmdUnwatch:
		b.handleUnwatch(ctx, chatID, args)
	case "list":
		b.handleList(chatID, args)
	case cmdCheck:
		b.handleCheck(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
