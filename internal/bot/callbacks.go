package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"channelwatch/internal/model"
)

const (
	cmdWatch   = "watch"
	cmdUnwatch = "unwatch"
	cmdCheck   = "check"

	cbUnwatchConfirm = "unwatch_confirm"
	cbUnwatch        = "unwatch"
	cbNoop           = "noop"
)

func callbackData(action, arg string) string {
	return action + ":" + arg
}

func (b *Bot) ackCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.ackCallback(cb.ID, "")
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cbUnwatchConfirm:
		sub, found := b.findSubscription(chatID, model.FeedID(arg))
		if !found {
			b.reply(chatID, "This channel is no longer watched here.")
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Stop watching %s?", displayName(sub)))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, unwatch", callbackData(cbUnwatch, arg)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", callbackData(cbNoop, "0")),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send unwatch confirmation", "error", err)
		}
	case cbUnwatch:
		b.handleUnwatch(ctx, chatID, arg)
	case cbNoop:
	}
}

func (b *Bot) findSubscription(chatID int64, feedID model.FeedID) (model.Subscription, bool) {
	for _, s := range b.watcher.Subscriptions(ChatDestination(chatID)) {
		if s.FeedID == feedID {
			return s, true
		}
	}
	return model.Subscription{}, false
}
