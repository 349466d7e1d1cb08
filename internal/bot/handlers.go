package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"channelwatch/internal/model"
	"channelwatch/internal/scheduler"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Channel Watch!

I post a message here whenever a watched YouTube channel uploads a new video.

Quick start:
/watch @handle: start watching a channel
/list: see what this chat watches

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/watch <channel> [webhook:<url>]: watch a channel in this chat, or post to a webhook
/unwatch <channel> [webhook:<url>]: stop watching a channel
/list [webhook:<url>]: channels watched in this chat or by a webhook
/check: look for new videos now

A channel can be given as @handle, a channel ID (UC...), or a youtube.com channel link.
Webhooks receive a JSON POST of the form {"content": "..."}.`)
}

func (b *Bot) handleWatch(ctx context.Context, chatID int64, args, owner string) {
	ref, dest, err := ParseTargetArgs(args, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%v\nUsage: /watch <channel> [webhook:<url>]", err))
		return
	}

	reg, err := b.watcher.Register(ctx, ref, dest, owner)
	switch {
	case err == nil:
		b.reply(chatID, FormatRegistration(ref, dest, reg))
	case errors.Is(err, model.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Channel %s not found.", ref))
	case errors.Is(err, model.ErrUpstreamUnavailable):
		b.reply(chatID, "YouTube is not responding right now. Please try again later.")
	default:
		b.log.Error("register", "chat_id", chatID, "reference", ref, "destination", dest, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	}
}

func (b *Bot) handleUnwatch(ctx context.Context, chatID int64, args string) {
	ref, dest, err := ParseTargetArgs(args, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%v\nUsage: /unwatch <channel> [webhook:<url>]", err))
		return
	}

	_, err = b.watcher.Unregister(ctx, ref, dest)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Stopped watching %s %s.", ref, destPhrase(dest)))
	case errors.Is(err, model.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("%s is not watched %s.", ref, destPhrase(dest)))
	case errors.Is(err, model.ErrUpstreamUnavailable):
		b.reply(chatID, "YouTube is not responding right now. Please try again later.")
	default:
		b.log.Error("unregister", "chat_id", chatID, "reference", ref, "destination", dest, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	}
}

func (b *Bot) handleList(chatID int64, args string) {
	dest, err := ParseListArgs(args, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%v\nUsage: /list [webhook:<url>]", err))
		return
	}
	subs := b.watcher.Subscriptions(dest)

	if dest.Scheme() == model.SchemeWebhook {
		// Webhook URLs do not fit in callback data, so there are no buttons.
		if len(subs) == 0 {
			b.reply(chatID, fmt.Sprintf("No channels are watched %s.", destPhrase(dest)))
			return
		}
		b.reply(chatID, FormatSubscriptionList(subs)+fmt.Sprintf("\nUse /unwatch <channel> %s to remove one.", dest))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatSubscriptionList(subs))
	msg.DisableWebPagePreview = true
	if len(subs) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, s := range subs {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Unwatch "+displayName(s), callbackData(cbUnwatchConfirm, string(s.FeedID))),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send list", "chat_id", chatID, "error", err)
	}
}

// handleCheck runs the sweep off the update loop and replies when it ends.
func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	if b.sweeper == nil {
		b.reply(chatID, "Manual checks are disabled.")
		return
	}

	b.checks.Add(1)
	go func() {
		defer b.checks.Done()

		stats, err := b.sweeper.Sweep(ctx)
		switch {
		case errors.Is(err, scheduler.ErrSweepInProgress):
			b.reply(chatID, "A check is already running. New videos will be posted shortly.")
		case err != nil:
			b.log.Error("manual sweep", "chat_id", chatID, "error", err)
			b.reply(chatID, fmt.Sprintf("Check failed: %v", err))
		default:
			b.reply(chatID, FormatStats(stats))
		}
	}()
}
