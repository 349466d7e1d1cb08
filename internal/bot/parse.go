package bot

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"channelwatch/internal/model"
)

// ParseTargetArgs splits "<channel> [webhook:<url>]" command arguments into
// a channel reference and a destination. Without a webhook argument the
// destination is the chat itself.
func ParseTargetArgs(args string, chatID int64) (string, model.Destination, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 0:
		return "", "", errors.New("channel reference is required")
	case 1:
		return fields[0], ChatDestination(chatID), nil
	case 2:
		dest, err := ParseWebhookDestination(fields[1])
		if err != nil {
			return "", "", err
		}
		return fields[0], dest, nil
	default:
		return "", "", fmt.Errorf("unexpected arguments: %q", strings.Join(fields[2:], " "))
	}
}

// ParseListArgs returns the destination named by /list arguments: the chat
// itself, or a webhook:<url>.
func ParseListArgs(args string, chatID int64) (model.Destination, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 0:
		return ChatDestination(chatID), nil
	case 1:
		return ParseWebhookDestination(fields[0])
	default:
		return "", fmt.Errorf("unexpected arguments: %q", strings.Join(fields[1:], " "))
	}
}

// ParseWebhookDestination validates a webhook:<url> argument. The URL must
// be absolute http or https.
func ParseWebhookDestination(s string) (model.Destination, error) {
	dest := model.Destination(s)
	if dest.Scheme() != model.SchemeWebhook {
		return "", fmt.Errorf("destination must be webhook:<url>, got %q", s)
	}
	u, err := url.Parse(dest.Target())
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("webhook url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("webhook url has no host: %q", dest.Target())
	}
	return model.NewDestination(model.SchemeWebhook, u.String()), nil
}

// ChatDestination is the destination for a Telegram chat.
func ChatDestination(chatID int64) model.Destination {
	return model.NewDestination(model.SchemeTelegram, strconv.FormatInt(chatID, 10))
}

// ParseChatID extracts the chat ID from a telegram:<chatID> destination.
func ParseChatID(dest model.Destination) (int64, error) {
	if dest.Scheme() != model.SchemeTelegram {
		return 0, fmt.Errorf("not a telegram destination: %q", dest)
	}
	id, err := strconv.ParseInt(dest.Target(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID in %q", dest)
	}
	return id, nil
}

// OwnerRef names the user who issued a command.
func OwnerRef(u *tgbotapi.User) string {
	switch {
	case u == nil:
		return ""
	case u.UserName != "":
		return "@" + u.UserName
	case u.FirstName != "":
		return u.FirstName
	default:
		return strconv.FormatInt(u.ID, 10)
	}
}
