package bot

import (
	"fmt"
	"strings"

	"channelwatch/internal/model"
	"channelwatch/internal/scheduler"
	"channelwatch/internal/watch"
)

// FormatRegistration formats the reply to a successful /watch for dest.
func FormatRegistration(ref string, dest model.Destination, reg watch.Registration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Now watching %s.", ref)
	if reg.Latest != nil {
		fmt.Fprintf(&b, "\n\nLatest video: %s\n%s", reg.Latest.Title, reg.Latest.URL)
	}
	if dest.Scheme() == model.SchemeWebhook {
		fmt.Fprintf(&b, "\n\nNew uploads will be posted to %s.", dest.Target())
	} else {
		b.WriteString("\n\nNew uploads will be posted here.")
	}
	return b.String()
}

// FormatSubscriptionList formats the subscriptions of a chat for display.
func FormatSubscriptionList(subs []model.Subscription) string {
	if len(subs) == 0 {
		return "This chat watches no channels yet. Use /watch <channel> to add one."
	}
	var b strings.Builder
	b.WriteString("Watched channels:\n")
	for i, s := range subs {
		fmt.Fprintf(&b, "\n%d. %s\n   https://www.youtube.com/channel/%s\n", i+1, displayName(s), s.FeedID)
		if s.Owner != "" {
			fmt.Fprintf(&b, "   added by %s\n", s.Owner)
		}
		switch {
		case s.SeenItem() && s.LastSeenAt != nil:
			fmt.Fprintf(&b, "   last video seen %s\n", s.LastSeenAt.UTC().Format("2006-01-02 15:04 UTC"))
		case s.LastSeenItemID == model.EmptyFeedCursor:
			b.WriteString("   no videos yet\n")
		}
	}
	return b.String()
}

// FormatStats formats the result of a manual sweep.
func FormatStats(st scheduler.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Checked %d channel(s): %d new video(s) posted.", st.Feeds, st.Notified)
	if st.FetchErrors > 0 {
		fmt.Fprintf(&b, "\n%d channel(s) could not be reached and will be retried on the next check.", st.FetchErrors)
	}
	return b.String()
}

// destPhrase names where a destination receives posts, for replies.
func destPhrase(dest model.Destination) string {
	if dest.Scheme() == model.SchemeWebhook {
		return "for " + dest.Target()
	}
	return "in this chat"
}

func displayName(s model.Subscription) string {
	if s.Label != "" {
		return s.Label
	}
	return string(s.FeedID)
}
