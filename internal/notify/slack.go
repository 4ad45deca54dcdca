package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackSink posts events as plain-text messages to a single Slack channel
// via a bot token. EventKind determines whether the message carries an
// emoji prefix, kept intentionally simple rather than building full Block
// Kit attachments.
type SlackSink struct {
	client  *slack.Client
	channel string
}

// NewSlackSink constructs a SlackSink posting to channel (a channel ID or
// name the bot token is a member of) using token as a bot token
// (xoxb-...).
func NewSlackSink(token, channel string) *SlackSink {
	return &SlackSink{client: slack.New(token), channel: channel}
}

// Send implements Sink.
func (s *SlackSink) Send(ctx context.Context, event Event) error {
	text := fmt.Sprintf("%s %s", emoji(event.Kind), formatMessage(event))
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	return nil
}

func emoji(kind EventKind) string {
	switch kind {
	case EventTaskCompleted:
		return ":white_check_mark:"
	case EventTaskFailed:
		return ":x:"
	case EventTaskEscalated:
		return ":rotating_light:"
	case EventBreakpoint:
		return ":octagonal_sign:"
	case EventBudgetThreshold:
		return ":moneybag:"
	default:
		return ":information_source:"
	}
}
