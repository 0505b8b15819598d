package notifier

import (
	"github.com/slack-go/slack"
)

// SlackSender posts attachments to a slack channel. An empty channel means
// all channels the bot has joined.
type SlackSender interface {
	Send(channel string, attachments []slack.Attachment) error
}

type SlackNotifier struct {
	Slack SlackSender
}

var _ Notifier = &SlackNotifier{}

func (s SlackNotifier) Notify(event Event) {
	_ = s.Slack.Send("", []slack.Attachment{{
		Color: "good",
		Title: event.title(),
		Text:  event.Reason,
	}})
}
