// Package slacksink fans proposal_ready events out to a Slack channel.
package slacksink

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/resolvecore/resolver/pkg/notifier"
)

// Sink posts notifier.Event values to a fixed Slack channel, satisfying
// notifier.Sink. Only proposal_ready events produce a message; other event
// types are ignored.
type Sink struct {
	client  *slack.Client
	channel string
}

// New constructs a Sink posting to channel using a bot token.
func New(token, channel string) *Sink {
	return &Sink{client: slack.New(token), channel: channel}
}

// Notify implements notifier.Sink.
func (s *Sink) Notify(event notifier.Event) error {
	if event.Type != notifier.EventProposalReady {
		return nil
	}
	text := fmt.Sprintf("Resolution proposal ready for incident `%s` (proposal `%s`, correlation `%s`)",
		event.IncidentID, event.ProposalID, event.CorrelationID)
	_, _, err := s.client.PostMessage(s.channel, slack.MsgOptionText(text, false))
	return err
}
