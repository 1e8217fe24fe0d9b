// Package notify delivers operational alerts. Delivery is fire-and-forget:
// callers log a failed send but never fail their own operation over it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Channel selects which transport carries a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
)

// Message is one alert to deliver.
type Message struct {
	Channel Channel
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Notifier sends an alert over its channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher routes messages to the sender for their channel. One sender per
// channel, selected by the enum; unknown channels are an error.
type Dispatcher struct {
	email Notifier
	chat  Notifier
}

func NewDispatcher(email, chat Notifier) *Dispatcher {
	return &Dispatcher{email: email, chat: chat}
}

func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	// A message with nobody to receive it is skipped, not an error. Chat
	// messages address a webhook, not recipients.
	if msg.Channel == ChannelEmail && len(msg.To) == 0 {
		slog.InfoContext(ctx, "skipping notification, no recipients", "channel", msg.Channel, "subject", msg.Subject)
		return nil
	}

	switch msg.Channel {
	case ChannelEmail:
		return d.email.Send(ctx, msg)
	case ChannelChat:
		return d.chat.Send(ctx, msg)
	default:
		return fmt.Errorf("unknown notification channel %q", msg.Channel)
	}
}
