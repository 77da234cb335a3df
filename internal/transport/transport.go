// Package transport defines the chat-transport contract of §6: the
// supervisor only needs send/edit/delete, an incoming-message stream, and
// a callback stream. Concrete transports (internal/transport/localcli,
// internal/transport/telegram) implement Transport.
package transport

import "context"

// MessageRef identifies a previously sent message for later editing or
// deletion. Concrete transports define their own underlying ref shape;
// the supervisor treats it opaquely.
type MessageRef string

// Options carries transport-specific send hints (e.g. markdown parse mode,
// reply-to message id). Unknown keys are ignored by a given transport.
type Options map[string]any

// IncomingMessage is one user-authored chat message routed to the router.
type IncomingMessage struct {
	Channel string
	Text    string
	UserID  string
}

// Callback is a free-form identifier emitted when the user interacts with
// a transport-native affordance (an inline button, a reaction). Values
// such as "answer:<request_id>", "auto:<request_id>", "cancel", "pause",
// "expand" and "continue" are passed through as-is; cmd/takopi does not
// read the callback stream, so none of them has an effect there.
type Callback struct {
	Channel string
	Data    string
	UserID  string
}

// Transport is the minimal chat-transport contract of §6.
type Transport interface {
	Send(ctx context.Context, channel, message string, opts Options) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, message string) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) (bool, error)
	IncomingMessages() <-chan IncomingMessage
	Callbacks() <-chan Callback
}
