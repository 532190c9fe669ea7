// Package notify defines the outbound-message boundary. The chat transport
// itself lives in a separate process (the conversational layer); the core
// only distinguishes "delivered", "recipient gone for good", and
// "try again next tick".
package notify

import (
	"context"
	"errors"
)

// ErrRecipientUnreachable reports a permanent delivery failure: the
// recipient blocked the bot or the chat no longer exists. Callers mark the
// user blocked and stop proactive sends until the user comes back.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Message is one outbound notification. RenewActionID, when set, carries
// the machine id the transport should attach as a "renewed" action button.
type Message struct {
	Text          string `json:"text"`
	RenewActionID string `json:"renewActionId,omitempty"`
}

// Sender delivers a message to a user identity.
type Sender interface {
	Send(ctx context.Context, userID string, msg Message) error
}

// IsPermanent reports whether a delivery error means the recipient is gone
// rather than the transport hiccuping.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRecipientUnreachable)
}
