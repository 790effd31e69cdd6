// Package transport is the boundary to the messaging front-end: everything
// the orchestrator needs to talk back to a requester.
package transport

import "context"

// MessageRef identifies a message previously sent to a chat, so it can be
// retracted later.
type MessageRef struct {
	ChatID    string
	MessageID int64
}

func (r MessageRef) IsZero() bool {
	return r.ChatID == "" && r.MessageID == 0
}

// Replier delivers session outcomes to the requester. Implementations must
// be safe for concurrent use across sessions.
type Replier interface {
	SendText(ctx context.Context, chatID, text string) error

	// SendImage sends a photo with a caption and returns a handle for
	// later retraction.
	SendImage(ctx context.Context, chatID string, png []byte, caption string) (MessageRef, error)

	Retract(ctx context.Context, ref MessageRef) error
}
