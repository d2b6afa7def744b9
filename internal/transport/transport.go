// Package transport defines what the timeline engine consumes from the
// messaging transport.
package transport

import (
	"context"

	"github.com/matheus3301/chatline/internal/entry"
)

// History serves older messages of a conversation, older-first paging.
// before is the oldest message loaded so far, nil for the newest page.
// The returned slice is ordered oldest first.
type History interface {
	FetchHistory(ctx context.Context, conversationID string, before *entry.RawMessage, count int) ([]*entry.RawMessage, error)
}

// SendParams carries delivery options for a send.
type SendParams struct {
	OnlineOnly      bool
	NeedReadReceipt bool
}

// SendHandle tracks a message the transport accepted for delivery.
// Progress is closed when the send finishes; Done receives exactly one value.
type SendHandle struct {
	Progress <-chan int
	Done     <-chan error
}

// Sender hands messages to the transport. A non-nil error means the message
// was not accepted at all.
type Sender interface {
	Send(ctx context.Context, msg *entry.RawMessage, params SendParams) (*SendHandle, error)
}

// ReceiptSender acknowledges that messages were read.
type ReceiptSender interface {
	SendReadReceipts(ctx context.Context, msgs []*entry.RawMessage) error
}

// Interrupter asks the peer to stop an ongoing streaming response.
type Interrupter interface {
	Interrupt(ctx context.Context, conversationID string) error
}

// Revoker revokes a previously sent message.
type Revoker interface {
	Revoke(ctx context.Context, msg *entry.RawMessage) error
}

// NameResolver looks up display names for user ids. Missing ids are simply
// absent from the result.
type NameResolver interface {
	ResolveNames(ctx context.Context, ids []string) (map[string]string, error)
}

// Completed returns a handle for a send that already finished with err.
func Completed(err error) *SendHandle {
	progress := make(chan int)
	close(progress)
	done := make(chan error, 1)
	done <- err
	return &SendHandle{Progress: progress, Done: done}
}
