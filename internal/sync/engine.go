// Package sync archives transport events so history pages can be served
// from disk.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
)

// Stored is the payload of archive events.
type Stored struct {
	Messages int
	Chats    int
}

// Engine handles idempotent persistence of transport events.
// It subscribes to "transport." events on the bus and processes them.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to transport events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe(bus.NamespaceTransport, 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.TransportMessage:
		msg, ok := evt.Payload.(*entry.RawMessage)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to archive message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.TransportHistory:
		msgs, ok := evt.Payload.([]*entry.RawMessage)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(msgs); err != nil {
			e.logger.Error("failed to archive history batch", zap.Error(err), zap.Int("count", len(msgs)))
		} else {
			e.logger.Info("history batch archived", zap.Int("messages", len(msgs)))
		}
	case bus.TransportModified:
		msg, ok := evt.Payload.(*entry.RawMessage)
		if !ok {
			return
		}
		if _, err := e.db.EditMessage(msg.ConversationID, msg.ID, msg.Body); err != nil {
			e.logger.Error("failed to archive edit", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.TransportRevoked:
		rev, ok := evt.Payload.(entry.RevokeEvent)
		if !ok {
			return
		}
		if err := e.db.MarkRevoked(rev.ConversationID, rev.ID, rev.Operator, evt.Timestamp.UnixMilli()); err != nil {
			e.logger.Error("failed to archive revocation", zap.Error(err), zap.String("msg_id", rev.ID))
		}
	case bus.TransportContacts:
		contacts, ok := evt.Payload.([]entry.Contact)
		if !ok {
			return
		}
		if err := e.IngestContacts(contacts); err != nil {
			e.logger.Error("failed to archive contacts", zap.Error(err), zap.Int("count", len(contacts)))
		}
	}
}

// IngestMessage archives a single message (idempotent).
func (e *Engine) IngestMessage(msg *entry.RawMessage) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("message without id or conversation")
	}
	if _, err := e.db.UpsertMessages([]*store.Message{store.MessageFromRaw(msg)}); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.ArchiveMessageStored,
		Timestamp: time.Now(),
		Payload:   msg,
	})
	return nil
}

// IngestHistoryBatch archives a batch of history messages in a transaction.
func (e *Engine) IngestHistoryBatch(msgs []*entry.RawMessage) error {
	rows := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" || m.ConversationID == "" {
			continue
		}
		rows = append(rows, store.MessageFromRaw(m))
	}
	if len(rows) == 0 {
		return nil
	}
	chats, err := e.db.UpsertMessages(rows)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.ArchiveHistoryStored,
		Timestamp: time.Now(),
		Payload:   Stored{Messages: len(rows), Chats: chats},
	})
	return nil
}

// IngestContacts stores the transport's address book.
func (e *Engine) IngestContacts(contacts []entry.Contact) error {
	rows := make([]store.Contact, 0, len(contacts))
	for _, c := range contacts {
		rows = append(rows, store.Contact{JID: c.ID, Name: c.Name, PushName: c.PushName})
	}
	if err := e.db.BulkUpsertContacts(rows); err != nil {
		return fmt.Errorf("upsert contacts: %w", err)
	}
	return nil
}
