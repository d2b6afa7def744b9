package engine

import (
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/ingest"
	"github.com/matheus3301/chatline/internal/timeline"
	"go.uber.org/zap"
)

// route forwards a transport event to the loop.
func (c *Conversation) route(evt bus.Event) {
	conv := c.opts.ConversationID
	switch evt.Kind {
	case bus.TransportMessage:
		msg, ok := evt.Payload.(*entry.RawMessage)
		if !ok || msg.ConversationID != conv {
			return
		}
		c.post(func() { c.ingestLive([]*entry.RawMessage{msg}) })
	case bus.TransportModified:
		msg, ok := evt.Payload.(*entry.RawMessage)
		if !ok || msg.ConversationID != conv {
			return
		}
		c.post(func() { c.modify(msg) })
	case bus.TransportRevoked:
		rev, ok := evt.Payload.(entry.RevokeEvent)
		if !ok || rev.ConversationID != conv {
			return
		}
		c.post(func() { c.applyRevocation(rev) })
	case bus.TransportReceipts:
		receipts, ok := evt.Payload.([]entry.Receipt)
		if !ok {
			return
		}
		c.post(func() { c.tracker.ApplyReceipts(receipts) })
	case bus.TransportPresence:
		p, ok := evt.Payload.(entry.Presence)
		if !ok || p.ConversationID != conv {
			return
		}
		c.post(func() { c.presence(p) })
	case bus.TransportConnected, bus.TransportDisconnected:
		c.logger.Info("transport state changed", zap.String("event", evt.Kind))
	}
}

// ingestLive appends converted messages at the tail. A genuine incoming
// message from the placeholder's sender supersedes the streaming placeholder
// in the same batch. A placeholder without a sender is superseded by any
// incoming message.
func (c *Conversation) ingestLive(raws []*entry.RawMessage) {
	entries := c.pipe.Ingest(raws, ingest.Live)
	if len(entries) == 0 {
		return
	}
	supersedes := false
	if p, ok := c.registry.Get(c.opts.ConversationID); ok {
		for _, e := range entries {
			if e.IsMessage() && e.Direction == entry.Incoming && (p.SenderID == "" || p.SenderID == e.SenderID) {
				supersedes = true
				break
			}
		}
	}

	c.store.Batch(func(tx *timeline.Tx) {
		if supersedes {
			c.dropStreaming(tx)
		}
		tx.Append(entries...)
	})
	c.enrich(entries)
}

func (c *Conversation) delete(entries []*entry.Entry) {
	c.store.Batch(func(tx *timeline.Tx) {
		for _, e := range entries {
			i := c.store.IndexOfEntry(e)
			if i < 0 {
				c.logger.Warn("delete of unknown entry", zap.String("entry_id", e.ID))
				continue
			}
			if p, ok := c.registry.Get(c.opts.ConversationID); ok && p == e {
				c.registry.Remove(c.opts.ConversationID)
				c.loop.CancelTimer(typingTimerKey)
			}
			tx.RemoveCollapsing(i)
		}
	})
	c.pipe.SyncDateReference(c.store)
}

// modify applies an edited message to its stored entry in place.
func (c *Conversation) modify(msg *entry.RawMessage) {
	i := c.store.IndexOf(msg.ID)
	if i < 0 {
		c.logger.Debug("edit for unknown message", zap.String("msg_id", msg.ID))
		return
	}
	updated, ok := c.pipe.Convert(msg)
	if !ok {
		return
	}
	e := c.store.At(i)
	e.Kind = updated.Kind
	e.Text = updated.Text
	e.Source = msg
	e.Edited = true
	c.store.Batch(func(tx *timeline.Tx) { tx.Reload(i) })
}

// applyRevocation replaces a revoked message with its system entry and keeps
// later deliveries of the same id out of the timeline.
func (c *Conversation) applyRevocation(rev entry.RevokeEvent) {
	c.pipe.MarkRevoked(rev.ID)
	i := c.store.IndexOf(rev.ID)
	if i < 0 {
		return
	}
	e := c.store.At(i)
	src := e.Source
	if src == nil {
		src = &entry.RawMessage{ID: e.ID, ConversationID: c.opts.ConversationID, SenderID: e.SenderID, Timestamp: e.Timestamp}
	}
	revoked := ingest.RevokedEntry(src, rev.Operator)
	revoked.SenderName = e.SenderName
	c.store.Batch(func(tx *timeline.Tx) { tx.ReplaceAt(i, revoked) })
	c.logger.Debug("message revoked", zap.String("msg_id", rev.ID), zap.String("reason", rev.Reason))
}

func (c *Conversation) presence(p entry.Presence) {
	if p.SenderID == c.opts.LocalUserID {
		return
	}
	if !p.Composing {
		c.clearStreaming()
		return
	}
	if cur, ok := c.registry.Get(c.opts.ConversationID); ok && cur.SenderID == p.SenderID {
		c.armTypingTimer()
		return
	}
	c.setStreaming(entry.NewTyping(c.opts.ConversationID, p.SenderID, c.opts.Clock()))
}

func (c *Conversation) setStreaming(p *entry.Entry) {
	p.Placeholder = true
	c.store.Batch(func(tx *timeline.Tx) {
		c.dropStreaming(tx)
		tx.Append(p)
	})
	c.registry.Set(c.opts.ConversationID, p)
	c.interrupter.SetStreaming(c.opts.ConversationID, true)
	c.armTypingTimer()
}

func (c *Conversation) armTypingTimer() {
	c.loop.Debounce(typingTimerKey, c.opts.TypingTimeout, c.clearStreaming)
}

func (c *Conversation) clearStreaming() {
	c.store.Batch(c.dropStreaming)
}

// dropStreaming removes the registered placeholder inside tx.
func (c *Conversation) dropStreaming(tx *timeline.Tx) {
	p := c.registry.Remove(c.opts.ConversationID)
	if p == nil {
		return
	}
	c.loop.CancelTimer(typingTimerKey)
	tx.Remove(p)
	c.interrupter.SetStreaming(c.opts.ConversationID, false)
}

// enrich resolves missing sender names off the loop and applies them with
// reloads once they arrive.
func (c *Conversation) enrich(entries []*entry.Entry) {
	if c.opts.Names == nil {
		return
	}
	ids := ingest.Unresolved(entries)
	if len(ids) == 0 {
		return
	}
	ctx := c.ctx
	go func() {
		names, err := c.opts.Names.ResolveNames(ctx, ids)
		if err != nil {
			c.logger.Warn("failed to resolve sender names", zap.Error(err), zap.Int("count", len(ids)))
			return
		}
		if len(names) == 0 {
			return
		}
		c.post(func() { c.applyNames(names) })
	}()
}

func (c *Conversation) applyNames(names map[string]string) {
	c.store.Batch(func(tx *timeline.Tx) {
		for i := 0; i < c.store.Len(); i++ {
			e := c.store.At(i)
			if e.SenderName != "" || e.Direction != entry.Incoming {
				continue
			}
			if name, ok := names[e.SenderID]; ok && name != "" {
				e.SenderName = name
				tx.Reload(i)
			}
		}
	})
}
