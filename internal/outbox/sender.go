package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/ingest"
	"github.com/matheus3301/chatline/internal/ordering"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/timeline"
	"github.com/matheus3301/chatline/internal/transport"
	"go.uber.org/zap"
)

var (
	// ErrNotFailed is returned when resending an entry that has not failed.
	ErrNotFailed = errors.New("entry is not in failed state")
	// ErrAlreadyQueued is returned when sending an entry that is already stored.
	ErrAlreadyQueued = errors.New("entry is already in the timeline")
)

// SendResult is the payload of timeline.send_ack events.
type SendResult struct {
	ConversationID string
	MsgID          string
	Entry          *entry.Entry
}

// SendFailure is the payload of timeline.send_failed events. Surface is false
// for benign codes that must not be shown to the user.
type SendFailure struct {
	ConversationID string
	MsgID          string
	Code           int
	Desc           string
	Surface        bool
	Entry          *entry.Entry
}

// Options configures a Sender.
type Options struct {
	ConversationID string
	IsGroup        bool
	LocalUserID    string
	Store          *timeline.Store
	Pipeline       *ingest.Pipeline
	Loop           *ordering.Loop
	Transport      transport.Sender
	Ledger         *ProgressLedger
	Bus            *bus.Bus
	BenignCodes    []int
	// NewID generates message ids; defaults to entry.NewLocalID.
	NewID  func() string
	Clock  func() time.Time
	Logger *zap.Logger
}

// Sender drives locally originated messages through
// SENDING_LOCAL -> SENDING_CONFIRMED -> SUCCESS|FAILED.
type Sender struct {
	opts   Options
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(opts Options) *Sender {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = entry.NewLocalID
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Ledger == nil {
		opts.Ledger = NewProgressLedger()
	}
	if opts.BenignCodes == nil {
		opts.BenignCodes = transport.DefaultBenignCodes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		opts:   opts,
		logger: opts.Logger.With(zap.String("conversation", opts.ConversationID)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Stop abandons the callbacks of in-flight sends.
func (s *Sender) Stop() {
	s.cancel()
}

// Ledger returns the upload-progress ledger.
func (s *Sender) Ledger() *ProgressLedger {
	return s.opts.Ledger
}

// NewPlaceholder builds a pending-send placeholder with the given text.
func NewPlaceholder(kind entry.Kind, text string, ts time.Time) *entry.Entry {
	return &entry.Entry{
		ID:          "pending-" + entry.NewLocalID(),
		Kind:        kind,
		Direction:   entry.Outgoing,
		Timestamp:   ts,
		Status:      status.SendingLocal,
		Text:        text,
		Placeholder: true,
	}
}

// ShowPlaceholder appends a pending-send placeholder. Must run on the loop.
func (s *Sender) ShowPlaceholder(p *entry.Entry) {
	st := s.opts.Store
	st.Batch(func(tx *timeline.Tx) {
		if sep := s.opts.Pipeline.DateSeparatorFor(p.Timestamp); sep != nil {
			tx.Append(sep)
		}
		tx.Append(p)
	})
}

// Send queues e for delivery. When placeholder is non-nil and stored, it is
// superseded by e in the same batch: replaced in place when it is the tail,
// otherwise removed with e appended at the tail. Must run on the loop.
func (s *Sender) Send(e *entry.Entry, placeholder *entry.Entry) error {
	st := s.opts.Store
	if st.IndexOfEntry(e) >= 0 {
		return ErrAlreadyQueued
	}
	if err := s.prepare(e); err != nil {
		return err
	}

	st.Batch(func(tx *timeline.Tx) {
		switch i := st.IndexOfEntry(placeholder); {
		case i >= 0 && i == st.Len()-1:
			tx.ReplaceAt(i, e)
			return
		case i >= 0:
			// Newer entries arrived after the placeholder; e is stamped now
			// and must follow them.
			tx.RemoveCollapsing(i)
			s.opts.Pipeline.SyncDateReference(st)
		case placeholder != nil:
			s.logger.Warn("send placeholder not in timeline", zap.String("placeholder_id", placeholder.ID))
		}
		if sep := s.opts.Pipeline.DateSeparatorFor(e.Timestamp); sep != nil {
			tx.Append(sep)
		}
		tx.Append(e)
	})

	s.dispatch(e)
	return nil
}

// Resend moves a failed entry to the tail and sends it again. Must run on
// the loop.
func (s *Sender) Resend(e *entry.Entry) error {
	if e == nil || e.Status != status.Failed {
		return ErrNotFailed
	}
	st := s.opts.Store
	if st.IndexOfEntry(e) < 0 {
		s.logger.Warn("resend of entry no longer in timeline", zap.String("msg_id", e.ID))
		return nil
	}
	next, err := status.Resend(e.Status)
	if err != nil {
		return err
	}
	now := s.opts.Clock()

	st.Batch(func(tx *timeline.Tx) {
		tx.RemoveCollapsing(st.IndexOfEntry(e))
		s.opts.Pipeline.SyncDateReference(st)
		e.Status = next
		e.Timestamp = now
		if e.Source != nil {
			e.Source.Timestamp = now
		}
		if sep := s.opts.Pipeline.DateSeparatorFor(now); sep != nil {
			tx.Append(sep)
		}
		tx.Append(e)
	})

	s.logger.Info("resending message", zap.String("msg_id", e.ID))
	s.dispatch(e)
	return nil
}

func (s *Sender) prepare(e *entry.Entry) error {
	if e.Status == "" {
		e.Status = status.Initial
	}
	next, err := status.Next(e.Status, status.SendingLocal)
	if err != nil {
		return fmt.Errorf("prepare send: %w", err)
	}
	if e.ID == "" || e.Placeholder {
		e.ID = s.opts.NewID()
	}
	now := s.opts.Clock()
	if e.Source == nil {
		e.Source = &entry.RawMessage{Type: entry.TypeText, Body: e.Text}
	}
	msg := e.Source
	msg.ID = e.ID
	msg.ConversationID = s.opts.ConversationID
	msg.IsGroup = s.opts.IsGroup
	msg.SenderID = s.opts.LocalUserID
	msg.FromMe = true
	msg.Timestamp = now
	if e.Kind == "" {
		e.Kind = entry.KindText
	}
	if e.Text == "" {
		e.Text = msg.Body
	}
	e.Placeholder = false
	e.SenderID = s.opts.LocalUserID
	e.Direction = entry.Outgoing
	e.Timestamp = now
	e.Status = next
	return nil
}

// dispatch hands e to the transport on a worker goroutine. Results are
// marshalled back onto the loop.
func (s *Sender) dispatch(e *entry.Entry) {
	msg := *e.Source
	id := e.ID
	params := transport.SendParams{NeedReadReceipt: true}

	go func() {
		handle, err := s.opts.Transport.Send(s.ctx, &msg, params)
		if err != nil {
			s.opts.Loop.Post(func() { s.finish(e, id, err) })
			return
		}
		s.opts.Loop.Post(func() { s.confirm(e, id) })

		if handle.Progress != nil {
			for p := range handle.Progress {
				s.opts.Ledger.Set(id, p)
			}
		}
		var result error
		select {
		case result = <-handle.Done:
		case <-s.ctx.Done():
			return
		}
		s.opts.Loop.Post(func() { s.finish(e, id, result) })
	}()
}

func (s *Sender) confirm(e *entry.Entry, id string) {
	i := s.opts.Store.IndexOfEntry(e)
	if i < 0 || e.ID != id {
		s.logger.Warn("send confirmation for entry no longer in timeline", zap.String("msg_id", id))
		return
	}
	next, err := status.Next(e.Status, status.SendingConfirmed)
	if err != nil {
		s.logger.Warn("ignoring send confirmation", zap.String("msg_id", id), zap.Error(err))
		return
	}
	e.Status = next
	s.opts.Store.Batch(func(tx *timeline.Tx) { tx.Reload(i) })
}

func (s *Sender) finish(e *entry.Entry, id string, sendErr error) {
	s.opts.Ledger.Delete(id)
	i := s.opts.Store.IndexOfEntry(e)
	if i < 0 || e.ID != id {
		s.logger.Warn("send result for entry no longer in timeline", zap.String("msg_id", id), zap.Error(sendErr))
		return
	}

	target := status.Success
	if sendErr != nil {
		target = status.Failed
	}
	next, err := status.Next(e.Status, target)
	if err != nil {
		s.logger.Warn("ignoring send result", zap.String("msg_id", id), zap.Error(err))
		return
	}
	e.Status = next
	s.opts.Store.Batch(func(tx *timeline.Tx) { tx.Reload(i) })

	if sendErr == nil {
		s.logger.Info("message sent", zap.String("msg_id", id))
		s.opts.Bus.Publish(bus.NewEvent(bus.TimelineSendAck, SendResult{
			ConversationID: s.opts.ConversationID,
			MsgID:          id,
			Entry:          e,
		}))
		return
	}

	benign := transport.IsBenign(sendErr, s.opts.BenignCodes)
	if benign {
		s.logger.Info("send failed with benign code", zap.String("msg_id", id), zap.Error(sendErr))
	} else {
		s.logger.Error("failed to send message", zap.String("msg_id", id), zap.Error(sendErr))
	}
	s.opts.Bus.Publish(bus.NewEvent(bus.TimelineSendFailed, SendFailure{
		ConversationID: s.opts.ConversationID,
		MsgID:          id,
		Code:           transport.CodeOf(sendErr),
		Desc:           sendErr.Error(),
		Surface:        !benign,
		Entry:          e,
	}))
}
