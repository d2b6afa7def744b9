package app

import (
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/engine"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/streaming"
	"github.com/matheus3301/chatline/internal/transport"
	"go.uber.org/zap"
)

// Services are the process-wide collaborators shared by every conversation.
type Services struct {
	Bus         *bus.Bus
	History     transport.History
	Names       transport.NameResolver
	Sender      transport.Sender
	Receipts    transport.ReceiptSender
	Revoker     transport.Revoker
	Registry    *streaming.Registry
	Interrupter *streaming.Interrupter
	Ledger      *outbox.ProgressLedger
	NewID       func() string
	Logger      *zap.Logger
}

// BaseOptions maps the timeline config and shared services onto the
// conversation options every engine starts from.
func BaseOptions(cfg config.TimelineConfig, s Services) engine.Options {
	cfg = cfg.WithDefaults()
	return engine.Options{
		MaxDateGap:          cfg.MaxDateGap.Duration,
		PageSize:            cfg.PageSize,
		MergeAdjacent:       cfg.Merge(),
		BenignCodes:         cfg.BenignSendCodes,
		TypingTimeout:       cfg.TypingTimeout.Duration,
		ReadReceiptDebounce: cfg.ReadReceiptDebounce.Duration,
		Bus:                 s.Bus,
		History:             s.History,
		Names:               s.Names,
		Sender:              s.Sender,
		Receipts:            s.Receipts,
		Revoker:             s.Revoker,
		Registry:            s.Registry,
		Interrupter:         s.Interrupter,
		Ledger:              s.Ledger,
		NewID:               s.NewID,
		Logger:              s.Logger,
	}
}
