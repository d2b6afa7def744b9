package app

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/ingest"
	"github.com/matheus3301/chatline/internal/lock"
	"github.com/matheus3301/chatline/internal/pager"
	"github.com/matheus3301/chatline/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func TestModuleValidates(t *testing.T) {
	if err := fx.ValidateApp(Module(Params{SessionName: "test"}), fx.NopLogger); err != nil {
		t.Fatalf("ValidateApp: %v", err)
	}
}

func TestBaseOptions(t *testing.T) {
	off := false
	cfg := config.TimelineConfig{
		MaxDateGap:    config.Duration{Duration: time.Minute},
		MergeAdjacent: &off,
	}
	opts := BaseOptions(cfg, Services{NewID: func() string { return "id" }})

	if opts.MaxDateGap != time.Minute {
		t.Errorf("MaxDateGap = %v, want 1m", opts.MaxDateGap)
	}
	if opts.MergeAdjacent {
		t.Error("MergeAdjacent = true, want false")
	}
	if opts.PageSize != pager.DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", opts.PageSize, pager.DefaultPageSize)
	}
	if opts.NewID == nil || opts.NewID() != "id" {
		t.Error("NewID not carried over")
	}

	opts = BaseOptions(config.TimelineConfig{}, Services{})
	if opts.MaxDateGap != ingest.DefaultMaxDateGap || !opts.MergeAdjacent {
		t.Errorf("defaults not applied: gap=%v merge=%v", opts.MaxDateGap, opts.MergeAdjacent)
	}
}

func TestProvideLockAndStore(t *testing.T) {
	t.Setenv(session.HomeEnv, t.TempDir())
	p := Params{SessionName: "test"}
	logger := zap.NewNop()

	lk, err := provideLock(p, logger)
	if err != nil {
		t.Fatalf("provideLock: %v", err)
	}
	defer func() { _ = lk.Release() }()

	if _, err := provideLock(p, logger); err == nil {
		t.Fatal("second provideLock succeeded")
	} else {
		var held *lock.LockHeldError
		if !errors.As(err, &held) {
			t.Fatalf("second provideLock error = %v, want LockHeldError", err)
		}
	}

	db, err := provideStore(p, lk, logger)
	if err != nil {
		t.Fatalf("provideStore: %v", err)
	}
	defer func() { _ = db.Close() }()

	chats, err := db.ListChats(t.Context(), 10, 0)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 0 {
		t.Errorf("ListChats = %d chats, want 0", len(chats))
	}
}
