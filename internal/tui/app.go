// Package tui renders chatline sessions in the terminal with tview.
package tui

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/engine"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/matheus3301/chatline/internal/streaming"
	"github.com/matheus3301/chatline/internal/tui/keys"
	"github.com/matheus3301/chatline/internal/tui/views"
	"github.com/matheus3301/chatline/internal/wa"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageChats = "chats"
	pageChat  = "chat"
	pageAuth  = "auth"

	flashTTL = 5 * time.Second
)

// ChatSource lists archived chats.
type ChatSource interface {
	ListChats(ctx context.Context, limit, offset int) ([]store.Chat, error)
	MarkChatRead(ctx context.Context, jid string, ts int64) error
}

// Authenticator pairs the session with a phone.
type Authenticator interface {
	IsLoggedIn() bool
	StartQRAuth(ctx context.Context) (<-chan wa.AuthEvent, error)
	Logout(ctx context.Context) error
}

// Options configures the terminal UI.
type Options struct {
	SessionName string
	Factory     *engine.Factory
	Chats       ChatSource
	Auth        Authenticator
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	opts      Options
	logger    *zap.Logger
	app       *tview.Application
	pages     *tview.Pages
	registry  *keys.Registry
	statusBar *views.StatusBar
	chatList  *views.ChatList
	thread    *views.TimelineView
	authView  *views.AuthView

	// UI goroutine only.
	active     *engine.Conversation
	activeChat store.Chat
	mirror     *mirror
	flash      flash

	chatsDirty atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		opts:      opts,
		logger:    opts.Logger,
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(),
		thread:    views.NewTimelineView(),
		authView:  views.NewAuthView(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(opts.SessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddPage(pageChats, &keys.Action{
		Rune: 'L', Key: tcell.KeyRune,
		Description: "L:logout", Visible: true,
		Handler: func() { go a.logout() },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Rune: 'o', Key: tcell.KeyRune,
		Description: "o:older", Visible: true,
		Handler: func() { go a.loadOlder(a.active) },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:resend", Visible: true,
		Handler: func() { a.withSelected(a.resend) },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Description: "d:delete", Visible: true,
		Handler: func() { a.withSelected(a.deleteLocal) },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Rune: 'D', Key: tcell.KeyRune,
		Description: "D:unsend", Visible: true,
		Handler: func() { a.withSelected(a.revoke) },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Rune: 'x', Key: tcell.KeyRune,
		Description: "x:interrupt", Visible: true,
		Handler: func() { go a.interrupt(a.active) },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(_, _ int) {
		if chat, ok := a.chatList.SelectedChat(); ok {
			a.openChat(chat)
		}
	})

	a.thread.SetOnSend(func(text string) {
		conv := a.active
		if conv == nil {
			return
		}
		go func() {
			if _, err := conv.SendText(a.ctx, text); err != nil {
				a.notify("Send failed: " + err.Error())
			}
		}()
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageChats, a.chatList, true, true)
	a.pages.AddPage(pageChat, a.thread, true, false)
	a.pages.AddPage(pageAuth, a.authView, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.refreshHints()

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch {
			case a.app.GetFocus() == a.thread.Composer():
				a.app.SetFocus(a.thread.Table())
				return nil
			case currentPage == pageChat || currentPage == pageAuth:
				a.showChats()
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == pageChat && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.thread.Composer())
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) refreshHints() {
	page, _ := a.pages.GetFrontPage()
	a.statusBar.SetHints(a.registry.Hints(page))
}

// openChat switches to a conversation, replacing the open one.
func (a *App) openChat(chat store.Chat) {
	a.closeActive()

	m := newMirror(a.flushMirror)
	conv := a.opts.Factory.Open(chat.JID, chat.IsGroup, engine.View{
		Observer: m,
		Heights:  rowHeight,
		Scroll:   m,
	})
	m.bind(conv, conv.Ledger().Get)
	conv.Start(a.ctx)

	a.active, a.activeChat, a.mirror = conv, chat, m
	a.thread.Reset()
	a.thread.SetChatName(chat.Name)
	a.statusBar.SetStreaming(false)
	a.pages.SwitchToPage(pageChat)
	a.app.SetFocus(a.thread.Table())
	a.refreshHints()

	go a.loadOlder(conv)
	go func() {
		if err := a.opts.Chats.MarkChatRead(a.ctx, chat.JID, time.Now().UnixMilli()); err != nil {
			a.logger.Warn("failed to mark chat read", zap.String("chat", chat.JID), zap.Error(err))
		}
		a.chatsDirty.Store(true)
	}()
}

func (a *App) closeActive() {
	if a.active == nil {
		return
	}
	// The loop may be waiting on the UI goroutine, so close off it.
	conv := a.active
	a.opts.Factory.Detach(conv)
	go conv.Close()
	a.active, a.mirror = nil, nil
	a.activeChat = store.Chat{}
}

func (a *App) showChats() {
	a.closeActive()
	a.pages.SwitchToPage(pageChats)
	a.app.SetFocus(a.chatList)
	a.refreshHints()
	a.chatsDirty.Store(true)
}

// flushMirror runs on the conversation loop. Batches of a mirror that is no
// longer active are dropped.
func (a *App) flushMirror(m *mirror, ops []op) {
	a.queue(func() {
		if a.mirror != m {
			return
		}
		replay(a.thread, ops)
		conv, visible := a.active, a.thread.Visible()
		go func() {
			if err := conv.ReportVisible(a.ctx, visible); err != nil && !errors.Is(err, engine.ErrClosed) {
				a.logger.Debug("report visible failed", zap.Error(err))
			}
		}()
	})
}

func (a *App) loadOlder(conv *engine.Conversation) {
	if conv == nil {
		return
	}
	res, err := conv.LoadOlder(a.ctx)
	switch {
	case errors.Is(err, engine.ErrClosed) || errors.Is(err, context.Canceled):
	case err != nil:
		a.notify("Load failed: " + err.Error())
	case res.Ignored && res.Exhausted:
		a.notify("Start of conversation")
	}
}

// withSelected resolves the selected row to its entry off the UI goroutine.
func (a *App) withSelected(fn func(conv *engine.Conversation, e *entry.Entry)) {
	conv, row := a.active, a.thread.Selected()
	if conv == nil || row < 0 {
		return
	}
	go func() {
		snap, err := conv.Snapshot(a.ctx)
		if err != nil || row >= len(snap) {
			return
		}
		fn(conv, snap[row])
	}()
}

func (a *App) resend(conv *engine.Conversation, e *entry.Entry) {
	if err := conv.Resend(a.ctx, e); err != nil {
		a.notify("Resend: " + err.Error())
	}
}

func (a *App) deleteLocal(conv *engine.Conversation, e *entry.Entry) {
	if err := conv.Delete(a.ctx, e); err != nil {
		a.notify("Delete: " + err.Error())
	}
}

func (a *App) revoke(conv *engine.Conversation, e *entry.Entry) {
	if e.Direction != entry.Outgoing {
		a.notify("Only your own messages can be unsent")
		return
	}
	if err := conv.Revoke(a.ctx, e); err != nil {
		a.notify(err.Error())
	}
}

func (a *App) interrupt(conv *engine.Conversation) {
	if conv == nil {
		return
	}
	sent, err := conv.Interrupt(a.ctx)
	switch {
	case err != nil:
		a.notify("Interrupt: " + err.Error())
	case !sent:
		a.notify("Interrupt rate limited")
	}
}

// queue runs fn on the UI goroutine and waits for it, giving up once the
// app has stopped. Never call it from the UI goroutine.
func (a *App) queue(fn func()) {
	done := make(chan struct{})
	go func() {
		a.app.QueueUpdateDraw(fn)
		close(done)
	}()
	select {
	case <-done:
	case <-a.ctx.Done():
	}
}

// notify shows a transient message. Not for use on the UI goroutine.
func (a *App) notify(msg string) {
	a.queue(func() {
		a.flash.set(msg, flashTTL)
		a.statusBar.SetFlash(msg)
	})
}

func (a *App) loadChats() {
	chats, err := a.opts.Chats.ListChats(a.ctx, 200, 0)
	if err != nil {
		a.notify("Load chats failed: " + err.Error())
		return
	}
	a.queue(func() {
		a.chatList.Update(chats)
	})
}

// watchBus reacts to transport, archive and session events.
func (a *App) watchBus() {
	if a.opts.Bus == nil {
		return
	}
	ch, unsub := a.opts.Bus.Subscribe("", 256)
	defer unsub()
	for {
		select {
		case evt := <-ch:
			a.handleEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.ArchiveMessageStored, bus.ArchiveHistoryStored:
		a.chatsDirty.Store(true)
	case bus.TransportConnected, bus.TransportDisconnected:
		connected := evt.Kind == bus.TransportConnected
		a.queue(func() { a.statusBar.SetConnected(connected) })
	case bus.TimelineSendFailed:
		if f, ok := evt.Payload.(outbox.SendFailure); ok && f.Surface {
			a.notify("Send failed: " + f.Desc)
		}
	case bus.TimelineStreamingChanged:
		c, ok := evt.Payload.(streaming.Change)
		if !ok {
			return
		}
		a.queue(func() {
			if c.ConversationID == a.activeChat.JID {
				a.statusBar.SetStreaming(c.Streaming)
			}
		})
	case bus.SessionLoggedOut:
		a.queue(func() {
			a.closeActive()
			a.pages.SwitchToPage(pageAuth)
			a.authView.ShowMessage("Logged out. Restart chatline to pair again.")
			a.refreshHints()
		})
	}
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go a.watchBus()

	if a.opts.Auth != nil && !a.opts.Auth.IsLoggedIn() {
		a.pages.SwitchToPage(pageAuth)
		a.authView.ShowMessage("Starting authentication...")
		a.refreshHints()
		go a.runAuthFlow()
	} else {
		go a.loadChats()
	}
	a.startRefreshLoop()

	err := a.app.Run()
	a.cancel()
	return err
}

func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if a.chatsDirty.Swap(false) {
					a.loadChats()
				}
				a.queue(func() {
					a.statusBar.SetFlash(a.flash.get(time.Now()))
				})
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// runAuthFlow streams pairing QR codes to the auth view.
func (a *App) runAuthFlow() {
	events, err := a.opts.Auth.StartQRAuth(a.ctx)
	if err != nil {
		a.queue(func() {
			a.authView.ShowMessage("Auth error: " + err.Error())
		})
		return
	}

	for evt := range events {
		switch evt.Type {
		case wa.AuthEventQRCode:
			code := evt.QRCode
			a.queue(func() {
				a.authView.ShowQR(code)
			})
		case wa.AuthEventAuthenticated:
			a.queue(func() {
				a.authView.ShowMessage("Authenticated! Loading chats...")
				a.showChats()
			})
			a.loadChats()
			return
		case wa.AuthEventAuthFailed, wa.AuthEventTimeout:
			msg := evt.Message
			if msg == "" {
				msg = "Authentication failed"
			}
			a.queue(func() {
				a.authView.ShowMessage(msg)
			})
			return
		}
	}
}

func (a *App) logout() {
	if a.opts.Auth == nil {
		return
	}
	if err := a.opts.Auth.Logout(a.ctx); err != nil {
		a.notify("Logout failed: " + err.Error())
		return
	}
	if a.opts.Bus != nil {
		a.opts.Bus.Publish(bus.NewEvent(bus.SessionLoggedOut, "user"))
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
