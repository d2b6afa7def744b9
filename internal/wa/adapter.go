// Package wa adapts the whatsmeow client to the timeline's transport
// contracts.
package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/session"
	"github.com/matheus3301/chatline/internal/transport"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	session   string

	groupSizes sync.Map
}

// NewAdapter creates a new WhatsApp adapter for the given session.
func NewAdapter(ctx context.Context, sessionName string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Set device name shown on the phone's linked devices list.
	wastore.SetOSInfo("chatline", [3]uint32{0, 1, 0})

	dbPath := session.SessionDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	return &Adapter{
		client:    client,
		container: container,
		bus:       b,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// LocalUserID returns the logged-in user's JID without device suffix.
func (a *Adapter) LocalUserID() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return NormalizeJID(*a.client.Store.ID)
}

// NewMessageID returns a protocol message id for an outgoing message.
func (a *Adapter) NewMessageID() string {
	return a.client.GenerateMessageID()
}

// Send hands msg to WhatsApp. Only text bodies are sent; other message types
// are rejected. The handle reports 0 when the request is accepted and 100
// once the server acknowledged it.
func (a *Adapter) Send(ctx context.Context, msg *entry.RawMessage, _ transport.SendParams) (*transport.SendHandle, error) {
	if msg.Type != "" && msg.Type != entry.TypeText {
		return nil, transport.Wrap(transport.CodeInvalidTarget, fmt.Sprintf("sending %s messages is not supported", msg.Type), nil)
	}
	if msg.Body == "" {
		return nil, transport.Wrap(transport.CodeInvalidTarget, "empty message body", nil)
	}
	to, err := types.ParseJID(msg.ConversationID)
	if err != nil {
		return nil, transport.Wrap(transport.CodeInvalidTarget, "invalid recipient", err)
	}
	if !a.client.IsConnected() {
		return nil, transport.Wrap(transport.CodeNetwork, "not connected", whatsmeow.ErrNotConnected)
	}

	progress := make(chan int, 2)
	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer close(progress)
		progress <- 0
		resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
			Conversation: proto.String(msg.Body),
		}, whatsmeow.SendRequestExtra{ID: msg.ID})
		if err != nil {
			done <- classify(err)
			return
		}
		progress <- 100
		a.logger.Debug("message sent", zap.String("msg_id", resp.ID), zap.Time("server_ts", resp.Timestamp))
		done <- nil
	}()
	return &transport.SendHandle{Progress: progress, Done: done}, nil
}

// SendReadReceipts marks msgs as read, grouped by chat and sender.
func (a *Adapter) SendReadReceipts(ctx context.Context, msgs []*entry.RawMessage) error {
	type key struct{ chat, sender string }
	groups := make(map[key][]string)
	var order []key
	for _, m := range msgs {
		k := key{m.ConversationID, m.SenderID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m.ID)
	}

	var errs []error
	for _, k := range order {
		chat, err := types.ParseJID(k.chat)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse chat %q: %w", k.chat, err))
			continue
		}
		var sender types.JID
		if chat.Server == types.GroupServer {
			if sender, err = types.ParseJID(k.sender); err != nil {
				errs = append(errs, fmt.Errorf("parse sender %q: %w", k.sender, err))
				continue
			}
		}
		if err := a.client.MarkRead(ctx, groups[k], time.Now(), chat, sender); err != nil {
			errs = append(errs, classify(err))
		}
	}
	return errors.Join(errs...)
}

// Interrupt tells the peer the local user stopped composing in chat.
func (a *Adapter) Interrupt(ctx context.Context, conversationID string) error {
	chat, err := types.ParseJID(conversationID)
	if err != nil {
		return transport.Wrap(transport.CodeInvalidTarget, "invalid chat", err)
	}
	if err := a.client.SendChatPresence(ctx, chat, types.ChatPresencePaused, types.ChatPresenceMediaText); err != nil {
		return classify(err)
	}
	return nil
}

// Revoke deletes a sent message for everyone.
func (a *Adapter) Revoke(ctx context.Context, msg *entry.RawMessage) error {
	chat, err := types.ParseJID(msg.ConversationID)
	if err != nil {
		return transport.Wrap(transport.CodeInvalidTarget, "invalid chat", err)
	}
	var sender types.JID
	if !msg.FromMe {
		if sender, err = types.ParseJID(msg.SenderID); err != nil {
			return transport.Wrap(transport.CodeInvalidTarget, "invalid sender", err)
		}
	}
	if _, err := a.client.SendMessage(ctx, chat, a.client.BuildRevoke(chat, sender, msg.ID)); err != nil {
		return classify(err)
	}
	return nil
}

// GroupSize returns the participant count of a group, or 0 when unknown.
func (a *Adapter) GroupSize(ctx context.Context, group types.JID) int {
	key := group.String()
	if n, ok := a.groupSizes.Load(key); ok {
		return n.(int)
	}
	info, err := a.client.GetGroupInfo(ctx, group)
	if err != nil {
		a.logger.Debug("group info unavailable", zap.String("group", key), zap.Error(err))
		return 0
	}
	n := len(info.Participants)
	a.groupSizes.Store(key, n)
	return n
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// GetContacts returns all contacts from the whatsmeow device store.
func (a *Adapter) GetContacts(ctx context.Context) []entry.Contact {
	allContacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	contacts := make([]entry.Contact, 0, len(allContacts))
	for jid, info := range allContacts {
		contacts = append(contacts, entry.Contact{
			ID:       NormalizeJID(jid),
			Name:     info.FullName,
			PushName: info.PushName,
		})
	}
	return contacts
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

// classify maps whatsmeow failures onto transport codes.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return transport.Wrap(transport.CodeTimeout, "request timed out", err)
	case errors.Is(err, whatsmeow.ErrNotLoggedIn):
		return transport.Wrap(transport.CodeNotLoggedIn, "not logged in", err)
	case errors.Is(err, whatsmeow.ErrNotConnected):
		return transport.Wrap(transport.CodeNetwork, "not connected", err)
	default:
		return transport.Wrap(transport.CodeUnknown, err.Error(), err)
	}
}
