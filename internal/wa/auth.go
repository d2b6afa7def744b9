package wa

import (
	"context"

	"github.com/matheus3301/chatline/internal/bus"
	"go.mau.fi/whatsmeow"
)

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent represents an auth lifecycle event.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// StartQRAuth begins the QR auth flow and streams events to the bus.
// Returns a channel of AuthEvents. The caller should read until the channel closes.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)

	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			out <- AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()}
			a.bus.Publish(bus.NewEvent(bus.SessionAuthFailed, err.Error()))
			return
		}

		for item := range qrChan {
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				evt := AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}
				out <- evt
				a.bus.Publish(bus.NewEvent(bus.SessionQRGenerated, item.Code))
			case whatsmeow.QRChannelSuccess.Event:
				evt := AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}
				out <- evt
				a.bus.Publish(bus.NewEvent(bus.SessionAuthenticated, nil))
				return
			case whatsmeow.QRChannelTimeout.Event:
				evt := AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}
				out <- evt
				a.bus.Publish(bus.NewEvent(bus.SessionAuthFailed, "timeout"))
				return
			default:
				if item.Error != nil {
					evt := AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}
					out <- evt
					a.bus.Publish(bus.NewEvent(bus.SessionAuthFailed, item.Error.Error()))
					return
				}
			}
		}
	}()

	return out, nil
}
