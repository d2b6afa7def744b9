package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespaces used as subscription prefixes.
const (
	NamespaceTransport = "transport."
	NamespaceTimeline  = "timeline."
	NamespaceSession   = "session."
	NamespaceArchive   = "archive."
)

// Events published by transport adapters.
const (
	TransportMessage      = "transport.message"
	TransportHistory      = "transport.history"
	TransportModified     = "transport.modified"
	TransportRevoked      = "transport.revoked"
	TransportReceipts     = "transport.receipts"
	TransportPresence     = "transport.presence"
	TransportContacts     = "transport.contacts"
	TransportConnected    = "transport.connected"
	TransportDisconnected = "transport.disconnected"
)

// Events published by the timeline engine.
const (
	TimelineSendAck          = "timeline.send_ack"
	TimelineSendFailed       = "timeline.send_failed"
	TimelineGroupReceipt     = "timeline.group_receipt"
	TimelineStreamingChanged = "timeline.streaming_changed"
	TimelineReadAcknowledged = "timeline.read_acknowledged"
)

// Events published once transport events are persisted.
const (
	ArchiveMessageStored = "archive.message_stored"
	ArchiveHistoryStored = "archive.history_stored"
)

// Events describing the session lifecycle.
const (
	SessionQRGenerated   = "session.qr_generated"
	SessionAuthenticated = "session.authenticated"
	SessionAuthFailed    = "session.auth_failed"
	SessionLoggedOut     = "session.logged_out"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
