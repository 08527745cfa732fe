package backend

import "nostrtalk/go-backend/pkg/models"

// Event is a state-change notification for the collaborator layer. Every
// reconciler transition ends in at least one Event; None marks "handled,
// nothing to report" so dropped inputs stay distinguishable.
type Event interface {
	// Method names the event on the wire, jsonrpc-notification style.
	Method() string
}

type ContactCreated struct {
	Contact models.Contact
}

type ContactUpdated struct {
	Contact models.Contact
}

type ContactDeleted struct {
	Contact models.Contact
}

type ContactsImported struct {
	Contacts []models.Contact
}

type GotContacts struct {
	Contacts []models.Contact
}

// GotChat carries one conversation, oldest first, with plaintext filled in
// for every message that decrypts.
type GotChat struct {
	Peer     string
	Messages []models.ChatMessage
}

// ReceivedDirectMessage is a message involving an already-known contact.
type ReceivedDirectMessage struct {
	Contact models.Contact
	Message models.ChatMessage
}

// NewDirectMessageAndContact is a message whose counterparty was unknown
// until now; the contact was created lazily as part of the same transition.
type NewDirectMessageAndContact struct {
	Contact models.Contact
	Message models.ChatMessage
}

type RelayCreated struct {
	Relay models.RelayRecord
}

type RelayUpdated struct {
	Relay models.RelayRecord
}

type RelayDeleted struct {
	Relay models.RelayRecord
}

type GotRelays struct {
	Relays []models.RelayRecord
}

// EventInserted reports a freshly persisted confirmed event.
type EventInserted struct {
	Event models.StoredEvent
}

// LocalPendingEvent reports a locally signed event persisted as pending,
// before any relay has acknowledged it.
type LocalPendingEvent struct {
	Event models.StoredEvent
}

type RelayAckUpdated struct {
	Ack   models.RelayAck
	Event models.StoredEvent
}

type EndOfStoredEvents struct {
	RelayURL       string
	SubscriptionID string
}

type RelayStatusChanged struct {
	URL    string
	Status string
}

type Error struct {
	Message string
}

type None struct{}

func (ContactCreated) Method() string             { return "contact_created" }
func (ContactUpdated) Method() string             { return "contact_updated" }
func (ContactDeleted) Method() string             { return "contact_deleted" }
func (ContactsImported) Method() string           { return "contacts_imported" }
func (GotContacts) Method() string                { return "got_contacts" }
func (GotChat) Method() string                    { return "got_chat" }
func (ReceivedDirectMessage) Method() string      { return "received_dm" }
func (NewDirectMessageAndContact) Method() string { return "new_dm_and_contact" }
func (RelayCreated) Method() string               { return "relay_created" }
func (RelayUpdated) Method() string               { return "relay_updated" }
func (RelayDeleted) Method() string               { return "relay_deleted" }
func (GotRelays) Method() string                  { return "got_relays" }
func (EventInserted) Method() string              { return "event_inserted" }
func (LocalPendingEvent) Method() string          { return "local_pending_event" }
func (RelayAckUpdated) Method() string            { return "relay_ack_updated" }
func (EndOfStoredEvents) Method() string          { return "end_of_stored_events" }
func (RelayStatusChanged) Method() string         { return "relay_status_changed" }
func (Error) Method() string                      { return "error" }
func (None) Method() string                       { return "none" }
