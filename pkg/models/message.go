package models

import "time"

// MessageStatus is the local delivery state of a direct message. It only
// ever moves forward: Offline -> Delivered -> Seen.
type MessageStatus int

const (
	StatusOffline   MessageStatus = 0
	StatusDelivered MessageStatus = 1
	StatusSeen      MessageStatus = 2
)

func (s MessageStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	}
	return "unknown"
}

// CanAdvanceTo reports whether moving to next keeps the status monotone.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next >= s
}

func (s MessageStatus) IsUnseen() bool {
	return s != StatusSeen
}

// ChatMessage is the decrypted shadow of an EncryptedDirectMessage event.
// Ciphertext is what the store keeps; Content is populated only after a
// successful decrypt and is never persisted. Undecryptable marks messages
// whose ciphertext failed to open under the expected key.
type ChatMessage struct {
	MsgID         int64         `json:"msg_id"`
	EventID       int64         `json:"event_id,omitempty"`
	Ciphertext    string        `json:"-"`
	Content       string        `json:"content"`
	FromPubKey    string        `json:"from_pubkey"`
	ToPubKey      string        `json:"to_pubkey"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        MessageStatus `json:"status"`
	Undecryptable bool          `json:"undecryptable,omitempty"`
	RelayURL      string        `json:"relay_url,omitempty"`
	IsLocal       bool          `json:"is_local"`
}

// Counterparty returns the remote side of the message given the local key.
func (m ChatMessage) Counterparty(localPubKey string) string {
	if m.FromPubKey == localPubKey {
		return m.ToPubKey
	}
	return m.FromPubKey
}
