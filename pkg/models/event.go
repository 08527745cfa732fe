package models

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// StoredEvent is the durable form of a wire event. Hash is the protocol
// content address and is globally unique in the store; ID is the local row
// id assigned on first insert. A pending event exists locally before any
// relay acknowledges it and becomes confirmed on the first OK, never the
// reverse.
type StoredEvent struct {
	ID        int64      `json:"id"`
	Hash      string     `json:"hash"`
	PubKey    string     `json:"pubkey"`
	Kind      int        `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	Tags      nostr.Tags `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
	Confirmed bool       `json:"confirmed"`
}

// FromWireEvent converts a signed wire event into its stored form.
func FromWireEvent(ev *nostr.Event, confirmed bool) StoredEvent {
	return StoredEvent{
		Hash:      ev.ID,
		PubKey:    ev.PubKey,
		Kind:      ev.Kind,
		CreatedAt: ev.CreatedAt.Time().UTC(),
		Tags:      ev.Tags,
		Content:   ev.Content,
		Sig:       ev.Sig,
		Confirmed: confirmed,
	}
}

// RecipientTag returns the first p-tag value of a direct-message event.
// The second value reports whether the tag was present and well formed.
func (e StoredEvent) RecipientTag() (string, bool) {
	tag := e.Tags.GetFirst([]string{"p"})
	if tag == nil {
		return "", false
	}
	value := tag.Value()
	if !nostr.IsValidPublicKey(value) {
		return "", false
	}
	return value, true
}

// IsChannelKind reports whether the event folds into the channel cache.
func (e StoredEvent) IsChannelKind() bool {
	switch e.Kind {
	case nostr.KindChannelCreation, nostr.KindChannelMetadata,
		nostr.KindChannelMessage, nostr.KindChannelHideMessage,
		nostr.KindChannelMuteUser:
		return true
	}
	return false
}
