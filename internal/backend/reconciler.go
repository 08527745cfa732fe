// Package backend is the reconciliation engine: a single-goroutine state
// machine consuming a merged stream of collaborator commands and relay
// notifications, writing through the sqlite store and emitting events on
// the hub. All store writes are serialized through this loop.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrtalk/go-backend/internal/codec"
	"nostrtalk/go-backend/internal/identity"
	"nostrtalk/go-backend/internal/relay"
	"nostrtalk/go-backend/internal/storage"
	"nostrtalk/go-backend/pkg/models"
)

var (
	// ErrSameContactOperation rejects contact commands that target the
	// local identity.
	ErrSameContactOperation = errors.New("backend: operation targets the local identity")

	// ErrInvalidPubKey rejects commands naming a malformed public key.
	ErrInvalidPubKey = errors.New("backend: invalid public key")
)

// Sessions is the slice of the relay session manager the reconciler
// drives. *relay.Pool satisfies it; tests use fakes.
type Sessions interface {
	Notifications() <-chan relay.Notification
	ConnectAll(ctx context.Context)
	AddRelay(url string, read, write bool)
	RemoveRelay(url string)
	SetRead(url string, on bool)
	SetWrite(url string, on bool)
	Subscribe(filters nostr.Filters)
	Publish(ctx context.Context, ev nostr.Event) error
}

// Reconciler owns the store's mutation path. It processes exactly one
// input per step; every transition runs to completion before the next
// input is taken, and a failed transition becomes an Error event instead
// of stopping the loop.
type Reconciler struct {
	store    *storage.Store
	keys     *identity.Keys
	sessions Sessions
	hub      *Hub
	log      *slog.Logger

	commands chan Command

	// runCtx outlives individual transitions; sessions started from a
	// command must not die with the command.
	runCtx context.Context
}

func NewReconciler(store *storage.Store, keys *identity.Keys, sessions Sessions, hub *Hub, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		keys:     keys,
		sessions: sessions,
		hub:      hub,
		log:      log,
		commands: make(chan Command, 64),
	}
}

// Dispatch queues a command for the loop.
func (r *Reconciler) Dispatch(ctx context.Context, cmd Command) error {
	select {
	case r.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the merged input stream until ctx ends, then closes the
// hub. It is the only goroutine that writes to the store.
func (r *Reconciler) Run(ctx context.Context) {
	r.runCtx = ctx
	defer r.hub.Close()

	notes := r.sessions.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			r.emit(r.handleCommand(ctx, cmd))
		case note := <-notes:
			r.emit(r.handleNotification(ctx, note))
		}
	}
}

func (r *Reconciler) emit(events []Event) {
	for _, ev := range events {
		r.hub.Publish(ev)
	}
}

func errEvent(err error) []Event {
	return []Event{Error{Message: err.Error()}}
}

// --- relay notifications ---

func (r *Reconciler) handleNotification(ctx context.Context, note relay.Notification) []Event {
	switch n := note.(type) {
	case relay.EventReceived:
		return r.ingestWireEvent(ctx, n.URL, n.Event)
	case relay.OKReceived:
		return r.handleOK(ctx, n)
	case relay.EndOfStoredEvents:
		return []Event{EndOfStoredEvents{RelayURL: n.URL, SubscriptionID: n.SubscriptionID}}
	case relay.NoticeReceived:
		r.log.Info("relay notice", "relay", n.URL, "text", n.Text)
		return nil
	case relay.StatusChanged:
		if err := r.store.SetRelayStatus(ctx, n.URL, n.Status); err != nil {
			r.log.Warn("persist relay status", "relay", n.URL, "error", err)
		}
		return []Event{RelayStatusChanged{URL: n.URL, Status: n.Status}}
	default:
		return nil
	}
}

// ingestWireEvent persists one inbound event as confirmed and dispatches
// by kind. A duplicate hash ends the transition with None; that is the
// defense against relay-level duplicate delivery and replay.
func (r *Reconciler) ingestWireEvent(ctx context.Context, url string, ev *nostr.Event) []Event {
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		r.log.Warn("dropping event with bad signature", "relay", url, "event_hash", ev.ID)
		return nil
	}
	stored := models.FromWireEvent(ev, true)

	// A direct message without a valid recipient tag cannot be attributed
	// to a conversation; drop it before it reaches the store.
	if stored.Kind == nostr.KindEncryptedDirectMessage {
		if _, ok := stored.RecipientTag(); !ok {
			r.log.Warn("dropping direct message without recipient tag",
				"relay", url, "event_hash", stored.Hash)
			return nil
		}
	}

	rowID, inserted, err := r.store.InsertEvent(ctx, stored)
	if err != nil {
		return errEvent(err)
	}
	if !inserted {
		return []Event{None{}}
	}
	stored.ID = rowID

	// CreatedAt is event-asserted and a lying relay can date it arbitrarily
	// far ahead; an unclamped advance would pin the watermark there and
	// every later subscription's since-filter would skip genuine events.
	watermark := stored.CreatedAt
	if now := time.Now().UTC(); watermark.After(now) {
		watermark = now
	}
	if err := r.store.StoreLastEventTimestamp(ctx, watermark); err != nil {
		r.log.Warn("advance watermark", "error", err)
	}

	events := []Event{EventInserted{Event: stored}}
	return append(events, r.dispatchKind(ctx, url, stored)...)
}

func (r *Reconciler) dispatchKind(ctx context.Context, url string, stored models.StoredEvent) []Event {
	switch stored.Kind {
	case nostr.KindProfileMetadata:
		return r.applyMetadata(ctx, stored)
	case nostr.KindContactList:
		return r.applyContactList(ctx, stored)
	case nostr.KindEncryptedDirectMessage:
		return r.applyDirectMessage(ctx, url, stored)
	case nostr.KindRecommendServer:
		return r.applyRecommendedRelay(ctx, stored)
	default:
		if stored.IsChannelKind() {
			return r.applyChannelEvent(ctx, stored)
		}
		// Unknown kinds stay in the store for audit, no derived state.
		return nil
	}
}

func (r *Reconciler) applyMetadata(ctx context.Context, stored models.StoredEvent) []Event {
	var profile models.ProfileMetadata
	if err := json.Unmarshal([]byte(stored.Content), &profile); err != nil {
		r.log.Warn("dropping malformed metadata", "event_hash", stored.Hash)
		return nil
	}

	if r.keys.IsLocal(stored.PubKey) {
		if err := r.store.SaveLocalProfile(ctx, profile); err != nil {
			return errEvent(err)
		}
		return nil
	}

	existing, err := r.store.FetchContact(ctx, stored.PubKey)
	if errors.Is(err, storage.ErrNotFound) {
		merged, _ := MergeMetadata(models.Contact{PubKey: stored.PubKey}, profile, stored.CreatedAt)
		if _, err := r.store.InsertContact(ctx, merged); err != nil {
			return errEvent(err)
		}
		return []Event{ContactCreated{Contact: merged}}
	}
	if err != nil {
		return errEvent(err)
	}

	merged, changed := MergeMetadata(existing, profile, stored.CreatedAt)
	if !changed {
		return nil
	}
	if err := r.store.UpdateContact(ctx, merged); err != nil {
		return errEvent(err)
	}
	return []Event{ContactUpdated{Contact: merged}}
}

// applyContactList upserts every p-tagged key of the local identity's own
// contact list. Lists authored by other identities describe their
// following state, not ours; they are observed and discarded.
func (r *Reconciler) applyContactList(ctx context.Context, stored models.StoredEvent) []Event {
	if !r.keys.IsLocal(stored.PubKey) {
		return nil
	}

	var events []Event
	for _, tag := range stored.Tags {
		if len(tag) < 2 || tag[0] != "p" || !nostr.IsValidPublicKey(tag[1]) {
			continue
		}
		contact := models.Contact{PubKey: tag[1]}
		if len(tag) > 2 {
			contact.RecommendedRelay = tag[2]
		}
		if len(tag) > 3 {
			contact.Petname = tag[3]
		}
		created, err := r.store.InsertContact(ctx, contact)
		if err != nil {
			return append(events, Error{Message: err.Error()})
		}
		if created {
			events = append(events, ContactCreated{Contact: contact})
		}
	}
	return events
}

// applyDirectMessage decrypts, or degrades to an undecryptable row, and
// lazily creates the counterparty contact.
func (r *Reconciler) applyDirectMessage(ctx context.Context, url string, stored models.StoredEvent) []Event {
	to, _ := stored.RecipientTag()
	isLocalAuthor := r.keys.IsLocal(stored.PubKey)
	peer := codec.Counterparty(r.keys.PublicKey(), stored.PubKey, to)

	msg := models.ChatMessage{
		EventID:    stored.ID,
		Ciphertext: stored.Content,
		FromPubKey: stored.PubKey,
		ToPubKey:   to,
		CreatedAt:  stored.CreatedAt,
		Status:     models.StatusDelivered,
		RelayURL:   url,
		IsLocal:    isLocalAuthor,
	}
	plaintext, err := codec.Decrypt(r.keys.SecretKey(), peer, stored.Content)
	if err != nil {
		r.log.Info("undecryptable direct message", "event_hash", stored.Hash, "peer", peer)
		msg.Undecryptable = true
	} else {
		msg.Content = plaintext
	}

	msgID, err := r.store.InsertMessage(ctx, msg)
	if err != nil {
		return errEvent(err)
	}
	msg.MsgID = msgID

	contact, err := r.store.FetchContact(ctx, peer)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if _, err := r.store.InsertContact(ctx, models.Contact{PubKey: peer}); err != nil {
			return errEvent(err)
		}
		contact, err = r.store.RecordNewMessage(ctx, peer, msgID, !isLocalAuthor)
		if err != nil {
			return errEvent(err)
		}
		return []Event{NewDirectMessageAndContact{Contact: contact, Message: msg}}
	case err != nil:
		return errEvent(err)
	default:
		contact, err = r.store.RecordNewMessage(ctx, contact.PubKey, msgID, !isLocalAuthor)
		if err != nil {
			return errEvent(err)
		}
		return []Event{ReceivedDirectMessage{Contact: contact, Message: msg}}
	}
}

func (r *Reconciler) applyRecommendedRelay(ctx context.Context, stored models.StoredEvent) []Event {
	contact, err := r.store.FetchContact(ctx, stored.PubKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errEvent(err)
	}
	if stored.Content == "" || contact.RecommendedRelay == stored.Content {
		return nil
	}
	contact.RecommendedRelay = stored.Content
	if err := r.store.UpdateContact(ctx, contact); err != nil {
		return errEvent(err)
	}
	return []Event{ContactUpdated{Contact: contact}}
}

func (r *Reconciler) applyChannelEvent(ctx context.Context, stored models.StoredEvent) []Event {
	switch stored.Kind {
	case nostr.KindChannelCreation:
		var meta models.ChannelMetadata
		if stored.Content != "" {
			if err := json.Unmarshal([]byte(stored.Content), &meta); err != nil {
				r.log.Warn("malformed channel creation", "event_hash", stored.Hash)
				return nil
			}
		}
		if _, err := r.store.CreateChannel(ctx, models.ChannelCache{
			ChannelID:     stored.Hash,
			CreatorPubKey: stored.PubKey,
			CreatedAt:     stored.CreatedAt,
			Metadata:      meta,
		}); err != nil {
			return errEvent(err)
		}

	case nostr.KindChannelMetadata:
		channelID, ok := channelTag(stored.Tags)
		if !ok {
			r.log.Warn("channel metadata without channel tag", "event_hash", stored.Hash)
			return nil
		}
		var meta models.ChannelMetadata
		if err := json.Unmarshal([]byte(stored.Content), &meta); err != nil {
			r.log.Warn("malformed channel metadata", "event_hash", stored.Hash)
			return nil
		}
		if _, err := r.store.UpdateChannelMetadata(ctx, channelID, stored.Hash, meta, stored.CreatedAt); err != nil {
			return errEvent(err)
		}

	case nostr.KindChannelMessage:
		channelID, ok := channelTag(stored.Tags)
		if !ok {
			return nil
		}
		if err := r.store.AddChannelMember(ctx, channelID, stored.PubKey); err != nil {
			return errEvent(err)
		}
	}
	// Hide and mute events are kept for audit only.
	return nil
}

func channelTag(tags nostr.Tags) (string, bool) {
	tag := tags.GetFirst([]string{"e"})
	if tag == nil || tag.Value() == "" {
		return "", false
	}
	return tag.Value(), true
}

// handleOK correlates a relay verdict with the stored event, confirms it
// on first accept, and appends the ack row regardless of prior
// confirmation so acknowledgment history stays complete per relay.
func (r *Reconciler) handleOK(ctx context.Context, n relay.OKReceived) []Event {
	stored, err := r.store.EventByHash(ctx, n.EventID)
	if errors.Is(err, storage.ErrNotFound) {
		// A relay acknowledged an event we never sent.
		r.log.Warn("ack for unknown event", "relay", n.URL, "event_hash", n.EventID)
		return nil
	}
	if err != nil {
		return errEvent(err)
	}

	if n.Accepted && !stored.Confirmed {
		stored, err = r.store.ConfirmEvent(ctx, stored.ID)
		if err != nil {
			return errEvent(err)
		}
		if stored.Kind == nostr.KindEncryptedDirectMessage {
			if msg, err := r.store.MessageByEventID(ctx, stored.ID); err == nil &&
				msg.Status < models.StatusDelivered {
				if err := r.store.UpdateMessageStatus(ctx, msg.MsgID, models.StatusDelivered); err != nil {
					return errEvent(err)
				}
			}
		}
	}

	ack := models.RelayAck{
		EventID:      stored.ID,
		EventHash:    stored.Hash,
		RelayURL:     n.URL,
		Accepted:     n.Accepted,
		ErrorMessage: n.Reason,
	}
	if err := r.store.InsertRelayAck(ctx, ack); err != nil {
		return errEvent(err)
	}
	return []Event{RelayAckUpdated{Ack: ack, Event: stored}}
}

// --- commands ---

func (r *Reconciler) handleCommand(ctx context.Context, cmd Command) []Event {
	switch c := cmd.(type) {
	case FetchContacts:
		contacts, err := r.store.FetchContacts(ctx)
		if err != nil {
			return errEvent(err)
		}
		return []Event{GotContacts{Contacts: contacts}}

	case AddContact:
		return r.addContact(ctx, c.Contact)

	case UpdateContact:
		if err := r.guardContact(c.Contact.PubKey); err != nil {
			return errEvent(err)
		}
		if err := r.store.UpdateContact(ctx, c.Contact); err != nil {
			return errEvent(err)
		}
		return []Event{ContactUpdated{Contact: c.Contact}}

	case DeleteContact:
		return r.deleteContact(ctx, c.PubKey)

	case ImportContacts:
		return r.importContacts(ctx, c.Contacts)

	case SendDirectMessage:
		return r.sendDirectMessage(ctx, c.PeerPubKey, c.Plaintext)

	case MarkChatSeen:
		return r.markChatSeen(ctx, c.PeerPubKey)

	case FetchChat:
		return r.fetchChat(ctx, c.PeerPubKey)

	case AddRelay:
		rec := models.RelayRecord{URL: c.URL, Read: true, Write: true, LastStatus: models.RelayDisconnected}
		if err := r.store.UpsertRelay(ctx, rec); err != nil {
			return errEvent(err)
		}
		r.sessions.AddRelay(c.URL, rec.Read, rec.Write)
		return []Event{RelayCreated{Relay: rec}}

	case DeleteRelay:
		rec, err := r.store.FetchRelay(ctx, c.URL)
		if err != nil {
			return errEvent(err)
		}
		if err := r.store.DeleteRelay(ctx, c.URL); err != nil {
			return errEvent(err)
		}
		r.sessions.RemoveRelay(c.URL)
		return []Event{RelayDeleted{Relay: rec}}

	case ToggleRelayRead:
		rec, err := r.store.SetRelayRead(ctx, c.URL, c.Read)
		if err != nil {
			return errEvent(err)
		}
		r.sessions.SetRead(c.URL, c.Read)
		return []Event{RelayUpdated{Relay: rec}}

	case ToggleRelayWrite:
		rec, err := r.store.SetRelayWrite(ctx, c.URL, c.Write)
		if err != nil {
			return errEvent(err)
		}
		r.sessions.SetWrite(c.URL, c.Write)
		return []Event{RelayUpdated{Relay: rec}}

	case ConnectRelays:
		return r.connectRelays(ctx)

	case FetchRelayAcks:
		return r.fetchRelayAcks(ctx, c.EventID)

	case SendContactList:
		return r.sendContactList(ctx)

	default:
		return []Event{None{}}
	}
}

func (r *Reconciler) guardContact(pubkey string) error {
	if !nostr.IsValidPublicKey(pubkey) {
		return ErrInvalidPubKey
	}
	if r.keys.IsLocal(pubkey) {
		return ErrSameContactOperation
	}
	return nil
}

func (r *Reconciler) addContact(ctx context.Context, contact models.Contact) []Event {
	if err := r.guardContact(contact.PubKey); err != nil {
		return errEvent(err)
	}
	created, err := r.store.InsertContact(ctx, contact)
	if err != nil {
		return errEvent(err)
	}
	if !created {
		return []Event{Error{Message: "backend: contact already exists"}}
	}
	return []Event{ContactCreated{Contact: contact}}
}

func (r *Reconciler) deleteContact(ctx context.Context, pubkey string) []Event {
	if err := r.guardContact(pubkey); err != nil {
		return errEvent(err)
	}
	contact, err := r.store.FetchContact(ctx, pubkey)
	if err != nil {
		return errEvent(err)
	}
	if err := r.store.DeleteContact(ctx, pubkey); err != nil {
		return errEvent(err)
	}
	return []Event{ContactDeleted{Contact: contact}}
}

func (r *Reconciler) importContacts(ctx context.Context, contacts []models.Contact) []Event {
	kept := make([]models.Contact, 0, len(contacts))
	for _, c := range contacts {
		if nostr.IsValidPublicKey(c.PubKey) && !r.keys.IsLocal(c.PubKey) {
			kept = append(kept, c)
		}
	}
	if err := r.store.ImportContacts(ctx, kept); err != nil {
		return errEvent(err)
	}
	return []Event{ContactsImported{Contacts: kept}}
}

// sendDirectMessage signs and persists the event as pending, records the
// local message row, then fans the publish out. Relay verdicts arrive
// later as OK notifications keyed by the event hash.
func (r *Reconciler) sendDirectMessage(ctx context.Context, peer, plaintext string) []Event {
	if err := r.guardContact(peer); err != nil {
		return errEvent(err)
	}
	ciphertext, err := codec.Encrypt(r.keys.SecretKey(), peer, plaintext)
	if err != nil {
		return errEvent(err)
	}

	wire := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", peer}},
		Content:   ciphertext,
	}
	if err := r.keys.Sign(&wire); err != nil {
		return errEvent(err)
	}

	stored := models.FromWireEvent(&wire, false)
	rowID, _, err := r.store.InsertEvent(ctx, stored)
	if err != nil {
		return errEvent(err)
	}
	stored.ID = rowID

	msg := models.ChatMessage{
		EventID:    rowID,
		Ciphertext: ciphertext,
		Content:    plaintext,
		FromPubKey: r.keys.PublicKey(),
		ToPubKey:   peer,
		CreatedAt:  stored.CreatedAt,
		Status:     models.StatusOffline,
		IsLocal:    true,
	}
	msgID, err := r.store.InsertMessage(ctx, msg)
	if err != nil {
		return errEvent(err)
	}
	msg.MsgID = msgID

	var events []Event
	created, err := r.store.InsertContact(ctx, models.Contact{PubKey: peer})
	if err != nil {
		return errEvent(err)
	}
	contact, err := r.store.RecordNewMessage(ctx, peer, msgID, false)
	if err != nil {
		return errEvent(err)
	}
	if created {
		events = append(events, ContactCreated{Contact: contact})
	}
	events = append(events, LocalPendingEvent{Event: stored})

	if err := r.sessions.Publish(ctx, wire); err != nil {
		events = append(events, Error{Message: err.Error()})
	}
	return events
}

func (r *Reconciler) markChatSeen(ctx context.Context, peer string) []Event {
	if err := r.guardContact(peer); err != nil {
		return errEvent(err)
	}
	if _, err := r.store.MarkChatSeen(ctx, r.keys.PublicKey(), peer); err != nil {
		return errEvent(err)
	}
	contact, err := r.store.ResetUnseen(ctx, peer)
	if err != nil {
		return errEvent(err)
	}
	return []Event{ContactUpdated{Contact: contact}}
}

// fetchChat re-decrypts the conversation on the way out; only the
// ciphertext is durable.
func (r *Reconciler) fetchChat(ctx context.Context, peer string) []Event {
	if err := r.guardContact(peer); err != nil {
		return errEvent(err)
	}
	msgs, err := r.store.FetchChat(ctx, r.keys.PublicKey(), peer)
	if err != nil {
		return errEvent(err)
	}
	for i := range msgs {
		if msgs[i].Undecryptable {
			continue
		}
		counterparty := codec.Counterparty(r.keys.PublicKey(), msgs[i].FromPubKey, msgs[i].ToPubKey)
		plaintext, err := codec.Decrypt(r.keys.SecretKey(), counterparty, msgs[i].Ciphertext)
		if err != nil {
			msgs[i].Undecryptable = true
			continue
		}
		msgs[i].Content = plaintext
	}
	return []Event{GotChat{Peer: peer, Messages: msgs}}
}

func (r *Reconciler) connectRelays(ctx context.Context) []Event {
	relays, err := r.store.FetchRelays(ctx)
	if err != nil {
		return errEvent(err)
	}
	for _, rec := range relays {
		r.sessions.AddRelay(rec.URL, rec.Read, rec.Write)
	}

	contacts, err := r.store.FetchContacts(ctx)
	if err != nil {
		return errEvent(err)
	}
	watermark, err := r.store.LatestEventTimestamp(ctx)
	if err != nil {
		return errEvent(err)
	}
	r.sessions.Subscribe(SubscriptionFilters(r.keys.PublicKey(), contacts, watermark))
	r.sessions.ConnectAll(r.runCtx)
	return []Event{GotRelays{Relays: relays}}
}

func (r *Reconciler) fetchRelayAcks(ctx context.Context, eventID int64) []Event {
	stored, err := r.store.EventByID(ctx, eventID)
	if err != nil {
		return errEvent(err)
	}
	acks, err := r.store.FetchRelayAcks(ctx, eventID)
	if err != nil {
		return errEvent(err)
	}
	if len(acks) == 0 {
		return []Event{None{}}
	}
	events := make([]Event, 0, len(acks))
	for _, ack := range acks {
		events = append(events, RelayAckUpdated{Ack: ack, Event: stored})
	}
	return events
}

// sendContactList publishes the follow list as a contact-list event with
// one p tag per stored contact.
func (r *Reconciler) sendContactList(ctx context.Context) []Event {
	contacts, err := r.store.FetchContacts(ctx)
	if err != nil {
		return errEvent(err)
	}
	tags := make(nostr.Tags, 0, len(contacts))
	for _, c := range contacts {
		tags = append(tags, nostr.Tag{"p", c.PubKey, c.RecommendedRelay, c.Petname})
	}

	wire := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindContactList,
		Tags:      tags,
	}
	if err := r.keys.Sign(&wire); err != nil {
		return errEvent(err)
	}

	stored := models.FromWireEvent(&wire, false)
	rowID, _, err := r.store.InsertEvent(ctx, stored)
	if err != nil {
		return errEvent(err)
	}
	stored.ID = rowID

	events := []Event{LocalPendingEvent{Event: stored}}
	if err := r.sessions.Publish(ctx, wire); err != nil {
		events = append(events, Error{Message: err.Error()})
	}
	return events
}
