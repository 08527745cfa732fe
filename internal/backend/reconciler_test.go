package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrtalk/go-backend/internal/codec"
	"nostrtalk/go-backend/internal/identity"
	"nostrtalk/go-backend/internal/relay"
	"nostrtalk/go-backend/internal/storage"
	"nostrtalk/go-backend/pkg/models"
)

type fakeSessions struct {
	mu         sync.Mutex
	notes      chan relay.Notification
	published  []nostr.Event
	publishErr error
	filters    nostr.Filters
	added      []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{notes: make(chan relay.Notification, 16)}
}

func (f *fakeSessions) Notifications() <-chan relay.Notification { return f.notes }
func (f *fakeSessions) ConnectAll(ctx context.Context)           {}
func (f *fakeSessions) RemoveRelay(url string)                   {}
func (f *fakeSessions) SetRead(url string, on bool)              {}
func (f *fakeSessions) SetWrite(url string, on bool)             {}

func (f *fakeSessions) AddRelay(url string, read, write bool) {
	f.mu.Lock()
	f.added = append(f.added, url)
	f.mu.Unlock()
}

func (f *fakeSessions) Subscribe(filters nostr.Filters) {
	f.mu.Lock()
	f.filters = filters
	f.mu.Unlock()
}

func (f *fakeSessions) Publish(ctx context.Context, ev nostr.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ev)
	return f.publishErr
}

func (f *fakeSessions) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeSessions, *storage.Store, *identity.Keys) {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "talkd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	keys, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	sessions := newFakeSessions()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewReconciler(store, keys, sessions, NewHub(256), log)
	r.runCtx = context.Background()
	return r, sessions, store, keys
}

func findEvent[T Event](t *testing.T, events []Event) T {
	t.Helper()
	for _, ev := range events {
		if v, ok := ev.(T); ok {
			return v
		}
	}
	var zero T
	t.Fatalf("no %T among %d events: %+v", zero, len(events), events)
	return zero
}

func hasEvent[T Event](events []Event) bool {
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			return true
		}
	}
	return false
}

func signedDM(t *testing.T, author *identity.Keys, toPub, plaintext string, at nostr.Timestamp) *nostr.Event {
	t.Helper()
	ciphertext, err := codec.Encrypt(author.SecretKey(), toPub, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ev := &nostr.Event{
		CreatedAt: at,
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", toPub}},
		Content:   ciphertext,
	}
	if err := author.Sign(ev); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ev
}

func signedEvent(t *testing.T, author *identity.Keys, kind int, content string, tags nostr.Tags, at nostr.Timestamp) *nostr.Event {
	t.Helper()
	ev := &nostr.Event{CreatedAt: at, Kind: kind, Tags: tags, Content: content}
	if err := author.Sign(ev); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ev
}

func TestInboundDirectMessageEndToEnd(t *testing.T) {
	r, _, store, keys := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()

	wire := signedDM(t, peer, keys.PublicKey(), "hello there", nostr.Now())
	events := r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: wire})

	inserted := findEvent[EventInserted](t, events)
	if !inserted.Event.Confirmed {
		t.Fatal("inbound events persist as confirmed")
	}
	fresh := findEvent[NewDirectMessageAndContact](t, events)
	if fresh.Contact.PubKey != peer.PublicKey() || fresh.Contact.UnseenCount != 1 {
		t.Fatalf("lazy contact wrong: %+v", fresh.Contact)
	}
	if fresh.Message.Content != "hello there" || fresh.Message.Status != models.StatusDelivered {
		t.Fatalf("message wrong: %+v", fresh.Message)
	}

	// Duplicate delivery of the same event is a terminal no-op.
	dup := r.handleNotification(ctx, relay.EventReceived{URL: "wss://r2", Event: wire})
	if len(dup) != 1 || !hasEvent[None](dup) {
		t.Fatalf("duplicate must yield None only: %+v", dup)
	}
	chat, err := store.FetchChat(ctx, keys.PublicKey(), peer.PublicKey())
	if err != nil || len(chat) != 1 {
		t.Fatalf("duplicate created extra rows: %d %v", len(chat), err)
	}

	// A later OK for the already-confirmed event still appends the ack.
	acked := r.handleNotification(ctx, relay.OKReceived{URL: "wss://r1", EventID: wire.ID, Accepted: true})
	ack := findEvent[RelayAckUpdated](t, acked)
	if !ack.Ack.Accepted || ack.Event.Hash != wire.ID {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	acks, err := store.FetchRelayAcks(ctx, inserted.Event.ID)
	if err != nil || len(acks) != 1 {
		t.Fatalf("ack history wrong: %d %v", len(acks), err)
	}
}

func TestKnownContactEmitsReceivedDirectMessage(t *testing.T) {
	r, _, store, keys := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()
	if _, err := store.InsertContact(ctx, models.Contact{PubKey: peer.PublicKey(), Petname: "zed"}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	wire := signedDM(t, peer, keys.PublicKey(), "again", nostr.Now())
	events := r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: wire})
	got := findEvent[ReceivedDirectMessage](t, events)
	if got.Contact.Petname != "zed" {
		t.Fatalf("existing contact not reused: %+v", got.Contact)
	}
	if hasEvent[NewDirectMessageAndContact](events) {
		t.Fatal("known contact must not look freshly created")
	}
}

func TestUndecryptableMessageStillStored(t *testing.T) {
	r, _, store, keys := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()

	wire := signedEvent(t, peer, nostr.KindEncryptedDirectMessage, "not-a-ciphertext",
		nostr.Tags{{"p", keys.PublicKey()}}, nostr.Now())
	events := r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: wire})

	msg := findEvent[NewDirectMessageAndContact](t, events).Message
	if !msg.Undecryptable || msg.Content != "" {
		t.Fatalf("expected undecryptable row: %+v", msg)
	}
	stored, err := store.MessageByID(ctx, msg.MsgID)
	if err != nil || !stored.Undecryptable {
		t.Fatalf("undecryptable marker not durable: %+v %v", stored, err)
	}
}

func TestMetadataLastWriteWins(t *testing.T) {
	r, _, store, _ := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()

	at := func(sec int64) nostr.Timestamp { return nostr.Timestamp(sec) }
	first := signedEvent(t, peer, nostr.KindProfileMetadata, `{"name":"first"}`, nil, at(100))
	older := signedEvent(t, peer, nostr.KindProfileMetadata, `{"name":"older"}`, nil, at(50))
	newer := signedEvent(t, peer, nostr.KindProfileMetadata, `{"name":"newer","about":"hi"}`, nil, at(150))

	events := r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: first})
	if findEvent[ContactCreated](t, events).Contact.Profile.Name != "first" {
		t.Fatal("first metadata must create the contact")
	}

	events = r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: older})
	if hasEvent[ContactUpdated](events) || hasEvent[ContactCreated](events) {
		t.Fatalf("older metadata must not apply: %+v", events)
	}

	events = r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: newer})
	updated := findEvent[ContactUpdated](t, events).Contact
	if updated.Profile.Name != "newer" || updated.Profile.About != "hi" {
		t.Fatalf("newer metadata not applied: %+v", updated.Profile)
	}

	c, err := store.FetchContact(ctx, peer.PublicKey())
	if err != nil || c.Profile.Name != "newer" {
		t.Fatalf("store disagrees: %+v %v", c, err)
	}
}

func TestWatermarkClampsFutureAssertedTime(t *testing.T) {
	r, _, store, keys := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()

	future := nostr.Timestamp(time.Now().Add(48 * time.Hour).Unix())
	r.handleNotification(ctx, relay.EventReceived{
		URL: "wss://r1", Event: signedDM(t, peer, keys.PublicKey(), "from tomorrow", future)})

	ts, err := store.LatestEventTimestamp(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if ts.IsZero() {
		t.Fatal("watermark must still advance to receipt time")
	}
	if ts.After(time.Now().Add(time.Minute)) {
		t.Fatalf("future-dated event pinned the watermark: %v", ts)
	}

	// An honest event afterwards keeps advancing it normally.
	honest := nostr.Timestamp(time.Now().Unix())
	r.handleNotification(ctx, relay.EventReceived{
		URL: "wss://r1", Event: signedDM(t, peer, keys.PublicKey(), "now", honest)})
	ts2, err := store.LatestEventTimestamp(ctx)
	if err != nil || ts2.Before(ts) {
		t.Fatalf("watermark regressed: %v -> %v (%v)", ts, ts2, err)
	}
}

func TestContactListOwnAndForeign(t *testing.T) {
	r, _, store, keys := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()
	friend, _ := identity.Generate()

	own := signedEvent(t, keys, nostr.KindContactList, "",
		nostr.Tags{{"p", friend.PublicKey(), "wss://hint", "buddy"}}, nostr.Now())
	events := r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: own})
	created := findEvent[ContactCreated](t, events).Contact
	if created.PubKey != friend.PublicKey() || created.Petname != "buddy" || created.RecommendedRelay != "wss://hint" {
		t.Fatalf("contact-list entry wrong: %+v", created)
	}

	stranger, _ := identity.Generate()
	foreign := signedEvent(t, peer, nostr.KindContactList, "",
		nostr.Tags{{"p", stranger.PublicKey()}}, nostr.Now())
	events = r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: foreign})
	if hasEvent[ContactCreated](events) {
		t.Fatal("foreign contact lists must be discarded")
	}
	if _, err := store.FetchContact(ctx, stranger.PublicKey()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign list created a contact: %v", err)
	}
}

func TestSendDirectMessageLifecycle(t *testing.T) {
	r, sessions, store, _ := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()

	events := r.handleCommand(ctx, SendDirectMessage{PeerPubKey: peer.PublicKey(), Plaintext: "ping"})
	pending := findEvent[LocalPendingEvent](t, events).Event
	if pending.Confirmed {
		t.Fatal("outbound event must start pending")
	}
	if sessions.publishCount() != 1 {
		t.Fatalf("expected one fan-out publish, got %d", sessions.publishCount())
	}
	if !hasEvent[ContactCreated](events) {
		t.Fatal("sending to an unknown peer must create the contact")
	}

	msg, err := store.MessageByEventID(ctx, pending.ID)
	if err != nil || msg.Status != models.StatusOffline {
		t.Fatalf("local message must start offline: %+v %v", msg, err)
	}

	// First relay OK confirms the event and advances the message.
	acked := r.handleNotification(ctx, relay.OKReceived{URL: "wss://r1", EventID: pending.Hash, Accepted: true})
	ack := findEvent[RelayAckUpdated](t, acked)
	if !ack.Event.Confirmed {
		t.Fatal("first OK must confirm the event")
	}
	msg, err = store.MessageByEventID(ctx, pending.ID)
	if err != nil || msg.Status != models.StatusDelivered {
		t.Fatalf("message not delivered after OK: %+v %v", msg, err)
	}

	// A second relay's OK appends history without touching confirmation.
	r.handleNotification(ctx, relay.OKReceived{URL: "wss://r2", EventID: pending.Hash, Accepted: true})
	acks, err := store.FetchRelayAcks(ctx, pending.ID)
	if err != nil || len(acks) != 2 {
		t.Fatalf("expected 2 acks, got %d (%v)", len(acks), err)
	}
}

func TestSendDirectMessageNoRelayToWrite(t *testing.T) {
	r, sessions, _, _ := newTestReconciler(t)
	sessions.publishErr = relay.ErrNoRelayToWrite
	peer, _ := identity.Generate()

	events := r.handleCommand(context.Background(),
		SendDirectMessage{PeerPubKey: peer.PublicKey(), Plaintext: "ping"})
	if !hasEvent[LocalPendingEvent](events) {
		t.Fatal("the pending row must exist even when no relay accepts")
	}
	if !hasEvent[Error](events) {
		t.Fatalf("expected an Error event: %+v", events)
	}
}

func TestLocalIdentityGuard(t *testing.T) {
	r, _, _, keys := newTestReconciler(t)
	ctx := context.Background()

	for _, cmd := range []Command{
		AddContact{Contact: models.Contact{PubKey: keys.PublicKey()}},
		DeleteContact{PubKey: keys.PublicKey()},
		SendDirectMessage{PeerPubKey: keys.PublicKey(), Plaintext: "hi"},
	} {
		events := r.handleCommand(ctx, cmd)
		if !hasEvent[Error](events) {
			t.Fatalf("%T targeting the local identity must fail", cmd)
		}
	}
}

func TestAckForUnknownEventIsDropped(t *testing.T) {
	r, _, store, _ := newTestReconciler(t)
	ctx := context.Background()

	events := r.handleNotification(ctx, relay.OKReceived{URL: "wss://r1", EventID: "feedface", Accepted: true})
	if len(events) != 0 {
		t.Fatalf("protocol anomaly must be dropped silently: %+v", events)
	}
	if _, err := store.EventByHash(ctx, "feedface"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("anomaly must not create rows: %v", err)
	}
}

func TestMarkChatSeenResetsUnseen(t *testing.T) {
	r, _, store, keys := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()

	wire := signedDM(t, peer, keys.PublicKey(), "unread", nostr.Now())
	r.handleNotification(ctx, relay.EventReceived{URL: "wss://r1", Event: wire})

	events := r.handleCommand(ctx, MarkChatSeen{PeerPubKey: peer.PublicKey()})
	updated := findEvent[ContactUpdated](t, events).Contact
	if updated.UnseenCount != 0 {
		t.Fatalf("unseen not reset: %+v", updated)
	}
	chat, err := store.FetchChat(ctx, keys.PublicKey(), peer.PublicKey())
	if err != nil || chat[0].Status != models.StatusSeen {
		t.Fatalf("message not seen: %+v %v", chat, err)
	}
}

func TestFetchChatDecryptsOnRead(t *testing.T) {
	r, _, _, keys := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()

	r.handleNotification(ctx, relay.EventReceived{
		URL: "wss://r1", Event: signedDM(t, peer, keys.PublicKey(), "inbound", nostr.Timestamp(100))})
	r.handleCommand(ctx, SendDirectMessage{PeerPubKey: peer.PublicKey(), Plaintext: "outbound"})

	events := r.handleCommand(ctx, FetchChat{PeerPubKey: peer.PublicKey()})
	chat := findEvent[GotChat](t, events)
	if len(chat.Messages) != 2 {
		t.Fatalf("expected both directions, got %d", len(chat.Messages))
	}
	if chat.Messages[0].Content != "inbound" || chat.Messages[1].Content != "outbound" {
		t.Fatalf("plaintext not recovered: %q %q", chat.Messages[0].Content, chat.Messages[1].Content)
	}
}

func TestConnectRelaysWiresSessions(t *testing.T) {
	r, sessions, store, _ := newTestReconciler(t)
	ctx := context.Background()
	peer, _ := identity.Generate()

	if err := store.UpsertRelay(ctx, models.RelayRecord{URL: "wss://r1", Read: true, Write: true}); err != nil {
		t.Fatalf("seed relay: %v", err)
	}
	if _, err := store.InsertContact(ctx, models.Contact{PubKey: peer.PublicKey()}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	events := r.handleCommand(ctx, ConnectRelays{})
	got := findEvent[GotRelays](t, events)
	if len(got.Relays) != 1 {
		t.Fatalf("expected stored relays back: %+v", got)
	}
	if len(sessions.added) != 1 || sessions.added[0] != "wss://r1" {
		t.Fatalf("session not registered: %v", sessions.added)
	}
	if len(sessions.filters) != 4 {
		t.Fatalf("expected the full filter set, got %d", len(sessions.filters))
	}
}

func TestRunLoopPublishesToHub(t *testing.T) {
	r, sessions, _, keys := newTestReconciler(t)
	peer, _ := identity.Generate()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	_, notes, unsub := r.hub.Subscribe(0)
	defer unsub()

	sessions.notes <- relay.EventReceived{
		URL: "wss://r1", Event: signedDM(t, peer, keys.PublicKey(), "live", nostr.Now())}
	if err := r.Dispatch(ctx, FetchContacts{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var sawDM, sawContacts bool
	deadline := time.After(2 * time.Second)
	for !(sawDM && sawContacts) {
		select {
		case note := <-notes:
			switch note.Payload.(type) {
			case NewDirectMessageAndContact:
				sawDM = true
			case GotContacts:
				sawContacts = true
			}
		case <-deadline:
			t.Fatalf("missing hub output: dm=%v contacts=%v", sawDM, sawContacts)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
}
