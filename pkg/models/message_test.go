package models

import "testing"

func TestMessageStatusMonotone(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		ok       bool
	}{
		{StatusOffline, StatusDelivered, true},
		{StatusOffline, StatusSeen, true},
		{StatusDelivered, StatusSeen, true},
		{StatusDelivered, StatusDelivered, true},
		{StatusSeen, StatusDelivered, false},
		{StatusDelivered, StatusOffline, false},
		{StatusSeen, StatusOffline, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.ok {
			t.Fatalf("%v -> %v: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestMessageStatusUnseen(t *testing.T) {
	if !StatusOffline.IsUnseen() || !StatusDelivered.IsUnseen() {
		t.Fatal("offline and delivered must count as unseen")
	}
	if StatusSeen.IsUnseen() {
		t.Fatal("seen must not count as unseen")
	}
}

func TestCounterparty(t *testing.T) {
	msg := ChatMessage{FromPubKey: "aa", ToPubKey: "bb"}
	if got := msg.Counterparty("aa"); got != "bb" {
		t.Fatalf("counterparty for author: got %s", got)
	}
	if got := msg.Counterparty("bb"); got != "aa" {
		t.Fatalf("counterparty for recipient: got %s", got)
	}
}

func TestContactDisplayName(t *testing.T) {
	c := Contact{PubKey: "aa", Profile: ProfileMetadata{Name: "alice", DisplayName: "Alice"}}
	if got := c.DisplayName(); got != "Alice" {
		t.Fatalf("display name: got %s", got)
	}
	c.Petname = "ally"
	if got := c.DisplayName(); got != "ally" {
		t.Fatalf("petname should win: got %s", got)
	}
}
