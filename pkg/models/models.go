package models

import (
	"strings"
	"time"
)

// Contact is a locally tracked counterparty identity. Profile fields come
// from the newest accepted kind-0 metadata event for the pubkey; MetadataAt
// is zero until the first one is accepted.
type Contact struct {
	PubKey           string          `json:"pubkey"`
	Petname          string          `json:"petname,omitempty"`
	RecommendedRelay string          `json:"recommended_relay,omitempty"`
	Profile          ProfileMetadata `json:"profile"`
	MetadataAt       time.Time       `json:"metadata_at"`
	UnseenCount      int             `json:"unseen_count"`
	LastMessageID    int64           `json:"last_message_id,omitempty"`
}

// DisplayName prefers the locally assigned petname over the published name.
func (c Contact) DisplayName() string {
	if name := strings.TrimSpace(c.Petname); name != "" {
		return name
	}
	if name := strings.TrimSpace(c.Profile.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(c.Profile.Name)
}

// ProfileMetadata mirrors the JSON content of a kind-0 event.
type ProfileMetadata struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	About       string `json:"about,omitempty"`
}

func (m ProfileMetadata) IsZero() bool {
	return m.Name == "" && m.DisplayName == "" && m.Picture == "" && m.About == ""
}

const (
	RelayDisconnected = "disconnected"
	RelayConnecting   = "connecting"
	RelayConnected    = "connected"
)

// RelayRecord is a configured relay and its capability flags.
type RelayRecord struct {
	URL        string `json:"url"`
	Read       bool   `json:"read"`
	Write      bool   `json:"write"`
	LastStatus string `json:"last_status"`
}

// RelayAck records one relay's OK response to one stored event. Rows
// accumulate per (event, relay) pair and are never deleted.
type RelayAck struct {
	ID           int64  `json:"id"`
	EventID      int64  `json:"event_id"`
	EventHash    string `json:"event_hash"`
	RelayURL     string `json:"relay_url"`
	Accepted     bool   `json:"accepted"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ChannelCache folds channel-kind events into a single row per channel.
type ChannelCache struct {
	ChannelID        string          `json:"channel_id"`
	CreatorPubKey    string          `json:"creator_pubkey"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedEventHash string          `json:"updated_event_hash,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Metadata         ChannelMetadata `json:"metadata"`
	Members          []string        `json:"members,omitempty"`
}

type ChannelMetadata struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}
