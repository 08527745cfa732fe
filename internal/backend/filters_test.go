package backend

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrtalk/go-backend/pkg/models"
)

func TestSubscriptionFiltersFreshStore(t *testing.T) {
	filters := SubscriptionFilters("local", nil, time.Time{})
	if len(filters) != 3 {
		t.Fatalf("expected 3 filters without contacts, got %d", len(filters))
	}
	for _, f := range filters {
		if f.Since != nil {
			t.Fatalf("fresh store must not constrain since: %+v", f)
		}
	}
	if filters[2].Tags["p"][0] != "local" {
		t.Fatalf("inbound DM filter must tag the local key: %+v", filters[2])
	}
}

func TestSubscriptionFiltersWatermarkAndContacts(t *testing.T) {
	watermark := time.Unix(1700000000, 0)
	contacts := []models.Contact{{PubKey: "aa"}, {PubKey: "bb"}}
	filters := SubscriptionFilters("local", contacts, watermark)
	if len(filters) != 4 {
		t.Fatalf("expected 4 filters, got %d", len(filters))
	}
	for _, f := range filters[:3] {
		if f.Since == nil || *f.Since != nostr.Timestamp(watermark.Unix()) {
			t.Fatalf("watermark not applied: %+v", f)
		}
	}
	meta := filters[3]
	if len(meta.Authors) != 2 || meta.Kinds[0] != nostr.KindProfileMetadata {
		t.Fatalf("metadata filter must cover every contact: %+v", meta)
	}
}
