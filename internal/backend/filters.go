package backend

import (
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrtalk/go-backend/pkg/models"
)

// SubscriptionFilters builds the relay subscription set for the local
// identity: the own contact list and both DM directions since the stored
// watermark, plus the latest profile metadata of every known contact.
func SubscriptionFilters(localPubKey string, contacts []models.Contact, watermark time.Time) nostr.Filters {
	var since *nostr.Timestamp
	if !watermark.IsZero() {
		ts := nostr.Timestamp(watermark.Unix())
		since = &ts
	}

	filters := nostr.Filters{
		{
			Kinds:   []int{nostr.KindContactList},
			Authors: []string{localPubKey},
			Since:   since,
		},
		{
			Kinds:   []int{nostr.KindEncryptedDirectMessage},
			Authors: []string{localPubKey},
			Since:   since,
		},
		{
			Kinds: []int{nostr.KindEncryptedDirectMessage},
			Tags:  nostr.TagMap{"p": []string{localPubKey}},
			Since: since,
		},
	}

	if len(contacts) > 0 {
		authors := make([]string, 0, len(contacts))
		for _, c := range contacts {
			authors = append(authors, c.PubKey)
		}
		filters = append(filters, nostr.Filter{
			Kinds:   []int{nostr.KindProfileMetadata},
			Authors: authors,
			Limit:   len(authors),
		})
	}
	return filters
}
