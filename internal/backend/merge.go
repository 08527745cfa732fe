package backend

import (
	"time"

	"nostrtalk/go-backend/pkg/models"
)

// MergeMetadata applies a profile-metadata update to a contact under the
// last-write-wins rule and reports whether anything changed. The timestamp
// is the event-asserted creation time, never the local receipt time, so the
// outcome does not depend on delivery order. Ties keep the existing data.
func MergeMetadata(existing models.Contact, incoming models.ProfileMetadata, ts time.Time) (models.Contact, bool) {
	if !existing.MetadataAt.IsZero() && !ts.After(existing.MetadataAt) {
		return existing, false
	}
	existing.Profile = incoming
	existing.MetadataAt = ts
	return existing, true
}
