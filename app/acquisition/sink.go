package acquisition

import (
	"context"

	"github.com/amirphl/creator-console/app/audience"
	"github.com/amirphl/creator-console/models"
)

// StoreSink merges pages straight into an in-memory audience store
type StoreSink struct {
	Store  *audience.Store
	Source models.AudienceSource
}

func (s StoreSink) MergePage(_ context.Context, records []models.AudienceRecord) (int, error) {
	if s.Source != "" {
		for i := range records {
			if records[i].Source == "" {
				records[i].Source = s.Source
			}
		}
	}
	return len(s.Store.Merge(records)), nil
}
