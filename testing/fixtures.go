package testing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// AudienceRecords builds n records for accountID with ids "<prefix>-1".."<prefix>-n"
func AudienceRecords(accountID, prefix string, n int, source models.AudienceSource) []*models.AudienceRecord {
	out := make([]*models.AudienceRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &models.AudienceRecord{
			AccountID:   accountID,
			ExternalID:  fmt.Sprintf("%s-%d", prefix, i),
			DisplayName: fmt.Sprintf("User %d", i),
			Handle:      fmt.Sprintf("@%s_%d", prefix, i),
			Source:      source,
		})
	}
	return out
}

// CreateDispatchRun inserts a run in the given status over recipientIDs
func (tf *TestFixtures) CreateDispatchRun(accountID string, status models.DispatchRunStatus, scheduleAt *time.Time, recipientIDs ...string) (*models.DispatchRun, error) {
	run := &models.DispatchRun{
		UUID:         uuid.New(),
		AccountID:    accountID,
		RecipientIDs: pq.StringArray(recipientIDs),
		Template:     "hi {name}",
		Personalize:  true,
		DelayMs:      utils.MinDispatchDelay.Milliseconds(),
		Status:       status,
		ScheduleAt:   scheduleAt,
	}
	if err := tf.DB.DB.Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create dispatch run: %w", err)
	}
	return run, nil
}
