package businessflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/amirphl/creator-console/app/audience"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
)

// AudienceStores hands out the in-memory store of an account, seeded from the
// database the first time the account is touched
type AudienceStores struct {
	registry *audience.Registry
	repo     repository.AudienceRecordRepository

	mu     sync.Mutex
	loaded map[string]bool
}

func NewAudienceStores(registry *audience.Registry, repo repository.AudienceRecordRepository) *AudienceStores {
	if registry == nil {
		registry = audience.NewRegistry()
	}
	return &AudienceStores{registry: registry, repo: repo, loaded: make(map[string]bool)}
}

// Get returns the store of accountID, loading persisted records on first use
func (s *AudienceStores) Get(ctx context.Context, accountID string) (*audience.Store, error) {
	s.mu.Lock()
	done := s.loaded[accountID]
	s.mu.Unlock()

	store := s.registry.For(accountID)
	if done {
		return store, nil
	}
	if _, _, err := s.load(ctx, store); err != nil {
		return nil, err
	}
	return store, nil
}

// Reload merges the persisted records of accountID into its store again.
// Records already in memory win over persisted ones.
func (s *AudienceStores) Reload(ctx context.Context, accountID string) (store *audience.Store, persisted, added int, err error) {
	store = s.registry.For(accountID)
	persisted, added, err = s.load(ctx, store)
	if err != nil {
		return nil, 0, 0, err
	}
	return store, persisted, added, nil
}

func (s *AudienceStores) load(ctx context.Context, store *audience.Store) (int, int, error) {
	accountID := store.AccountID()
	if s.repo == nil {
		s.markLoaded(accountID)
		return 0, 0, nil
	}

	rows, err := s.repo.ByAccount(ctx, accountID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load audience of %s: %w", accountID, err)
	}
	records := make([]models.AudienceRecord, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			records = append(records, *r)
		}
	}
	added := store.Merge(records)
	s.markLoaded(accountID)
	return len(records), len(added), nil
}

func (s *AudienceStores) markLoaded(accountID string) {
	s.mu.Lock()
	s.loaded[accountID] = true
	s.mu.Unlock()
}
