package audience

import (
	"sync"

	"github.com/amirphl/creator-console/models"
)

// Store is the in-memory audience of one account.
// Reads may run concurrently; every mutation takes the single write lock.
// Values handed out are copies, so callers can hold a snapshot while the
// store keeps changing.
type Store struct {
	mu        sync.RWMutex
	accountID string
	set       *Set
}

func NewStore(accountID string) *Store {
	return &Store{accountID: accountID, set: NewSet()}
}

// AccountID returns the account this store belongs to
func (s *Store) AccountID() string {
	return s.accountID
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Len()
}

// All returns every record in insertion order
func (s *Store) All() []models.AudienceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Records()
}

// BySource returns the records that were first observed through src
func (s *Store) BySource(src models.AudienceSource) []models.AudienceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AudienceRecord
	for _, id := range s.set.order {
		if rec := s.set.byID[id]; rec.Source == src {
			out = append(out, rec.Clone())
		}
	}
	return out
}

func (s *Store) ByID(id string) (models.AudienceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Get(id)
}

// Add inserts rec unless its id is already present
func (s *Store) Add(rec models.AudienceRecord) bool {
	return len(s.Merge([]models.AudienceRecord{rec})) == 1
}

// Merge adds the records whose id is new and returns them
func (s *Store) Merge(records []models.AudienceRecord) []models.AudienceRecord {
	if len(records) == 0 {
		return nil
	}
	owned := make([]models.AudienceRecord, len(records))
	copy(owned, records)
	for i := range owned {
		if owned[i].AccountID == "" {
			owned[i].AccountID = s.accountID
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.mergeInto(owned)
}

// Remove deletes ids and returns how many existed
func (s *Store) Remove(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.remove(ids)
}

// Snapshot copies the records for ids in the order given.
// Unknown ids and repeated ids are skipped.
func (s *Store) Snapshot(ids []string) []models.AudienceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	out := make([]models.AudienceRecord, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if rec, ok := s.set.byID[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Enrich sets one attribute on an existing record
func (s *Store) Enrich(id, key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.set.byID[id]
	if !ok {
		return false
	}
	attrs := make(map[string]string, len(rec.Attributes)+1)
	for k, v := range rec.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	rec.Attributes = attrs
	s.set.byID[id] = rec
	return true
}
