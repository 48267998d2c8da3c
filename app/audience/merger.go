// Package audience holds the in-memory audience of an account and the
// first-seen-wins merge used by every path that adds records to it.
package audience

import "github.com/amirphl/creator-console/models"

// Set is an ordered collection of audience records keyed by ExternalID.
// Insertion order is preserved and an id appears at most once.
type Set struct {
	order []string
	byID  map[string]models.AudienceRecord
}

// NewSet builds a Set from records, dropping duplicates after the first
func NewSet(records ...models.AudienceRecord) *Set {
	s := &Set{byID: make(map[string]models.AudienceRecord, len(records))}
	s.mergeInto(records)
	return s
}

// Len returns the number of distinct records
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Has reports whether id is present
func (s *Set) Has(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.byID[id]
	return ok
}

// Get returns a copy of the record with id
func (s *Set) Get(id string) (models.AudienceRecord, bool) {
	if s == nil {
		return models.AudienceRecord{}, false
	}
	rec, ok := s.byID[id]
	if !ok {
		return models.AudienceRecord{}, false
	}
	return rec.Clone(), true
}

// Records returns copies of all records in insertion order
func (s *Set) Records() []models.AudienceRecord {
	if s == nil {
		return nil
	}
	out := make([]models.AudienceRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// IDs returns the ids in insertion order
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Clone returns a deep copy of s
func (s *Set) Clone() *Set {
	out := &Set{byID: make(map[string]models.AudienceRecord, s.Len())}
	if s == nil {
		return out
	}
	out.order = append(out.order, s.order...)
	for id, rec := range s.byID {
		out.byID[id] = rec.Clone()
	}
	return out
}

// mergeInto appends records whose id is not yet present, in order.
// Duplicates inside records are also dropped after the first occurrence.
// Records with an empty id are skipped. Returns the records actually added.
func (s *Set) mergeInto(records []models.AudienceRecord) []models.AudienceRecord {
	if s.byID == nil {
		s.byID = make(map[string]models.AudienceRecord, len(records))
	}
	var added []models.AudienceRecord
	for _, rec := range records {
		if rec.ExternalID == "" {
			continue
		}
		if _, exists := s.byID[rec.ExternalID]; exists {
			continue
		}
		c := rec.Clone()
		s.byID[rec.ExternalID] = c
		s.order = append(s.order, rec.ExternalID)
		added = append(added, c.Clone())
	}
	return added
}

// remove deletes ids and returns how many were present
func (s *Set) remove(ids []string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			drop[id] = struct{}{}
			delete(s.byID, id)
		}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return len(drop)
}

// Merge returns existing plus the records of incoming whose id is new, and the
// number of records added. Existing records are never overwritten and existing
// is not modified.
func Merge(existing *Set, incoming []models.AudienceRecord) (*Set, int) {
	merged := existing.Clone()
	added := merged.mergeInto(incoming)
	return merged, len(added)
}

// Dedupe returns records with later duplicates and empty ids removed
func Dedupe(records []models.AudienceRecord) []models.AudienceRecord {
	return NewSet(records...).Records()
}
