package acquisition

import "time"

// Session is the mutable state of one acquisition run.
// It is owned by the controller goroutine.
type Session struct {
	Cursor        string
	Goal          int
	KnownTotal    int
	FetchedCount  int
	Added         int
	ChunkIndex    int
	RateLimitHits int
	Phase         Phase
	StartedAt     time.Time

	seen map[string]struct{}
}

func newSession(opts Options, startedAt time.Time) *Session {
	goal := opts.Goal
	switch {
	case goal == 0:
		goal = opts.KnownTotal
	case goal < 0:
		goal = 0
	}
	return &Session{
		Goal:       goal,
		KnownTotal: opts.KnownTotal,
		Phase:      PhaseIdle,
		StartedAt:  startedAt,
		seen:       make(map[string]struct{}),
	}
}

// observe counts ids not seen earlier in this run
func (s *Session) observe(ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.FetchedCount++
	}
}

// DisplayCount is the larger of the persisted upstream total and the local count
func (s *Session) DisplayCount() int {
	return max(s.KnownTotal, s.FetchedCount)
}

// goalReached reports whether an explicit or default ceiling has been hit
func (s *Session) goalReached() bool {
	return s.Goal > 0 && s.FetchedCount >= s.Goal
}
