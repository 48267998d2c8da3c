package audience

import "sync"

// Registry hands out one Store per account
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*Store)}
}

// For returns the store of accountID, creating it on first use
func (r *Registry) For(accountID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[accountID]
	if !ok {
		s = NewStore(accountID)
		r.stores[accountID] = s
	}
	return s
}

// Lookup returns the store of accountID if one was created
func (r *Registry) Lookup(accountID string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[accountID]
	return s, ok
}
