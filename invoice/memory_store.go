package invoice

import (
	"context"
	"sync"

	"github.com/finagent/stablepay"
)

// MemoryStore is the default in-process invoice store. Each operation copies
// the invoice so callers never share the stored value.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]stablepay.Invoice
}

var _ stablepay.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invoices: make(map[string]stablepay.Invoice)}
}

// Put upserts the invoice under its ID.
func (s *MemoryStore) Put(_ context.Context, inv *stablepay.Invoice) error {
	s.mu.Lock()
	s.invoices[inv.ID] = *inv
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the invoice, or nil if absent.
func (s *MemoryStore) Get(_ context.Context, id string) (*stablepay.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, nil
	}
	out := inv
	return &out, nil
}

// List returns copies of every stored invoice.
func (s *MemoryStore) List(_ context.Context) ([]*stablepay.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*stablepay.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		cp := inv
		out = append(out, &cp)
	}
	return out, nil
}

// Delete removes the invoice if present.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.invoices, id)
	s.mu.Unlock()
	return nil
}
