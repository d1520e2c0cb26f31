package flowstore

import (
	"context"
	"sync"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/scheduler"
)

// MemoryStore keeps encoded documents in a map. Callers never share memory
// with the store: every read decodes a fresh copy.
type MemoryStore struct {
	clock scheduler.Clock

	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty store
func NewMemoryStore(clock scheduler.Clock) *MemoryStore {
	return &MemoryStore{
		clock: scheduler.OrReal(clock),
		docs:  make(map[string][]byte),
	}
}

// Create stores a new document
func (s *MemoryStore) Create(_ context.Context, doc *model.Document) error {
	if err := prepareCreate("Create", doc, s.clock.Now()); err != nil {
		return err
	}
	data, err := encode("Create", doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return errors.WrapInvalid(errors.Newf(errors.ErrConflict, "document %s already exists", doc.ID),
			"flowstore", "Create", "store document")
	}
	s.docs[doc.ID] = data
	return nil
}

// Get returns a copy of the stored document
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Document, error) {
	if err := checkID("Get", id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("Get", id)
	}
	return decodeStored("Get", data)
}

// Update replaces the document if doc.Version matches the stored version
func (s *MemoryStore) Update(_ context.Context, doc *model.Document) error {
	if err := checkDoc("Update", doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.docs[doc.ID]
	if !ok {
		return notFound("Update", doc.ID)
	}
	current, err := decodeStored("Update", data)
	if err != nil {
		return err
	}

	next := *doc
	if err := prepareUpdate("Update", &next, current, s.clock.Now()); err != nil {
		return err
	}
	encoded, err := encode("Update", &next)
	if err != nil {
		return err
	}
	s.docs[doc.ID] = encoded
	*doc = next
	return nil
}

// Delete removes the document
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if err := checkID("Delete", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return notFound("Delete", id)
	}
	delete(s.docs, id)
	return nil
}

// List returns every document ordered by id
func (s *MemoryStore) List(_ context.Context) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Document, 0, len(s.docs))
	for _, data := range s.docs {
		doc, err := decodeStored("List", data)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	sortByID(out)
	return out, nil
}
