package store

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"taleforge.dev/engine/internal/engerr"
	"taleforge.dev/engine/internal/model"
)

// MemStore is an in-process Store used by tests. It round-trips documents
// through bson so its filter/update semantics are exercised against the
// exact same wire representation the Mongo-backed adapter uses, rather than
// against Go struct fields directly.
type MemStore struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]map[string]any)}
}

func toDoc(book *model.Book) (map[string]any, error) {
	raw, err := bson.Marshal(book)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(doc map[string]any) (*model.Book, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var book model.Book
	if err := bson.Unmarshal(raw, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (m *MemStore) FindOne(_ context.Context, id string) (*model.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, engerr.ErrNotFound
	}
	return fromDoc(doc)
}

func (m *MemStore) InsertOne(_ context.Context, book *model.Book) error {
	doc, err := toDoc(book)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[book.ID] = doc
	return nil
}

func (m *MemStore) UpdateOne(_ context.Context, id string, filter Filter, update Update) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return 0, nil
	}
	if !docFilterMatches(doc, filter) {
		return 0, nil
	}
	docApplyUpdate(doc, update)
	return 1, nil
}
