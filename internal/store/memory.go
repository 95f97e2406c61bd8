package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

// MemoryStore is an in-memory RecordStore. It backs tests and provides the
// reference semantics for the conditional-write guard: a mutex-protected
// compare-and-swap on the status field. Change notifications are fanned out
// to every watcher with a buffered channel; a watcher that falls too far
// behind loses notifications rather than blocking writers.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*models.DocumentRecord
	watchers map[int]chan models.ChangeNotification
	nextID   int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*models.DocumentRecord),
		watchers: make(map[int]chan models.ChangeNotification),
	}
}

var _ RecordStore = (*MemoryStore)(nil)

// Create stores a new record, failing with ErrAlreadyExists on id collision.
func (s *MemoryStore) Create(ctx context.Context, rec *models.DocumentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.DocumentID]; ok {
		return ErrAlreadyExists
	}
	stored := rec.Clone()
	s.records[rec.DocumentID] = stored
	s.emit(models.ChangeNotification{
		EventType: models.EventInsert,
		Keys:      models.ChangeKeys{DocumentID: rec.DocumentID},
		NewImage:  stored.Clone(),
	})
	return nil
}

// Get returns a copy of the current record.
func (s *MemoryStore) Get(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns copies of all records, newest upload first.
func (s *MemoryStore) List(ctx context.Context) ([]*models.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.DocumentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadTimestamp.After(out[j].UploadTimestamp)
	})
	return out, nil
}

// Update applies the patch iff the stored status equals expected.
func (s *MemoryStore) Update(ctx context.Context, documentID string, patch Patch, expected models.Status) (*models.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != expected {
		return nil, ErrConflict
	}
	old := rec.Clone()
	updated := rec.Clone()
	patch.apply(updated)
	s.records[documentID] = updated
	s.emit(models.ChangeNotification{
		EventType: models.EventModify,
		Keys:      models.ChangeKeys{DocumentID: documentID},
		OldImage:  old,
		NewImage:  updated.Clone(),
	})
	return updated.Clone(), nil
}

// Watch registers a change-feed subscriber. The channel closes when ctx is
// cancelled.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan models.ChangeNotification, error) {
	ch := make(chan models.ChangeNotification, 256)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// emit fans a notification out to all watchers. Callers hold s.mu.
func (s *MemoryStore) emit(n models.ChangeNotification) {
	for _, ch := range s.watchers {
		select {
		case ch <- n:
		default:
			// watcher buffer full; delivery is at-least-once overall,
			// not guaranteed per subscriber
		}
	}
}
