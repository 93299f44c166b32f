package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/medicus/internal/models"
)

type MemoryStoreConfig struct {
	Now       func() time.Time
	OnCorrupt func(*CorruptRecordError)
}

// MemoryStore keeps listings and documents in process memory. Records live in an
// arena keyed by document id; each listing indexes its ids in insertion order.
// Safe for concurrent use.
type MemoryStore struct {
	config MemoryStoreConfig

	mu        sync.RWMutex
	listings  map[models.ListingID]models.Listing
	records   map[string]*memoryRow
	byListing map[models.ListingID][]string
	lastStamp map[models.ListingID]time.Time
}

type memoryRow struct {
	record    models.DocumentRecord // Embedding is always nil here
	embedding *string
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

func NewMemoryStoreWithConfig(config MemoryStoreConfig) *MemoryStore {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.OnCorrupt == nil {
		config.OnCorrupt = logCorrupt
	}
	return &MemoryStore{
		config:    config,
		listings:  make(map[models.ListingID]models.Listing),
		records:   make(map[string]*memoryRow),
		byListing: make(map[models.ListingID][]string),
		lastStamp: make(map[models.ListingID]time.Time),
	}
}

func (s *MemoryStore) CreateListing(_ context.Context, name string) (models.Listing, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Listing{}, fmt.Errorf("listing name is required")
	}

	listing := models.Listing{
		ID:        models.ListingID(uuid.NewString()),
		Name:      name,
		CreatedAt: s.config.Now(),
	}

	s.mu.Lock()
	s.listings[listing.ID] = listing
	s.mu.Unlock()

	return listing, nil
}

func (s *MemoryStore) GetListing(_ context.Context, id models.ListingID) (models.Listing, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, ok := s.listings[id]
	return listing, ok, nil
}

// Put stores a new record, stamping UploadedAt. Timestamps never go backwards
// within a listing, even if the wall clock does.
func (s *MemoryStore) Put(_ context.Context, rec models.DocumentRecord) (models.DocumentRecord, error) {
	if rec.DocumentID == "" || rec.ListingID == "" {
		return models.DocumentRecord{}, fmt.Errorf("%w: document and listing ids are required", ErrInvalidRecord)
	}

	rec = rec.Clone()
	var embedding *string
	if rec.Embedding != nil {
		text := FormatVector(rec.Embedding)
		embedding = &text
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[rec.ListingID]; !ok {
		return models.DocumentRecord{}, fmt.Errorf("%w: %s", ErrUnknownListing, rec.ListingID)
	}
	if _, ok := s.records[rec.DocumentID]; ok {
		return models.DocumentRecord{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.DocumentID)
	}

	stamp := s.config.Now().UTC()
	if last := s.lastStamp[rec.ListingID]; stamp.Before(last) {
		stamp = last
	}
	s.lastStamp[rec.ListingID] = stamp
	rec.UploadedAt = stamp

	stored := rec.Clone()
	stored.Embedding = nil
	s.records[rec.DocumentID] = &memoryRow{record: stored, embedding: embedding}
	s.byListing[rec.ListingID] = append(s.byListing[rec.ListingID], rec.DocumentID)

	return rec, nil
}

// ListByListing returns the listing's records newest first.
func (s *MemoryStore) ListByListing(_ context.Context, listingID models.ListingID) ([]models.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byListing[listingID]
	records := make([]models.DocumentRecord, 0, len(ids))
	// Insertion order is timestamp order, so walking backwards gives newest first.
	for i := len(ids) - 1; i >= 0; i-- {
		records = append(records, s.decode(s.records[ids[i]]))
	}
	return records, nil
}

func (s *MemoryStore) GetByID(_ context.Context, documentID string) (models.DocumentRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.records[documentID]
	if !ok {
		return models.DocumentRecord{}, false, nil
	}
	return s.decode(row), true, nil
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) decode(row *memoryRow) models.DocumentRecord {
	rec := row.record.Clone()
	if row.embedding == nil {
		return rec
	}
	vector, err := ParseVector(*row.embedding)
	if err != nil {
		s.config.OnCorrupt(&CorruptRecordError{DocumentID: rec.DocumentID, Err: err})
		return rec
	}
	rec.Embedding = vector
	return rec
}
