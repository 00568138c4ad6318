// Package memstore is an in-memory pipeline.RecordStore for tests and
// single-process runs that do not need persistence.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

// Ensure Store implements the interface.
var _ pipeline.RecordStore = (*Store)(nil)

type entry struct {
	rec pipeline.Record
	seq uint64
}

// Store is an in-memory implementation of pipeline.RecordStore.
type Store struct {
	mu      sync.RWMutex
	records map[string]entry
	seq     uint64
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]entry),
		now:     time.Now,
	}
}

// NewWithClock creates an empty store that stamps records with now().
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

// Save stores a new record.
func (s *Store) Save(_ context.Context, ownerID, documentPath string, fb *feedback.Feedback, processingTimeMs int64) (*pipeline.Record, error) {
	if fb == nil {
		return nil, apperr.New(apperr.PersistenceError, "refusing to save an analysis without feedback")
	}
	if processingTimeMs < 0 {
		processingTimeMs = 0
	}
	rec := pipeline.Record{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		DocumentPath:     documentPath,
		Feedback:         cloneFeedback(*fb),
		ProcessingTimeMs: processingTimeMs,
		CreatedAt:        s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.records[rec.ID] = entry{rec: rec, seq: s.seq}

	out := rec
	out.Feedback = cloneFeedback(rec.Feedback)
	return &out, nil
}

// List returns the owner's records newest first, later inserts winning ties.
func (s *Store) List(_ context.Context, ownerID string, q pipeline.Query) (*pipeline.HistoryPage, error) {
	q = q.Normalized()

	s.mu.RLock()
	matched := make([]entry, 0)
	for _, e := range s.records {
		if e.rec.OwnerID == ownerID && q.Matches(&e.rec) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})

	page := &pipeline.HistoryPage{Items: []pipeline.Record{}, TotalCount: len(matched)}
	if q.PageSize <= 0 || q.Offset >= len(matched) {
		return page, nil
	}
	end := q.Offset + q.PageSize
	if end > len(matched) || end < q.Offset {
		end = len(matched)
	}
	for _, e := range matched[q.Offset:end] {
		rec := e.rec
		rec.Feedback = cloneFeedback(rec.Feedback)
		page.Items = append(page.Items, rec)
	}
	return page, nil
}

// Get retrieves a record owned by ownerID.
func (s *Store) Get(_ context.Context, recordID, ownerID string) (*pipeline.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[recordID]
	if !ok || e.rec.OwnerID != ownerID {
		return nil, apperr.New(apperr.NotFoundOrForbidden, "analysis %s not found", recordID)
	}
	rec := e.rec
	rec.Feedback = cloneFeedback(rec.Feedback)
	return &rec, nil
}

// Exists reports whether recordID is stored under ownerID.
func (s *Store) Exists(_ context.Context, recordID, ownerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[recordID]
	return ok && e.rec.OwnerID == ownerID, nil
}

// Delete removes a record owned by ownerID.
func (s *Store) Delete(_ context.Context, recordID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[recordID]
	if !ok || e.rec.OwnerID != ownerID {
		return apperr.New(apperr.NotFoundOrForbidden, "analysis %s not found", recordID)
	}
	delete(s.records, recordID)
	return nil
}

// Len returns the number of stored records across all owners.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneFeedback(fb feedback.Feedback) feedback.Feedback {
	points := make([]feedback.Point, len(fb.Points))
	copy(points, fb.Points)
	fb.Points = points
	return fb
}
