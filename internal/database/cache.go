package database

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

// DefaultRecordCacheSize is used when the configured size is not positive.
const DefaultRecordCacheSize = 1024

// existenceChecker is implemented by origins that can confirm a row
// without reading it in full.
type existenceChecker interface {
	Exists(ctx context.Context, recordID, ownerID string) (bool, error)
}

// CachedStore keeps recently read or written records in an LRU so detail
// views skip decoding feedback. A cache hit is only served after origin
// confirms the row still exists, since another process may have deleted it.
// History windows are always read from origin.
type CachedStore struct {
	origin  pipeline.RecordStore
	records *lru.Cache[string, pipeline.Record]
}

var _ pipeline.RecordStore = (*CachedStore)(nil)

// NewCachedStore wraps origin with an LRU of the given size.
func NewCachedStore(origin pipeline.RecordStore, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultRecordCacheSize
	}
	cache, err := lru.New[string, pipeline.Record](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{origin: origin, records: cache}, nil
}

// Keys include the owner so a cached record never leaks across owners.
func cacheKey(recordID, ownerID string) string {
	return ownerID + "\x00" + recordID
}

func (s *CachedStore) Save(ctx context.Context, ownerID, documentPath string, fb *feedback.Feedback, processingTimeMs int64) (*pipeline.Record, error) {
	rec, err := s.origin.Save(ctx, ownerID, documentPath, fb, processingTimeMs)
	if err != nil {
		return nil, err
	}
	s.records.Add(cacheKey(rec.ID, rec.OwnerID), cloneRecord(*rec))
	return rec, nil
}

func (s *CachedStore) List(ctx context.Context, ownerID string, q pipeline.Query) (*pipeline.HistoryPage, error) {
	return s.origin.List(ctx, ownerID, q)
}

func (s *CachedStore) Get(ctx context.Context, recordID, ownerID string) (*pipeline.Record, error) {
	key := cacheKey(recordID, ownerID)
	if rec, ok := s.records.Get(key); ok {
		if checker, ok := s.origin.(existenceChecker); ok {
			exists, err := checker.Exists(ctx, recordID, ownerID)
			if err != nil {
				return nil, err
			}
			if !exists {
				s.records.Remove(key)
				return nil, apperr.New(apperr.NotFoundOrForbidden, "analysis %s not found", recordID)
			}
			out := cloneRecord(rec)
			return &out, nil
		}
		// Without a cheap check, origin is the source of truth.
		s.records.Remove(key)
	}
	rec, err := s.origin.Get(ctx, recordID, ownerID)
	if err != nil {
		return nil, err
	}
	s.records.Add(key, cloneRecord(*rec))
	return rec, nil
}

func (s *CachedStore) Delete(ctx context.Context, recordID, ownerID string) error {
	key := cacheKey(recordID, ownerID)
	s.records.Remove(key)
	err := s.origin.Delete(ctx, recordID, ownerID)
	// A concurrent Get may have re-cached the row before origin dropped it.
	s.records.Remove(key)
	return err
}

// Len reports the number of cached records.
func (s *CachedStore) Len() int {
	return s.records.Len()
}

func cloneRecord(r pipeline.Record) pipeline.Record {
	r.Feedback.Points = append([]feedback.Point(nil), r.Feedback.Points...)
	if r.Feedback.Points == nil {
		r.Feedback.Points = []feedback.Point{}
	}
	return r
}
