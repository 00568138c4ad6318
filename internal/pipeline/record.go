package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/basamba1990/scimentor-ai/internal/feedback"
)

// DefaultPageSize is the history window used when a caller does not ask for one.
const DefaultPageSize = 50

// Record is a persisted analysis. Records are never updated.
type Record struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	DocumentPath     string            `json:"document_path"`
	Feedback         feedback.Feedback `json:"feedback"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Query selects a window of an owner's history.
type Query struct {
	PageSize int
	Offset   int
	// Search is matched case-insensitively against the document path and
	// the final score. Empty matches everything.
	Search string
}

// Normalized clamps a negative offset to zero and trims the search term.
func (q Query) Normalized() Query {
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Matches reports whether r passes the query's search filter.
func (q Query) Matches(r *Record) bool {
	term := strings.ToLower(strings.TrimSpace(q.Search))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.DocumentPath), term) ||
		strings.Contains(strings.ToLower(string(r.Feedback.FinalScore)), term)
}

// HistoryPage is one window of an owner's records, newest first. TotalCount
// is the owner's full count after the search filter.
type HistoryPage struct {
	Items      []Record `json:"items"`
	TotalCount int      `json:"total_count"`
}

// RecordStore persists analysis records. Every read and delete is scoped to
// the owner; a record belonging to someone else is indistinguishable from a
// missing one.
type RecordStore interface {
	Save(ctx context.Context, ownerID, documentPath string, fb *feedback.Feedback, processingTimeMs int64) (*Record, error)
	List(ctx context.Context, ownerID string, q Query) (*HistoryPage, error)
	Get(ctx context.Context, recordID, ownerID string) (*Record, error)
	Delete(ctx context.Context, recordID, ownerID string) error
}
