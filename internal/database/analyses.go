package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

var _ pipeline.RecordStore = (*DB)(nil)

const analysisColumns = `id, owner_id, document_path, feedback_json, processing_time_ms, created_at`

// Save inserts a new analysis record with a fresh id and the current time.
func (db *DB) Save(ctx context.Context, ownerID, documentPath string, fb *feedback.Feedback, processingTimeMs int64) (*pipeline.Record, error) {
	if fb == nil {
		return nil, apperr.New(apperr.PersistenceError, "refusing to save an analysis without feedback")
	}
	if processingTimeMs < 0 {
		processingTimeMs = 0
	}
	data, err := json.Marshal(fb)
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, err, "encoding feedback")
	}

	rec := &pipeline.Record{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		DocumentPath:     documentPath,
		Feedback:         *fb,
		ProcessingTimeMs: processingTimeMs,
		CreatedAt:        db.now().UTC().Truncate(time.Microsecond),
	}

	_, err = db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO analyses (id, owner_id, document_path, feedback_json, final_score, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.OwnerID, rec.DocumentPath, string(data), string(fb.FinalScore),
		rec.ProcessingTimeMs, rec.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, err, "inserting analysis")
	}
	return rec, nil
}

// List returns one window of the owner's records, newest first, plus the
// owner's total count under the same search filter.
func (db *DB) List(ctx context.Context, ownerID string, q pipeline.Query) (*pipeline.HistoryPage, error) {
	q = q.Normalized()

	where := "owner_id = ?"
	args := []any{ownerID}
	if q.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Search)) + "%"
		where += ` AND (LOWER(document_path) LIKE ? ESCAPE '\' OR LOWER(final_score) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}

	page := &pipeline.HistoryPage{Items: []pipeline.Record{}}
	if err := db.conn.QueryRowContext(ctx, db.rebind("SELECT COUNT(*) FROM analyses WHERE "+where), args...).Scan(&page.TotalCount); err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, err, "counting analyses")
	}
	if q.PageSize <= 0 || page.TotalCount == 0 || q.Offset >= page.TotalCount {
		return page, nil
	}

	rows, err := db.conn.QueryContext(ctx, db.rebind(
		"SELECT "+analysisColumns+" FROM analyses WHERE "+where+
			" ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?"),
		append(args, q.PageSize, q.Offset)...,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, err, "listing analyses")
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.PersistenceError, err, "reading analysis")
		}
		page.Items = append(page.Items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, err, "listing analyses")
	}
	return page, nil
}

// Get returns one record if it exists and belongs to ownerID.
func (db *DB) Get(ctx context.Context, recordID, ownerID string) (*pipeline.Record, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(
		"SELECT "+analysisColumns+" FROM analyses WHERE id = ? AND owner_id = ?"),
		recordID, ownerID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFoundOrForbidden, "analysis %s not found", recordID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, err, "reading analysis %s", recordID)
	}
	return rec, nil
}

// Exists reports whether recordID is stored under ownerID without reading the feedback.
func (db *DB) Exists(ctx context.Context, recordID, ownerID string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, db.rebind(
		"SELECT 1 FROM analyses WHERE id = ? AND owner_id = ?"), recordID, ownerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.PersistenceError, err, "checking analysis %s", recordID)
	}
	return true, nil
}

// Delete removes a record only when both id and owner match.
func (db *DB) Delete(ctx context.Context, recordID, ownerID string) error {
	result, err := db.conn.ExecContext(ctx, db.rebind(
		"DELETE FROM analyses WHERE id = ? AND owner_id = ?"), recordID, ownerID)
	if err != nil {
		return apperr.Wrap(apperr.PersistenceError, err, "deleting analysis %s", recordID)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.PersistenceError, err, "deleting analysis %s", recordID)
	}
	if n == 0 {
		return apperr.New(apperr.NotFoundOrForbidden, "analysis %s not found", recordID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*pipeline.Record, error) {
	var rec pipeline.Record
	var fbJSON string
	var createdMicros int64
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.DocumentPath, &fbJSON, &rec.ProcessingTimeMs, &createdMicros); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fbJSON), &rec.Feedback); err != nil {
		return nil, err
	}
	if rec.Feedback.Points == nil {
		rec.Feedback.Points = []feedback.Point{}
	}
	rec.CreatedAt = time.UnixMicro(createdMicros).UTC()
	return &rec, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
