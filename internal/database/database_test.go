package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fixedClock makes every Save happen at the same instant unless advanced.
func fixedClock(db *DB, start time.Time) func(time.Duration) {
	now := start
	db.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func sampleFeedback(grade string) *feedback.Feedback {
	return &feedback.Feedback{
		GlobalEvaluation: "Sound derivation with a units slip.",
		Points: []feedback.Point{{
			Criterion:  "Physical Coherence",
			CellIndex:  1,
			Severity:   feedback.SeverityMedium,
			Comment:    "g is given in cm/s^2 but used as m/s^2.",
			Suggestion: "Convert before substituting.",
		}},
		FinalScore: feedback.Grade(grade),
	}
}

func mustSave(t *testing.T, db *DB, owner, path, grade string) *pipeline.Record {
	t.Helper()
	rec, err := db.Save(context.Background(), owner, path, sampleFeedback(grade), 1200)
	require.NoError(t, err)
	return rec
}

func TestSaveAndGet(t *testing.T) {
	db := openTestDB(t)
	rec := mustSave(t, db, "alice", "alice/1700000000000-free_fall.ipynb", "B+")

	_, err := uuid.Parse(rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
	assert.Equal(t, int64(1200), rec.ProcessingTimeMs)

	got, err := db.Get(context.Background(), rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestSaveAssignsDistinctIDs(t *testing.T) {
	db := openTestDB(t)
	a := mustSave(t, db, "alice", "a.ipynb", "A")
	b := mustSave(t, db, "alice", "a.ipynb", "A")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSaveNegativeProcessingTimeClamped(t *testing.T) {
	db := openTestDB(t)
	rec, err := db.Save(context.Background(), "alice", "a.ipynb", sampleFeedback("A"), -5)
	require.NoError(t, err)
	assert.Zero(t, rec.ProcessingTimeMs)
}

func TestSaveNilFeedback(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Save(context.Background(), "alice", "a.ipynb", nil, 0)
	assert.ErrorIs(t, err, apperr.PersistenceError)
}

func TestListNewestFirst(t *testing.T) {
	db := openTestDB(t)
	advance := fixedClock(db, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	first := mustSave(t, db, "alice", "first.ipynb", "A")
	advance(time.Second)
	second := mustSave(t, db, "alice", "second.ipynb", "B")
	// Same timestamp as second: insertion order breaks the tie.
	third := mustSave(t, db, "alice", "third.ipynb", "C")

	page, err := db.List(context.Background(), "alice", pipeline.Query{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, []string{third.ID, second.ID, first.ID},
		[]string{page.Items[0].ID, page.Items[1].ID, page.Items[2].ID})
}

func TestListPaging(t *testing.T) {
	db := openTestDB(t)
	advance := fixedClock(db, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	for i := 0; i < 7; i++ {
		mustSave(t, db, "alice", fmt.Sprintf("nb-%d.ipynb", i), "B")
		advance(time.Minute)
	}
	ctx := context.Background()

	page, err := db.List(ctx, "alice", pipeline.Query{PageSize: 3, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, page.TotalCount)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "nb-3.ipynb", page.Items[0].DocumentPath)

	page, err = db.List(ctx, "alice", pipeline.Query{PageSize: 3, Offset: 6})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	page, err = db.List(ctx, "alice", pipeline.Query{PageSize: 3, Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 7, page.TotalCount)

	page, err = db.List(ctx, "alice", pipeline.Query{PageSize: 2, Offset: -4})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "nb-6.ipynb", page.Items[0].DocumentPath)

	page, err = db.List(ctx, "alice", pipeline.Query{PageSize: 0})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Equal(t, 7, page.TotalCount)
}

func TestListEmptyOwner(t *testing.T) {
	db := openTestDB(t)
	page, err := db.List(context.Background(), "nobody", pipeline.Query{PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.TotalCount)
}

func TestListSearch(t *testing.T) {
	db := openTestDB(t)
	mustSave(t, db, "alice", "alice/1-Pendulum.ipynb", "A")
	mustSave(t, db, "alice", "alice/2-projectile.ipynb", "B+")
	mustSave(t, db, "alice", "alice/3-pendulum_v2.ipynb", "C")
	mustSave(t, db, "bob", "bob/1-pendulum.ipynb", "B+")
	ctx := context.Background()

	page, err := db.List(ctx, "alice", pipeline.Query{PageSize: 10, Search: "PENDULUM"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)

	page, err = db.List(ctx, "alice", pipeline.Query{PageSize: 10, Search: "b+"})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, "alice/2-projectile.ipynb", page.Items[0].DocumentPath)

	// LIKE wildcards are matched literally.
	page, err = db.List(ctx, "alice", pipeline.Query{PageSize: 10, Search: "%"})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)

	page, err = db.List(ctx, "alice", pipeline.Query{PageSize: 10, Search: "_v2"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestOwnerIsolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := mustSave(t, db, "alice", "a.ipynb", "A")
	mustSave(t, db, "bob", "b.ipynb", "F")

	page, err := db.List(ctx, "bob", pipeline.Query{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob", page.Items[0].OwnerID)

	_, err = db.Get(ctx, rec.ID, "bob")
	assert.ErrorIs(t, err, apperr.NotFoundOrForbidden)

	err = db.Delete(ctx, rec.ID, "bob")
	assert.ErrorIs(t, err, apperr.NotFoundOrForbidden)

	_, err = db.Get(ctx, rec.ID, "alice")
	assert.NoError(t, err, "a foreign delete must not remove the record")
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := mustSave(t, db, "alice", "a.ipynb", "A")
	mustSave(t, db, "alice", "b.ipynb", "A")

	require.NoError(t, db.Delete(ctx, rec.ID, "alice"))

	_, err := db.Get(ctx, rec.ID, "alice")
	assert.ErrorIs(t, err, apperr.NotFoundOrForbidden)
	assert.ErrorIs(t, db.Delete(ctx, rec.ID, "alice"), apperr.NotFoundOrForbidden)
	assert.ErrorIs(t, db.Delete(ctx, uuid.New().String(), "alice"), apperr.NotFoundOrForbidden)

	page, err := db.List(ctx, "alice", pipeline.Query{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	mustSave(t, db, "alice", "a.ipynb", "A")
	mustSave(t, db, "alice", "b.ipynb", "B")
	mustSave(t, db, "bob", "c.ipynb", "A")

	stats, err := db.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalAnalyses)
	require.Len(t, stats.Owners, 2)
	assert.Equal(t, "alice", stats.Owners[0].OwnerID)
	assert.Equal(t, 2, stats.Owners[0].Analyses)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, stats.Grades)
}

func TestClosedDatabaseIsPersistenceError(t *testing.T) {
	db := openTestDB(t)
	db.Close()

	_, err := db.Save(context.Background(), "alice", "a.ipynb", sampleFeedback("A"), 1)
	assert.ErrorIs(t, err, apperr.PersistenceError)
	_, err = db.List(context.Background(), "alice", pipeline.Query{PageSize: 1})
	assert.ErrorIs(t, err, apperr.PersistenceError)
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: Postgres}
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2 LIMIT $3",
		pg.rebind("SELECT 1 FROM t WHERE a = ? AND b = ? LIMIT ?"))

	lite := &DB{dialect: SQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestCachedStore(t *testing.T) {
	db := openTestDB(t)
	cached, err := NewCachedStore(db, 8)
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := cached.Save(ctx, "alice", "a.ipynb", sampleFeedback("A"), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())

	got, err := cached.Get(ctx, rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	// Mutating a returned record does not corrupt the cache.
	got.Feedback.Points[0].Comment = "changed"
	again, err := cached.Get(ctx, rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec.Feedback.Points[0].Comment, again.Feedback.Points[0].Comment)

	_, err = cached.Get(ctx, rec.ID, "bob")
	assert.ErrorIs(t, err, apperr.NotFoundOrForbidden)

	require.NoError(t, cached.Delete(ctx, rec.ID, "alice"))
	assert.Zero(t, cached.Len())
	_, err = cached.Get(ctx, rec.ID, "alice")
	assert.ErrorIs(t, err, apperr.NotFoundOrForbidden)

	page, err := cached.List(ctx, "alice", pipeline.Query{PageSize: 5})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
}

func TestCachedStoreSeesDeleteFromAnotherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	dbA, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { dbA.Close() })
	dbB, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { dbB.Close() })

	a, err := NewCachedStore(dbA, 8)
	require.NoError(t, err)
	b, err := NewCachedStore(dbB, 8)
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := a.Save(ctx, "alice", "a.ipynb", sampleFeedback("B"), 10)
	require.NoError(t, err)
	_, err = a.Get(ctx, rec.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, a.Len())

	require.NoError(t, b.Delete(ctx, rec.ID, "alice"))

	_, err = a.Get(ctx, rec.ID, "alice")
	assert.ErrorIs(t, err, apperr.NotFoundOrForbidden)
	assert.Zero(t, a.Len(), "stale entry should be evicted")
}

func TestExists(t *testing.T) {
	db := openTestDB(t)
	rec := mustSave(t, db, "alice", "a.ipynb", "A")
	ctx := context.Background()

	ok, err := db.Exists(ctx, rec.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.Exists(ctx, rec.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.Exists(ctx, uuid.NewString(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedStoreDeleteLeavesNoEntry(t *testing.T) {
	db := openTestDB(t)
	cached, err := NewCachedStore(db, 8)
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := cached.Save(ctx, "alice", "a.ipynb", sampleFeedback("A"), 10)
	require.NoError(t, err)
	require.NoError(t, cached.Delete(ctx, rec.ID, "alice"))
	assert.Zero(t, cached.Len())

	err = cached.Delete(ctx, rec.ID, "alice")
	assert.ErrorIs(t, err, apperr.NotFoundOrForbidden)
	assert.Zero(t, cached.Len())
}
