package database

import (
	"context"
	"fmt"
	"time"
)

// OwnerStats summarizes one owner's history.
type OwnerStats struct {
	OwnerID      string
	Analyses     int
	LastAnalysis time.Time
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalAnalyses int
	Owners        []OwnerStats
	// Grades maps final_score to the number of analyses with that grade.
	Grades map[string]int
}

// GetStats returns record counts per owner and per grade.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{Grades: make(map[string]int)}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT owner_id, COUNT(*), MAX(created_at) FROM analyses GROUP BY owner_id ORDER BY COUNT(*) DESC, owner_id`)
	if err != nil {
		return nil, fmt.Errorf("counting analyses per owner: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o OwnerStats
		var last int64
		if err := rows.Scan(&o.OwnerID, &o.Analyses, &last); err != nil {
			return nil, err
		}
		o.LastAnalysis = time.UnixMicro(last).UTC()
		s.TotalAnalyses += o.Analyses
		s.Owners = append(s.Owners, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	gradeRows, err := db.conn.QueryContext(ctx, `SELECT final_score, COUNT(*) FROM analyses GROUP BY final_score`)
	if err != nil {
		return nil, fmt.Errorf("counting grades: %w", err)
	}
	defer gradeRows.Close()
	for gradeRows.Next() {
		var grade string
		var n int
		if err := gradeRows.Scan(&grade, &n); err != nil {
			return nil, err
		}
		s.Grades[grade] = n
	}
	return s, gradeRows.Err()
}
