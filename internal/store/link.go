package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/promptscope/internal/model"
)

// EdgeRecord is a stored recursion edge with the report it belongs to.
type EdgeRecord struct {
	ReportID  string    `json:"report_id"`
	CreatedAt time.Time `json:"created_at"`
	model.RecursionEdge
}

// Edges returns the recursion edges of one report.
func (s *SQLiteStore) Edges(ctx context.Context, reportID string) ([]model.RecursionEdge, error) {
	ok, err := s.exists(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reportID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_uid, target_uid, matched_key, source_level, target_level
		 FROM edges WHERE report_id = ? ORDER BY target_level, target_uid, source_uid`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []model.RecursionEdge
	for rows.Next() {
		var e model.RecursionEdge
		if err := rows.Scan(&e.SourceUID, &e.TargetUID, &e.MatchedKey, &e.SourceLevel, &e.TargetLevel); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// EdgesFor returns every stored edge where uid is the source or the target.
func (s *SQLiteStore) EdgesFor(ctx context.Context, uid int) ([]EdgeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.report_id, r.created_at, e.source_uid, e.target_uid, e.matched_key, e.source_level, e.target_level
		 FROM edges e INNER JOIN reports r ON r.id = e.report_id
		 WHERE e.source_uid = ? OR e.target_uid = ?
		 ORDER BY r.created_at DESC, e.target_level`, uid, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EdgeRecord
	for rows.Next() {
		var e EdgeRecord
		var createdAt string
		if err := rows.Scan(&e.ReportID, &createdAt, &e.SourceUID, &e.TargetUID, &e.MatchedKey,
			&e.SourceLevel, &e.TargetLevel); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
