package store

import (
	"context"

	"github.com/rcliao/promptscope/internal/model"
)

// ExportAll returns every stored report, oldest first, optionally filtered by label.
func (s *SQLiteStore) ExportAll(ctx context.Context, label string) ([]model.Report, error) {
	query := `SELECT data FROM reports`
	var args []interface{}
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rep, err := decodeReport(data)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *rep)
	}
	return reports, rows.Err()
}

// Import stores reports from an export. Reports whose id already exists are skipped.
func (s *SQLiteStore) Import(ctx context.Context, reports []model.Report) (int, error) {
	imported := 0
	for i := range reports {
		rep := &reports[i]
		if rep.ID != "" {
			ok, err := s.exists(ctx, rep.ID)
			if err != nil {
				return imported, err
			}
			if ok {
				continue
			}
		}
		if _, err := s.Save(ctx, SaveParams{Report: rep}); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
