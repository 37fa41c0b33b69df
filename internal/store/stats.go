package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string          `json:"db_path"`
	DBSizeBytes int64           `json:"db_size_bytes"`
	Reports     int             `json:"reports"`
	Recursive   int             `json:"recursive_reports"`
	Sections    int             `json:"sections"`
	Triggers    int             `json:"triggers"`
	Edges       int             `json:"edges"`
	Categories  []CategoryStats `json:"categories"`
	Reasons     []ReasonStats   `json:"reasons"`
}

// CategoryStats holds per-category section counts and token totals.
type CategoryStats struct {
	Category string `json:"category"`
	Sections int    `json:"sections"`
	Tokens   int    `json:"tokens"`
}

// ReasonStats counts trigger records per reason.
type ReasonStats struct {
	Reason    string `json:"reason"`
	Count     int    `json:"count"`
	Confident int    `json:"confident"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&st.Reports)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE has_recursion = 1`).Scan(&st.Recursive)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sections`).Scan(&st.Sections)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM triggers`).Scan(&st.Triggers)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&st.Edges)

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*), COALESCE(SUM(tokens), 0)
		FROM sections GROUP BY category ORDER BY SUM(tokens) DESC, category`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var c CategoryStats
		rows.Scan(&c.Category, &c.Sections, &c.Tokens)
		st.Categories = append(st.Categories, c)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT reason, COUNT(*), COALESCE(SUM(confident), 0)
		FROM triggers GROUP BY reason ORDER BY COUNT(*) DESC, reason`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var r ReasonStats
		rows.Scan(&r.Reason, &r.Count, &r.Confident)
		st.Reasons = append(st.Reasons, r)
	}

	return st, nil
}
