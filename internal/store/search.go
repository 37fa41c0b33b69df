package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SearchParams holds parameters for searching stored sections.
type SearchParams struct {
	Query    string
	Tag      string
	Category string
	Limit    int
}

// SearchResult is one section whose name or content matched.
type SearchResult struct {
	ReportID  string    `json:"report_id"`
	CreatedAt time.Time `json:"created_at"`
	Label     string    `json:"label,omitempty"`
	Seq       int       `json:"seq"`
	Tag       string    `json:"tag"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Tokens    int       `json:"tokens"`
	UID       *int      `json:"uid,omitempty"`
	Content   string    `json:"content"`
}

// Search finds sections whose content or name match the query substring.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	query := "%" + p.Query + "%"
	where := []string{"(s.content LIKE ? OR s.name LIKE ?)"}
	args := []interface{}{query, query}

	if p.Tag != "" {
		where = append(where, "s.tag = ?")
		args = append(args, p.Tag)
	}
	if p.Category != "" {
		where = append(where, "s.category = ?")
		args = append(args, p.Category)
	}

	stmt := fmt.Sprintf(`
		SELECT s.report_id, r.created_at, r.label, s.seq, s.tag, s.name, s.category, s.tokens, s.uid, s.content
		FROM sections s
		INNER JOIN reports r ON r.id = s.report_id
		WHERE %s
		ORDER BY r.created_at DESC, s.seq
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var createdAt string
		var label sql.NullString
		var uid sql.NullInt64
		if err := rows.Scan(&r.ReportID, &createdAt, &label, &r.Seq, &r.Tag, &r.Name,
			&r.Category, &r.Tokens, &uid, &r.Content); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		r.Label = label.String
		if uid.Valid {
			v := int(uid.Int64)
			r.UID = &v
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
