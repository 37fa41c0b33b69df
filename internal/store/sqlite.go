package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/promptscope/internal/itemize"
	"github.com/rcliao/promptscope/internal/model"
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id            TEXT PRIMARY KEY,
		created_at    TEXT NOT NULL,
		label         TEXT,
		tokenizer     TEXT NOT NULL DEFAULT '',
		total_tokens  INTEGER NOT NULL DEFAULT 0,
		has_recursion INTEGER NOT NULL DEFAULT 0,
		data          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_reports_label ON reports(label);

	CREATE TABLE IF NOT EXISTS sections (
		report_id   TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		tag         TEXT NOT NULL,
		name        TEXT NOT NULL,
		category    TEXT NOT NULL,
		tokens      INTEGER NOT NULL,
		uid         INTEGER,
		content     TEXT NOT NULL,
		PRIMARY KEY (report_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_sections_category ON sections(category);

	CREATE TABLE IF NOT EXISTS triggers (
		report_id       TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		uid             INTEGER NOT NULL,
		world           TEXT,
		reason          TEXT NOT NULL,
		confident       INTEGER NOT NULL DEFAULT 0,
		recursion_level INTEGER NOT NULL DEFAULT 0,
		matched_keyword TEXT,
		PRIMARY KEY (report_id, uid)
	);
	CREATE INDEX IF NOT EXISTS idx_triggers_reason ON triggers(reason);

	CREATE TABLE IF NOT EXISTS edges (
		report_id    TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		source_uid   INTEGER NOT NULL,
		target_uid   INTEGER NOT NULL,
		matched_key  TEXT NOT NULL,
		source_level INTEGER NOT NULL,
		target_level INTEGER NOT NULL,
		PRIMARY KEY (report_id, source_uid, target_uid)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_uid);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores a new report with its sections, triggers and edges.
func (s *SQLiteStore) Save(ctx context.Context, p SaveParams) (*model.Report, error) {
	if p.Report == nil {
		return nil, errors.New("save: nil report")
	}
	rep := *p.Report
	if rep.ID == "" {
		rep.ID = s.newID()
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}
	if p.Label != "" {
		rep.Label = p.Label
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	tokenizer, total := reportTokens(&rep)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO reports (id, created_at, label, tokenizer, total_tokens, has_recursion, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.CreatedAt.UTC().Format(timeLayout), nullString(rep.Label),
		tokenizer, total, rep.HasRecursion, string(data))
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	if err := insertRows(ctx, tx, &rep); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Update rewrites the report row and replaces its section, trigger and edge rows.
func (s *SQLiteStore) Update(ctx context.Context, rep *model.Report) error {
	if rep == nil || rep.ID == "" {
		return errors.New("update: report without id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	tokenizer, total := reportTokens(rep)
	res, err := tx.ExecContext(ctx,
		`UPDATE reports SET label = ?, tokenizer = ?, total_tokens = ?, has_recursion = ?, data = ?
		 WHERE id = ?`,
		nullString(rep.Label), tokenizer, total, rep.HasRecursion, string(data), rep.ID)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rep.ID)
	}
	for _, table := range []string{"sections", "triggers", "edges"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE report_id = ?`, rep.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := insertRows(ctx, tx, rep); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRows(ctx context.Context, tx *sql.Tx, rep *model.Report) error {
	if it := rep.Itemization; it != nil {
		for i, sec := range it.Sections {
			var uid sql.NullInt64
			if sec.UID != nil {
				uid = sql.NullInt64{Int64: int64(*sec.UID), Valid: true}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO sections (report_id, seq, tag, name, category, tokens, uid, content)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				rep.ID, i, sec.Tag, sec.Name, string(itemize.Categorize(sec)), sec.Tokens, uid, sec.Content)
			if err != nil {
				return fmt.Errorf("insert section: %w", err)
			}
		}
	}
	for _, t := range rep.Triggers {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO triggers (report_id, uid, world, reason, confident, recursion_level, matched_keyword)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rep.ID, t.UID, nullString(t.World), string(t.Reason), t.Confident, t.RecursionLevel, nullString(t.MatchedKeyword))
		if err != nil {
			return fmt.Errorf("insert trigger: %w", err)
		}
	}
	for _, e := range rep.Edges {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO edges (report_id, source_uid, target_uid, matched_key, source_level, target_level)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rep.ID, e.SourceUID, e.TargetUID, e.MatchedKey, e.SourceLevel, e.TargetLevel)
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Report, error) {
	var data string
	var err error
	if id == "" || id == "latest" {
		err = s.db.QueryRowContext(ctx,
			`SELECT data FROM reports ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&data)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT data FROM reports WHERE id = ?`, id).Scan(&data)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeReport(data)
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]ReportSummary, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"1 = 1"}
	var args []interface{}
	if p.Label != "" {
		where = append(where, "r.label = ?")
		args = append(args, p.Label)
	}
	if p.Recursive {
		where = append(where, "r.has_recursion = 1")
	}

	query := fmt.Sprintf(`
		SELECT r.id, r.created_at, r.label, r.tokenizer, r.total_tokens, r.has_recursion,
		       (SELECT COUNT(*) FROM sections s WHERE s.report_id = r.id),
		       (SELECT COUNT(*) FROM triggers t WHERE t.report_id = r.id)
		FROM reports r
		WHERE %s
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportSummary
	for rows.Next() {
		var r ReportSummary
		var createdAt string
		var label sql.NullString
		if err := rows.Scan(&r.ID, &createdAt, &label, &r.Tokenizer, &r.TotalTokens,
			&r.HasRecursion, &r.Sections, &r.Triggers); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		r.Label = label.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Rm(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

func decodeReport(data string) (*model.Report, error) {
	var rep model.Report
	if err := json.Unmarshal([]byte(data), &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}

func reportTokens(rep *model.Report) (string, int) {
	if rep.Itemization == nil {
		return "", 0
	}
	return rep.Itemization.Tokenizer, rep.Itemization.TotalMarkedTokens
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
