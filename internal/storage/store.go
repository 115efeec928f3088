package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store defines the persistence operations FilterX needs: settings shared
// with the extension, the activity log and the running stats counters.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	Settings(ctx context.Context) ([]Setting, error)
	AppendActivity(ctx context.Context, batch Batch) error
	ListActivity(ctx context.Context, q ActivityQuery) ([]LogEntry, error)
	CountActivityBefore(ctx context.Context, before time.Time) (int64, error)
	PruneActivity(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeAll(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}

// ErrEmptyBatchID is returned when a batch without an ID is appended.
var ErrEmptyBatchID = errors.New("batch has no id")

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool

	// Prepared statements
	getSetting     *sql.Stmt
	upsertSetting  *sql.Stmt
	insertAudit    *sql.Stmt
	insertBatch    *sql.Stmt
	insertActivity *sql.Stmt
	bumpStats      *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and
// migrated database. The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// Open creates the database directory if needed, opens the SQLite file,
// runs migrations and returns a store that closes the database on Close.
func Open(path, journalMode string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := NewMigrationRunner(db).WithJournalMode(journalMode).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getSetting, err = s.db.Prepare(`SELECT value FROM settings WHERE key = ?`)
	if err != nil {
		return err
	}

	s.upsertSetting, err = s.db.Prepare(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}

	s.insertAudit, err = s.db.Prepare(`INSERT INTO audit_log (action, detail) VALUES (?, ?)`)
	if err != nil {
		return err
	}

	s.insertBatch, err = s.db.Prepare(`INSERT OR IGNORE INTO flush_batches (id, entry_count) VALUES (?, ?)`)
	if err != nil {
		return err
	}

	s.insertActivity, err = s.db.Prepare(`INSERT INTO activity_log (action, ts, batch_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}

	s.bumpStats, err = s.db.Prepare(`
		UPDATE stats
		SET blocked = blocked + ?, blurred = blurred + ?, total = total + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`)
	if err != nil {
		return err
	}

	return nil
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999-07:00",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// GetSetting returns the stored value and whether the key exists.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.getSetting.QueryRowContext(ctx, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a setting and records the change in the audit log.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.StmtContext(ctx, s.upsertSetting).ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	if _, err := tx.StmtContext(ctx, s.insertAudit).ExecContext(ctx, "settings.set", key+"="+value); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}

	return tx.Commit()
}

// Settings lists every stored setting ordered by key.
func (s *SQLiteStore) Settings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	settings := []Setting{}
	for rows.Next() {
		var st Setting
		var tsStr string
		if err := rows.Scan(&st.Key, &st.Value, &tsStr); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		st.UpdatedAt, _ = parseTimestamp(tsStr)
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// AppendActivity writes a batch of log entries and adds its delta to the
// stats counters in one transaction. A batch whose ID is already recorded
// is skipped, so retrying a flush never double counts.
func (s *SQLiteStore) AppendActivity(ctx context.Context, batch Batch) error {
	if len(batch.Entries) == 0 {
		return nil
	}
	if batch.ID == "" {
		return ErrEmptyBatchID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.StmtContext(ctx, s.insertBatch).ExecContext(ctx, batch.ID, len(batch.Entries))
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tx.Commit()
	}

	insert := tx.StmtContext(ctx, s.insertActivity)
	for _, e := range batch.Entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := insert.ExecContext(ctx, e.Action, ts.UnixMilli(), batch.ID); err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
	}

	d := batch.Delta
	if _, err := tx.StmtContext(ctx, s.bumpStats).ExecContext(ctx, d.Blocked, d.Blurred, d.Total); err != nil {
		return fmt.Errorf("update stats: %w", err)
	}

	return tx.Commit()
}

// ListActivity returns log entries newest first.
func (s *SQLiteStore) ListActivity(ctx context.Context, q ActivityQuery) ([]LogEntry, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var clauses []string
	var args []interface{}

	if q.Action != "" {
		clauses = append(clauses, "action LIKE ?")
		args = append(args, "%"+q.Action+"%")
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "ts <= ?")
		args = append(args, q.Until.UnixMilli())
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	query := "SELECT id, action, ts, batch_id FROM activity_log" + where + " ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		var ms int64
		if err := rows.Scan(&e.ID, &e.Action, &ms, &e.BatchID); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Timestamp = time.UnixMilli(ms)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountActivityBefore counts log entries older than before.
func (s *SQLiteStore) CountActivityBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM activity_log WHERE ts < ?", before.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}
	return n, nil
}

// PruneActivity deletes log entries older than olderThan together with the
// batch records they leave empty. Stats counters are lifetime totals and
// are not decremented.
func (s *SQLiteStore) PruneActivity(ctx context.Context, olderThan time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, "DELETE FROM activity_log WHERE ts < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM flush_batches
		WHERE flushed_at < ?
		  AND id NOT IN (SELECT DISTINCT batch_id FROM activity_log)
	`, olderThan.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// PurgeAll deletes the activity log and resets the stats counters.
// Settings are kept.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := []string{
		"DELETE FROM activity_log",
		"DELETE FROM flush_batches",
		"UPDATE stats SET blocked = 0, blurred = 0, total = 0, updated_at = CURRENT_TIMESTAMP WHERE id = 1",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}
	if _, err := tx.StmtContext(ctx, s.insertAudit).ExecContext(ctx, "purge", "activity and stats"); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return tx.Commit()
}

// GetStats returns the counters and a summary of the activity log.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TopActions: []ActionCount{}}

	err := s.db.QueryRowContext(ctx,
		"SELECT blocked, blurred, total FROM stats WHERE id = 1",
	).Scan(&stats.Blocked, &stats.Blurred, &stats.Total)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}

	var oldest, newest sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(ts), MAX(ts) FROM activity_log",
	).Scan(&stats.LogEntries, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("activity range: %w", err)
	}
	if oldest.Valid {
		stats.OldestEntry = time.UnixMilli(oldest.Int64)
	}
	if newest.Valid {
		stats.NewestEntry = time.UnixMilli(newest.Int64)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flush_batches").Scan(&stats.Batches); err != nil {
		return nil, fmt.Errorf("count batches: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}
	stats.DatabaseSizeBytes = pageCount * pageSize

	rows, err := s.db.QueryContext(ctx,
		"SELECT action, COUNT(*) AS cnt FROM activity_log GROUP BY action ORDER BY cnt DESC, action LIMIT 10",
	)
	if err != nil {
		return nil, fmt.Errorf("top actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ac ActionCount
		if err := rows.Scan(&ac.Action, &ac.Count); err != nil {
			return nil, err
		}
		stats.TopActions = append(stats.TopActions, ac)
	}

	return stats, rows.Err()
}

// RecentAudit returns the newest audit entries first.
func (s *SQLiteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, action, detail, ts FROM audit_log ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var a AuditEntry
		var tsStr string
		if err := rows.Scan(&a.ID, &a.Action, &a.Detail, &tsStr); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.Timestamp, _ = parseTimestamp(tsStr)
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// Close releases all prepared statements, and the database when the store
// was created by Open.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.getSetting, s.upsertSetting, s.insertAudit,
		s.insertBatch, s.insertActivity, s.bumpStats,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
