// Package eventlog persists the audit records of committed gateway actions in
// SQLite and exports them in batches to content-addressed storage.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/ruteri/template-gateway/eventlog/migrations"
	"github.com/ruteri/template-gateway/interfaces"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed interfaces.RecordStore.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

var _ interfaces.RecordStore = (*Store)(nil)

// Open opens (creating if needed) the record log at path and applies the
// embedded migrations.
func Open(path string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("record log path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0700); err != nil {
		return nil, fmt.Errorf("create record log directory: %w", err)
	}

	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info("Opened record log", slog.String("path", cleanPath))
	return &Store{db: db, log: log}, nil
}

func applyMigrations(db *sql.DB) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores a batch of records atomically. A record with the same
// (Seq, Index) as a stored one replaces it, which happens when a gateway is
// restored from an older checkpoint and re-commits those sequence numbers.
func (s *Store) Append(ctx context.Context, records []interfaces.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records (seq, idx, type, instance, payload) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %d/%d: %w", r.Seq, r.Index, err)
		}
		if _, err := stmt.ExecContext(ctx, r.Seq, r.Index, string(r.Type), instanceKey(r.Instance), string(payload)); err != nil {
			return fmt.Errorf("insert record %d/%d: %w", r.Seq, r.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func instanceKey(instance common.Address) string {
	if instance == (common.Address{}) {
		return ""
	}
	return instance.Hex()
}

// List returns the records matching filter in commit order.
func (s *Store) List(ctx context.Context, filter interfaces.RecordFilter) ([]interfaces.Record, error) {
	query := `SELECT payload FROM records WHERE seq > ?`
	args := []any{filter.AfterSeq}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Instance != nil {
		query += ` AND instance = ?`
		args = append(args, instanceKey(*filter.Instance))
	}
	query += ` ORDER BY seq, idx`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []interfaces.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var r interfaces.Record
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LastSeq returns the highest stored sequence number, or zero for an empty log.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM records`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return uint64(seq.Int64), nil
}

// Archive describes one exported batch of records.
type Archive struct {
	ContentID interfaces.ContentID `json:"content_id"`
	Backend   string               `json:"backend"`
	FirstSeq  uint64               `json:"first_seq"`
	LastSeq   uint64               `json:"last_seq"`
	Count     int                  `json:"count"`
	CreatedAt time.Time            `json:"created_at"`
}

// ErrNothingToArchive is returned by Archive when no record is newer than the last archive.
var ErrNothingToArchive = errors.New("no records to archive")

// Archive exports every record committed after the previous archive to
// backend as one JSON document.
func (s *Store) Archive(ctx context.Context, backend interfaces.StorageBackend) (*Archive, error) {
	var after sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(last_seq) FROM archives`).Scan(&after); err != nil {
		return nil, fmt.Errorf("query last archive: %w", err)
	}

	records, err := s.List(ctx, interfaces.RecordFilter{AfterSeq: uint64(after.Int64)})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNothingToArchive
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode archive: %w", err)
	}
	id, err := backend.Store(ctx, data, interfaces.RecordArchiveType)
	if err != nil {
		return nil, fmt.Errorf("store archive: %w", err)
	}

	archive := &Archive{
		ContentID: id,
		Backend:   backend.Name(),
		FirstSeq:  records[0].Seq,
		LastSeq:   records[len(records)-1].Seq,
		Count:     len(records),
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO archives (content_id, backend, first_seq, last_seq, count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), archive.Backend, archive.FirstSeq, archive.LastSeq, archive.Count, archive.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("record archive: %w", err)
	}

	s.log.Info("Archived records",
		slog.String("contentID", id.String()),
		slog.String("backend", archive.Backend),
		slog.Uint64("firstSeq", archive.FirstSeq),
		slog.Uint64("lastSeq", archive.LastSeq),
		slog.Int("count", archive.Count))
	return archive, nil
}

// Archives lists previous exports, oldest first.
func (s *Store) Archives(ctx context.Context) ([]Archive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_id, backend, first_seq, last_seq, count, created_at FROM archives ORDER BY last_seq`)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()

	var archives []Archive
	for rows.Next() {
		var (
			a         Archive
			contentID string
			createdAt int64
		)
		if err := rows.Scan(&contentID, &a.Backend, &a.FirstSeq, &a.LastSeq, &a.Count, &createdAt); err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		if a.ContentID, err = interfaces.NewContentIDFromHex(contentID); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

// ReadArchive fetches and decodes an exported batch.
func ReadArchive(ctx context.Context, backend interfaces.StorageBackend, id interfaces.ContentID) ([]interfaces.Record, error) {
	data, err := backend.Fetch(ctx, id, interfaces.RecordArchiveType)
	if err != nil {
		return nil, err
	}
	var records []interfaces.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", id, err)
	}
	return records, nil
}
