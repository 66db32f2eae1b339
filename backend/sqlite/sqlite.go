// Package sqlite implements the RelationalStore backend on database/sql with
// the pure-Go modernc.org/sqlite driver.
//
// Entries live in one table keyed by (namespace hash, key hash). Expiry is
// filtered on read; expired rows are removed by Sweep, which is never run
// automatically.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
)

// TimeFormat is the layout of the date and expire columns, always UTC.
const TimeFormat = "2006-01-02 15:04:05.000"

const schema = `CREATE TABLE IF NOT EXISTS cache_storage (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT,
	numeric INTEGER NOT NULL DEFAULT 0,
	date DATETIME NOT NULL,
	expire DATETIME,
	PRIMARY KEY (namespace, key)
)`

const (
	upsertSQL = `INSERT INTO cache_storage (namespace, key, value, numeric, date, expire)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (namespace, key) DO UPDATE SET
		value = excluded.value, numeric = excluded.numeric,
		date = excluded.date, expire = excluded.expire`

	// insertSQL replaces an existing row only when it has expired; zero
	// affected rows means a live row holds the key.
	insertSQL = upsertSQL + `
	WHERE cache_storage.expire IS NOT NULL AND cache_storage.expire < ?`

	liveFilter = `(expire IS NULL OR expire >= ?)`

	selectSQL = `SELECT value, numeric, date, expire FROM cache_storage
	WHERE namespace = ? AND key = ? AND ` + liveFilter

	existsSQL = `SELECT 1 FROM cache_storage
	WHERE namespace = ? AND key = ? AND ` + liveFilter

	incrSQL = `UPDATE cache_storage SET value = CAST(value AS REAL) + ?
	WHERE namespace = ? AND key = ? AND numeric = 1 AND ` + liveFilter

	deleteSQL = `DELETE FROM cache_storage WHERE namespace = ? AND key = ?`
	sweepSQL  = `DELETE FROM cache_storage WHERE expire IS NOT NULL AND expire < ?`
)

var ErrNilDB = errors.New("sqlite backend: nil db")

type SQLite struct {
	db      *sql.DB
	closeDB bool
	now     func() time.Time
	closed  atomic.Bool
}

var (
	_ backend.Backend = (*SQLite)(nil)
	_ backend.Sweeper = (*SQLite)(nil)
)

type Config struct {
	DB      *sql.DB
	CloseDB bool             // set true only if this backend exclusively owns the db
	Clock   func() time.Time // nil => time.Now
}

// New prepares the schema on an open database.
func New(ctx context.Context, cfg Config) (*SQLite, error) {
	if cfg.DB == nil {
		return nil, ErrNilDB
	}
	if _, err := cfg.DB.ExecContext(ctx, schema); err != nil {
		return nil, backend.Fault("sqlite schema", err)
	}
	if _, err := cfg.DB.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_cache_storage_expire ON cache_storage(expire)`); err != nil {
		return nil, backend.Fault("sqlite schema", err)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &SQLite{db: cfg.DB, closeDB: cfg.CloseDB, now: now}, nil
}

// Open opens (or creates) the database at path and owns it.
// An empty path or ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*SQLite, error) {
	memory := path == "" || path == ":memory:"
	dsn := path
	if memory {
		dsn = ":memory:"
	} else {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, backend.Fault("sqlite open", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, backend.Fault("sqlite open", err)
	}
	s, err := New(ctx, Config{DB: db, CloseDB: true})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) check(k keycodec.DerivedKey) error {
	if s.closed.Load() {
		return backend.ErrUnavailable
	}
	return backend.RequireKey(k)
}

func formatTime(t time.Time) string { return t.UTC().Format(TimeFormat) }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// parseTime accepts both raw column text and the time.Time the driver
// produces for DATETIME columns.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		return time.ParseInLocation(TimeFormat, t, time.UTC)
	case []byte:
		return time.ParseInLocation(TimeFormat, string(t), time.UTC)
	}
	return time.Time{}, errors.New("sqlite backend: unexpected time column type")
}

func columnValue(v backend.Value) any {
	if v.IsNumeric() {
		return strconv.FormatFloat(v.Number(), 'f', -1, 64)
	}
	return string(v.Payload())
}

func (s *SQLite) Put(ctx context.Context, k keycodec.DerivedKey, e backend.Entry, overwrite bool) error {
	if err := s.check(k); err != nil {
		return err
	}
	now := s.now()
	if !e.Live(now) {
		if overwrite {
			return s.Delete(ctx, k)
		}
		ok, err := s.Exists(ctx, k)
		if err != nil {
			return err
		}
		if ok {
			return backend.ErrKeyExists
		}
		return nil
	}
	numeric := 0
	if e.Value.IsNumeric() {
		numeric = 1
	}
	args := []any{k.NamespaceHash, k.KeyHash, columnValue(e.Value), numeric,
		formatTime(e.CreatedAt), nullTime(e.ExpiresAt)}

	if overwrite {
		if _, err := s.db.ExecContext(ctx, upsertSQL, args...); err != nil {
			return backend.Fault("sqlite put", err)
		}
		return nil
	}
	res, err := s.db.ExecContext(ctx, insertSQL, append(args, formatTime(now))...)
	if err != nil {
		return backend.Fault("sqlite put", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backend.Fault("sqlite put", err)
	}
	if n == 0 {
		return backend.ErrKeyExists
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, k keycodec.DerivedKey) (backend.Entry, error) {
	if err := s.check(k); err != nil {
		return backend.Entry{}, err
	}
	var (
		raw           []byte
		numeric       int
		date, expires any
	)
	err := s.db.QueryRowContext(ctx, selectSQL, k.NamespaceHash, k.KeyHash, formatTime(s.now())).
		Scan(&raw, &numeric, &date, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Entry{}, backend.ErrNotFound
	}
	if err != nil {
		return backend.Entry{}, backend.Fault("sqlite get", err)
	}

	var e backend.Entry
	if e.CreatedAt, err = parseTime(date); err != nil {
		return backend.Entry{}, backend.Fault("sqlite get", err)
	}
	if e.ExpiresAt, err = parseTime(expires); err != nil {
		return backend.Entry{}, backend.Fault("sqlite get", err)
	}
	if numeric == 1 {
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return backend.Entry{}, backend.Fault("sqlite get", err)
		}
		e.Value = backend.Numeric(f, nil)
	} else {
		e.Value = backend.Opaque(raw)
	}
	return e, nil
}

func (s *SQLite) Exists(ctx context.Context, k keycodec.DerivedKey) (bool, error) {
	if err := s.check(k); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, existsSQL, k.NamespaceHash, k.KeyHash, formatTime(s.now())).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, backend.Fault("sqlite exists", err)
	}
	return true, nil
}

func (s *SQLite) Delete(ctx context.Context, k keycodec.DerivedKey) error {
	if err := s.check(k); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, deleteSQL, k.NamespaceHash, k.KeyHash); err != nil {
		return backend.Fault("sqlite delete", err)
	}
	return nil
}

// Increment updates numeric rows in place. When nothing was updated the row
// is looked up again to tell a missing key from a non-numeric one.
func (s *SQLite) Increment(ctx context.Context, k keycodec.DerivedKey, delta float64) error {
	if err := s.check(k); err != nil {
		return err
	}
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, incrSQL, delta, k.NamespaceHash, k.KeyHash, now)
	if err != nil {
		return backend.Fault("sqlite incr", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backend.Fault("sqlite incr", err)
	}
	if n > 0 {
		return nil
	}
	ok, err := s.Exists(ctx, k)
	if err != nil {
		return err
	}
	if ok {
		return backend.ErrNotNumeric
	}
	return backend.ErrNotFound
}

func (s *SQLite) Clear(ctx context.Context, sc backend.Scope) error {
	if s.closed.Load() {
		return backend.ErrUnavailable
	}
	var err error
	if sc.All {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_storage`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_storage WHERE namespace = ?`, sc.NamespaceHash)
	}
	if err != nil {
		return backend.Fault("sqlite clear", err)
	}
	return nil
}

// Sweep deletes expired rows.
func (s *SQLite) Sweep(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, backend.ErrUnavailable
	}
	res, err := s.db.ExecContext(ctx, sweepSQL, formatTime(s.now()))
	if err != nil {
		return 0, backend.Fault("sqlite sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backend.Fault("sqlite sweep", err)
	}
	return int(n), nil
}

// Close releases the database only when this backend owns it.
func (s *SQLite) Close(context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.closeDB {
		return s.db.Close()
	}
	return nil
}
