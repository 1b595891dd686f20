// Package metabase implements the transactional catalogue of spec.md §3 and
// §4.B: one embedded relational store file per storage repository, backed by
// github.com/ncruces/go-sqlite3 (a pure-Go SQLite, grounded on
// untoldecay-BeadsLog/internal/storage/sqlite's usage of the same driver
// over database/sql).
package metabase

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // registers "sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"   // embeds the sqlite3 wasm binary

	"github.com/swathicitrix/vhdsr/internal/vhderr"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// BusyTimeout is the metabase write-lock timeout from spec.md §5: long
// enough to outlast any realistic contention, including cross-host GC work.
const BusyTimeout = time.Hour

// Metabase is the single catalogue for one storage repository. Spec.md §4.B
// mandates a single connection per process with deferred transactions
// serialized by the store's own write lock; database/sql's default pool
// would defeat that, so Metabase opens exactly one *sql.DB and additionally
// tracks an open write context under wmu so WriteContext's "nested use is
// forbidden" rule (spec.md §4.B) can be enforced in-process.
type Metabase struct {
	db *sql.DB

	wmu     sync.Mutex
	writing bool
}

// Open opens (and if necessary creates the schema file for) the metabase at
// path, using BusyTimeout. Open itself does not create the schema; call
// Create for that, once per SR at SR-creation time, per spec.md §4.B.
func Open(path string) (*Metabase, error) {
	return OpenWithBusyTimeout(path, BusyTimeout)
}

// OpenWithBusyTimeout is Open with an explicit busy timeout, so
// internal/vhdconfig can wire its configured metabase-busy-timeout through
// instead of every SR being stuck with the package default.
func OpenWithBusyTimeout(path string, busyTimeout time.Duration) (*Metabase, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, vhderr.ProviderFailure("metabase open", err)
	}
	// Single physical connection: spec.md §4.B "single connection per
	// process", and SQLite only has one writer at a time regardless.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, vhderr.ProviderFailure("metabase pragma", err)
	}

	return &Metabase{db: db}, nil
}

// Close releases the underlying connection.
func (m *Metabase) Close() error {
	return m.db.Close()
}

// Create initializes the schema: VHD, VDI, JOURNAL, REFRESH tables and the
// two indexes. Idempotent only when called once per SR at SR-creation time
// (spec.md §4.B); the "IF NOT EXISTS" clauses make repeat calls harmless but
// callers should still only invoke this at SR-creation time.
func (m *Metabase) Create(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return vhderr.ProviderFailure("metabase create schema", err)
	}
	vhdlog.Infof(ctx, "metabase schema initialized")

	return nil
}

// WriteContext is a scoped acquisition of the metabase write transaction:
// commit on normal exit, rollback on failure (DESIGN NOTES §9). Methods
// that mutate the metabase take a *WriteContext parameter so the type
// system rejects uncommitted mutation, per spec.md §4.B "every method that
// mutates MUST be called inside write_context()".
type WriteContext struct {
	mb *Metabase
	tx *sql.Tx
}

// Begin acquires the write transaction. Calling Begin on one *Metabase while
// a write context is already open panics, matching spec.md §4.B's
// forbidden-nesting rule. The check does not distinguish goroutines: a
// second goroutine calling Begin during another's write context panics as
// well; Begin does not wait for the open context to finish.
func (m *Metabase) Begin(ctx context.Context) (*WriteContext, error) {
	m.wmu.Lock()
	if m.writing {
		m.wmu.Unlock()
		panic("metabase: nested WriteContext on a single connection is forbidden")
	}
	m.writing = true
	m.wmu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		m.wmu.Lock()
		m.writing = false
		m.wmu.Unlock()

		return nil, vhderr.ProviderFailure("metabase begin", err)
	}

	return &WriteContext{mb: m, tx: tx}, nil
}

// Commit commits the write transaction.
func (wc *WriteContext) Commit() error {
	defer wc.release()
	if err := wc.tx.Commit(); err != nil {
		return vhderr.ProviderFailure("metabase commit", err)
	}

	return nil
}

// Rollback aborts the write transaction.
func (wc *WriteContext) Rollback() error {
	defer wc.release()
	if err := wc.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return vhderr.ProviderFailure("metabase rollback", err)
	}

	return nil
}

func (wc *WriteContext) release() {
	wc.mb.wmu.Lock()
	wc.mb.writing = false
	wc.mb.wmu.Unlock()
}

// WithWriteContext runs fn inside a WriteContext, committing on a nil
// return and rolling back otherwise. This is the common-path helper every
// mutating call site in internal/volume and internal/gc uses; it implements
// the "guaranteed commit on normal exit and rollback on failure" contract
// of spec.md §4.B in one place.
func (m *Metabase) WithWriteContext(ctx context.Context, fn func(*WriteContext) error) error {
	wc, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(wc); err != nil {
		if rbErr := wc.Rollback(); rbErr != nil {
			vhdlog.Errorf(ctx, "rollback after error failed: %v (original error: %v)", rbErr, err)
		}

		return err
	}

	return wc.Commit()
}
