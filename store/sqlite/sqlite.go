/*
Package sqlite provides a SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements engine.Store (documents with optimistic commit),
  engine.Catalog (BOM lookups) and engine.HolidaySource (edit window)
  on one database file.

KEY TABLES:
  activities:        One row per report; the document is JSON, version is a column
  movements:         Immutable stock ledger, inserted and deleted, never updated
  aggregates:        Cached per-item totals (derived, repairable)
  sequence_counters: Per-customer, per-family pairing counters
  catalog_items:     Products and consumables with their composition
  holidays:          Non-working dates for the edit window

OPTIMISTIC COMMIT:
  Commit opens one SQL transaction, re-checks the version of every
  document in the read-set, and applies the write-set only if none moved.
  A stale read returns engine.ErrConcurrentModification and rolls back;
  the engine retries the whole body.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, same as single-writer SQLite. With
  a server database the version checks alone provide isolation.

USAGE:
  store, err := sqlite.New("./data/fieldservice.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/fieldservice-engine/engine"
)

// Store implements the engine storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" is per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Activities (report documents)
	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		type TEXT NOT NULL,
		family TEXT NOT NULL,
		sequence_number INTEGER NOT NULL DEFAULT 0,
		doc_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activities_customer_family
		ON activities(customer_id, family, sequence_number);

	-- Movements (immutable ledger)
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		item_key TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('inflow', 'outflow')),
		quantity TEXT NOT NULL,
		stock TEXT NOT NULL,
		source_activity_id TEXT NOT NULL,
		operator TEXT,
		recipient TEXT,
		edit_log TEXT,
		created_at TEXT NOT NULL
	);

	-- Reconciliation reads the full history of one key (hot path)
	CREATE INDEX IF NOT EXISTS idx_movements_key
		ON movements(item_key);
	CREATE INDEX IF NOT EXISTS idx_movements_source
		ON movements(source_activity_id);

	-- Aggregates (derived cache)
	CREATE TABLE IF NOT EXISTS aggregates (
		item_key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		current_stock TEXT NOT NULL,
		total_inflow TEXT NOT NULL,
		total_outflow TEXT NOT NULL,
		last_updated_at TEXT,
		last_action TEXT,
		version INTEGER NOT NULL
	);

	-- Sequence counters
	CREATE TABLE IF NOT EXISTS sequence_counters (
		customer_id TEXT NOT NULL,
		family TEXT NOT NULL,
		last_sequence INTEGER NOT NULL,
		total_count INTEGER NOT NULL,
		version INTEGER NOT NULL,
		PRIMARY KEY (customer_id, family)
	);

	-- Catalog
	CREATE TABLE IF NOT EXISTS catalog_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('product', 'consumable')),
		composition TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_catalog_unique
		ON catalog_items(kind, name, category);

	-- Holidays
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(date, name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// POINT READS (engine.DocReader)
// =============================================================================

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) ReadActivity(ctx context.Context, id string) (*engine.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx, "SELECT doc_json, version FROM activities WHERE id = ?", id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a, err := decodeActivity(doc, version)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ReadMovement(ctx context.Context, id engine.MovementID) (*engine.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, movementSelect+" WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	m, err := scanMovement(rows)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ReadAggregate(ctx context.Context, key engine.ItemKey) (*engine.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, aggregateSelect+" WHERE item_key = ?", string(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	a, err := scanAggregate(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ReadCounter(ctx context.Context, key engine.CounterKey) (*engine.SequenceCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := engine.SequenceCounter{CustomerID: key.CustomerID, Family: key.Family}
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence, total_count, version FROM sequence_counters
		WHERE customer_id = ? AND family = ?
	`, key.CustomerID, string(key.Family)).Scan(&c.LastSequence, &c.TotalCount, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// COMMIT (engine.Store)
// =============================================================================

// Commit validates the read-set and applies the write-set atomically.
func (s *Store) Commit(ctx context.Context, reads engine.ReadSet, writes engine.WriteSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := validateReads(ctx, sqlTx, reads); err != nil {
		return err
	}
	if err := applyWrites(ctx, sqlTx, writes); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%v: %w", err, engine.ErrConcurrentModification)
		}
		return err
	}

	return sqlTx.Commit()
}

func validateReads(ctx context.Context, q queryer, reads engine.ReadSet) error {
	check := func(what, query string, want int64, args ...any) error {
		var got int64
		err := q.QueryRowContext(ctx, query, args...).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			got = 0
		} else if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%s: %w", what, engine.ErrConcurrentModification)
		}
		return nil
	}

	for id, want := range reads.Activities {
		if err := check("activity "+id, "SELECT version FROM activities WHERE id = ?", want, id); err != nil {
			return err
		}
	}
	for key, want := range reads.Aggregates {
		if err := check("aggregate "+key.String(), "SELECT version FROM aggregates WHERE item_key = ?", want, string(key)); err != nil {
			return err
		}
	}
	for key, want := range reads.Counters {
		if err := check("counter "+key.String(),
			"SELECT version FROM sequence_counters WHERE customer_id = ? AND family = ?",
			want, key.CustomerID, string(key.Family)); err != nil {
			return err
		}
	}
	for id := range reads.Movements {
		if err := check("movement "+string(id), "SELECT 1 FROM movements WHERE id = ?", 1, string(id)); err != nil {
			return err
		}
	}
	return nil
}

func applyWrites(ctx context.Context, q queryer, w engine.WriteSet) error {
	for _, a := range w.Activities {
		doc, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode activity %s: %w", a.ID, err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO activities (id, customer_id, type, family, sequence_number, doc_json, version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sequence_number = excluded.sequence_number,
				doc_json = excluded.doc_json,
				version = excluded.version
		`, a.ID, a.CustomerID, string(a.Type), string(a.Type.Family()), a.SequenceNumber,
			string(doc), a.Version, a.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
	}
	for _, id := range w.DeletedActivities {
		if _, err := q.ExecContext(ctx, "DELETE FROM activities WHERE id = ?", id); err != nil {
			return err
		}
	}
	for _, id := range w.DeletedMovements {
		if _, err := q.ExecContext(ctx, "DELETE FROM movements WHERE id = ?", string(id)); err != nil {
			return err
		}
	}
	for _, m := range w.Movements {
		_, err := q.ExecContext(ctx, `
			INSERT INTO movements (id, item_key, name, category, direction, quantity, stock,
				source_activity_id, operator, recipient, edit_log, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, string(m.ID), string(m.Key), m.Name, m.Category, string(m.Direction),
			m.Quantity.String(), m.Stock.String(), m.SourceActivityID,
			nullString(m.Operator), nullString(m.Recipient), nullString(m.EditLog),
			m.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
	}
	for _, a := range w.Aggregates {
		_, err := q.ExecContext(ctx, `
			INSERT INTO aggregates (item_key, name, category, current_stock, total_inflow, total_outflow,
				last_updated_at, last_action, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(item_key) DO UPDATE SET
				current_stock = excluded.current_stock,
				total_inflow = excluded.total_inflow,
				total_outflow = excluded.total_outflow,
				last_updated_at = excluded.last_updated_at,
				last_action = excluded.last_action,
				version = excluded.version
		`, string(a.Key), a.Name, a.Category, a.CurrentStock.String(), a.TotalInflow.String(),
			a.TotalOutflow.String(), a.LastUpdatedAt.UTC().Format(time.RFC3339Nano), a.LastAction, a.Version)
		if err != nil {
			return err
		}
	}
	for _, c := range w.Counters {
		_, err := q.ExecContext(ctx, `
			INSERT INTO sequence_counters (customer_id, family, last_sequence, total_count, version)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(customer_id, family) DO UPDATE SET
				last_sequence = excluded.last_sequence,
				total_count = excluded.total_count,
				version = excluded.version
		`, c.CustomerID, string(c.Family), c.LastSequence, c.TotalCount, c.Version)
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES (engine.Store, non-transactional)
// =============================================================================

func (s *Store) QueryActivities(ctx context.Context, q engine.ActivityQuery) ([]engine.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT doc_json, version FROM activities WHERE 1 = 1"
	var args []any
	if q.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, q.CustomerID)
	}
	if q.Family != "" {
		query += " AND family = ?"
		args = append(args, string(q.Family))
	}
	if len(q.Types) > 0 {
		query += " AND type IN (?" + strings.Repeat(", ?", len(q.Types)-1) + ")"
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Activity
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		a, err := decodeActivity(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) MovementsBySource(ctx context.Context, activityID string) ([]engine.Movement, error) {
	return s.queryMovements(ctx, movementSelect+" WHERE source_activity_id = ? ORDER BY rowid ASC", activityID)
}

func (s *Store) MovementsByKey(ctx context.Context, key engine.ItemKey) ([]engine.Movement, error) {
	return s.queryMovements(ctx, movementSelect+" WHERE item_key = ? ORDER BY rowid ASC", string(key))
}

func (s *Store) ListAggregates(ctx context.Context) ([]engine.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, aggregateSelect+" ORDER BY item_key ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Aggregate
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) queryMovements(ctx context.Context, query string, args ...any) ([]engine.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const movementSelect = `
	SELECT id, item_key, name, category, direction, quantity, stock,
		source_activity_id, operator, recipient, edit_log, created_at
	FROM movements`

func scanMovement(rows *sql.Rows) (engine.Movement, error) {
	var m engine.Movement
	var id, key, direction, quantity, stock, createdAt string
	var operator, recipient, editLog sql.NullString
	if err := rows.Scan(&id, &key, &m.Name, &m.Category, &direction, &quantity, &stock,
		&m.SourceActivityID, &operator, &recipient, &editLog, &createdAt); err != nil {
		return m, err
	}
	m.ID = engine.MovementID(id)
	m.Key = engine.ItemKey(key)
	m.Direction = engine.Direction(direction)
	var err error
	if m.Quantity, err = parseDecimal("quantity", quantity); err != nil {
		return m, fmt.Errorf("movement %s: %w", id, err)
	}
	if m.Stock, err = parseDecimal("stock", stock); err != nil {
		return m, fmt.Errorf("movement %s: %w", id, err)
	}
	m.Operator = operator.String
	m.Recipient = recipient.String
	m.EditLog = editLog.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return m, nil
}

const aggregateSelect = `
	SELECT item_key, name, category, current_stock, total_inflow, total_outflow,
		last_updated_at, last_action, version
	FROM aggregates`

func scanAggregate(rows *sql.Rows) (engine.Aggregate, error) {
	var a engine.Aggregate
	var key, stock, in, out string
	var updatedAt, action sql.NullString
	if err := rows.Scan(&key, &a.Name, &a.Category, &stock, &in, &out, &updatedAt, &action, &a.Version); err != nil {
		return a, err
	}
	a.Key = engine.ItemKey(key)
	var err error
	if a.CurrentStock, err = parseDecimal("current_stock", stock); err != nil {
		return a, fmt.Errorf("aggregate %s: %w", key, err)
	}
	if a.TotalInflow, err = parseDecimal("total_inflow", in); err != nil {
		return a, fmt.Errorf("aggregate %s: %w", key, err)
	}
	if a.TotalOutflow, err = parseDecimal("total_outflow", out); err != nil {
		return a, fmt.Errorf("aggregate %s: %w", key, err)
	}
	a.LastAction = action.String
	if updatedAt.Valid {
		a.LastUpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt.String)
	}
	return a, nil
}

func decodeActivity(doc string, version int64) (engine.Activity, error) {
	var a engine.Activity
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return a, fmt.Errorf("decode activity: %w", err)
	}
	a.Version = version
	return a, nil
}

// =============================================================================
// CATALOG (engine.Catalog)
// =============================================================================

// SaveCatalogItem inserts or updates a catalog entry keyed by kind+name+category.
func (s *Store) SaveCatalogItem(ctx context.Context, item engine.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO catalog_items (id, name, category, kind, composition, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, name, category) DO UPDATE SET
			composition = excluded.composition
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID,
		strings.TrimSpace(item.Name),
		strings.TrimSpace(item.Category),
		string(item.Kind),
		nullString(item.Composition),
		time.Now().Format(time.RFC3339),
	)
	return err
}

// ListCatalogItems returns every entry, optionally filtered by kind.
func (s *Store) ListCatalogItems(ctx context.Context, kind engine.ItemKind) ([]engine.CatalogItem, error) {
	query := "SELECT id, name, category, kind, composition FROM catalog_items"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY kind, name, category"
	return s.queryCatalog(ctx, query, args...)
}

func (s *Store) LookupProduct(ctx context.Context, name, category string) (*engine.CatalogItem, error) {
	query := "SELECT id, name, category, kind, composition FROM catalog_items WHERE kind = 'product' AND name = ? COLLATE NOCASE"
	args := []any{strings.TrimSpace(name)}
	if strings.TrimSpace(category) != "" {
		query += " AND category = ? COLLATE NOCASE"
		args = append(args, strings.TrimSpace(category))
	}
	return s.lookupOne(ctx, query+" LIMIT 1", args...)
}

func (s *Store) LookupConsumable(ctx context.Context, name string) (*engine.CatalogItem, error) {
	query := "SELECT id, name, category, kind, composition FROM catalog_items WHERE kind = 'consumable' AND name = ? COLLATE NOCASE LIMIT 1"
	return s.lookupOne(ctx, query, strings.TrimSpace(name))
}

func (s *Store) lookupOne(ctx context.Context, query string, args ...any) (*engine.CatalogItem, error) {
	items, err := s.queryCatalog(ctx, query, args...)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

func (s *Store) queryCatalog(ctx context.Context, query string, args ...any) ([]engine.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []engine.CatalogItem
	for rows.Next() {
		var it engine.CatalogItem
		var kind string
		var composition sql.NullString
		if err := rows.Scan(&it.ID, &it.Name, &it.Category, &kind, &composition); err != nil {
			return nil, err
		}
		it.Kind = engine.ItemKind(kind)
		it.Composition = composition.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// =============================================================================
// HOLIDAY CALENDAR (engine.HolidaySource)
// =============================================================================

// SaveHoliday saves a holiday to the database.
func (s *Store) SaveHoliday(ctx context.Context, h engine.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, name) DO UPDATE SET
			recurring = excluded.recurring
	`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Date.Format("2006-01-02"),
		h.Name,
		h.Recurring,
		time.Now().Format(time.RFC3339),
	)
	return err
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return err
}

// ListHolidays returns all holidays ordered by date.
func (s *Store) ListHolidays(ctx context.Context) ([]engine.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []engine.Holiday
	for rows.Next() {
		var h engine.Holiday
		var dateStr string
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date, _ = time.Parse("2006-01-02", dateStr)
		holidays = append(holidays, h)
	}

	return holidays, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"movements", "aggregates", "sequence_counters", "activities", "catalog_items", "holidays"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// parseDecimal fails on unreadable values instead of defaulting to zero.
func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt %s %q: %w", column, s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
