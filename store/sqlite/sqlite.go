/*
Package sqlite provides a SQLite-backed implementation of the catalog
storage interfaces.

PURPOSE:
  Implements catalog.Store and catalog.Tx over SQLite. This is the
  production default and also backs the test suite via ":memory:".
  The PostgreSQL variant in store/postgres follows the same layout
  with dialect differences only.

KEY TABLES:
  sections:         catalog sections (stable text identifiers)
  items:            materials rows, UNIQUE(section_id, product)
  approvals:        zero or one per (item, role)
  replacement_urls: ordered URL list per approval, cascade-deleted
  orders:           zero or one per item
  comments:         zero or one per (item, role)
  custom_fields:    zero or one per (item, name), JSON value
  edit_history:     capped append-only ledger of committed mutations

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's single
  writer. Every read helper takes a querier rather than the *Store so
  the same code serves live reads and in-transaction reads without
  re-acquiring the lock a WithTx caller already holds.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.
  Foreign keys carry the cascade semantics: deleting an approval
  removes its replacement URLs, deleting an item removes its children,
  and ledger rows keep their product snapshot with the item reference
  nulled.

MONEY AND TIME:
  Prices are stored as decimal strings, never floats. Timestamps are
  RFC 3339 text in UTC. Order and delivery dates keep the legacy
  dd/mm shape, enforced by a CHECK constraint.

USAGE:
  store, err := sqlite.New("./data/materials.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - catalog/store.go: interface definitions
  - materials/service.go: the commit flow driving WithTx
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/materials-engine/catalog"
)

// Store implements catalog.Store using SQLite.
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
	-- Sections (stable caller-chosen identifiers)
	CREATE TABLE IF NOT EXISTS sections (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Items: one row per material, prices as decimal strings
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		section_id TEXT NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
		product TEXT NOT NULL CHECK (product <> ''),
		reference TEXT,
		supplier_link TEXT,
		labor_type TEXT,
		price_ttc TEXT,
		price_ht_quote TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(section_id, product)
	);

	CREATE INDEX IF NOT EXISTS idx_items_section
		ON items(section_id, id);

	-- Approvals: zero or one per (item, role)
	CREATE TABLE IF NOT EXISTS approvals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('client', 'contractor')),
		status TEXT CHECK (status IS NULL OR status IN
			('approved', 'rejected', 'change_order', 'pending', 'supplied_by')),
		note TEXT,
		validated_at TEXT,
		UNIQUE(item_id, role)
	);

	-- Replacement URLs live and die with their approval
	CREATE TABLE IF NOT EXISTS replacement_urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		approval_id INTEGER NOT NULL REFERENCES approvals(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		url TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_replacement_urls_approval
		ON replacement_urls(approval_id, position);

	-- Orders: zero or one per item, legacy dd/mm dates
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL UNIQUE REFERENCES items(id) ON DELETE CASCADE,
		ordered BOOLEAN NOT NULL DEFAULT FALSE,
		order_date TEXT CHECK (order_date IS NULL OR order_date GLOB '[0-9][0-9]/[0-9][0-9]'),
		delivery_date TEXT CHECK (delivery_date IS NULL OR delivery_date GLOB '[0-9][0-9]/[0-9][0-9]'),
		delivery_status TEXT CHECK (delivery_status IS NULL OR delivery_status IN
			('pending', 'ordered', 'shipped', 'delivered', 'cancelled')),
		quantity INTEGER CHECK (quantity IS NULL OR quantity > 0)
	);

	-- Comments: zero or one per (item, role)
	CREATE TABLE IF NOT EXISTS comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('client', 'contractor')),
		body TEXT NOT NULL,
		UNIQUE(item_id, role)
	);

	-- Custom fields: extensibility escape hatch, JSON values
	CREATE TABLE IF NOT EXISTS custom_fields (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		value_json TEXT,
		UNIQUE(item_id, name)
	);

	-- Edit ledger: append-only, capped; rows outlive their item
	CREATE TABLE IF NOT EXISTS edit_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TEXT NOT NULL,
		section_id TEXT NOT NULL,
		section_label TEXT NOT NULL,
		item_id INTEGER REFERENCES items(id) ON DELETE SET NULL,
		product TEXT NOT NULL,
		field_path TEXT NOT NULL,
		old_value_json TEXT,
		new_value_json TEXT,
		source TEXT NOT NULL CHECK (source IN ('manual', 'agent'))
	);

	CREATE INDEX IF NOT EXISTS idx_edit_history_created
		ON edit_history(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is the common surface of *sql.DB and *sql.Tx. Read helpers
// take it so live reads and in-transaction reads share one code path.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// READER (catalog.Reader interface, live connection)
// =============================================================================

// LookupSection resolves an identifier or a case-insensitive label.
func (s *Store) LookupSection(ctx context.Context, ident string) (*catalog.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lookupSection(ctx, s.db, ident)
}

// ListSections returns all sections ordered by identifier.
func (s *Store) ListSections(ctx context.Context) ([]catalog.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listSections(ctx, s.db)
}

// ListItems returns a section's items with children loaded.
func (s *Store) ListItems(ctx context.Context, sectionID string) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listItems(ctx, s.db, sectionID)
}

// ItemAt returns the item at a zero-based position, or (nil, nil).
func (s *Store) ItemAt(ctx context.Context, sectionID string, index int) (*catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return itemAt(ctx, s.db, sectionID, index)
}

// ListEdits returns ledger entries, newest first.
func (s *Store) ListEdits(ctx context.Context, limit int) ([]catalog.EditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listEdits(ctx, s.db, limit)
}

// =============================================================================
// TRANSACTIONS (catalog.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(catalog.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore implements catalog.Tx over an open *sql.Tx. Reads go
// through the shared helpers on the transaction handle, never back to
// the parent store, so they see uncommitted writes and do not touch
// the store mutex.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) LookupSection(ctx context.Context, ident string) (*catalog.Section, error) {
	return lookupSection(ctx, ts.tx, ident)
}

func (ts *txStore) ListSections(ctx context.Context) ([]catalog.Section, error) {
	return listSections(ctx, ts.tx)
}

func (ts *txStore) ListItems(ctx context.Context, sectionID string) ([]catalog.Item, error) {
	return listItems(ctx, ts.tx, sectionID)
}

func (ts *txStore) ItemAt(ctx context.Context, sectionID string, index int) (*catalog.Item, error) {
	return itemAt(ctx, ts.tx, sectionID, index)
}

func (ts *txStore) ListEdits(ctx context.Context, limit int) ([]catalog.EditEntry, error) {
	return listEdits(ctx, ts.tx, limit)
}

// UpsertSection creates the section or updates its label.
func (ts *txStore) UpsertSection(ctx context.Context, sec catalog.Section) error {
	query := `
		INSERT INTO sections (id, label, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := ts.tx.ExecContext(ctx, query, sec.ID, sec.Label, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert section %s: %w", sec.ID, err)
	}
	return nil
}

// CreateItem inserts the item and assigns its identity.
func (ts *txStore) CreateItem(ctx context.Context, it *catalog.Item) error {
	query := `
		INSERT INTO items
		(section_id, product, reference, supplier_link, labor_type,
		 price_ttc, price_ht_quote, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := ts.tx.ExecContext(ctx, query,
		it.SectionID,
		it.Product,
		nullString(it.Reference),
		nullString(it.SupplierLink),
		nullString(string(it.LaborType)),
		nullDecimal(it.PriceTTC),
		nullDecimal(it.PriceHTQuote),
		now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("product %q already exists in section %s: %w", it.Product, it.SectionID, err)
		}
		return fmt.Errorf("failed to create item: %w", err)
	}

	it.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read item id: %w", err)
	}
	return nil
}

// UpdateItem writes the item's direct scalar columns.
func (ts *txStore) UpdateItem(ctx context.Context, it catalog.Item) error {
	query := `
		UPDATE items SET
			product = ?,
			reference = ?,
			supplier_link = ?,
			labor_type = ?,
			price_ttc = ?,
			price_ht_quote = ?,
			updated_at = ?
		WHERE id = ?
	`

	_, err := ts.tx.ExecContext(ctx, query,
		it.Product,
		nullString(it.Reference),
		nullString(it.SupplierLink),
		nullString(string(it.LaborType)),
		nullDecimal(it.PriceTTC),
		nullDecimal(it.PriceHTQuote),
		time.Now().UTC().Format(time.RFC3339),
		it.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("product %q already exists in section %s: %w", it.Product, it.SectionID, err)
		}
		return fmt.Errorf("failed to update item %d: %w", it.ID, err)
	}
	return nil
}

// DeleteItem removes an item; children cascade via foreign keys.
func (ts *txStore) DeleteItem(ctx context.Context, itemID int64) error {
	if _, err := ts.tx.ExecContext(ctx, "DELETE FROM items WHERE id = ?", itemID); err != nil {
		return fmt.Errorf("failed to delete item %d: %w", itemID, err)
	}
	return nil
}

// UpsertApproval creates or updates the (item, role) approval.
func (ts *txStore) UpsertApproval(ctx context.Context, itemID int64, ap catalog.Approval) (int64, error) {
	query := `
		INSERT INTO approvals (item_id, role, status, note, validated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id, role) DO UPDATE SET
			status = excluded.status,
			note = excluded.note,
			validated_at = excluded.validated_at
	`

	_, err := ts.tx.ExecContext(ctx, query,
		itemID,
		string(ap.Role),
		nullString(string(ap.Status)),
		nullString(ap.Note),
		nullTime(ap.ValidatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert approval: %w", err)
	}

	// LastInsertId is unreliable across the upsert's update arm.
	var id int64
	err = ts.tx.QueryRowContext(ctx,
		"SELECT id FROM approvals WHERE item_id = ? AND role = ?",
		itemID, string(ap.Role),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read approval id: %w", err)
	}
	return id, nil
}

// DeleteApproval removes the (item, role) approval; URLs cascade.
func (ts *txStore) DeleteApproval(ctx context.Context, itemID int64, role catalog.Role) error {
	_, err := ts.tx.ExecContext(ctx,
		"DELETE FROM approvals WHERE item_id = ? AND role = ?",
		itemID, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to delete approval: %w", err)
	}
	return nil
}

// ReplaceApprovalURLs swaps the URL list wholesale, keeping order.
func (ts *txStore) ReplaceApprovalURLs(ctx context.Context, approvalID int64, urls []string) error {
	if _, err := ts.tx.ExecContext(ctx,
		"DELETE FROM replacement_urls WHERE approval_id = ?", approvalID,
	); err != nil {
		return fmt.Errorf("failed to clear replacement urls: %w", err)
	}

	for i, url := range urls {
		if _, err := ts.tx.ExecContext(ctx,
			"INSERT INTO replacement_urls (approval_id, position, url) VALUES (?, ?, ?)",
			approvalID, i, url,
		); err != nil {
			return fmt.Errorf("failed to insert replacement url: %w", err)
		}
	}
	return nil
}

// UpsertOrder creates or updates the item's order sub-record.
func (ts *txStore) UpsertOrder(ctx context.Context, itemID int64, o catalog.Order) error {
	query := `
		INSERT INTO orders (item_id, ordered, order_date, delivery_date, delivery_status, quantity)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			ordered = excluded.ordered,
			order_date = excluded.order_date,
			delivery_date = excluded.delivery_date,
			delivery_status = excluded.delivery_status,
			quantity = excluded.quantity
	`

	_, err := ts.tx.ExecContext(ctx, query,
		itemID,
		o.Ordered,
		nullString(o.OrderDate),
		nullString(o.DeliveryDate),
		nullString(string(o.DeliveryStatus)),
		nullInt(o.Quantity),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// DeleteOrder removes the item's order sub-record.
func (ts *txStore) DeleteOrder(ctx context.Context, itemID int64) error {
	if _, err := ts.tx.ExecContext(ctx, "DELETE FROM orders WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// UpsertComment creates or updates the (item, role) comment.
func (ts *txStore) UpsertComment(ctx context.Context, itemID int64, role catalog.Role, text string) error {
	query := `
		INSERT INTO comments (item_id, role, body)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id, role) DO UPDATE SET
			body = excluded.body
	`

	if _, err := ts.tx.ExecContext(ctx, query, itemID, string(role), text); err != nil {
		return fmt.Errorf("failed to upsert comment: %w", err)
	}
	return nil
}

// DeleteComment removes the (item, role) comment.
func (ts *txStore) DeleteComment(ctx context.Context, itemID int64, role catalog.Role) error {
	_, err := ts.tx.ExecContext(ctx,
		"DELETE FROM comments WHERE item_id = ? AND role = ?",
		itemID, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

// SetCustomField creates or updates the (item, name) custom field.
func (ts *txStore) SetCustomField(ctx context.Context, itemID int64, name string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode custom field %s: %w", name, err)
	}

	query := `
		INSERT INTO custom_fields (item_id, name, value_json)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id, name) DO UPDATE SET
			value_json = excluded.value_json
	`

	if _, err := ts.tx.ExecContext(ctx, query, itemID, name, string(valueJSON)); err != nil {
		return fmt.Errorf("failed to set custom field %s: %w", name, err)
	}
	return nil
}

// DeleteCustomField removes the (item, name) custom field.
func (ts *txStore) DeleteCustomField(ctx context.Context, itemID int64, name string) error {
	_, err := ts.tx.ExecContext(ctx,
		"DELETE FROM custom_fields WHERE item_id = ? AND name = ?",
		itemID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to delete custom field %s: %w", name, err)
	}
	return nil
}

// AppendEdit appends a ledger entry and trims past the cap.
func (ts *txStore) AppendEdit(ctx context.Context, e catalog.EditEntry) error {
	oldJSON, err := json.Marshal(e.OldValue)
	if err != nil {
		return fmt.Errorf("failed to encode old value: %w", err)
	}
	newJSON, err := json.Marshal(e.NewValue)
	if err != nil {
		return fmt.Errorf("failed to encode new value: %w", err)
	}

	query := `
		INSERT INTO edit_history
		(created_at, section_id, section_label, item_id, product,
		 field_path, old_value_json, new_value_json, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	_, err = ts.tx.ExecContext(ctx, query,
		at.UTC().Format(time.RFC3339),
		e.SectionID,
		e.SectionLabel,
		nullInt64(e.ItemID),
		e.Product,
		e.FieldPath,
		string(oldJSON),
		string(newJSON),
		string(e.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to append edit: %w", err)
	}

	// FIFO eviction: keep only the newest cap entries.
	_, err = ts.tx.ExecContext(ctx, `
		DELETE FROM edit_history WHERE id NOT IN (
			SELECT id FROM edit_history ORDER BY id DESC LIMIT ?
		)`, catalog.EditLedgerCap)
	if err != nil {
		return fmt.Errorf("failed to trim edit history: %w", err)
	}
	return nil
}

// =============================================================================
// SHARED READ HELPERS
// =============================================================================

func lookupSection(ctx context.Context, q querier, ident string) (*catalog.Section, error) {
	// Exact identifier first.
	sec, err := scanSectionRow(q.QueryRowContext(ctx,
		"SELECT id, label, created_at, updated_at FROM sections WHERE id = ?", ident))
	if err != nil {
		return nil, err
	}
	if sec != nil {
		return sec, nil
	}

	// Then case-insensitive label; refuse to guess between several.
	rows, err := q.QueryContext(ctx,
		"SELECT id, label, created_at, updated_at FROM sections WHERE LOWER(label) = LOWER(?) ORDER BY id",
		ident)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var matches []catalog.Section
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return nil, &catalog.AmbiguousSectionError{Label: ident, Matches: ids}
}

func listSections(ctx context.Context, q querier) ([]catalog.Section, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, label, created_at, updated_at FROM sections ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var sections []catalog.Section
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

func listItems(ctx context.Context, q querier, sectionID string) ([]catalog.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, section_id, product, reference, supplier_link, labor_type,
		       price_ttc, price_ht_quote, created_at, updated_at
		FROM items
		WHERE section_id = ?
		ORDER BY id ASC`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	if err := loadChildren(ctx, q, sectionID, items); err != nil {
		return nil, err
	}
	return items, nil
}

func itemAt(ctx context.Context, q querier, sectionID string, index int) (*catalog.Item, error) {
	if index < 0 {
		return nil, nil
	}
	items, err := listItems(ctx, q, sectionID)
	if err != nil {
		return nil, err
	}
	if index >= len(items) {
		return nil, nil
	}
	return &items[index], nil
}

// loadChildren fills approvals, URLs, orders, comments and custom
// fields for every item of one section in four bulk queries.
func loadChildren(ctx context.Context, q querier, sectionID string, items []catalog.Item) error {
	byID := make(map[int64]*catalog.Item, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	// Approvals, then their URLs keyed by approval id.
	apRows, err := q.QueryContext(ctx, `
		SELECT a.id, a.item_id, a.role, a.status, a.note, a.validated_at
		FROM approvals a
		JOIN items i ON a.item_id = i.id
		WHERE i.section_id = ?
		ORDER BY a.item_id, a.role`, sectionID)
	if err != nil {
		return fmt.Errorf("failed to query approvals: %w", err)
	}
	defer apRows.Close()

	approvalOwner := map[int64]*catalog.Approval{}
	for apRows.Next() {
		var (
			ap          catalog.Approval
			itemID      int64
			role        string
			status      sql.NullString
			note        sql.NullString
			validatedAt sql.NullString
		)
		if err := apRows.Scan(&ap.ID, &itemID, &role, &status, &note, &validatedAt); err != nil {
			return fmt.Errorf("failed to scan approval: %w", err)
		}
		ap.Role = catalog.Role(role)
		ap.Status = catalog.ApprovalStatus(status.String)
		ap.Note = note.String
		if validatedAt.Valid {
			t, _ := time.Parse(time.RFC3339, validatedAt.String)
			ap.ValidatedAt = &t
		}
		ap.ReplacementURLs = []string{}
		it, ok := byID[itemID]
		if !ok {
			continue
		}
		it.Approvals = append(it.Approvals, ap)
		approvalOwner[ap.ID] = &it.Approvals[len(it.Approvals)-1]
	}
	if err := apRows.Err(); err != nil {
		return err
	}

	urlRows, err := q.QueryContext(ctx, `
		SELECT r.approval_id, r.url
		FROM replacement_urls r
		JOIN approvals a ON r.approval_id = a.id
		JOIN items i ON a.item_id = i.id
		WHERE i.section_id = ?
		ORDER BY r.approval_id, r.position`, sectionID)
	if err != nil {
		return fmt.Errorf("failed to query replacement urls: %w", err)
	}
	defer urlRows.Close()

	for urlRows.Next() {
		var approvalID int64
		var url string
		if err := urlRows.Scan(&approvalID, &url); err != nil {
			return fmt.Errorf("failed to scan replacement url: %w", err)
		}
		if ap, ok := approvalOwner[approvalID]; ok {
			ap.ReplacementURLs = append(ap.ReplacementURLs, url)
		}
	}
	if err := urlRows.Err(); err != nil {
		return err
	}

	// Orders.
	orderRows, err := q.QueryContext(ctx, `
		SELECT o.id, o.item_id, o.ordered, o.order_date, o.delivery_date, o.delivery_status, o.quantity
		FROM orders o
		JOIN items i ON o.item_id = i.id
		WHERE i.section_id = ?`, sectionID)
	if err != nil {
		return fmt.Errorf("failed to query orders: %w", err)
	}
	defer orderRows.Close()

	for orderRows.Next() {
		var (
			o              catalog.Order
			itemID         int64
			orderDate      sql.NullString
			deliveryDate   sql.NullString
			deliveryStatus sql.NullString
			quantity       sql.NullInt64
		)
		if err := orderRows.Scan(&o.ID, &itemID, &o.Ordered, &orderDate, &deliveryDate, &deliveryStatus, &quantity); err != nil {
			return fmt.Errorf("failed to scan order: %w", err)
		}
		o.OrderDate = orderDate.String
		o.DeliveryDate = deliveryDate.String
		o.DeliveryStatus = catalog.DeliveryStatus(deliveryStatus.String)
		if quantity.Valid {
			n := int(quantity.Int64)
			o.Quantity = &n
		}
		if it, ok := byID[itemID]; ok {
			it.Order = &o
		}
	}
	if err := orderRows.Err(); err != nil {
		return err
	}

	// Comments.
	commentRows, err := q.QueryContext(ctx, `
		SELECT c.id, c.item_id, c.role, c.body
		FROM comments c
		JOIN items i ON c.item_id = i.id
		WHERE i.section_id = ?
		ORDER BY c.item_id, c.role`, sectionID)
	if err != nil {
		return fmt.Errorf("failed to query comments: %w", err)
	}
	defer commentRows.Close()

	for commentRows.Next() {
		var c catalog.Comment
		var itemID int64
		var role string
		if err := commentRows.Scan(&c.ID, &itemID, &role, &c.Text); err != nil {
			return fmt.Errorf("failed to scan comment: %w", err)
		}
		c.Role = catalog.Role(role)
		if it, ok := byID[itemID]; ok {
			it.Comments = append(it.Comments, c)
		}
	}
	if err := commentRows.Err(); err != nil {
		return err
	}

	// Custom fields.
	fieldRows, err := q.QueryContext(ctx, `
		SELECT f.id, f.item_id, f.name, f.value_json
		FROM custom_fields f
		JOIN items i ON f.item_id = i.id
		WHERE i.section_id = ?
		ORDER BY f.item_id, f.name`, sectionID)
	if err != nil {
		return fmt.Errorf("failed to query custom fields: %w", err)
	}
	defer fieldRows.Close()

	for fieldRows.Next() {
		var f catalog.CustomField
		var itemID int64
		var valueJSON sql.NullString
		if err := fieldRows.Scan(&f.ID, &itemID, &f.Name, &valueJSON); err != nil {
			return fmt.Errorf("failed to scan custom field: %w", err)
		}
		if valueJSON.Valid && valueJSON.String != "" {
			json.Unmarshal([]byte(valueJSON.String), &f.Value)
		}
		if it, ok := byID[itemID]; ok {
			it.CustomFields = append(it.CustomFields, f)
		}
	}
	return fieldRows.Err()
}

func listEdits(ctx context.Context, q querier, limit int) ([]catalog.EditEntry, error) {
	if limit <= 0 {
		limit = catalog.EditLedgerCap
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, created_at, section_id, section_label, item_id, product,
		       field_path, old_value_json, new_value_json, source
		FROM edit_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query edit history: %w", err)
	}
	defer rows.Close()

	var entries []catalog.EditEntry
	for rows.Next() {
		var (
			e         catalog.EditEntry
			createdAt string
			itemID    sql.NullInt64
			oldJSON   sql.NullString
			newJSON   sql.NullString
			source    string
		)
		if err := rows.Scan(&e.ID, &createdAt, &e.SectionID, &e.SectionLabel,
			&itemID, &e.Product, &e.FieldPath, &oldJSON, &newJSON, &source); err != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, createdAt)
		if itemID.Valid {
			id := itemID.Int64
			e.ItemID = &id
		}
		if oldJSON.Valid && oldJSON.String != "" {
			json.Unmarshal([]byte(oldJSON.String), &e.OldValue)
		}
		if newJSON.Valid && newJSON.String != "" {
			json.Unmarshal([]byte(newJSON.String), &e.NewValue)
		}
		e.Source = catalog.EditSource(source)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func scanSection(rows *sql.Rows) (catalog.Section, error) {
	var s catalog.Section
	var createdAt, updatedAt string
	if err := rows.Scan(&s.ID, &s.Label, &createdAt, &updatedAt); err != nil {
		return s, fmt.Errorf("failed to scan section: %w", err)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return s, nil
}

func scanSectionRow(row *sql.Row) (*catalog.Section, error) {
	var s catalog.Section
	var createdAt, updatedAt string
	err := row.Scan(&s.ID, &s.Label, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan section: %w", err)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func scanItem(rows *sql.Rows) (catalog.Item, error) {
	var (
		it           catalog.Item
		reference    sql.NullString
		supplierLink sql.NullString
		laborType    sql.NullString
		priceTTC     sql.NullString
		priceHT      sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := rows.Scan(&it.ID, &it.SectionID, &it.Product, &reference, &supplierLink,
		&laborType, &priceTTC, &priceHT, &createdAt, &updatedAt)
	if err != nil {
		return it, fmt.Errorf("failed to scan item: %w", err)
	}

	it.Reference = reference.String
	it.SupplierLink = supplierLink.String
	it.LaborType = catalog.LaborType(laborType.String)
	it.PriceTTC = parseDecimal(priceTTC)
	it.PriceHTQuote = parseDecimal(priceHT)
	it.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	it.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return it, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"edit_history", "custom_fields", "comments", "orders",
		"replacement_urls", "approvals", "items", "sections"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func parseDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
