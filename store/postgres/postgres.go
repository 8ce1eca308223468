/*
Package postgres provides a PostgreSQL-backed implementation of the
catalog storage interfaces.

PURPOSE:
  Implements catalog.Store and catalog.Tx over pgx. Same layout as
  store/sqlite with dialect differences: BIGSERIAL identities with
  RETURNING, NUMERIC(10,2) prices, TIMESTAMPTZ timestamps, JSONB
  ledger values, and a regex CHECK for the legacy dd/mm dates.

CONCURRENCY:
  No process-level mutex here; reads run concurrently on the pool.
  Commits serialize on a transaction-scoped advisory lock, which
  preserves the single-writer-per-catalog model the engine assumes
  even when several processes share one database.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - catalog/store.go: interface definitions
  - store/sqlite: the default store this mirrors
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/materials-engine/catalog"
)

// commitLockKey is the advisory lock key serializing catalog commits.
// The bytes spell "material".
const commitLockKey = int64(0x6d6174657269616c)

// Store implements catalog.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sections (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		section_id TEXT NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
		product TEXT NOT NULL CHECK (product <> ''),
		reference TEXT,
		supplier_link TEXT,
		labor_type TEXT,
		price_ttc NUMERIC(10,2) CHECK (price_ttc IS NULL OR price_ttc >= 0),
		price_ht_quote NUMERIC(10,2) CHECK (price_ht_quote IS NULL OR price_ht_quote >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE(section_id, product)
	);

	CREATE INDEX IF NOT EXISTS idx_items_section ON items(section_id, id);

	CREATE TABLE IF NOT EXISTS approvals (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('client', 'contractor')),
		status TEXT CHECK (status IS NULL OR status IN
			('approved', 'rejected', 'change_order', 'pending', 'supplied_by')),
		note TEXT,
		validated_at TIMESTAMPTZ,
		UNIQUE(item_id, role)
	);

	CREATE TABLE IF NOT EXISTS replacement_urls (
		id BIGSERIAL PRIMARY KEY,
		approval_id BIGINT NOT NULL REFERENCES approvals(id) ON DELETE CASCADE,
		position INT NOT NULL,
		url TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_replacement_urls_approval
		ON replacement_urls(approval_id, position);

	CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL UNIQUE REFERENCES items(id) ON DELETE CASCADE,
		ordered BOOLEAN NOT NULL DEFAULT FALSE,
		order_date TEXT CHECK (order_date IS NULL OR order_date ~ '^\d{2}/\d{2}$'),
		delivery_date TEXT CHECK (delivery_date IS NULL OR delivery_date ~ '^\d{2}/\d{2}$'),
		delivery_status TEXT CHECK (delivery_status IS NULL OR delivery_status IN
			('pending', 'ordered', 'shipped', 'delivered', 'cancelled')),
		quantity INT CHECK (quantity IS NULL OR quantity > 0)
	);

	CREATE TABLE IF NOT EXISTS comments (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('client', 'contractor')),
		body TEXT NOT NULL,
		UNIQUE(item_id, role)
	);

	CREATE TABLE IF NOT EXISTS custom_fields (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		value JSONB,
		UNIQUE(item_id, name)
	);

	CREATE TABLE IF NOT EXISTS edit_history (
		id BIGSERIAL PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		section_id TEXT NOT NULL,
		section_label TEXT NOT NULL,
		item_id BIGINT REFERENCES items(id) ON DELETE SET NULL,
		product TEXT NOT NULL,
		field_path TEXT NOT NULL,
		old_value JSONB,
		new_value JSONB,
		source TEXT NOT NULL CHECK (source IN ('manual', 'agent'))
	);

	CREATE INDEX IF NOT EXISTS idx_edit_history_created
		ON edit_history(created_at DESC);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// querier is the common surface of *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// =============================================================================
// READER (catalog.Reader interface, pool connection)
// =============================================================================

func (s *Store) LookupSection(ctx context.Context, ident string) (*catalog.Section, error) {
	return lookupSection(ctx, s.pool, ident)
}

func (s *Store) ListSections(ctx context.Context) ([]catalog.Section, error) {
	return listSections(ctx, s.pool)
}

func (s *Store) ListItems(ctx context.Context, sectionID string) ([]catalog.Item, error) {
	return listItems(ctx, s.pool, sectionID)
}

func (s *Store) ItemAt(ctx context.Context, sectionID string, index int) (*catalog.Item, error) {
	return itemAt(ctx, s.pool, sectionID, index)
}

func (s *Store) ListEdits(ctx context.Context, limit int) ([]catalog.EditEntry, error) {
	return listEdits(ctx, s.pool, limit)
}

// =============================================================================
// TRANSACTIONS (catalog.Store interface)
// =============================================================================

// WithTx executes fn within a database transaction holding the
// catalog's advisory commit lock.
func (s *Store) WithTx(ctx context.Context, fn func(catalog.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	// Released automatically at commit or rollback.
	if _, err := pgTx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", commitLockKey); err != nil {
		return fmt.Errorf("failed to take commit lock: %w", err)
	}

	if err := fn(&txStore{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

type txStore struct {
	tx pgx.Tx
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

func (ts *txStore) UpsertSection(ctx context.Context, sec catalog.Section) error {
	query := `
		INSERT INTO sections (id, label)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			updated_at = now()
	`
	if _, err := ts.tx.Exec(ctx, query, sec.ID, sec.Label); err != nil {
		return fmt.Errorf("failed to upsert section %s: %w", sec.ID, err)
	}
	return nil
}

func (ts *txStore) CreateItem(ctx context.Context, it *catalog.Item) error {
	query := `
		INSERT INTO items
		(section_id, product, reference, supplier_link, labor_type, price_ttc, price_ht_quote)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := ts.tx.QueryRow(ctx, query,
		it.SectionID,
		it.Product,
		nullText(it.Reference),
		nullText(it.SupplierLink),
		nullText(string(it.LaborType)),
		nullDecimalText(it.PriceTTC),
		nullDecimalText(it.PriceHTQuote),
	).Scan(&it.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("product %q already exists in section %s: %w", it.Product, it.SectionID, err)
		}
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateItem(ctx context.Context, it catalog.Item) error {
	query := `
		UPDATE items SET
			product = $1,
			reference = $2,
			supplier_link = $3,
			labor_type = $4,
			price_ttc = $5,
			price_ht_quote = $6,
			updated_at = now()
		WHERE id = $7
	`
	_, err := ts.tx.Exec(ctx, query,
		it.Product,
		nullText(it.Reference),
		nullText(it.SupplierLink),
		nullText(string(it.LaborType)),
		nullDecimalText(it.PriceTTC),
		nullDecimalText(it.PriceHTQuote),
		it.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("product %q already exists in section %s: %w", it.Product, it.SectionID, err)
		}
		return fmt.Errorf("failed to update item %d: %w", it.ID, err)
	}
	return nil
}

func (ts *txStore) DeleteItem(ctx context.Context, itemID int64) error {
	if _, err := ts.tx.Exec(ctx, "DELETE FROM items WHERE id = $1", itemID); err != nil {
		return fmt.Errorf("failed to delete item %d: %w", itemID, err)
	}
	return nil
}

func (ts *txStore) UpsertApproval(ctx context.Context, itemID int64, ap catalog.Approval) (int64, error) {
	query := `
		INSERT INTO approvals (item_id, role, status, note, validated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, role) DO UPDATE SET
			status = EXCLUDED.status,
			note = EXCLUDED.note,
			validated_at = EXCLUDED.validated_at
		RETURNING id
	`
	var id int64
	err := ts.tx.QueryRow(ctx, query,
		itemID,
		string(ap.Role),
		nullText(string(ap.Status)),
		nullText(ap.Note),
		ap.ValidatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert approval: %w", err)
	}
	return id, nil
}

func (ts *txStore) DeleteApproval(ctx context.Context, itemID int64, role catalog.Role) error {
	_, err := ts.tx.Exec(ctx,
		"DELETE FROM approvals WHERE item_id = $1 AND role = $2", itemID, string(role))
	if err != nil {
		return fmt.Errorf("failed to delete approval: %w", err)
	}
	return nil
}

func (ts *txStore) ReplaceApprovalURLs(ctx context.Context, approvalID int64, urls []string) error {
	if _, err := ts.tx.Exec(ctx,
		"DELETE FROM replacement_urls WHERE approval_id = $1", approvalID); err != nil {
		return fmt.Errorf("failed to clear replacement urls: %w", err)
	}
	for i, url := range urls {
		if _, err := ts.tx.Exec(ctx,
			"INSERT INTO replacement_urls (approval_id, position, url) VALUES ($1, $2, $3)",
			approvalID, i, url); err != nil {
			return fmt.Errorf("failed to insert replacement url: %w", err)
		}
	}
	return nil
}

func (ts *txStore) UpsertOrder(ctx context.Context, itemID int64, o catalog.Order) error {
	query := `
		INSERT INTO orders (item_id, ordered, order_date, delivery_date, delivery_status, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id) DO UPDATE SET
			ordered = EXCLUDED.ordered,
			order_date = EXCLUDED.order_date,
			delivery_date = EXCLUDED.delivery_date,
			delivery_status = EXCLUDED.delivery_status,
			quantity = EXCLUDED.quantity
	`
	_, err := ts.tx.Exec(ctx, query,
		itemID,
		o.Ordered,
		nullText(o.OrderDate),
		nullText(o.DeliveryDate),
		nullText(string(o.DeliveryStatus)),
		o.Quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

func (ts *txStore) DeleteOrder(ctx context.Context, itemID int64) error {
	if _, err := ts.tx.Exec(ctx, "DELETE FROM orders WHERE item_id = $1", itemID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

func (ts *txStore) UpsertComment(ctx context.Context, itemID int64, role catalog.Role, text string) error {
	query := `
		INSERT INTO comments (item_id, role, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id, role) DO UPDATE SET
			body = EXCLUDED.body
	`
	if _, err := ts.tx.Exec(ctx, query, itemID, string(role), text); err != nil {
		return fmt.Errorf("failed to upsert comment: %w", err)
	}
	return nil
}

func (ts *txStore) DeleteComment(ctx context.Context, itemID int64, role catalog.Role) error {
	_, err := ts.tx.Exec(ctx,
		"DELETE FROM comments WHERE item_id = $1 AND role = $2", itemID, string(role))
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

func (ts *txStore) SetCustomField(ctx context.Context, itemID int64, name string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode custom field %s: %w", name, err)
	}
	query := `
		INSERT INTO custom_fields (item_id, name, value)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (item_id, name) DO UPDATE SET
			value = EXCLUDED.value
	`
	if _, err := ts.tx.Exec(ctx, query, itemID, name, string(valueJSON)); err != nil {
		return fmt.Errorf("failed to set custom field %s: %w", name, err)
	}
	return nil
}

func (ts *txStore) DeleteCustomField(ctx context.Context, itemID int64, name string) error {
	_, err := ts.tx.Exec(ctx,
		"DELETE FROM custom_fields WHERE item_id = $1 AND name = $2", itemID, name)
	if err != nil {
		return fmt.Errorf("failed to delete custom field %s: %w", name, err)
	}
	return nil
}

func (ts *txStore) AppendEdit(ctx context.Context, e catalog.EditEntry) error {
	oldJSON, err := json.Marshal(e.OldValue)
	if err != nil {
		return fmt.Errorf("failed to encode old value: %w", err)
	}
	newJSON, err := json.Marshal(e.NewValue)
	if err != nil {
		return fmt.Errorf("failed to encode new value: %w", err)
	}

	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	query := `
		INSERT INTO edit_history
		(created_at, section_id, section_label, item_id, product,
		 field_path, old_value, new_value, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9)
	`
	_, err = ts.tx.Exec(ctx, query,
		at.UTC(),
		e.SectionID,
		e.SectionLabel,
		e.ItemID,
		e.Product,
		e.FieldPath,
		string(oldJSON),
		string(newJSON),
		string(e.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to append edit: %w", err)
	}

	// FIFO eviction: drop everything past the newest cap entries.
	_, err = ts.tx.Exec(ctx, `
		DELETE FROM edit_history WHERE id IN (
			SELECT id FROM edit_history ORDER BY id DESC OFFSET $1
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
	var sec catalog.Section
	err := q.QueryRow(ctx,
		"SELECT id, label, created_at, updated_at FROM sections WHERE id = $1", ident,
	).Scan(&sec.ID, &sec.Label, &sec.CreatedAt, &sec.UpdatedAt)
	if err == nil {
		return &sec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query section: %w", err)
	}

	rows, err := q.Query(ctx,
		"SELECT id, label, created_at, updated_at FROM sections WHERE LOWER(label) = LOWER($1) ORDER BY id",
		ident)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var matches []catalog.Section
	for rows.Next() {
		var s catalog.Section
		if err := rows.Scan(&s.ID, &s.Label, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
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
	rows, err := q.Query(ctx,
		"SELECT id, label, created_at, updated_at FROM sections ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var sections []catalog.Section
	for rows.Next() {
		var s catalog.Section
		if err := rows.Scan(&s.ID, &s.Label, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

func listItems(ctx context.Context, q querier, sectionID string) ([]catalog.Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, section_id, product, reference, supplier_link, labor_type,
		       price_ttc::text, price_ht_quote::text, created_at, updated_at
		FROM items
		WHERE section_id = $1
		ORDER BY id ASC`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		var (
			it           catalog.Item
			reference    *string
			supplierLink *string
			laborType    *string
			priceTTC     *string
			priceHT      *string
		)
		if err := rows.Scan(&it.ID, &it.SectionID, &it.Product, &reference, &supplierLink,
			&laborType, &priceTTC, &priceHT, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.Reference = deref(reference)
		it.SupplierLink = deref(supplierLink)
		it.LaborType = catalog.LaborType(deref(laborType))
		it.PriceTTC = parseDecimal(priceTTC)
		it.PriceHTQuote = parseDecimal(priceHT)
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

func loadChildren(ctx context.Context, q querier, sectionID string, items []catalog.Item) error {
	byID := make(map[int64]*catalog.Item, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	apRows, err := q.Query(ctx, `
		SELECT a.id, a.item_id, a.role, a.status, a.note, a.validated_at
		FROM approvals a
		JOIN items i ON a.item_id = i.id
		WHERE i.section_id = $1
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
			status      *string
			note        *string
			validatedAt *time.Time
		)
		if err := apRows.Scan(&ap.ID, &itemID, &role, &status, &note, &validatedAt); err != nil {
			return fmt.Errorf("failed to scan approval: %w", err)
		}
		ap.Role = catalog.Role(role)
		ap.Status = catalog.ApprovalStatus(deref(status))
		ap.Note = deref(note)
		ap.ValidatedAt = validatedAt
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

	urlRows, err := q.Query(ctx, `
		SELECT r.approval_id, r.url
		FROM replacement_urls r
		JOIN approvals a ON r.approval_id = a.id
		JOIN items i ON a.item_id = i.id
		WHERE i.section_id = $1
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

	orderRows, err := q.Query(ctx, `
		SELECT o.id, o.item_id, o.ordered, o.order_date, o.delivery_date, o.delivery_status, o.quantity
		FROM orders o
		JOIN items i ON o.item_id = i.id
		WHERE i.section_id = $1`, sectionID)
	if err != nil {
		return fmt.Errorf("failed to query orders: %w", err)
	}
	defer orderRows.Close()

	for orderRows.Next() {
		var (
			o              catalog.Order
			itemID         int64
			orderDate      *string
			deliveryDate   *string
			deliveryStatus *string
		)
		if err := orderRows.Scan(&o.ID, &itemID, &o.Ordered, &orderDate, &deliveryDate, &deliveryStatus, &o.Quantity); err != nil {
			return fmt.Errorf("failed to scan order: %w", err)
		}
		o.OrderDate = deref(orderDate)
		o.DeliveryDate = deref(deliveryDate)
		o.DeliveryStatus = catalog.DeliveryStatus(deref(deliveryStatus))
		if it, ok := byID[itemID]; ok {
			it.Order = &o
		}
	}
	if err := orderRows.Err(); err != nil {
		return err
	}

	commentRows, err := q.Query(ctx, `
		SELECT c.id, c.item_id, c.role, c.body
		FROM comments c
		JOIN items i ON c.item_id = i.id
		WHERE i.section_id = $1
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

	fieldRows, err := q.Query(ctx, `
		SELECT f.id, f.item_id, f.name, f.value::text
		FROM custom_fields f
		JOIN items i ON f.item_id = i.id
		WHERE i.section_id = $1
		ORDER BY f.item_id, f.name`, sectionID)
	if err != nil {
		return fmt.Errorf("failed to query custom fields: %w", err)
	}
	defer fieldRows.Close()

	for fieldRows.Next() {
		var f catalog.CustomField
		var itemID int64
		var valueJSON *string
		if err := fieldRows.Scan(&f.ID, &itemID, &f.Name, &valueJSON); err != nil {
			return fmt.Errorf("failed to scan custom field: %w", err)
		}
		if valueJSON != nil && *valueJSON != "" {
			json.Unmarshal([]byte(*valueJSON), &f.Value)
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

	rows, err := q.Query(ctx, `
		SELECT id, created_at, section_id, section_label, item_id, product,
		       field_path, old_value::text, new_value::text, source
		FROM edit_history
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query edit history: %w", err)
	}
	defer rows.Close()

	var entries []catalog.EditEntry
	for rows.Next() {
		var (
			e       catalog.EditEntry
			oldJSON *string
			newJSON *string
			source  string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SectionID, &e.SectionLabel,
			&e.ItemID, &e.Product, &e.FieldPath, &oldJSON, &newJSON, &source); err != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", err)
		}
		if oldJSON != nil && *oldJSON != "" {
			json.Unmarshal([]byte(*oldJSON), &e.OldValue)
		}
		if newJSON != nil && *newJSON != "" {
			json.Unmarshal([]byte(*newJSON), &e.NewValue)
		}
		e.Source = catalog.EditSource(source)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullDecimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(p *string) *decimal.Decimal {
	if p == nil || *p == "" {
		return nil
	}
	d, err := decimal.NewFromString(*p)
	if err != nil {
		return nil
	}
	return &d
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
