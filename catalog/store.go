/*
store.go - Persistence interface for the normalized catalog

PURPOSE:
  Defines the interface between the mutation engine and the database.
  The normalized store is the single source of truth; the denormalized
  export is always derived from it, never written back except through
  bulk import.

KEY INTERFACES:
  Reader: lookups and listings shared by live and in-transaction reads
  Store:  a Reader that can open transactions and be closed
  Tx:     a Reader plus every entity-level mutator, valid inside one
          transaction only

TRANSACTIONAL CONTRACT:
  One logical field write = one WithTx call. All entity-level side
  effects of that write (row upserts, cascading deletes, the ledger
  append) land in the same transaction or not at all. Two commits
  racing on the same item serialize on the store's native transaction
  isolation.

LEDGER CONTRACT:
  AppendEdit enforces the ledger cap: when an append would exceed it,
  the oldest entries are evicted in the same transaction.

IMPLEMENTATIONS:
  - store/sqlite: production default, also backs tests via ":memory:"
  - store/postgres: pgx-based variant for shared deployments
*/
package catalog

import "context"

// Reader is the read surface shared by the live store and open
// transactions.
type Reader interface {
	// LookupSection resolves a caller-supplied identifier: exact
	// identifier match first, then case-insensitive label match.
	// Returns (nil, nil) when nothing matches. A label matching more
	// than one section fails with ErrAmbiguousSection rather than
	// picking one silently.
	LookupSection(ctx context.Context, ident string) (*Section, error)

	// ListSections returns all sections ordered by identifier.
	ListSections(ctx context.Context) ([]Section, error)

	// ListItems returns a section's items ordered by item identity,
	// with approvals, order, comments and custom fields loaded.
	ListItems(ctx context.Context, sectionID string) ([]Item, error)

	// ItemAt returns the item at a zero-based position within the
	// section's identity ordering, or (nil, nil) when out of range.
	// Positions are stable only within one read snapshot.
	ItemAt(ctx context.Context, sectionID string, index int) (*Item, error)

	// ListEdits returns ledger entries, newest first. limit <= 0
	// returns everything up to the ledger cap.
	ListEdits(ctx context.Context, limit int) ([]EditEntry, error)
}

// Store is the engine's handle on the normalized database.
type Store interface {
	Reader

	// WithTx executes fn within a transaction. If fn returns an
	// error, the transaction is rolled back; otherwise committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Close releases the underlying connections.
	Close() error
}

// Tx exposes entity-level mutators inside one transaction. Every
// method is a single-row effect; composing them into one logical
// field write is the service layer's job.
type Tx interface {
	Reader

	// UpsertSection creates the section or updates its label.
	UpsertSection(ctx context.Context, sec Section) error

	// CreateItem inserts a new item and assigns its identity.
	CreateItem(ctx context.Context, it *Item) error

	// UpdateItem writes the item's direct scalar fields.
	UpdateItem(ctx context.Context, it Item) error

	// DeleteItem removes an item. Children go with it; ledger rows
	// keep the product snapshot and lose the item reference.
	DeleteItem(ctx context.Context, itemID int64) error

	// UpsertApproval creates or updates the (item, role) approval and
	// returns its identity. Replacement URLs are managed separately.
	UpsertApproval(ctx context.Context, itemID int64, ap Approval) (int64, error)

	// DeleteApproval removes the (item, role) approval, cascading to
	// its replacement URLs. Deleting a missing approval is a no-op.
	DeleteApproval(ctx context.Context, itemID int64, role Role) error

	// ReplaceApprovalURLs swaps the approval's URL list wholesale,
	// preserving the given order.
	ReplaceApprovalURLs(ctx context.Context, approvalID int64, urls []string) error

	// UpsertOrder creates or updates the item's order sub-record.
	UpsertOrder(ctx context.Context, itemID int64, o Order) error

	// DeleteOrder removes the item's order sub-record if present.
	DeleteOrder(ctx context.Context, itemID int64) error

	// UpsertComment creates or updates the (item, role) comment.
	UpsertComment(ctx context.Context, itemID int64, role Role, text string) error

	// DeleteComment removes the (item, role) comment if present.
	DeleteComment(ctx context.Context, itemID int64, role Role) error

	// SetCustomField creates or updates the (item, name) custom field.
	SetCustomField(ctx context.Context, itemID int64, name string, value any) error

	// DeleteCustomField removes the (item, name) custom field.
	DeleteCustomField(ctx context.Context, itemID int64, name string) error

	// AppendEdit appends a ledger entry and evicts the oldest entries
	// past the cap, all in this transaction.
	AppendEdit(ctx context.Context, e EditEntry) error
}
