/*
Package catalog provides the core materials catalog model.

PURPOSE:
  This package contains the domain types shared by every layer of the
  engine: sections, items, approvals, orders, comments, custom fields,
  and the edit ledger entries that record committed mutations. It also
  owns the closed field-path vocabulary (path.go) and the typed value
  union (value.go) used to address and mutate single fields.

KEY CONCEPTS IN THIS FILE (types.go):
  - Section/Item: the two-level catalog structure
  - Approval/Order/Comment/CustomField: per-item sub-entities,
    created on first write and deleted when their governing value empties
  - Role: client vs contractor, with the legacy "cray" export spelling
  - EditEntry: one committed mutation, kept in a capped FIFO ledger

DESIGN PRINCIPLES:
  1. Precision: monetary amounts use decimal.Decimal, never float64
  2. Closed enumerations: statuses, roles and labor types are fixed sets
     validated at the boundary, not free strings
  3. Legacy spellings ("cray", "alternative") live ONLY at the export
     boundary; internal names are the canonical ones

SEE ALSO:
  - path.go: field-path vocabulary and per-item field reads
  - value.go: typed value union, coercion and structural equality
  - export.go: denormalized document representation
  - store.go: persistence contract
*/
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the fixed currency code carried by every export document.
const Currency = "EUR"

// EditLedgerCap bounds the edit ledger. When an append would exceed the
// cap, the oldest entries are evicted first.
const EditLedgerCap = 1000

// DateLayout is the legacy day/month format used for order and delivery
// dates ("dd/mm", no year).
const DateLayout = "02/01"

// =============================================================================
// ROLES
// =============================================================================

// Role identifies which party an approval or comment belongs to.
type Role string

const (
	RoleClient     Role = "client"
	RoleContractor Role = "contractor"
)

// exportKeyContractor is the legacy spelling clients depend on. The
// engine preserves it at the boundary and nowhere else.
const exportKeyContractor = "cray"

// Roles lists all valid roles in a stable order.
func Roles() []Role {
	return []Role{RoleClient, RoleContractor}
}

// ExportKey returns the spelling used in export documents and field paths.
func (r Role) ExportKey() string {
	if r == RoleContractor {
		return exportKeyContractor
	}
	return string(r)
}

// ParseRole accepts the internal name or the boundary spelling.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client":
		return RoleClient, nil
	case "contractor", exportKeyContractor:
		return RoleContractor, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// =============================================================================
// APPROVAL STATUS
// =============================================================================

// ApprovalStatus is the closed set of review outcomes for an item.
type ApprovalStatus string

const (
	StatusApproved    ApprovalStatus = "approved"
	StatusRejected    ApprovalStatus = "rejected"
	StatusChangeOrder ApprovalStatus = "change_order"
	StatusPending     ApprovalStatus = "pending"
	StatusSuppliedBy  ApprovalStatus = "supplied_by"
)

// exportKeyChangeOrder is the legacy boundary spelling for change_order.
const exportKeyChangeOrder = "alternative"

// ExportKey returns the boundary spelling of the status.
func (s ApprovalStatus) ExportKey() string {
	if s == StatusChangeOrder {
		return exportKeyChangeOrder
	}
	return string(s)
}

// ParseApprovalStatus accepts canonical tokens and the legacy
// "alternative" spelling, case-insensitively.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	case "change_order", exportKeyChangeOrder:
		return StatusChangeOrder, nil
	case "pending":
		return StatusPending, nil
	case "supplied_by":
		return StatusSuppliedBy, nil
	}
	return "", fmt.Errorf("unknown approval status %q", s)
}

// =============================================================================
// DELIVERY STATUS
// =============================================================================

// DeliveryStatus tracks where an ordered item is in its delivery cycle.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryOrdered   DeliveryStatus = "ordered"
	DeliveryShipped   DeliveryStatus = "shipped"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

// ParseDeliveryStatus validates a delivery status token, case-insensitively.
func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return DeliveryPending, nil
	case "ordered":
		return DeliveryOrdered, nil
	case "shipped":
		return DeliveryShipped, nil
	case "delivered":
		return DeliveryDelivered, nil
	case "cancelled":
		return DeliveryCancelled, nil
	}
	return "", fmt.Errorf("unknown delivery status %q", s)
}

// =============================================================================
// ENTITIES
// =============================================================================

// Section groups items under a stable caller-chosen identifier.
// The identifier is globally unique; the label is display text that
// lookup also matches case-insensitively (see Store.LookupSection).
type Section struct {
	ID        string
	Label     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one catalog row. Product is mandatory and unique within its
// section; everything else is optional. Empty strings mean absent.
type Item struct {
	ID           int64
	SectionID    string
	Product      string
	Reference    string
	SupplierLink string
	LaborType    LaborType
	PriceTTC     *decimal.Decimal
	PriceHTQuote *decimal.Decimal

	Approvals    []Approval
	Order        *Order
	Comments     []Comment
	CustomFields []CustomField

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Approval holds one role's review of an item. Status is the governing
// value: deleting it deletes the approval and its replacement URLs.
// An approval may exist with an empty status when a note, timestamp or
// replacement URL was written first.
type Approval struct {
	ID              int64
	Role            Role
	Status          ApprovalStatus
	Note            string
	ValidatedAt     *time.Time
	ReplacementURLs []string
}

// Order tracks purchasing state for an item. OrderDate and DeliveryDate
// use the legacy dd/mm format. Invariant: Ordered implies a non-empty
// OrderDate, and an empty OrderDate implies not Ordered.
type Order struct {
	ID             int64
	Ordered        bool
	OrderDate      string
	DeliveryDate   string
	DeliveryStatus DeliveryStatus
	Quantity       *int
}

// Comment is one role's free-text note on an item.
type Comment struct {
	ID   int64
	Role Role
	Text string
}

// CustomField is the extensibility escape hatch: an arbitrary
// JSON-typed value keyed by name, at most one per (item, name).
type CustomField struct {
	ID    int64
	Name  string
	Value any
}

// Approval returns the item's approval for a role, or nil.
func (it *Item) Approval(role Role) *Approval {
	for i := range it.Approvals {
		if it.Approvals[i].Role == role {
			return &it.Approvals[i]
		}
	}
	return nil
}

// Comment returns the item's comment for a role, or nil.
func (it *Item) Comment(role Role) *Comment {
	for i := range it.Comments {
		if it.Comments[i].Role == role {
			return &it.Comments[i]
		}
	}
	return nil
}

// =============================================================================
// EDIT LEDGER
// =============================================================================

// EditSource records who committed a mutation.
type EditSource string

const (
	SourceManual EditSource = "manual"
	SourceAgent  EditSource = "agent"
)

// ParseEditSource validates a source token.
func ParseEditSource(s string) (EditSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual", "":
		return SourceManual, nil
	case "agent":
		return SourceAgent, nil
	}
	return "", fmt.Errorf("unknown edit source %q", s)
}

// EditEntry is one committed mutation. Entries are immutable and the
// ledger is append-only: it is an audit trail, not a source of truth.
// Old and new values carry the JSON shape of the mutated field so the
// entry survives the item's deletion (ItemID goes nil, Product stays).
type EditEntry struct {
	ID           int64
	Timestamp    time.Time
	SectionID    string
	SectionLabel string
	ItemID       *int64
	Product      string
	FieldPath    string
	OldValue     any
	NewValue     any
	Source       EditSource
}
