/*
path.go - Closed field-path vocabulary

PURPOSE:
  Field paths are the stable dotted strings callers use to address a
  single item field ("price.ttc", "approvals.cray.status", ...). The
  vocabulary is closed: parsing produces a tagged variant, one case per
  supported shape, and anything else fails with ErrUnknownFieldPath at
  the boundary instead of deep inside commit logic.

  ItemField is the typed read for a parsed path. LookupDocPath is a
  separate generic dotted read over an untyped document tree, kept for
  diagnostics only; mutation code never goes through it.
*/
package catalog

import (
	"strconv"
	"strings"
	"time"
)

// FieldKind enumerates every addressable field shape.
type FieldKind int

const (
	FieldProduct FieldKind = iota
	FieldReference
	FieldSupplierLink
	FieldLaborType
	FieldPriceTTC
	FieldPriceHTQuote
	FieldApprovalStatus
	FieldApprovalNote
	FieldApprovalValidatedAt
	FieldApprovalURLs
	FieldOrderOrdered
	FieldOrderDate
	FieldOrderDelivery
	FieldOrderQuantity
	FieldComment
)

// FieldPath is a parsed field address. Role is set only for approval
// and comment shapes.
type FieldPath struct {
	Kind FieldKind
	Role Role
}

// ParseFieldPath parses a dotted path string against the closed
// vocabulary. Role segments accept "client", "cray" and "contractor".
func ParseFieldPath(s string) (FieldPath, error) {
	switch strings.TrimSpace(s) {
	case "product":
		return FieldPath{Kind: FieldProduct}, nil
	case "reference":
		return FieldPath{Kind: FieldReference}, nil
	case "supplierLink":
		return FieldPath{Kind: FieldSupplierLink}, nil
	case "laborType":
		return FieldPath{Kind: FieldLaborType}, nil
	case "price.ttc":
		return FieldPath{Kind: FieldPriceTTC}, nil
	case "price.htQuote":
		return FieldPath{Kind: FieldPriceHTQuote}, nil
	case "order.ordered":
		return FieldPath{Kind: FieldOrderOrdered}, nil
	case "order.orderDate":
		return FieldPath{Kind: FieldOrderDate}, nil
	case "order.delivery":
		return FieldPath{Kind: FieldOrderDelivery}, nil
	case "order.quantity":
		return FieldPath{Kind: FieldOrderQuantity}, nil
	}

	parts := strings.Split(strings.TrimSpace(s), ".")
	switch {
	case len(parts) == 3 && parts[0] == "approvals":
		role, err := ParseRole(parts[1])
		if err != nil {
			return FieldPath{}, &UnknownFieldPathError{Path: s}
		}
		switch parts[2] {
		case "status":
			return FieldPath{Kind: FieldApprovalStatus, Role: role}, nil
		case "note":
			return FieldPath{Kind: FieldApprovalNote, Role: role}, nil
		case "validatedAt":
			return FieldPath{Kind: FieldApprovalValidatedAt, Role: role}, nil
		case "replacementUrls":
			return FieldPath{Kind: FieldApprovalURLs, Role: role}, nil
		}
	case len(parts) == 2 && parts[0] == "comments":
		role, err := ParseRole(parts[1])
		if err != nil {
			return FieldPath{}, &UnknownFieldPathError{Path: s}
		}
		return FieldPath{Kind: FieldComment, Role: role}, nil
	}
	return FieldPath{}, &UnknownFieldPathError{Path: s}
}

// String renders the path in its boundary spelling (contractor as
// "cray").
func (p FieldPath) String() string {
	switch p.Kind {
	case FieldProduct:
		return "product"
	case FieldReference:
		return "reference"
	case FieldSupplierLink:
		return "supplierLink"
	case FieldLaborType:
		return "laborType"
	case FieldPriceTTC:
		return "price.ttc"
	case FieldPriceHTQuote:
		return "price.htQuote"
	case FieldApprovalStatus:
		return "approvals." + p.Role.ExportKey() + ".status"
	case FieldApprovalNote:
		return "approvals." + p.Role.ExportKey() + ".note"
	case FieldApprovalValidatedAt:
		return "approvals." + p.Role.ExportKey() + ".validatedAt"
	case FieldApprovalURLs:
		return "approvals." + p.Role.ExportKey() + ".replacementUrls"
	case FieldOrderOrdered:
		return "order.ordered"
	case FieldOrderDate:
		return "order.orderDate"
	case FieldOrderDelivery:
		return "order.delivery"
	case FieldOrderQuantity:
		return "order.quantity"
	case FieldComment:
		return "comments." + p.Role.ExportKey()
	}
	return "unknown"
}

// ValueKind returns the value kind the path expects when present.
func (p FieldPath) ValueKind() ValueKind {
	switch p.Kind {
	case FieldPriceTTC, FieldPriceHTQuote:
		return KindDecimal
	case FieldApprovalURLs:
		return KindList
	case FieldOrderOrdered:
		return KindBool
	case FieldOrderDelivery:
		return KindDelivery
	case FieldOrderQuantity:
		return KindInt
	}
	return KindText
}

// KnownFieldPaths lists every concrete path string in the vocabulary,
// in a stable order. Used by documentation endpoints and tests.
func KnownFieldPaths() []string {
	paths := []string{
		"product", "reference", "supplierLink", "laborType",
		"price.ttc", "price.htQuote",
	}
	for _, role := range Roles() {
		key := role.ExportKey()
		paths = append(paths,
			"approvals."+key+".status",
			"approvals."+key+".note",
			"approvals."+key+".validatedAt",
			"approvals."+key+".replacementUrls",
		)
	}
	paths = append(paths,
		"order.ordered", "order.orderDate", "order.delivery", "order.quantity",
	)
	for _, role := range Roles() {
		paths = append(paths, "comments."+role.ExportKey())
	}
	return paths
}

// =============================================================================
// TYPED READS
// =============================================================================

// ItemField reads the current value of a path on an item. Missing
// sub-entities read as absent; an existing approval with no URLs reads
// as an empty list, not absent.
func ItemField(it *Item, p FieldPath) Value {
	switch p.Kind {
	case FieldProduct:
		return TextValue(it.Product)
	case FieldReference:
		return TextValue(it.Reference)
	case FieldSupplierLink:
		return TextValue(it.SupplierLink)
	case FieldLaborType:
		return TextValue(string(it.LaborType))
	case FieldPriceTTC:
		if it.PriceTTC == nil {
			return Absent()
		}
		return DecimalValue(*it.PriceTTC)
	case FieldPriceHTQuote:
		if it.PriceHTQuote == nil {
			return Absent()
		}
		return DecimalValue(*it.PriceHTQuote)
	case FieldApprovalStatus:
		ap := it.Approval(p.Role)
		if ap == nil {
			return Absent()
		}
		return TextValue(string(ap.Status))
	case FieldApprovalNote:
		ap := it.Approval(p.Role)
		if ap == nil {
			return Absent()
		}
		return TextValue(ap.Note)
	case FieldApprovalValidatedAt:
		ap := it.Approval(p.Role)
		if ap == nil || ap.ValidatedAt == nil {
			return Absent()
		}
		return TextValue(ap.ValidatedAt.UTC().Format(time.RFC3339))
	case FieldApprovalURLs:
		ap := it.Approval(p.Role)
		if ap == nil {
			return Absent()
		}
		return ListValue(ap.ReplacementURLs)
	case FieldOrderOrdered:
		if it.Order == nil {
			return Absent()
		}
		return BoolValue(it.Order.Ordered)
	case FieldOrderDate:
		if it.Order == nil {
			return Absent()
		}
		return TextValue(it.Order.OrderDate)
	case FieldOrderDelivery:
		if it.Order == nil {
			return Absent()
		}
		return DeliveryValue(Delivery{Date: it.Order.DeliveryDate, Status: it.Order.DeliveryStatus})
	case FieldOrderQuantity:
		if it.Order == nil || it.Order.Quantity == nil {
			return Absent()
		}
		return IntValue(*it.Order.Quantity)
	case FieldComment:
		c := it.Comment(p.Role)
		if c == nil {
			return Absent()
		}
		return TextValue(c.Text)
	}
	return Absent()
}

// =============================================================================
// GENERIC DOCUMENT READS (diagnostics only)
// =============================================================================

// LookupDocPath walks an arbitrary dotted path through a JSON-shaped
// tree of maps and slices. Numeric segments index slices. It exists
// for diagnostics and comparison tooling; mutations go through the
// closed vocabulary above.
func LookupDocPath(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
