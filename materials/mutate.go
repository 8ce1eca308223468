/*
mutate.go - Entity-level application of a single field write

PURPOSE:
  applyMutation turns one (path, value) pair into the entity-level
  store effects it implies: a scalar column update, an approval or
  comment upsert/delete, an order update with the ordered/orderDate
  coupling applied, or a replacement URL swap. All effects run on the
  transaction the service opened; nothing here commits or logs.

LIFECYCLE RULES (applied here):
  - approvals, orders and comments are created on the first write that
    targets them
  - clearing an approval's status deletes the approval and cascades to
    its replacement URLs
  - a sub-entity whose every field emptied is removed outright so the
    export renders `{}` (order, approval) or null (comment) again

ORDER COUPLING:
  - ordered=false clears the order date
  - ordered=true with no stored date stamps today (dd/mm)
  - a non-empty order date forces ordered=true; clearing it clears ordered
*/
package materials

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/shopspring/decimal"

	"github.com/warp/materials-engine/catalog"
)

// applyMutation writes one field value to one item inside tx. The item
// is the in-transaction read used for validation; now feeds the order
// date stamp.
func applyMutation(ctx context.Context, tx catalog.Tx, it *catalog.Item, path catalog.FieldPath, next catalog.Value, now time.Time) error {
	switch path.Kind {
	case catalog.FieldProduct, catalog.FieldReference, catalog.FieldSupplierLink,
		catalog.FieldLaborType, catalog.FieldPriceTTC, catalog.FieldPriceHTQuote:
		return applyScalar(ctx, tx, it, path, next)

	case catalog.FieldApprovalStatus, catalog.FieldApprovalNote,
		catalog.FieldApprovalValidatedAt, catalog.FieldApprovalURLs:
		return applyApproval(ctx, tx, it, path, next)

	case catalog.FieldOrderOrdered, catalog.FieldOrderDate,
		catalog.FieldOrderDelivery, catalog.FieldOrderQuantity:
		return applyOrder(ctx, tx, it, path, next, now)

	case catalog.FieldComment:
		return applyComment(ctx, tx, it, path, next)
	}
	return &catalog.UnknownFieldPathError{Path: path.String()}
}

// =============================================================================
// SCALAR FIELDS
// =============================================================================

func applyScalar(ctx context.Context, tx catalog.Tx, it *catalog.Item, path catalog.FieldPath, next catalog.Value) error {
	updated := *it
	switch path.Kind {
	case catalog.FieldProduct:
		updated.Product = next.Text
	case catalog.FieldReference:
		updated.Reference = textOrEmpty(next)
	case catalog.FieldSupplierLink:
		updated.SupplierLink = textOrEmpty(next)
	case catalog.FieldLaborType:
		updated.LaborType = catalog.LaborType(textOrEmpty(next))
	case catalog.FieldPriceTTC:
		updated.PriceTTC = decimalOrNil(next)
	case catalog.FieldPriceHTQuote:
		updated.PriceHTQuote = decimalOrNil(next)
	}
	return tx.UpdateItem(ctx, updated)
}

// =============================================================================
// APPROVALS
// =============================================================================

func applyApproval(ctx context.Context, tx catalog.Tx, it *catalog.Item, path catalog.FieldPath, next catalog.Value) error {
	current := it.Approval(path.Role)

	switch path.Kind {
	case catalog.FieldApprovalStatus:
		// Status is the governing value: clearing it removes the whole
		// approval, replacement URLs included.
		if next.IsAbsent() {
			return tx.DeleteApproval(ctx, it.ID, path.Role)
		}
		ap := carryApproval(current, path.Role)
		ap.Status = catalog.ApprovalStatus(next.Text)
		_, err := tx.UpsertApproval(ctx, it.ID, ap)
		return err

	case catalog.FieldApprovalNote:
		ap := carryApproval(current, path.Role)
		ap.Note = textOrEmpty(next)
		return upsertOrPruneApproval(ctx, tx, it.ID, ap, current)

	case catalog.FieldApprovalValidatedAt:
		ap := carryApproval(current, path.Role)
		if next.IsAbsent() {
			ap.ValidatedAt = nil
		} else {
			ts, err := time.Parse(time.RFC3339, next.Text)
			if err != nil {
				return &catalog.InvalidValueError{Path: path.String(), Reason: err.Error()}
			}
			utc := ts.UTC()
			ap.ValidatedAt = &utc
		}
		return upsertOrPruneApproval(ctx, tx, it.ID, ap, current)

	case catalog.FieldApprovalURLs:
		if next.IsAbsent() || len(next.List) == 0 {
			if current == nil {
				return nil
			}
			if err := tx.ReplaceApprovalURLs(ctx, current.ID, nil); err != nil {
				return err
			}
			if approvalScalarsEmpty(*current) {
				return tx.DeleteApproval(ctx, it.ID, path.Role)
			}
			return nil
		}
		id := int64(0)
		if current != nil {
			id = current.ID
		} else {
			// First write to this role's approval: create it with an
			// empty status so the URLs have an owner row.
			created, err := tx.UpsertApproval(ctx, it.ID, catalog.Approval{Role: path.Role})
			if err != nil {
				return err
			}
			id = created
		}
		return tx.ReplaceApprovalURLs(ctx, id, next.List)
	}
	return &catalog.UnknownFieldPathError{Path: path.String()}
}

// carryApproval starts from the stored approval so a single-field
// write leaves the other approval fields untouched.
func carryApproval(current *catalog.Approval, role catalog.Role) catalog.Approval {
	if current == nil {
		return catalog.Approval{Role: role}
	}
	return *current
}

// upsertOrPruneApproval writes the approval back, or removes it when
// every field has emptied and no replacement URLs remain.
func upsertOrPruneApproval(ctx context.Context, tx catalog.Tx, itemID int64, ap catalog.Approval, current *catalog.Approval) error {
	hadURLs := current != nil && len(current.ReplacementURLs) > 0
	if approvalScalarsEmpty(ap) && !hadURLs {
		if current == nil {
			return nil
		}
		return tx.DeleteApproval(ctx, itemID, ap.Role)
	}
	_, err := tx.UpsertApproval(ctx, itemID, ap)
	return err
}

func approvalScalarsEmpty(ap catalog.Approval) bool {
	return ap.Status == "" && ap.Note == "" && ap.ValidatedAt == nil
}

// =============================================================================
// ORDERS
// =============================================================================

func applyOrder(ctx context.Context, tx catalog.Tx, it *catalog.Item, path catalog.FieldPath, next catalog.Value, now time.Time) error {
	var o catalog.Order
	if it.Order != nil {
		o = *it.Order
	}

	switch path.Kind {
	case catalog.FieldOrderOrdered:
		o.Ordered = next.Bool
		if !o.Ordered {
			o.OrderDate = ""
		} else if o.OrderDate == "" {
			o.OrderDate = now.Format(catalog.DateLayout)
		}

	case catalog.FieldOrderDate:
		if next.IsAbsent() {
			o.OrderDate = ""
			o.Ordered = false
		} else {
			o.OrderDate = next.Text
			o.Ordered = true
		}

	case catalog.FieldOrderDelivery:
		if next.IsAbsent() {
			o.DeliveryDate = ""
			o.DeliveryStatus = ""
		} else {
			o.DeliveryDate = next.Delivery.Date
			o.DeliveryStatus = next.Delivery.Status
		}

	case catalog.FieldOrderQuantity:
		if next.IsAbsent() {
			o.Quantity = nil
		} else {
			q := next.Int
			o.Quantity = &q
		}
	}

	if orderEmpty(o) {
		if it.Order == nil {
			return nil
		}
		return tx.DeleteOrder(ctx, it.ID)
	}
	return tx.UpsertOrder(ctx, it.ID, o)
}

func orderEmpty(o catalog.Order) bool {
	return !o.Ordered && o.OrderDate == "" && o.DeliveryDate == "" &&
		o.DeliveryStatus == "" && o.Quantity == nil
}

// normalizeOrder repairs the ordered/orderDate coupling on externally
// sourced order data. The date wins: a dated order is ordered, an
// undated ordered one gets today's date.
func normalizeOrder(o catalog.Order, now time.Time) catalog.Order {
	if o.OrderDate != "" {
		o.Ordered = true
	} else if o.Ordered {
		o.OrderDate = now.Format(catalog.DateLayout)
	}
	return o
}

// =============================================================================
// COMMENTS
// =============================================================================

func applyComment(ctx context.Context, tx catalog.Tx, it *catalog.Item, path catalog.FieldPath, next catalog.Value) error {
	if next.IsAbsent() {
		return tx.DeleteComment(ctx, it.ID, path.Role)
	}
	return tx.UpsertComment(ctx, it.ID, path.Role, next.Text)
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

func textOrEmpty(v catalog.Value) string {
	if v.IsAbsent() {
		return ""
	}
	return v.Text
}

func decimalOrNil(v catalog.Value) *decimal.Decimal {
	if v.IsAbsent() {
		return nil
	}
	d := v.Dec
	return &d
}

// =============================================================================
// CHANGE DESCRIPTIONS
// =============================================================================

// longTextThreshold is the length past which a free-text change gets a
// compact diff summary instead of two full values side by side.
const longTextThreshold = 48

// describeChange renders the human-readable preview line for a
// proposed mutation.
func describeChange(sec *catalog.Section, it *catalog.Item, path catalog.FieldPath, current, next catalog.Value) string {
	target := fmt.Sprintf("%q in %s", it.Product, sec.Label)

	if isFreeText(path) && (textLen(current) > longTextThreshold || textLen(next) > longTextThreshold) {
		added, removed := diffCounts(textOrEmpty(current), textOrEmpty(next))
		return fmt.Sprintf("Rewrite %s of %s (+%d/-%d chars)", path.String(), target, added, removed)
	}

	switch {
	case current.IsAbsent():
		return fmt.Sprintf("Set %s of %s to %s", path.String(), target, renderValue(next))
	case next.IsAbsent():
		return fmt.Sprintf("Clear %s of %s (was %s)", path.String(), target, renderValue(current))
	}
	return fmt.Sprintf("Change %s of %s from %s to %s", path.String(), target, renderValue(current), renderValue(next))
}

func isFreeText(path catalog.FieldPath) bool {
	switch path.Kind {
	case catalog.FieldApprovalNote, catalog.FieldComment:
		return true
	}
	return false
}

func textLen(v catalog.Value) int {
	if v.Kind != catalog.KindText {
		return 0
	}
	return utf8.RuneCountInString(v.Text)
}

// diffCounts runs a semantic text diff and reports how many characters
// the edit adds and removes.
func diffCounts(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += utf8.RuneCountInString(d.Text)
		}
	}
	return added, removed
}

func renderValue(v catalog.Value) string {
	if v.Kind == catalog.KindText {
		return strconv.Quote(v.Text)
	}
	return v.String()
}
