/*
validator.go - Ordered pre-commit validation checks

PURPOSE:
  Four checks gate every mutation preview, in a fixed order:
    1. Existence: the section and the item position must resolve
    2. No-op: the proposed value must differ from the stored one
    3. List sanity: a list may grow by at most one element per edit
    4. Identity hint: the caller's product hint must resemble the item

  Checks 2..4 are advisory heuristics protecting against a caller that
  is confused about what it is editing. They gate previews only: a
  confirmed action re-checks existence and nothing else (service.go),
  so a concurrent edit landing between preview and confirm does not
  strand the action.
*/
package materials

import (
	"context"
	"strings"

	"github.com/warp/materials-engine/catalog"
)

// resolveTarget resolves a section identifier (ID first, then
// case-insensitive label) and a zero-based item position within one
// read snapshot. Misses come back as structured not-found errors, not
// nils.
func resolveTarget(ctx context.Context, r catalog.Reader, ident string, index int) (*catalog.Section, *catalog.Item, error) {
	sec, err := r.LookupSection(ctx, ident)
	if err != nil {
		return nil, nil, err
	}
	if sec == nil {
		return nil, nil, &catalog.SectionNotFoundError{Ident: ident}
	}
	it, err := r.ItemAt(ctx, sec.ID, index)
	if err != nil {
		return nil, nil, err
	}
	if it == nil {
		return nil, nil, &catalog.ItemNotFoundError{SectionID: sec.ID, Index: index}
	}
	return sec, it, nil
}

// checkMutation runs checks 2..4 against a resolved item. Existence
// (check 1) has already passed once an item is in hand.
func checkMutation(it *catalog.Item, index int, path catalog.FieldPath, current, next catalog.Value, hint string) error {
	// 2. No-op: structural equality against the stored value.
	if current.Equal(next) {
		return &catalog.NoChangeError{Path: path.String(), Current: current.JSON()}
	}

	// 3. List sanity: growing a list by more than one element in a
	//    single edit is the signature of an accidental full overwrite.
	//    Applies only when both sides are lists.
	if current.Kind == catalog.KindList && next.Kind == catalog.KindList &&
		len(next.List) > len(current.List)+1 {
		return &catalog.SuspiciousListEditError{
			Path:   path.String(),
			OldLen: len(current.List),
			NewLen: len(next.List),
		}
	}

	// 4. Identity hint: optional; substring match in either direction,
	//    case-insensitive, so partial product names pass.
	if hint != "" && !productMatchesHint(it.Product, hint) {
		return &catalog.ProductMismatchError{
			SectionID: it.SectionID,
			Index:     index,
			Hint:      hint,
			Product:   it.Product,
		}
	}
	return nil
}

func productMatchesHint(product, hint string) bool {
	p := strings.ToLower(strings.TrimSpace(product))
	h := strings.ToLower(strings.TrimSpace(hint))
	return strings.Contains(p, h) || strings.Contains(h, p)
}
