/*
queries.go - Read-only projections for the agent

PURPOSE:
  Bounded lookups the agent runs without minting an action: nothing
  here mutates, so nothing needs confirmation. Each query returns flat
  rows the agent can narrate directly, with boundary spellings for
  roles and statuses.

SEE ALSO:
  - broker.go: the confirm gate every MUTATION goes through
  - catalog/export.go: the boundary spellings reused here
*/
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/materials-engine/catalog"
)

// Reasons reported by TodoItems.
const (
	ReasonAwaitingValidation = "awaiting_validation"
	ReasonMissingPrice       = "missing_price"
	ReasonToOrder            = "to_order"
)

// ValidationItem is one item awaiting a role's review.
type ValidationItem struct {
	ItemID       int64   `json:"itemId"`
	SectionID    string  `json:"sectionId"`
	SectionLabel string  `json:"sectionLabel"`
	Product      string  `json:"product"`
	Status       *string `json:"status"`
	CurrentValue any     `json:"currentValue"`
}

// TodoItem is one actionable item in a role's queue.
type TodoItem struct {
	ItemID       int64  `json:"itemId"`
	SectionID    string `json:"sectionId"`
	SectionLabel string `json:"sectionLabel"`
	Product      string `json:"product"`
	ActionReason string `json:"actionReason"`
	LaborType    string `json:"laborType,omitempty"`
}

// PricingSummary totals the priced columns across the whole catalog.
type PricingSummary struct {
	TotalTTC     float64 `json:"totalTtc"`
	TotalHTQuote float64 `json:"totalHtQuote"`
	ItemCount    int     `json:"itemCount"`
}

// SectionItem is one row of the per-section listing.
type SectionItem struct {
	ItemID           int64    `json:"itemId"`
	Product          string   `json:"product"`
	Reference        *string  `json:"reference"`
	PriceTTC         *float64 `json:"priceTtc"`
	PriceHTQuote     *float64 `json:"priceHtQuote"`
	LaborType        string   `json:"laborType,omitempty"`
	ClientStatus     *string  `json:"clientStatus"`
	ContractorStatus *string  `json:"contractorStatus"`
	Ordered          bool     `json:"ordered"`
	DeliveryDate     *string  `json:"deliveryDate"`
}

// SearchHit is one row of a product-name search.
type SearchHit struct {
	ItemID       int64   `json:"itemId"`
	SectionID    string  `json:"sectionId"`
	SectionLabel string  `json:"sectionLabel"`
	Product      string  `json:"product"`
	Reference    *string `json:"reference"`
}

// eachItem walks every item section by section in stable order.
func (b *Broker) eachItem(ctx context.Context, fn func(catalog.Section, catalog.Item)) error {
	store := b.Service.Store
	sections, err := store.ListSections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sections: %w", err)
	}
	for _, sec := range sections {
		items, err := store.ListItems(ctx, sec.ID)
		if err != nil {
			return fmt.Errorf("failed to list items of %s: %w", sec.ID, err)
		}
		for _, it := range items {
			fn(sec, it)
		}
	}
	return nil
}

// ItemsNeedingValidation lists items the role has not reviewed yet:
// the approval is missing, blank, or explicitly pending. A decided
// status, including a requested change order, drops off the list.
func (b *Broker) ItemsNeedingValidation(ctx context.Context, role catalog.Role) ([]ValidationItem, error) {
	rows := []ValidationItem{}
	err := b.eachItem(ctx, func(sec catalog.Section, it catalog.Item) {
		ap := it.Approval(role)
		if ap != nil && ap.Status != "" && ap.Status != catalog.StatusPending {
			return
		}
		row := ValidationItem{
			ItemID:       it.ID,
			SectionID:    sec.ID,
			SectionLabel: sec.Label,
			Product:      it.Product,
		}
		if ap != nil && ap.Status != "" {
			s := ap.Status.ExportKey()
			row.Status = &s
			row.CurrentValue = catalog.TextValue(s).JSON()
		} else {
			row.CurrentValue = catalog.Absent().JSON()
		}
		rows = append(rows, row)
	})
	return rows, err
}

// TodoItems lists what a role should act on next. The client clears
// its validation backlog; the contractor prices unpriced items and
// orders what the client has approved.
func (b *Broker) TodoItems(ctx context.Context, role catalog.Role) ([]TodoItem, error) {
	rows := []TodoItem{}
	err := b.eachItem(ctx, func(sec catalog.Section, it catalog.Item) {
		reason := todoReason(role, it)
		if reason == "" {
			return
		}
		row := TodoItem{
			ItemID:       it.ID,
			SectionID:    sec.ID,
			SectionLabel: sec.Label,
			Product:      it.Product,
			ActionReason: reason,
		}
		if it.LaborType != "" {
			row.LaborType = it.LaborType.Label()
		}
		rows = append(rows, row)
	})
	return rows, err
}

func todoReason(role catalog.Role, it catalog.Item) string {
	if role == catalog.RoleClient {
		ap := it.Approval(role)
		if ap == nil || ap.Status == "" || ap.Status == catalog.StatusPending {
			return ReasonAwaitingValidation
		}
		return ""
	}
	if it.PriceTTC == nil {
		return ReasonMissingPrice
	}
	client := it.Approval(catalog.RoleClient)
	if client != nil && client.Status == catalog.StatusApproved && (it.Order == nil || !it.Order.Ordered) {
		return ReasonToOrder
	}
	return ""
}

// PricingTotals sums the priced columns across all sections. Sums are
// carried as decimals and only flattened to floats at the boundary.
func (b *Broker) PricingTotals(ctx context.Context) (*PricingSummary, error) {
	var ttc, ht decimal.Decimal
	count := 0
	err := b.eachItem(ctx, func(_ catalog.Section, it catalog.Item) {
		count++
		if it.PriceTTC != nil {
			ttc = ttc.Add(*it.PriceTTC)
		}
		if it.PriceHTQuote != nil {
			ht = ht.Add(*it.PriceHTQuote)
		}
	})
	if err != nil {
		return nil, err
	}
	return &PricingSummary{
		TotalTTC:     ttc.InexactFloat64(),
		TotalHTQuote: ht.InexactFloat64(),
		ItemCount:    count,
	}, nil
}

// ItemsBySection lists every item of one section, resolved by id or
// label like any other section reference.
func (b *Broker) ItemsBySection(ctx context.Context, sectionIdent string) ([]SectionItem, error) {
	store := b.Service.Store
	sec, err := store.LookupSection(ctx, sectionIdent)
	if err != nil {
		return nil, fmt.Errorf("failed to look up section %q: %w", sectionIdent, err)
	}
	if sec == nil {
		return nil, &catalog.SectionNotFoundError{Ident: sectionIdent}
	}
	items, err := store.ListItems(ctx, sec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items of %s: %w", sec.ID, err)
	}
	rows := make([]SectionItem, 0, len(items))
	for i := range items {
		rows = append(rows, sectionItemRow(items[i]))
	}
	return rows, nil
}

func sectionItemRow(it catalog.Item) SectionItem {
	row := SectionItem{ItemID: it.ID, Product: it.Product}
	if it.Reference != "" {
		ref := it.Reference
		row.Reference = &ref
	}
	if it.PriceTTC != nil {
		f := it.PriceTTC.InexactFloat64()
		row.PriceTTC = &f
	}
	if it.PriceHTQuote != nil {
		f := it.PriceHTQuote.InexactFloat64()
		row.PriceHTQuote = &f
	}
	if it.LaborType != "" {
		row.LaborType = it.LaborType.Label()
	}
	if ap := it.Approval(catalog.RoleClient); ap != nil && ap.Status != "" {
		s := ap.Status.ExportKey()
		row.ClientStatus = &s
	}
	if ap := it.Approval(catalog.RoleContractor); ap != nil && ap.Status != "" {
		s := ap.Status.ExportKey()
		row.ContractorStatus = &s
	}
	if it.Order != nil {
		row.Ordered = it.Order.Ordered
		if it.Order.DeliveryDate != "" {
			d := it.Order.DeliveryDate
			row.DeliveryDate = &d
		}
	}
	return row
}

// SearchItems finds items whose product name contains the query,
// case-insensitively. A blank query matches nothing.
func (b *Broker) SearchItems(ctx context.Context, query string) ([]SearchHit, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	hits := []SearchHit{}
	if needle == "" {
		return hits, nil
	}
	err := b.eachItem(ctx, func(sec catalog.Section, it catalog.Item) {
		if !strings.Contains(strings.ToLower(it.Product), needle) {
			return
		}
		hit := SearchHit{
			ItemID:       it.ID,
			SectionID:    sec.ID,
			SectionLabel: sec.Label,
			Product:      it.Product,
		}
		if it.Reference != "" {
			ref := it.Reference
			hit.Reference = &ref
		}
		hits = append(hits, hit)
	})
	return hits, err
}
