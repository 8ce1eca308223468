/*
export.go - Denormalized document representation

PURPOSE:
  The catalog's second representation: one JSON document rendering
  every section with its items and their embedded sub-entities. This
  is the read view legacy clients and the agent consume. Key contract:
  the contractor role appears under the literal key "cray", the
  change_order status as "alternative", and labor types under their
  French labels. Absent sub-entities render as empty objects or nulls,
  never as missing keys; only laborType is omitted when unset.

  Rendering is deterministic: sections sort by identifier, items by
  their numeric identity, so the same store state always yields the
  same bytes.

SEE ALSO:
  - types.go: the normalized entities this view is derived from
  - materials/service.go: rebuild-and-snapshot after each commit
*/
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ExportDocument is the top-level denormalized view.
type ExportDocument struct {
	Currency string       `json:"currency"`
	Sections []SectionDoc `json:"sections"`
}

// SectionDoc renders one section with its items inline.
type SectionDoc struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Items []ItemDoc `json:"items"`
}

// ItemDoc renders one item. Approvals and comments always carry both
// role keys; order is an empty object when no order exists.
type ItemDoc struct {
	Product      string                 `json:"product"`
	Reference    *string                `json:"reference"`
	SupplierLink *string                `json:"supplierLink"`
	LaborType    string                 `json:"laborType,omitempty"`
	Price        PriceDoc               `json:"price"`
	Approvals    map[string]ApprovalDoc `json:"approvals"`
	Order        OrderDoc               `json:"order"`
	Comments     map[string]*string     `json:"comments"`
}

// PriceDoc carries both monetary amounts, null when unset.
type PriceDoc struct {
	TTC     *float64 `json:"ttc"`
	HTQuote *float64 `json:"htQuote"`
}

// ApprovalDoc renders one role's approval. Present distinguishes a
// real approval from the `{}` placeholder an absent one renders as.
type ApprovalDoc struct {
	Present         bool     `json:"-"`
	Status          *string  `json:"status"`
	Note            *string  `json:"note"`
	ValidatedAt     *string  `json:"validatedAt"`
	ReplacementURLs []string `json:"replacementUrls"`
}

func (d ApprovalDoc) MarshalJSON() ([]byte, error) {
	if !d.Present {
		return []byte("{}"), nil
	}
	type plain ApprovalDoc
	return json.Marshal(plain(d))
}

func (d *ApprovalDoc) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if len(probe) == 0 {
		*d = ApprovalDoc{}
		return nil
	}
	type plain ApprovalDoc
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*d = ApprovalDoc(out)
	d.Present = true
	return nil
}

// OrderDoc renders the order sub-record, `{}` when absent.
type OrderDoc struct {
	Present   bool        `json:"-"`
	Ordered   bool        `json:"ordered"`
	OrderDate *string     `json:"orderDate"`
	Delivery  DeliveryDoc `json:"delivery"`
	Quantity  *int        `json:"quantity"`
}

func (d OrderDoc) MarshalJSON() ([]byte, error) {
	if !d.Present {
		return []byte("{}"), nil
	}
	type plain OrderDoc
	return json.Marshal(plain(d))
}

func (d *OrderDoc) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if len(probe) == 0 {
		*d = OrderDoc{}
		return nil
	}
	type plain OrderDoc
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*d = OrderDoc(out)
	d.Present = true
	return nil
}

// DeliveryDoc renders the delivery sub-record of an order.
type DeliveryDoc struct {
	Date   *string `json:"date"`
	Status *string `json:"status"`
}

// =============================================================================
// RENDERING (normalized -> document)
// =============================================================================

// BuildExport renders the full denormalized document. The items map is
// keyed by section identifier; missing keys render as empty sections.
func BuildExport(sections []Section, items map[string][]Item) ExportDocument {
	ordered := make([]Section, len(sections))
	copy(ordered, sections)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	doc := ExportDocument{Currency: Currency, Sections: make([]SectionDoc, 0, len(ordered))}
	for _, sec := range ordered {
		doc.Sections = append(doc.Sections, SectionDocFrom(sec, items[sec.ID]))
	}
	return doc
}

// SectionDocFrom renders one section with its items, ordered by item
// identity.
func SectionDocFrom(sec Section, items []Item) SectionDoc {
	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	out := SectionDoc{ID: sec.ID, Label: sec.Label, Items: make([]ItemDoc, 0, len(ordered))}
	for i := range ordered {
		out.Items = append(out.Items, ItemDocFrom(ordered[i]))
	}
	return out
}

// ItemDocFrom renders one item with every boundary spelling applied.
func ItemDocFrom(it Item) ItemDoc {
	doc := ItemDoc{
		Product:      it.Product,
		Reference:    textPtr(it.Reference),
		SupplierLink: textPtr(it.SupplierLink),
		Price: PriceDoc{
			TTC:     floatPtr(it.PriceTTC),
			HTQuote: floatPtr(it.PriceHTQuote),
		},
		Approvals: map[string]ApprovalDoc{},
		Comments:  map[string]*string{},
	}
	if it.LaborType != "" {
		doc.LaborType = it.LaborType.Label()
	}

	for _, role := range Roles() {
		key := role.ExportKey()
		doc.Approvals[key] = approvalDocFrom(it.Approval(role))
		if c := it.Comment(role); c != nil {
			doc.Comments[key] = textPtr(c.Text)
		} else {
			doc.Comments[key] = nil
		}
	}

	if o := it.Order; o != nil {
		doc.Order = OrderDoc{
			Present:   true,
			Ordered:   o.Ordered,
			OrderDate: textPtr(o.OrderDate),
			Delivery: DeliveryDoc{
				Date:   textPtr(o.DeliveryDate),
				Status: statusPtr(string(o.DeliveryStatus)),
			},
			Quantity: o.Quantity,
		}
	}
	return doc
}

func approvalDocFrom(ap *Approval) ApprovalDoc {
	if ap == nil {
		return ApprovalDoc{}
	}
	doc := ApprovalDoc{
		Present:         true,
		Note:            textPtr(ap.Note),
		ReplacementURLs: append([]string{}, ap.ReplacementURLs...),
	}
	if ap.Status != "" {
		doc.Status = strPtr(ap.Status.ExportKey())
	}
	if ap.ValidatedAt != nil {
		doc.ValidatedAt = strPtr(ap.ValidatedAt.UTC().Format(time.RFC3339))
	}
	return doc
}

func textPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string { return &s }

func statusPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func decFromFloat(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f).Round(2)
	return &d
}

// =============================================================================
// PARSING (document -> normalized)
// =============================================================================

// SectionFromDoc converts a document section back to a normalized
// section plus its items. Identifiers are required.
func SectionFromDoc(d SectionDoc) (Section, []Item, error) {
	if d.ID == "" {
		return Section{}, nil, fmt.Errorf("section document missing id")
	}
	sec := Section{ID: d.ID, Label: d.Label}
	items := make([]Item, 0, len(d.Items))
	for i, itemDoc := range d.Items {
		it, err := ItemFromDoc(d.ID, itemDoc)
		if err != nil {
			return Section{}, nil, fmt.Errorf("section %s item %d: %w", d.ID, i, err)
		}
		items = append(items, it)
	}
	return sec, items, nil
}

// ItemFromDoc converts a document item back to a normalized item,
// translating every boundary spelling to its canonical token.
func ItemFromDoc(sectionID string, d ItemDoc) (Item, error) {
	if d.Product == "" {
		return Item{}, fmt.Errorf("item document missing product")
	}
	it := Item{
		SectionID:    sectionID,
		Product:      d.Product,
		Reference:    derefText(d.Reference),
		SupplierLink: derefText(d.SupplierLink),
		PriceTTC:     decFromFloat(d.Price.TTC),
		PriceHTQuote: decFromFloat(d.Price.HTQuote),
	}
	if d.LaborType != "" {
		t, err := ParseLaborType(d.LaborType)
		if err != nil {
			return Item{}, err
		}
		it.LaborType = t
	}

	for key, apDoc := range d.Approvals {
		if !apDoc.Present {
			continue
		}
		role, err := ParseRole(key)
		if err != nil {
			return Item{}, err
		}
		ap := Approval{Role: role, Note: derefText(apDoc.Note)}
		if apDoc.Status != nil && *apDoc.Status != "" {
			st, err := ParseApprovalStatus(*apDoc.Status)
			if err != nil {
				return Item{}, err
			}
			ap.Status = st
		}
		if apDoc.ValidatedAt != nil && *apDoc.ValidatedAt != "" {
			ts, err := parseTimestamp(*apDoc.ValidatedAt)
			if err != nil {
				return Item{}, err
			}
			utc := ts.UTC()
			ap.ValidatedAt = &utc
		}
		if apDoc.ReplacementURLs != nil {
			ap.ReplacementURLs = append([]string{}, apDoc.ReplacementURLs...)
		}
		it.Approvals = append(it.Approvals, ap)
	}
	sort.Slice(it.Approvals, func(i, j int) bool { return it.Approvals[i].Role < it.Approvals[j].Role })

	if d.Order.Present {
		o := Order{
			Ordered:      d.Order.Ordered,
			OrderDate:    derefText(d.Order.OrderDate),
			DeliveryDate: derefText(d.Order.Delivery.Date),
			Quantity:     d.Order.Quantity,
		}
		if d.Order.Delivery.Status != nil && *d.Order.Delivery.Status != "" {
			st, err := ParseDeliveryStatus(*d.Order.Delivery.Status)
			if err != nil {
				return Item{}, err
			}
			o.DeliveryStatus = st
		}
		it.Order = &o
	}

	for key, text := range d.Comments {
		if text == nil || *text == "" {
			continue
		}
		role, err := ParseRole(key)
		if err != nil {
			return Item{}, err
		}
		it.Comments = append(it.Comments, Comment{Role: role, Text: *text})
	}
	sort.Slice(it.Comments, func(i, j int) bool { return it.Comments[i].Role < it.Comments[j].Role })

	return it, nil
}

func derefText(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
