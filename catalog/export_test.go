package catalog_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/materials-engine/catalog"
)

// =============================================================================
// RENDERING TESTS
// =============================================================================

func TestItemDocFrom_PlaceholdersForAbsentSubEntities(t *testing.T) {
	// GIVEN: a bare item with no sub-entities
	// THEN: approvals render as {} under both role keys, order as {},
	//       comments as null under both role keys; no key is omitted
	//       except laborType

	doc := catalog.ItemDocFrom(catalog.Item{Product: "bare"})
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)

	for _, want := range []string{
		`"reference":null`,
		`"supplierLink":null`,
		`"price":{"ttc":null,"htQuote":null}`,
		`"client":{}`,
		`"cray":{}`,
		`"order":{}`,
		`"comments":{"client":null,"cray":null}`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("document %s should contain %s", s, want)
		}
	}
	if strings.Contains(s, "laborType") {
		t.Errorf("unset laborType should be omitted, got %s", s)
	}
}

func TestItemDocFrom_BoundarySpellings(t *testing.T) {
	validated := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	it := catalog.Item{
		Product:   "beegcat oven",
		LaborType: catalog.LaborElectrical,
		Approvals: []catalog.Approval{{
			Role:        catalog.RoleContractor,
			Status:      catalog.StatusChangeOrder,
			ValidatedAt: &validated,
		}},
	}

	doc := catalog.ItemDocFrom(it)

	if doc.LaborType != "Électricité" {
		t.Errorf("laborType renders as %q, expected the French label", doc.LaborType)
	}
	ap, ok := doc.Approvals["cray"]
	if !ok || !ap.Present {
		t.Fatalf("contractor approval should render under the cray key, got %v", doc.Approvals)
	}
	if ap.Status == nil || *ap.Status != "alternative" {
		t.Errorf("change_order status renders as %v, expected alternative", ap.Status)
	}
	if ap.ValidatedAt == nil || *ap.ValidatedAt != "2025-03-10T09:30:00Z" {
		t.Errorf("validatedAt renders as %v", ap.ValidatedAt)
	}
	if ap.ReplacementURLs == nil || len(ap.ReplacementURLs) != 0 {
		t.Errorf("present approval with no urls should render [], got %v", ap.ReplacementURLs)
	}
}

func TestBuildExport_Deterministic(t *testing.T) {
	sections := []catalog.Section{
		{ID: "kitchen", Label: "Kitchen"},
		{ID: "bath", Label: "Bathroom"},
	}
	items := map[string][]catalog.Item{
		"kitchen": {
			{ID: 12, SectionID: "kitchen", Product: "sink"},
			{ID: 3, SectionID: "kitchen", Product: "beegcat oven"},
		},
	}

	doc := catalog.BuildExport(sections, items)

	if doc.Currency != "EUR" {
		t.Errorf("currency %q", doc.Currency)
	}
	if len(doc.Sections) != 2 || doc.Sections[0].ID != "bath" || doc.Sections[1].ID != "kitchen" {
		t.Fatalf("sections should order by identifier, got %v", doc.Sections)
	}
	kitchen := doc.Sections[1]
	if len(kitchen.Items) != 2 || kitchen.Items[0].Product != "beegcat oven" {
		t.Errorf("items should order by identity, got %v", kitchen.Items)
	}
	if len(doc.Sections[0].Items) != 0 {
		t.Errorf("section without items should render empty, got %v", doc.Sections[0].Items)
	}

	// Same input, same bytes.
	a, _ := json.Marshal(doc)
	b, _ := json.Marshal(catalog.BuildExport(sections, items))
	if string(a) != string(b) {
		t.Error("rendering should be deterministic")
	}
}

// =============================================================================
// PARSE-BACK TESTS
// =============================================================================

func TestItemDoc_RoundTrip(t *testing.T) {
	ttc := decimal.NewFromFloat(249.90)
	qty := 2
	validated := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	orig := catalog.Item{
		SectionID:    "kitchen",
		Product:      "beegcat oven",
		Reference:    "OVN-300",
		SupplierLink: "https://example.com/ovn",
		LaborType:    catalog.LaborElectrical,
		PriceTTC:     &ttc,
		Approvals: []catalog.Approval{{
			Role:            catalog.RoleClient,
			Status:          catalog.StatusChangeOrder,
			Note:            "prefer the cheaper model",
			ValidatedAt:     &validated,
			ReplacementURLs: []string{"https://example.com/alt1", "https://example.com/alt2"},
		}},
		Order: &catalog.Order{
			Ordered:        true,
			OrderDate:      "12/03",
			DeliveryDate:   "20/03",
			DeliveryStatus: catalog.DeliveryShipped,
			Quantity:       &qty,
		},
		Comments: []catalog.Comment{{Role: catalog.RoleContractor, Text: "check fuse rating"}},
	}

	// Render, marshal, unmarshal, parse back.
	raw, err := json.Marshal(catalog.ItemDocFrom(orig))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc catalog.ItemDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	back, err := catalog.ItemFromDoc("kitchen", doc)
	if err != nil {
		t.Fatalf("parse back: %v", err)
	}

	if back.Product != orig.Product || back.Reference != orig.Reference || back.SupplierLink != orig.SupplierLink {
		t.Errorf("scalars drifted: %+v", back)
	}
	if back.LaborType != catalog.LaborElectrical {
		t.Errorf("labor type drifted: %v", back.LaborType)
	}
	if back.PriceTTC == nil || !back.PriceTTC.Equal(ttc) {
		t.Errorf("price drifted: %v", back.PriceTTC)
	}
	ap := back.Approval(catalog.RoleClient)
	if ap == nil || ap.Status != catalog.StatusChangeOrder || len(ap.ReplacementURLs) != 2 {
		t.Fatalf("approval drifted: %+v", ap)
	}
	if ap.ValidatedAt == nil || !ap.ValidatedAt.Equal(validated) {
		t.Errorf("validatedAt drifted: %v", ap.ValidatedAt)
	}
	if back.Order == nil || !back.Order.Ordered || back.Order.OrderDate != "12/03" ||
		back.Order.DeliveryStatus != catalog.DeliveryShipped || back.Order.Quantity == nil || *back.Order.Quantity != 2 {
		t.Errorf("order drifted: %+v", back.Order)
	}
	c := back.Comment(catalog.RoleContractor)
	if c == nil || c.Text != "check fuse rating" {
		t.Errorf("comment drifted: %+v", c)
	}
}

func TestUnmarshal_EmptyPlaceholders(t *testing.T) {
	raw := `{
		"product": "bare",
		"reference": null,
		"supplierLink": null,
		"price": {"ttc": null, "htQuote": null},
		"approvals": {"client": {}, "cray": {}},
		"order": {},
		"comments": {"client": null, "cray": null}
	}`
	var doc catalog.ItemDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Approvals["client"].Present || doc.Approvals["cray"].Present {
		t.Error("empty approval objects should parse as absent")
	}
	if doc.Order.Present {
		t.Error("empty order object should parse as absent")
	}

	it, err := catalog.ItemFromDoc("kitchen", doc)
	if err != nil {
		t.Fatalf("parse back: %v", err)
	}
	if len(it.Approvals) != 0 || it.Order != nil || len(it.Comments) != 0 {
		t.Errorf("placeholders should produce no sub-entities, got %+v", it)
	}
}
