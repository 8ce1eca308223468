/*
demo.go - Demo catalog for testing and demonstrations

PURPOSE:
  Provides a pre-built renovation catalog that populates the database
  with realistic data for demos and manual testing. The document walks
  through the states the engine distinguishes: pending reviews, an
  approved and ordered item, a requested change order with replacement
  links, a rejection with a note, and unpriced items.

HOW LOADING WORKS:
  The document goes through the regular import path, so loading is an
  upsert: items are matched by product name and re-loading is
  idempotent. Nothing is deleted first.

USAGE VIA API:

	POST /api/demo/load

SEE ALSO:
  - handlers.go: LoadDemo handler
  - cmd/server/main.go: the -seed flag loads this at startup
*/
package api

import (
	"github.com/warp/materials-engine/catalog"
)

// DemoDocument builds the demo renovation catalog.
func DemoDocument() *catalog.ExportDocument {
	return &catalog.ExportDocument{
		Currency: "EUR",
		Sections: []catalog.SectionDoc{
			{
				ID:    "cuisine",
				Label: "Cuisine",
				Items: []catalog.ItemDoc{
					{
						Product:      "Four encastrable pyrolyse",
						Reference:    strPtr("BOS-HBA573BS0"),
						SupplierLink: strPtr("https://shop.example/fours/hba573bs0"),
						LaborType:    "Électricité",
						Price:        catalog.PriceDoc{TTC: floatPtr(549.99), HTQuote: floatPtr(458.33)},
						Approvals: map[string]catalog.ApprovalDoc{
							"client": {
								Present:     true,
								Status:      strPtr("approved"),
								ValidatedAt: strPtr("2025-02-10T09:30:00Z"),
							},
							"cray": {Present: true, Status: strPtr("approved")},
						},
						Order: catalog.OrderDoc{
							Present:   true,
							Ordered:   true,
							OrderDate: strPtr("15/02"),
							Delivery: catalog.DeliveryDoc{
								Date:   strPtr("28/02"),
								Status: strPtr("shipped"),
							},
							Quantity: intPtr(1),
						},
					},
					{
						Product:   "Plan de travail chêne massif",
						LaborType: "Menuiseries intérieures",
						Price:     catalog.PriceDoc{TTC: floatPtr(890), HTQuote: floatPtr(741.67)},
						Approvals: map[string]catalog.ApprovalDoc{
							"client": {Present: true, Status: strPtr("pending")},
						},
						Comments: map[string]*string{
							"client": strPtr("Prévoir une découpe pour la plaque de cuisson"),
						},
					},
					{
						Product: "Mitigeur cuisine noir mat",
						Price:   catalog.PriceDoc{TTC: floatPtr(129), HTQuote: floatPtr(107.50)},
						Approvals: map[string]catalog.ApprovalDoc{
							"client": {
								Present: true,
								Status:  strPtr("alternative"),
								Note:    strPtr("Préférence pour une finition inox brossé"),
								ReplacementURLs: []string{
									"https://shop.example/mitigeurs/inox-brosse",
									"https://shop.example/mitigeurs/chrome",
								},
							},
						},
					},
				},
			},
			{
				ID:    "salle-de-bain",
				Label: "Salle de bain",
				Items: []catalog.ItemDoc{
					{
						Product:   "Receveur de douche extra-plat 120x90",
						LaborType: "Plomberie & CVC",
						Price:     catalog.PriceDoc{TTC: floatPtr(345), HTQuote: floatPtr(287.50)},
						Approvals: map[string]catalog.ApprovalDoc{
							"client": {Present: true, Status: strPtr("approved")},
						},
						Order: catalog.OrderDoc{
							Present:   true,
							Ordered:   true,
							OrderDate: strPtr("20/02"),
							Delivery: catalog.DeliveryDoc{
								Status: strPtr("pending"),
							},
						},
					},
					{
						Product: "Colonne de douche thermostatique",
					},
					{
						Product:   "Sèche-serviettes électrique",
						LaborType: "Électricité",
						Price:     catalog.PriceDoc{TTC: floatPtr(279), HTQuote: floatPtr(232.50)},
						Approvals: map[string]catalog.ApprovalDoc{
							"client": {
								Present: true,
								Status:  strPtr("rejected"),
								Note:    strPtr("Trop large pour le pan de mur prévu"),
							},
						},
					},
				},
			},
			{
				ID:    "sejour",
				Label: "Séjour",
				Items: []catalog.ItemDoc{
					{
						Product:   "Parquet contrecollé chêne 14mm",
						Reference: strPtr("PAR-CH14-NAT"),
						LaborType: "Menuiseries intérieures",
						Price:     catalog.PriceDoc{TTC: floatPtr(1890), HTQuote: floatPtr(1575)},
						Approvals: map[string]catalog.ApprovalDoc{
							"client": {Present: true, Status: strPtr("pending")},
						},
					},
					{
						Product:   "Peinture murale blanc cassé",
						LaborType: "Revêtement mur & plafond",
					},
				},
			},
		},
	}
}

func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

func intPtr(n int) *int {
	return &n
}
