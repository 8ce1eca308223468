/*
labor.go - Labor type vocabulary

PURPOSE:
  Defines the closed set of labor categories used to classify items,
  together with their French display labels. Writes accept either the
  canonical token or the display label; exports emit the label.
*/
package catalog

import (
	"fmt"
	"strings"
)

// LaborType classifies the trade an item belongs to.
type LaborType string

const (
	LaborDemolition      LaborType = "demolition"
	LaborStructural      LaborType = "structural"
	LaborFacade          LaborType = "facade"
	LaborExteriorJoinery LaborType = "exterior_joinery"
	LaborPlastering      LaborType = "plastering"
	LaborPlumbing        LaborType = "plumbing"
	LaborElectrical      LaborType = "electrical"
	LaborWallCovering    LaborType = "wall_covering"
	LaborInteriorJoinery LaborType = "interior_joinery"
	LaborLandscaping     LaborType = "landscaping"
	LaborPriceRevision   LaborType = "price_revision"
)

// laborLabels maps canonical tokens to display labels. The labels are
// the legacy French trade names clients already render.
var laborLabels = map[LaborType]string{
	LaborDemolition:      "Démolition & Dépose",
	LaborStructural:      "Gros œuvre & structure",
	LaborFacade:          "Façade, Couverture & ITE",
	LaborExteriorJoinery: "Menuiseries extérieures",
	LaborPlastering:      "Plâtrerie & ITI",
	LaborPlumbing:        "Plomberie & CVC",
	LaborElectrical:      "Électricité",
	LaborWallCovering:    "Revêtement mur & plafond",
	LaborInteriorJoinery: "Menuiseries intérieures",
	LaborLandscaping:     "Espaces verts & Extérieurs",
	LaborPriceRevision:   "Révision de prix",
}

// laborByLabel is the reverse index, keyed by lowercased label.
var laborByLabel = func() map[string]LaborType {
	m := make(map[string]LaborType, len(laborLabels))
	for t, l := range laborLabels {
		m[strings.ToLower(l)] = t
	}
	return m
}()

// LaborTypes lists all labor types in declaration order.
func LaborTypes() []LaborType {
	return []LaborType{
		LaborDemolition,
		LaborStructural,
		LaborFacade,
		LaborExteriorJoinery,
		LaborPlastering,
		LaborPlumbing,
		LaborElectrical,
		LaborWallCovering,
		LaborInteriorJoinery,
		LaborLandscaping,
		LaborPriceRevision,
	}
}

// Label returns the French display label. Unknown types render as
// their raw token.
func (t LaborType) Label() string {
	if l, ok := laborLabels[t]; ok {
		return l
	}
	return string(t)
}

// ParseLaborType accepts a canonical token or a display label,
// case-insensitively.
func ParseLaborType(s string) (LaborType, error) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	for _, t := range LaborTypes() {
		if lower == string(t) {
			return t, nil
		}
	}
	if t, ok := laborByLabel[lower]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown labor type %q", s)
}
