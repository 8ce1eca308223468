/*
value.go - Typed value union for field reads and writes

PURPOSE:
  Every field in the path vocabulary reads and writes through this
  union. Coercion happens once, at the boundary: CoerceValue turns a
  raw JSON-shaped input into a typed Value or rejects it, so commit
  logic downstream never sees an untyped blob. Structural equality
  over Values drives the no-op check; JSON() produces the shape stored
  in the edit ledger.

COERCION RULES (per field, see CoerceValue):
  - nil and empty text collapse to the absent value
  - statuses and labor types normalize to canonical tokens, accepting
    legacy boundary spellings and display labels
  - prices become decimals rounded to cents, never negative
  - dates use the legacy dd/mm shape
  - replacement URL lists must arrive as lists, one string per element
*/
package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ValueKind discriminates the union.
type ValueKind int

const (
	KindAbsent ValueKind = iota
	KindText
	KindBool
	KindInt
	KindDecimal
	KindList
	KindDelivery
)

// Delivery is the order's delivery sub-record value.
type Delivery struct {
	Date   string
	Status DeliveryStatus
}

// Value is a tagged union over every representable field value. Only
// the field matching Kind is meaningful.
type Value struct {
	Kind     ValueKind
	Text     string
	Bool     bool
	Int      int
	Dec      decimal.Decimal
	List     []string
	Delivery Delivery
}

// Absent returns the absent value.
func Absent() Value {
	return Value{Kind: KindAbsent}
}

// TextValue wraps a string. Blank text collapses to absent so "" and
// null are one state everywhere downstream.
func TextValue(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Absent()
	}
	return Value{Kind: KindText, Text: s}
}

// BoolValue wraps a flag.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// IntValue wraps an integer.
func IntValue(n int) Value {
	return Value{Kind: KindInt, Int: n}
}

// DecimalValue wraps a monetary amount.
func DecimalValue(d decimal.Decimal) Value {
	return Value{Kind: KindDecimal, Dec: d}
}

// ListValue wraps a string list. An empty list is a real value (a list
// with zero elements), distinct from absent.
func ListValue(xs []string) Value {
	if xs == nil {
		xs = []string{}
	}
	return Value{Kind: KindList, List: xs}
}

// DeliveryValue wraps a delivery sub-record. Fully empty collapses to
// absent.
func DeliveryValue(d Delivery) Value {
	if d.Date == "" && d.Status == "" {
		return Absent()
	}
	return Value{Kind: KindDelivery, Delivery: d}
}

// IsAbsent reports whether v is the absent value.
func (v Value) IsAbsent() bool {
	return v.Kind == KindAbsent
}

// Equal reports structural equality. Values of different kinds are
// never equal; decimals compare numerically; lists compare element by
// element in order.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindAbsent:
		return true
	case KindText:
		return v.Text == o.Text
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindDecimal:
		return v.Dec.Equal(o.Dec)
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	case KindDelivery:
		return v.Delivery == o.Delivery
	}
	return false
}

// JSON returns the JSON shape of the value, as stored in ledger
// entries and compared in diagnostics. Absent maps to nil.
func (v Value) JSON() any {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindDecimal:
		return v.Dec.InexactFloat64()
	case KindList:
		out := make([]any, len(v.List))
		for i, s := range v.List {
			out[i] = s
		}
		return out
	case KindDelivery:
		var date, status any
		if v.Delivery.Date != "" {
			date = v.Delivery.Date
		}
		if v.Delivery.Status != "" {
			status = string(v.Delivery.Status)
		}
		return map[string]any{"date": date, "status": status}
	}
	return nil
}

// String renders the value for previews and logs.
func (v Value) String() string {
	switch v.Kind {
	case KindAbsent:
		return "(empty)"
	case KindText:
		return v.Text
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.Itoa(v.Int)
	case KindDecimal:
		return v.Dec.StringFixed(2)
	case KindList:
		return "[" + strings.Join(v.List, ", ") + "]"
	case KindDelivery:
		parts := make([]string, 0, 2)
		if v.Delivery.Date != "" {
			parts = append(parts, v.Delivery.Date)
		}
		if v.Delivery.Status != "" {
			parts = append(parts, string(v.Delivery.Status))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// =============================================================================
// COERCION
// =============================================================================

// CoerceValue converts a raw JSON-shaped input into the typed value
// the field expects, or fails with ErrInvalidValue. This is the only
// place raw caller input is inspected; everything past it is typed.
func CoerceValue(p FieldPath, raw any) (Value, error) {
	switch p.Kind {
	case FieldProduct:
		s, ok := asString(raw)
		if !ok || strings.TrimSpace(s) == "" {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: "product requires non-empty text"}
		}
		return TextValue(s), nil

	case FieldReference, FieldSupplierLink, FieldApprovalNote, FieldComment:
		return coerceOptionalText(p, raw)

	case FieldLaborType:
		s, ok, err := optionalString(p, raw)
		if err != nil || !ok {
			return Absent(), err
		}
		t, perr := ParseLaborType(s)
		if perr != nil {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: perr.Error()}
		}
		return TextValue(string(t)), nil

	case FieldApprovalStatus:
		s, ok, err := optionalString(p, raw)
		if err != nil || !ok {
			return Absent(), err
		}
		st, perr := ParseApprovalStatus(s)
		if perr != nil {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: perr.Error()}
		}
		return TextValue(string(st)), nil

	case FieldApprovalValidatedAt:
		s, ok, err := optionalString(p, raw)
		if err != nil || !ok {
			return Absent(), err
		}
		ts, perr := parseTimestamp(s)
		if perr != nil {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: perr.Error()}
		}
		return TextValue(ts.UTC().Format(time.RFC3339)), nil

	case FieldPriceTTC, FieldPriceHTQuote:
		return coercePrice(p, raw)

	case FieldApprovalURLs:
		return coerceURLList(p, raw)

	case FieldOrderOrdered:
		switch b := raw.(type) {
		case nil:
			return BoolValue(false), nil
		case bool:
			return BoolValue(b), nil
		}
		return Value{}, &InvalidValueError{Path: p.String(), Reason: "expected true or false"}

	case FieldOrderDate:
		s, ok, err := optionalString(p, raw)
		if err != nil || !ok {
			return Absent(), err
		}
		if !validDayMonth(s) {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("date %q must be dd/mm", s)}
		}
		return TextValue(s), nil

	case FieldOrderDelivery:
		return coerceDelivery(p, raw)

	case FieldOrderQuantity:
		return coerceQuantity(p, raw)
	}
	return Value{}, &UnknownFieldPathError{Path: p.String()}
}

func coerceOptionalText(p FieldPath, raw any) (Value, error) {
	s, ok, err := optionalString(p, raw)
	if err != nil || !ok {
		return Absent(), err
	}
	return TextValue(s), nil
}

// optionalString returns the string form of raw, ok=false when it is
// absent (nil or blank), and an error when it is not text at all.
func optionalString(p FieldPath, raw any) (string, bool, error) {
	if raw == nil {
		return "", false, nil
	}
	s, ok := asString(raw)
	if !ok {
		return "", false, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("expected text, got %T", raw)}
	}
	if strings.TrimSpace(s) == "" {
		return "", false, nil
	}
	return s, true, nil
}

func asString(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

func coercePrice(p FieldPath, raw any) (Value, error) {
	var d decimal.Decimal
	switch n := raw.(type) {
	case nil:
		return Absent(), nil
	case float64:
		d = decimal.NewFromFloat(n)
	case int:
		d = decimal.NewFromInt(int64(n))
	case int64:
		d = decimal.NewFromInt(n)
	case string:
		if strings.TrimSpace(n) == "" {
			return Absent(), nil
		}
		parsed, err := decimal.NewFromString(n)
		if err != nil {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("unparseable amount %q", n)}
		}
		d = parsed
	default:
		return Value{}, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("expected number, got %T", raw)}
	}
	if d.IsNegative() {
		return Value{}, &InvalidValueError{Path: p.String(), Reason: "amount must not be negative"}
	}
	return DecimalValue(d.Round(2)), nil
}

func coerceURLList(p FieldPath, raw any) (Value, error) {
	appendURL := func(urls []string, elem any) ([]string, error) {
		s, ok := asString(elem)
		if !ok {
			return nil, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("list element must be text, got %T", elem)}
		}
		if strings.TrimSpace(s) == "" {
			return urls, nil
		}
		return append(urls, s), nil
	}
	switch list := raw.(type) {
	case nil:
		return Absent(), nil
	case []any:
		urls := []string{}
		for _, elem := range list {
			var err error
			if urls, err = appendURL(urls, elem); err != nil {
				return Value{}, err
			}
		}
		return ListValue(urls), nil
	case []string:
		urls := []string{}
		for _, elem := range list {
			var err error
			if urls, err = appendURL(urls, elem); err != nil {
				return Value{}, err
			}
		}
		return ListValue(urls), nil
	}
	return Value{}, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("expected a list of URLs, got %T", raw)}
}

func coerceDelivery(p FieldPath, raw any) (Value, error) {
	if raw == nil {
		return Absent(), nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return Value{}, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("expected an object with date and status, got %T", raw)}
	}
	var d Delivery
	if rawDate, present := m["date"]; present && rawDate != nil {
		s, ok := asString(rawDate)
		if !ok {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: "delivery date must be text"}
		}
		if strings.TrimSpace(s) != "" {
			if !validDayMonth(s) {
				return Value{}, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("delivery date %q must be dd/mm", s)}
			}
			d.Date = s
		}
	}
	if rawStatus, present := m["status"]; present && rawStatus != nil {
		s, ok := asString(rawStatus)
		if !ok {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: "delivery status must be text"}
		}
		if strings.TrimSpace(s) != "" {
			st, err := ParseDeliveryStatus(s)
			if err != nil {
				return Value{}, &InvalidValueError{Path: p.String(), Reason: err.Error()}
			}
			d.Status = st
		}
	}
	return DeliveryValue(d), nil
}

func coerceQuantity(p FieldPath, raw any) (Value, error) {
	var n int
	switch q := raw.(type) {
	case nil:
		return Absent(), nil
	case float64:
		if q != math.Trunc(q) {
			return Value{}, &InvalidValueError{Path: p.String(), Reason: "quantity must be a whole number"}
		}
		n = int(q)
	case int:
		n = q
	case int64:
		n = int(q)
	default:
		return Value{}, &InvalidValueError{Path: p.String(), Reason: fmt.Sprintf("expected a whole number, got %T", raw)}
	}
	if n < 1 {
		return Value{}, &InvalidValueError{Path: p.String(), Reason: "quantity must be at least 1"}
	}
	return IntValue(n), nil
}

// validDayMonth checks the legacy dd/mm shape with in-range day and
// month components. No year is carried, so leap handling is out.
func validDayMonth(s string) bool {
	if len(s) != 5 || s[2] != '/' {
		return false
	}
	dd, err := strconv.Atoi(s[:2])
	if err != nil {
		return false
	}
	mm, err := strconv.Atoi(s[3:])
	if err != nil {
		return false
	}
	return dd >= 1 && dd <= 31 && mm >= 1 && mm <= 12
}

// parseTimestamp accepts RFC 3339 and the zone-less variants legacy
// callers send, assuming UTC when no zone is given.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
