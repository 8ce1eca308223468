/*
errors.go - Error taxonomy for catalog mutations

PURPOSE:
  Defines sentinel errors and structured error types for every failure
  mode a mutation can hit. Callers branch with errors.Is against the
  sentinels; the structured types carry enough context to build a
  useful message without re-querying.

ERROR CATEGORIES:
  - Resolution: section/item not found, ambiguous section label
  - Vocabulary: unknown field path, unrepresentable value
  - Validation: no-op change, suspicious array edit, product mismatch
  - Lifecycle:  expired/consumed action token, commit failure
*/
package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors. Structured types below wrap these so both
// errors.Is(err, ErrX) and errors.As(err, &typed) work.
var (
	ErrSectionNotFound    = errors.New("section not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrAmbiguousSection   = errors.New("section label is ambiguous")
	ErrUnknownFieldPath   = errors.New("unknown field path")
	ErrInvalidValue       = errors.New("invalid value for field")
	ErrNoChange           = errors.New("value already matches")
	ErrSuspiciousListEdit = errors.New("list edit grows beyond one element")
	ErrProductMismatch    = errors.New("product does not match request hint")
	ErrActionNotFound     = errors.New("action not found")
	ErrActionExpired      = errors.New("action expired")
	ErrCommitFailed       = errors.New("commit failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// SectionNotFoundError reports a section lookup miss. Ident is whatever
// the caller passed: an ID or a label.
type SectionNotFoundError struct {
	Ident string
}

func (e *SectionNotFoundError) Error() string {
	return fmt.Sprintf("section %q not found", e.Ident)
}

func (e *SectionNotFoundError) Unwrap() error { return ErrSectionNotFound }

// AmbiguousSectionError reports a label that matches several sections.
type AmbiguousSectionError struct {
	Label   string
	Matches []string
}

func (e *AmbiguousSectionError) Error() string {
	return fmt.Sprintf("section label %q matches %d sections %v, use an id", e.Label, len(e.Matches), e.Matches)
}

func (e *AmbiguousSectionError) Unwrap() error { return ErrAmbiguousSection }

// ItemNotFoundError reports an item position that does not exist in a
// section. Index is the zero-based position the caller asked for.
type ItemNotFoundError struct {
	SectionID string
	Index     int
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %d not found in section %q", e.Index, e.SectionID)
}

func (e *ItemNotFoundError) Unwrap() error { return ErrItemNotFound }

// UnknownFieldPathError reports a path outside the closed vocabulary.
type UnknownFieldPathError struct {
	Path string
}

func (e *UnknownFieldPathError) Error() string {
	return fmt.Sprintf("unknown field path %q", e.Path)
}

func (e *UnknownFieldPathError) Unwrap() error { return ErrUnknownFieldPath }

// InvalidValueError reports a raw value the field cannot represent.
type InvalidValueError struct {
	Path   string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Path, e.Reason)
}

func (e *InvalidValueError) Unwrap() error { return ErrInvalidValue }

// NoChangeError reports a proposed value structurally equal to the
// current one. Current carries the JSON shape of the stored value.
type NoChangeError struct {
	Path    string
	Current any
}

func (e *NoChangeError) Error() string {
	return fmt.Sprintf("field %s already has this value", e.Path)
}

func (e *NoChangeError) Unwrap() error { return ErrNoChange }

// SuspiciousListEditError reports a list write that grows the stored
// list by more than one element, a signature of an accidental full
// overwrite rather than an incremental edit.
type SuspiciousListEditError struct {
	Path   string
	OldLen int
	NewLen int
}

func (e *SuspiciousListEditError) Error() string {
	return fmt.Sprintf("list edit on %s grows %d -> %d elements, expected at most one new element", e.Path, e.OldLen, e.NewLen)
}

func (e *SuspiciousListEditError) Unwrap() error { return ErrSuspiciousListEdit }

// ProductMismatchError reports that the item at the requested position
// does not resemble the product the caller said it was editing.
type ProductMismatchError struct {
	SectionID string
	Index     int
	Hint      string
	Product   string
}

func (e *ProductMismatchError) Error() string {
	return fmt.Sprintf("item %d in section %q is %q, not %q", e.Index, e.SectionID, e.Product, e.Hint)
}

func (e *ProductMismatchError) Unwrap() error { return ErrProductMismatch }

// CommitFailedError wraps an infrastructure failure inside a commit.
type CommitFailedError struct {
	Op  string
	Err error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("commit failed during %s: %v", e.Op, e.Err)
}

func (e *CommitFailedError) Unwrap() error { return ErrCommitFailed }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsNotFound reports whether err is any resolution miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSectionNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrActionNotFound)
}

// IsClientError reports whether err is the caller's fault rather than
// an infrastructure failure.
func IsClientError(err error) bool {
	return IsNotFound(err) ||
		errors.Is(err, ErrAmbiguousSection) ||
		errors.Is(err, ErrUnknownFieldPath) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrNoChange) ||
		errors.Is(err, ErrSuspiciousListEdit) ||
		errors.Is(err, ErrProductMismatch) ||
		errors.Is(err, ErrActionExpired)
}

// Code maps an error to a stable machine-readable token for transport.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrSectionNotFound):
		return "section_not_found"
	case errors.Is(err, ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, ErrAmbiguousSection):
		return "ambiguous_section"
	case errors.Is(err, ErrUnknownFieldPath):
		return "unknown_field_path"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrNoChange):
		return "no_change"
	case errors.Is(err, ErrSuspiciousListEdit):
		return "suspicious_list_edit"
	case errors.Is(err, ErrProductMismatch):
		return "product_mismatch"
	case errors.Is(err, ErrActionNotFound):
		return "action_not_found"
	case errors.Is(err, ErrActionExpired):
		return "action_expired"
	case errors.Is(err, ErrCommitFailed):
		return "commit_failed"
	}
	return "internal"
}
