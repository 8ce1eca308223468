/*
service.go - Dual-representation synchronizer

PURPOSE:
  The Service owns every catalog mutation and read at the business
  level. The normalized store is the single source of truth; the
  denormalized export document is derived from it after every commit
  and pushed to the snapshot backend best effort.

KEY OPERATIONS:
  Validate: full check chain + preview rendering, no writes
  Commit:   one field write, transactional, ledger append included
  Export:   document from the primary store, snapshot fallback on failure
  Import:   bulk upsert from a document, no ledger entries
  History:  the edit ledger, newest first

CONSISTENCY MODEL:
  Primary-then-secondary. A commit is durable once the store
  transaction commits; the snapshot refresh that follows may fail and
  is only logged and counted. Export readers may therefore see a
  document one commit behind after a snapshot failure.

SEE ALSO:
  - validator.go: the ordered pre-commit checks
  - mutate.go: entity-level application of one field write
  - agent/broker.go: preview/confirm wrapper around this service
*/
package materials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/materials-engine/catalog"
)

// ErrBadDocument reports an import document the engine cannot parse.
var ErrBadDocument = errors.New("malformed materials document")

// Snapshotter is the secondary-representation backend the service
// refreshes after every successful commit. Implementations live in
// the snapshot package.
type Snapshotter interface {
	Write(ctx context.Context, doc *catalog.ExportDocument) error
	Read(ctx context.Context) (*catalog.ExportDocument, error)
}

// Service synchronizes the normalized catalog with its denormalized
// export. A nil Snapshots disables the secondary representation.
type Service struct {
	Store     catalog.Store
	Snapshots Snapshotter
	Log       zerolog.Logger
	Now       func() time.Time
}

// CommitRequest addresses one field of one item and the value to
// write. SectionIdent accepts a section ID or label; ItemIndex is the
// zero-based position within the section.
type CommitRequest struct {
	SectionIdent string
	ItemIndex    int
	Path         string
	NewValue     any
	ProductHint  string
	Source       catalog.EditSource
}

// ItemIdentity pins down which item a preview is about.
type ItemIdentity struct {
	SectionID    string `json:"sectionId"`
	SectionLabel string `json:"sectionLabel"`
	ItemIndex    int    `json:"itemIndex"`
	ItemID       int64  `json:"itemId"`
	Product      string `json:"product"`
}

// ChangePreview is the read-only rendering of a proposed mutation.
type ChangePreview struct {
	Description  string       `json:"description"`
	CurrentValue any          `json:"currentValue"`
	NewValue     any          `json:"newValue"`
	ItemIdentity ItemIdentity `json:"itemIdentity"`
}

// CommitResult reports one committed mutation.
type CommitResult struct {
	SectionID string          `json:"sectionId"`
	Path      string          `json:"fieldPath"`
	OldValue  any             `json:"oldValue"`
	NewValue  any             `json:"newValue"`
	Item      catalog.ItemDoc `json:"item"`
}

// EditRecord is the boundary shape of one ledger entry. ItemIndex is
// the item's live position in its section, null once the item is gone.
type EditRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	SectionID    string    `json:"sectionId"`
	SectionLabel string    `json:"sectionLabel"`
	ItemIndex    *int      `json:"itemIndex"`
	Product      string    `json:"product"`
	FieldPath    string    `json:"fieldPath"`
	OldValue     any       `json:"oldValue"`
	NewValue     any       `json:"newValue"`
	Source       string    `json:"source"`
}

func (s *Service) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// =============================================================================
// VALIDATE
// =============================================================================

// Validate runs the full pre-commit check chain without writing
// anything and renders the change preview.
//
// Flow:
//  1. Parse the field path against the closed vocabulary
//  2. Coerce the raw value into the field's typed shape
//  3. Resolve section and item (existence check)
//  4. Run the advisory checks: no-op, list sanity, product hint
func (s *Service) Validate(ctx context.Context, req CommitRequest) (*ChangePreview, error) {
	path, err := catalog.ParseFieldPath(req.Path)
	if err != nil {
		recordPreviewRejection(err)
		return nil, err
	}
	next, err := catalog.CoerceValue(path, req.NewValue)
	if err != nil {
		recordPreviewRejection(err)
		return nil, err
	}

	sec, it, err := resolveTarget(ctx, s.Store, req.SectionIdent, req.ItemIndex)
	if err != nil {
		if catalog.IsClientError(err) {
			recordPreviewRejection(err)
		}
		return nil, err
	}

	current := catalog.ItemField(it, path)
	if err := checkMutation(it, req.ItemIndex, path, current, next, req.ProductHint); err != nil {
		recordPreviewRejection(err)
		return nil, err
	}

	return &ChangePreview{
		Description:  describeChange(sec, it, path, current, next),
		CurrentValue: current.JSON(),
		NewValue:     next.JSON(),
		ItemIdentity: ItemIdentity{
			SectionID:    sec.ID,
			SectionLabel: sec.Label,
			ItemIndex:    req.ItemIndex,
			ItemID:       it.ID,
			Product:      it.Product,
		},
	}, nil
}

// =============================================================================
// COMMIT
// =============================================================================

// Commit applies one field mutation in a single store transaction and
// then refreshes the secondary snapshot.
//
// Flow:
//  1. Parse and coerce, same as Validate
//  2. In one transaction: re-resolve the target (existence only; the
//     advisory checks ran at preview time and are not repeated), read
//     the old value, apply the entity-level effects, verify the write
//     reads back, append the ledger entry
//  3. Outside the transaction: rebuild the export document and hand it
//     to the snapshot backend; a snapshot failure is logged and
//     counted, never surfaced to the caller
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	start := time.Now()

	path, err := catalog.ParseFieldPath(req.Path)
	if err != nil {
		return nil, err
	}
	next, err := catalog.CoerceValue(path, req.NewValue)
	if err != nil {
		return nil, err
	}
	source := req.Source
	if source == "" {
		source = catalog.SourceManual
	}

	var result *CommitResult
	err = s.Store.WithTx(ctx, func(tx catalog.Tx) error {
		sec, it, err := resolveTarget(ctx, tx, req.SectionIdent, req.ItemIndex)
		if err != nil {
			return err
		}
		current := catalog.ItemField(it, path)

		if err := applyMutation(ctx, tx, it, path, next, s.clock()); err != nil {
			if catalog.IsClientError(err) {
				return err
			}
			return &catalog.CommitFailedError{Op: "apply " + path.String(), Err: err}
		}

		updated, err := tx.ItemAt(ctx, sec.ID, req.ItemIndex)
		if err != nil {
			return &catalog.CommitFailedError{Op: "reread item", Err: err}
		}
		if updated == nil {
			return &catalog.CommitFailedError{Op: "reread item", Err: fmt.Errorf("item vanished mid-transaction")}
		}
		if got := catalog.ItemField(updated, path); !readbackMatches(got, next) {
			s.Log.Warn().
				Str("field", path.String()).
				Str("want", next.String()).
				Str("got", got.String()).
				Msg("committed value reads back differently")
		}

		itemID := updated.ID
		if err := tx.AppendEdit(ctx, catalog.EditEntry{
			Timestamp:    s.clock(),
			SectionID:    sec.ID,
			SectionLabel: sec.Label,
			ItemID:       &itemID,
			Product:      updated.Product,
			FieldPath:    path.String(),
			OldValue:     current.JSON(),
			NewValue:     next.JSON(),
			Source:       source,
		}); err != nil {
			return &catalog.CommitFailedError{Op: "ledger append", Err: err}
		}

		result = &CommitResult{
			SectionID: sec.ID,
			Path:      path.String(),
			OldValue:  current.JSON(),
			NewValue:  next.JSON(),
			Item:      catalog.ItemDocFrom(*updated),
		}
		return nil
	})
	if err != nil {
		if !catalog.IsClientError(err) && !errors.Is(err, catalog.ErrCommitFailed) {
			err = &catalog.CommitFailedError{Op: "transaction", Err: err}
		}
		recordCommit(source, "error", time.Since(start).Seconds())
		return nil, err
	}
	recordCommit(source, "success", time.Since(start).Seconds())

	s.refreshSnapshot(ctx)
	return result, nil
}

// readbackMatches compares the re-read value against the intended one.
// A written "empty" (false flag, zero-element list) legitimately reads
// back absent after its husk sub-entity was pruned.
func readbackMatches(got, next catalog.Value) bool {
	if got.Equal(next) {
		return true
	}
	if !got.IsAbsent() {
		return false
	}
	switch next.Kind {
	case catalog.KindBool:
		return !next.Bool
	case catalog.KindList:
		return len(next.List) == 0
	}
	return false
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// Export renders the full denormalized document from the primary
// store. When the primary read fails and a snapshot backend exists,
// the last snapshot is served instead, flagged in logs and metrics.
func (s *Service) Export(ctx context.Context) (*catalog.ExportDocument, error) {
	doc, err := s.buildExport(ctx, s.Store)
	if err == nil {
		return doc, nil
	}
	if s.Snapshots == nil {
		return nil, err
	}
	snap, snapErr := s.Snapshots.Read(ctx)
	if snapErr != nil {
		s.Log.Error().Err(err).AnErr("snapshot_error", snapErr).
			Msg("primary export failed and no snapshot available")
		return nil, err
	}
	s.Log.Warn().Err(err).Msg("serving export from last snapshot, primary read failed")
	recordSnapshotFallback()
	return snap, nil
}

func (s *Service) buildExport(ctx context.Context, r catalog.Reader) (*catalog.ExportDocument, error) {
	sections, err := r.ListSections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	items := make(map[string][]catalog.Item, len(sections))
	for _, sec := range sections {
		list, err := r.ListItems(ctx, sec.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list items of %s: %w", sec.ID, err)
		}
		items[sec.ID] = list
	}
	doc := catalog.BuildExport(sections, items)
	return &doc, nil
}

// refreshSnapshot rebuilds the export document and hands it to the
// snapshot backend. Best effort: failures are logged and counted, the
// committed mutation stands.
func (s *Service) refreshSnapshot(ctx context.Context) {
	if s.Snapshots == nil {
		return
	}
	doc, err := s.buildExport(ctx, s.Store)
	if err != nil {
		s.Log.Error().Err(err).Str("event", "SecondaryWriteFailed").
			Msg("export rebuild for snapshot failed")
		recordSnapshotWrite(false)
		return
	}
	if err := s.Snapshots.Write(ctx, doc); err != nil {
		s.Log.Error().Err(err).Str("event", "SecondaryWriteFailed").
			Msg("snapshot write failed, primary commit stands")
		recordSnapshotWrite(false)
		return
	}
	recordSnapshotWrite(true)
}

// Import upserts catalog content from a full export document: sections
// by identifier, items by (section, product), sub-entities replaced to
// match the document. Items absent from the document are left alone,
// and no ledger entries are written; bulk import is a load operation,
// not an edit.
func (s *Service) Import(ctx context.Context, doc *catalog.ExportDocument) error {
	err := s.Store.WithTx(ctx, func(tx catalog.Tx) error {
		for _, secDoc := range doc.Sections {
			if err := s.importSection(ctx, tx, secDoc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.refreshSnapshot(ctx)
	return nil
}

func (s *Service) importSection(ctx context.Context, tx catalog.Tx, d catalog.SectionDoc) error {
	if d.ID == "" {
		return fmt.Errorf("%w: section without id", ErrBadDocument)
	}
	if err := tx.UpsertSection(ctx, catalog.Section{ID: d.ID, Label: d.Label}); err != nil {
		return fmt.Errorf("failed to upsert section %s: %w", d.ID, err)
	}

	existing, err := tx.ListItems(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("failed to list items of %s: %w", d.ID, err)
	}
	byProduct := make(map[string]*catalog.Item, len(existing))
	for i := range existing {
		byProduct[existing[i].Product] = &existing[i]
	}

	for _, itemDoc := range d.Items {
		// Rows without a product carry no identity to reconcile against.
		if strings.TrimSpace(itemDoc.Product) == "" {
			continue
		}
		parsed, err := catalog.ItemFromDoc(d.ID, itemDoc)
		if err != nil {
			return fmt.Errorf("%w: section %s item %q: %v", ErrBadDocument, d.ID, itemDoc.Product, err)
		}

		target := byProduct[parsed.Product]
		if target == nil {
			fresh := catalog.Item{
				SectionID:    d.ID,
				Product:      parsed.Product,
				Reference:    parsed.Reference,
				SupplierLink: parsed.SupplierLink,
				LaborType:    parsed.LaborType,
				PriceTTC:     parsed.PriceTTC,
				PriceHTQuote: parsed.PriceHTQuote,
			}
			if err := tx.CreateItem(ctx, &fresh); err != nil {
				return fmt.Errorf("failed to create item %q in %s: %w", parsed.Product, d.ID, err)
			}
			target = &fresh
		} else {
			updated := *target
			updated.Reference = parsed.Reference
			updated.SupplierLink = parsed.SupplierLink
			updated.LaborType = parsed.LaborType
			updated.PriceTTC = parsed.PriceTTC
			updated.PriceHTQuote = parsed.PriceHTQuote
			if err := tx.UpdateItem(ctx, updated); err != nil {
				return fmt.Errorf("failed to update item %q in %s: %w", parsed.Product, d.ID, err)
			}
		}

		if err := s.reconcileChildren(ctx, tx, target, parsed); err != nil {
			return fmt.Errorf("failed to reconcile item %q in %s: %w", parsed.Product, d.ID, err)
		}
	}
	return nil
}

// reconcileChildren replaces an item's sub-entities with the ones the
// document carries, honoring the same lifecycle rules as single-field
// writes: empty sub-entities are dropped, the order coupling holds.
func (s *Service) reconcileChildren(ctx context.Context, tx catalog.Tx, current *catalog.Item, want catalog.Item) error {
	itemID := current.ID

	for _, role := range catalog.Roles() {
		des := want.Approval(role)
		if des == nil || (approvalScalarsEmpty(*des) && len(des.ReplacementURLs) == 0) {
			if current.Approval(role) != nil {
				if err := tx.DeleteApproval(ctx, itemID, role); err != nil {
					return err
				}
			}
			continue
		}
		id, err := tx.UpsertApproval(ctx, itemID, *des)
		if err != nil {
			return err
		}
		if err := tx.ReplaceApprovalURLs(ctx, id, des.ReplacementURLs); err != nil {
			return err
		}
	}

	if want.Order == nil || orderEmpty(*want.Order) {
		if current.Order != nil {
			if err := tx.DeleteOrder(ctx, itemID); err != nil {
				return err
			}
		}
	} else {
		if err := tx.UpsertOrder(ctx, itemID, normalizeOrder(*want.Order, s.clock())); err != nil {
			return err
		}
	}

	for _, role := range catalog.Roles() {
		des := want.Comment(role)
		if des == nil || des.Text == "" {
			if current.Comment(role) != nil {
				if err := tx.DeleteComment(ctx, itemID, role); err != nil {
					return err
				}
			}
			continue
		}
		if err := tx.UpsertComment(ctx, itemID, role, des.Text); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns ledger entries newest first, with each entry's item
// index resolved against the item's live position in its section (nil
// once the item is gone).
func (s *Service) History(ctx context.Context, limit int) ([]EditRecord, error) {
	entries, err := s.Store.ListEdits(ctx, limit)
	if err != nil {
		return nil, err
	}

	positions := map[string]map[int64]int{}
	records := make([]EditRecord, 0, len(entries))
	for _, e := range entries {
		rec := EditRecord{
			Timestamp:    e.Timestamp,
			SectionID:    e.SectionID,
			SectionLabel: e.SectionLabel,
			Product:      e.Product,
			FieldPath:    e.FieldPath,
			OldValue:     e.OldValue,
			NewValue:     e.NewValue,
			Source:       string(e.Source),
		}
		if e.ItemID != nil {
			idx, ok, err := s.itemPosition(ctx, positions, e.SectionID, *e.ItemID)
			if err != nil {
				return nil, err
			}
			if ok {
				rec.ItemIndex = &idx
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// itemPosition finds an item's zero-based position in its section,
// caching one listing per section per call.
func (s *Service) itemPosition(ctx context.Context, cache map[string]map[int64]int, sectionID string, itemID int64) (int, bool, error) {
	pos, ok := cache[sectionID]
	if !ok {
		items, err := s.Store.ListItems(ctx, sectionID)
		if err != nil {
			return 0, false, fmt.Errorf("failed to list items of %s: %w", sectionID, err)
		}
		pos = make(map[int64]int, len(items))
		for i := range items {
			pos[items[i].ID] = i
		}
		cache[sectionID] = pos
	}
	idx, ok := pos[itemID]
	return idx, ok, nil
}
