package materials_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/materials-engine/catalog"
	"github.com/warp/materials-engine/materials"
	"github.com/warp/materials-engine/snapshot"
	"github.com/warp/materials-engine/store/sqlite"
)

// The snapshot backends must satisfy the service's contract.
var (
	_ materials.Snapshotter = (*snapshot.File)(nil)
	_ materials.Snapshotter = (*snapshot.S3)(nil)
	_ materials.Snapshotter = (*memorySnapshot)(nil)
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*materials.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &materials.Service{Store: store, Log: zerolog.Nop()}, store
}

func seedSection(t *testing.T, store *sqlite.Store, id, label string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx catalog.Tx) error {
		return tx.UpsertSection(context.Background(), catalog.Section{ID: id, Label: label})
	})
	require.NoError(t, err)
}

func seedItem(t *testing.T, store *sqlite.Store, sectionID, product string) int64 {
	t.Helper()
	it := catalog.Item{SectionID: sectionID, Product: product}
	err := store.WithTx(context.Background(), func(tx catalog.Tx) error {
		return tx.CreateItem(context.Background(), &it)
	})
	require.NoError(t, err)
	return it.ID
}

func mustCommit(t *testing.T, svc *materials.Service, section string, index int, path string, value any) *materials.CommitResult {
	t.Helper()
	res, err := svc.Commit(context.Background(), materials.CommitRequest{
		SectionIdent: section, ItemIndex: index, Path: path, NewValue: value,
	})
	require.NoError(t, err)
	return res
}

func currentItem(t *testing.T, store *sqlite.Store, sectionID string, index int) *catalog.Item {
	t.Helper()
	it, err := store.ItemAt(context.Background(), sectionID, index)
	require.NoError(t, err)
	require.NotNil(t, it)
	return it
}

// memorySnapshot records snapshot traffic for assertions.
type memorySnapshot struct {
	doc        *catalog.ExportDocument
	writes     int
	failWrites bool
}

func (m *memorySnapshot) Write(_ context.Context, doc *catalog.ExportDocument) error {
	if m.failWrites {
		return fmt.Errorf("snapshot backend down")
	}
	m.writes++
	m.doc = doc
	return nil
}

func (m *memorySnapshot) Read(_ context.Context) (*catalog.ExportDocument, error) {
	if m.doc == nil {
		return nil, snapshot.ErrNoSnapshot
	}
	return m.doc, nil
}

// =============================================================================
// COMMIT
// =============================================================================

func TestCommit_AgentReferenceScenario(t *testing.T) {
	// GIVEN: a kitchen section holding "beegcat oven" at position 1
	// WHEN: an agent-sourced commit sets its reference to "7438"
	// THEN: the item updates and the ledger records null -> "7438"

	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "sink")
	seedItem(t, store, "kitchen", "beegcat oven")

	res, err := svc.Commit(context.Background(), materials.CommitRequest{
		SectionIdent: "kitchen",
		ItemIndex:    1,
		Path:         "reference",
		NewValue:     "7438",
		Source:       catalog.SourceAgent,
	})
	require.NoError(t, err)
	assert.Nil(t, res.OldValue)
	assert.Equal(t, "7438", res.NewValue)
	assert.Equal(t, "kitchen", res.SectionID)
	assert.Equal(t, "reference", res.Path)
	require.NotNil(t, res.Item.Reference)
	assert.Equal(t, "7438", *res.Item.Reference)

	edits, err := store.ListEdits(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "Cuisine", edits[0].SectionLabel)
	assert.Equal(t, "beegcat oven", edits[0].Product)
	assert.Equal(t, "reference", edits[0].FieldPath)
	assert.Nil(t, edits[0].OldValue)
	assert.Equal(t, "7438", edits[0].NewValue)
	assert.Equal(t, catalog.SourceAgent, edits[0].Source)
}

func TestCommit_ResolvesSectionByLabel(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	mustCommit(t, svc, "cuisine", 0, "reference", "7438")
	it := currentItem(t, store, "kitchen", 0)
	assert.Equal(t, "7438", it.Reference)
}

func TestCommit_MissingTargets(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")
	ctx := context.Background()

	_, err := svc.Commit(ctx, materials.CommitRequest{
		SectionIdent: "garage", ItemIndex: 0, Path: "reference", NewValue: "X",
	})
	assert.ErrorIs(t, err, catalog.ErrSectionNotFound)

	_, err = svc.Commit(ctx, materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 7, Path: "reference", NewValue: "X",
	})
	require.Error(t, err)
	var missing *catalog.ItemNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "kitchen", missing.SectionID)
	assert.Equal(t, 7, missing.Index)

	edits, err := store.ListEdits(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, edits)
}

// =============================================================================
// VALIDATE / PREVIEW
// =============================================================================

func TestValidate_RendersPreview(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "sink")
	itemID := seedItem(t, store, "kitchen", "beegcat oven")

	preview, err := svc.Validate(context.Background(), materials.CommitRequest{
		SectionIdent: "kitchen",
		ItemIndex:    1,
		Path:         "price.ttc",
		NewValue:     249.9,
		ProductHint:  "beegcat",
	})
	require.NoError(t, err)

	assert.Contains(t, preview.Description, "beegcat oven")
	assert.Contains(t, preview.Description, "price.ttc")
	assert.Nil(t, preview.CurrentValue)
	assert.Equal(t, 249.9, preview.NewValue)
	assert.Equal(t, materials.ItemIdentity{
		SectionID:    "kitchen",
		SectionLabel: "Cuisine",
		ItemIndex:    1,
		ItemID:       itemID,
		Product:      "beegcat oven",
	}, preview.ItemIdentity)

	// Validation never writes.
	it := currentItem(t, store, "kitchen", 1)
	assert.Nil(t, it.PriceTTC)
	edits, err := store.ListEdits(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestValidate_RejectsNoOp(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")
	mustCommit(t, svc, "kitchen", 0, "reference", "7438")

	_, err := svc.Validate(context.Background(), materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 0, Path: "reference", NewValue: "7438",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrNoChange)

	var noop *catalog.NoChangeError
	require.ErrorAs(t, err, &noop)
	assert.Equal(t, "reference", noop.Path)
	assert.Equal(t, "7438", noop.Current)

	// The rejected mutation left the ledger alone.
	edits, err := store.ListEdits(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, edits, 1)
}

func TestValidate_NoOpComparesStructurally(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")
	mustCommit(t, svc, "kitchen", 0, "price.ttc", 249.9)

	// Same amount in a different lexical form is still a no-op.
	_, err := svc.Validate(context.Background(), materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 0, Path: "price.ttc", NewValue: "249.90",
	})
	assert.ErrorIs(t, err, catalog.ErrNoChange)

	// Absent proposed against absent stored is a no-op too.
	_, err = svc.Validate(context.Background(), materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 0, Path: "reference", NewValue: nil,
	})
	assert.ErrorIs(t, err, catalog.ErrNoChange)
}

func TestValidate_ListGrowthBound(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "bath", "Salle de bain")
	seedItem(t, store, "bath", "vanity unit")
	mustCommit(t, svc, "bath", 0, "approvals.client.replacementUrls", []any{"https://a"})

	ctx := context.Background()
	base := materials.CommitRequest{
		SectionIdent: "bath", ItemIndex: 0, Path: "approvals.client.replacementUrls",
	}

	// Growing by one element passes.
	grow1 := base
	grow1.NewValue = []any{"https://a", "https://b"}
	_, err := svc.Validate(ctx, grow1)
	require.NoError(t, err)

	// Growing by two looks like an accidental overwrite.
	grow2 := base
	grow2.NewValue = []any{"https://a", "https://b", "https://c"}
	_, err = svc.Validate(ctx, grow2)
	require.Error(t, err)
	var suspicious *catalog.SuspiciousListEditError
	require.ErrorAs(t, err, &suspicious)
	assert.Equal(t, 1, suspicious.OldLen)
	assert.Equal(t, 3, suspicious.NewLen)

	// Shrinking is always allowed.
	shrink := base
	shrink.NewValue = []any{}
	_, err = svc.Validate(ctx, shrink)
	require.NoError(t, err)
}

func TestValidate_ProductHint(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")
	ctx := context.Background()

	// Substring in either direction, case-insensitive.
	for _, hint := range []string{"beegcat", "BEEGCAT OVEN", "beegcat oven 900 deluxe"} {
		_, err := svc.Validate(ctx, materials.CommitRequest{
			SectionIdent: "kitchen", ItemIndex: 0, Path: "reference",
			NewValue: "7438", ProductHint: hint,
		})
		require.NoError(t, err, "hint %q should match", hint)
	}

	_, err := svc.Validate(ctx, materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 0, Path: "reference",
		NewValue: "7438", ProductHint: "dishwasher",
	})
	require.Error(t, err)
	var mismatch *catalog.ProductMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "dishwasher", mismatch.Hint)
	assert.Equal(t, "beegcat oven", mismatch.Product)
}

func TestValidate_BoundaryRejections(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")
	ctx := context.Background()

	_, err := svc.Validate(ctx, materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 0, Path: "banana", NewValue: "x",
	})
	assert.ErrorIs(t, err, catalog.ErrUnknownFieldPath)

	_, err = svc.Validate(ctx, materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 0, Path: "price.ttc", NewValue: "not a number",
	})
	assert.ErrorIs(t, err, catalog.ErrInvalidValue)

	_, err = svc.Validate(ctx, materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 0, Path: "price.ttc", NewValue: -3,
	})
	assert.ErrorIs(t, err, catalog.ErrInvalidValue)

	_, err = svc.Validate(ctx, materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 0, Path: "product", NewValue: nil,
	})
	assert.ErrorIs(t, err, catalog.ErrInvalidValue)
}

func TestValidate_AmbiguousSectionLabel(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "bath-1", "Salle de bain")
	seedSection(t, store, "bath-2", "salle de bain")
	seedItem(t, store, "bath-1", "vanity unit")

	_, err := svc.Validate(context.Background(), materials.CommitRequest{
		SectionIdent: "Salle De Bain", ItemIndex: 0, Path: "reference", NewValue: "V-1",
	})
	assert.ErrorIs(t, err, catalog.ErrAmbiguousSection)
}

// =============================================================================
// SNAPSHOT REFRESH
// =============================================================================

func TestCommit_RefreshesSnapshot(t *testing.T) {
	svc, store := newTestService(t)
	snap := &memorySnapshot{}
	svc.Snapshots = snap
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	mustCommit(t, svc, "kitchen", 0, "reference", "7438")

	assert.Equal(t, 1, snap.writes)
	require.NotNil(t, snap.doc)
	require.Len(t, snap.doc.Sections, 1)
	require.Len(t, snap.doc.Sections[0].Items, 1)
	ref := snap.doc.Sections[0].Items[0].Reference
	require.NotNil(t, ref)
	assert.Equal(t, "7438", *ref)
}

func TestCommit_SnapshotFailureDoesNotFailCommit(t *testing.T) {
	svc, store := newTestService(t)
	svc.Snapshots = &memorySnapshot{failWrites: true}
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	res := mustCommit(t, svc, "kitchen", 0, "reference", "7438")
	assert.Equal(t, "7438", res.NewValue)

	it := currentItem(t, store, "kitchen", 0)
	assert.Equal(t, "7438", it.Reference)
	edits, err := store.ListEdits(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, edits, 1)
}

// =============================================================================
// EXPORT
// =============================================================================

func TestExport_PrefersPrimaryOverSnapshot(t *testing.T) {
	svc, store := newTestService(t)
	snap := &memorySnapshot{doc: &catalog.ExportDocument{Currency: catalog.Currency}}
	svc.Snapshots = snap
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	doc, err := svc.Export(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "kitchen", doc.Sections[0].ID)
}

func TestExport_FallsBackToSnapshotWhenPrimaryFails(t *testing.T) {
	svc, store := newTestService(t)
	snap := &memorySnapshot{}
	svc.Snapshots = snap
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")
	mustCommit(t, svc, "kitchen", 0, "reference", "7438")

	require.NoError(t, store.Close())

	doc, err := svc.Export(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	require.Len(t, doc.Sections[0].Items, 1)
	ref := doc.Sections[0].Items[0].Reference
	require.NotNil(t, ref)
	assert.Equal(t, "7438", *ref)
}

func TestExport_FailsWithoutSnapshotBackend(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	require.NoError(t, store.Close())

	_, err := svc.Export(context.Background())
	require.Error(t, err)
}

// =============================================================================
// IMPORT
// =============================================================================

func buildRichCatalog(t *testing.T, svc *materials.Service, store *sqlite.Store) {
	t.Helper()
	seedSection(t, store, "kitchen", "Cuisine")
	seedSection(t, store, "bath", "Salle de bain")
	seedItem(t, store, "kitchen", "beegcat oven")
	seedItem(t, store, "kitchen", "sink")
	seedItem(t, store, "bath", "vanity unit")

	mustCommit(t, svc, "kitchen", 0, "reference", "7438")
	mustCommit(t, svc, "kitchen", 0, "laborType", "Électricité")
	mustCommit(t, svc, "kitchen", 0, "price.ttc", 249.9)
	mustCommit(t, svc, "kitchen", 0, "price.htQuote", 199.9)
	mustCommit(t, svc, "kitchen", 0, "approvals.client.status", "alternative")
	mustCommit(t, svc, "kitchen", 0, "approvals.client.note", "prefer the cheaper model")
	mustCommit(t, svc, "kitchen", 0, "approvals.client.validatedAt", "2025-03-10T09:30:00Z")
	mustCommit(t, svc, "kitchen", 0, "approvals.client.replacementUrls", []any{"https://alt-1"})
	mustCommit(t, svc, "kitchen", 0, "approvals.cray.status", "approved")
	mustCommit(t, svc, "kitchen", 0, "order.orderDate", "12/03")
	mustCommit(t, svc, "kitchen", 0, "order.delivery", map[string]any{"date": "20/03", "status": "shipped"})
	mustCommit(t, svc, "kitchen", 0, "order.quantity", 2)
	mustCommit(t, svc, "kitchen", 0, "comments.cray", "check fuse rating")
	mustCommit(t, svc, "bath", 0, "comments.client", "wants the oak finish")
}

func TestImport_RoundTripPreservesDocument(t *testing.T) {
	// GIVEN: a populated catalog exported to a document
	// WHEN: a fresh catalog imports that document
	// THEN: its own export is byte-for-byte the same document

	svc, store := newTestService(t)
	buildRichCatalog(t, svc, store)
	original, err := svc.Export(context.Background())
	require.NoError(t, err)

	fresh, _ := newTestService(t)
	require.NoError(t, fresh.Import(context.Background(), original))

	reexported, err := fresh.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, original, reexported)

	// Importing the same document again changes nothing.
	require.NoError(t, fresh.Import(context.Background(), original))
	again, err := fresh.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, original, again)
}

func TestImport_MatchesItemsByProduct(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "sink")
	mustCommit(t, svc, "kitchen", 0, "reference", "SNK-OLD")

	ref := "SNK-NEW"
	doc := &catalog.ExportDocument{
		Currency: catalog.Currency,
		Sections: []catalog.SectionDoc{{
			ID:    "kitchen",
			Label: "Cuisine",
			Items: []catalog.ItemDoc{
				{Product: "sink", Reference: &ref},
				{Product: "beegcat oven"},
				{Product: "   "},
			},
		}},
	}
	require.NoError(t, svc.Import(context.Background(), doc))

	items, err := store.ListItems(context.Background(), "kitchen")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "sink", items[0].Product)
	assert.Equal(t, "SNK-NEW", items[0].Reference)
	assert.Equal(t, "beegcat oven", items[1].Product)
}

func TestImport_DroppedChildrenAreRemoved(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")
	mustCommit(t, svc, "kitchen", 0, "approvals.client.status", "approved")
	mustCommit(t, svc, "kitchen", 0, "comments.cray", "check fuse rating")
	mustCommit(t, svc, "kitchen", 0, "order.orderDate", "12/03")

	// The document carries the item with no children at all.
	doc := &catalog.ExportDocument{
		Currency: catalog.Currency,
		Sections: []catalog.SectionDoc{{
			ID:    "kitchen",
			Label: "Cuisine",
			Items: []catalog.ItemDoc{{Product: "beegcat oven"}},
		}},
	}
	require.NoError(t, svc.Import(context.Background(), doc))

	it := currentItem(t, store, "kitchen", 0)
	assert.Nil(t, it.Approval(catalog.RoleClient))
	assert.Nil(t, it.Comment(catalog.RoleContractor))
	assert.Nil(t, it.Order)
}

func TestImport_RejectsBadDocuments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	noID := &catalog.ExportDocument{
		Currency: catalog.Currency,
		Sections: []catalog.SectionDoc{{Label: "Cuisine"}},
	}
	err := svc.Import(ctx, noID)
	assert.ErrorIs(t, err, materials.ErrBadDocument)

	badLabor := &catalog.ExportDocument{
		Currency: catalog.Currency,
		Sections: []catalog.SectionDoc{{
			ID:    "kitchen",
			Label: "Cuisine",
			Items: []catalog.ItemDoc{{Product: "sink", LaborType: "Underwater welding"}},
		}},
	}
	err = svc.Import(ctx, badLabor)
	assert.ErrorIs(t, err, materials.ErrBadDocument)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_NewestFirstWithLiveIndex(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	firstID := seedItem(t, store, "kitchen", "sink")
	seedItem(t, store, "kitchen", "beegcat oven")

	mustCommit(t, svc, "kitchen", 0, "reference", "SNK-1")
	_, err := svc.Commit(context.Background(), materials.CommitRequest{
		SectionIdent: "kitchen", ItemIndex: 1, Path: "reference",
		NewValue: "7438", Source: catalog.SourceAgent,
	})
	require.NoError(t, err)

	records, err := svc.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "beegcat oven", records[0].Product)
	assert.Equal(t, "agent", records[0].Source)
	require.NotNil(t, records[0].ItemIndex)
	assert.Equal(t, 1, *records[0].ItemIndex)
	assert.Equal(t, "sink", records[1].Product)
	assert.Equal(t, "manual", records[1].Source)

	// Deleting the first item shifts the oven's live position.
	err = store.WithTx(context.Background(), func(tx catalog.Tx) error {
		return tx.DeleteItem(context.Background(), firstID)
	})
	require.NoError(t, err)

	records, err = svc.History(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, records[0].ItemIndex)
	assert.Equal(t, 0, *records[0].ItemIndex)

	// The sink's entry keeps its product snapshot but loses its index.
	assert.Nil(t, records[1].ItemIndex)
	assert.Equal(t, "sink", records[1].Product)
}

func TestHistory_LimitApplies(t *testing.T) {
	svc, store := newTestService(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")
	for i := 0; i < 5; i++ {
		mustCommit(t, svc, "kitchen", 0, "reference", fmt.Sprintf("R-%d", i))
	}

	records, err := svc.History(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, "R-4", records[0].NewValue)
}
