package snapshot_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/materials-engine/catalog"
	"github.com/warp/materials-engine/snapshot"
)

func sampleDocument() *catalog.ExportDocument {
	ref := "REF-100"
	return &catalog.ExportDocument{
		Currency: catalog.Currency,
		Sections: []catalog.SectionDoc{
			{
				ID:    "bathroom",
				Label: "Bathroom",
				Items: []catalog.ItemDoc{
					{
						Product:   "Vanity unit 90cm",
						Reference: &ref,
						LaborType: "Plomberie & CVC",
						Approvals: map[string]catalog.ApprovalDoc{
							"client": {},
							"cray":   {},
						},
						Order:    catalog.OrderDoc{},
						Comments: map[string]*string{"client": nil, "cray": nil},
					},
				},
			},
		},
	}
}

func TestFileReadBeforeWrite(t *testing.T) {
	store, err := snapshot.NewFile(filepath.Join(t.TempDir(), "export.json"))
	require.NoError(t, err)

	_, err = store.Read(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)
}

func TestFileWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	store, err := snapshot.NewFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, sampleDocument()))

	doc, err := store.Read(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "EUR", doc.Currency)
	assert.Equal(t, "bathroom", doc.Sections[0].ID)
	require.Len(t, doc.Sections[0].Items, 1)
	assert.Equal(t, "Vanity unit 90cm", doc.Sections[0].Items[0].Product)
	require.NotNil(t, doc.Sections[0].Items[0].Reference)
	assert.Equal(t, "REF-100", *doc.Sections[0].Items[0].Reference)
}

func TestFileWriteReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	store, err := snapshot.NewFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, sampleDocument()))

	second := sampleDocument()
	second.Sections[0].Items[0].Product = "Walk-in shower tray"
	require.NoError(t, store.Write(ctx, second))

	doc, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Walk-in shower tray", doc.Sections[0].Items[0].Product)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "stale temp file %s", e.Name())
	}
}

func TestFileWritesWellFormedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	store, err := snapshot.NewFile(path)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), sampleDocument()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var loose map[string]any
	require.NoError(t, json.Unmarshal(raw, &loose))
	assert.Contains(t, loose, "currency")
	assert.Contains(t, loose, "sections")

	// Placeholder objects survive serialization.
	assert.Contains(t, string(raw), `"order": {}`)
}

func TestFileCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "export.json")
	store, err := snapshot.NewFile(path)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), sampleDocument()))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
