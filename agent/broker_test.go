package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/materials-engine/agent"
	"github.com/warp/materials-engine/catalog"
	"github.com/warp/materials-engine/materials"
	"github.com/warp/materials-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeClock lets tests march the broker past its TTL deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBroker(t *testing.T) (*agent.Broker, *sqlite.Store, *fakeClock) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &fakeClock{now: time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)}
	svc := &materials.Service{Store: store, Log: zerolog.Nop(), Now: clk.Now}
	b := &agent.Broker{Service: svc, Log: zerolog.Nop(), Now: clk.Now}
	return b, store, clk
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

func mustPreview(t *testing.T, b *agent.Broker, req agent.PreviewRequest) *agent.PreviewResponse {
	t.Helper()
	resp, err := b.Preview(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func ledgerLen(t *testing.T, store *sqlite.Store) int {
	t.Helper()
	edits, err := store.ListEdits(context.Background(), 0)
	require.NoError(t, err)
	return len(edits)
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreview_MintsConfirmableAction(t *testing.T) {
	// GIVEN: a kitchen with a beegcat oven
	// WHEN: the agent proposes setting its reference
	// THEN: a pending action is minted and nothing is written yet

	b, store, clk := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	resp := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen",
		ItemIndex:    0,
		Path:         "reference",
		NewValue:     "7438",
	})

	assert.Equal(t, agent.StatusRequiresConfirmation, resp.Status)
	assert.Len(t, resp.ActionID, 43) // 32 random bytes, base64url without padding
	assert.Equal(t, clk.now.Add(agent.DefaultTTL), resp.ExpiresAt)
	assert.Contains(t, resp.Preview.Description, "beegcat oven")
	assert.Equal(t, "7438", resp.Preview.NewValue)
	assert.Equal(t, "kitchen", resp.Preview.ItemIdentity.SectionID)

	info := b.GetPreview(resp.ActionID)
	require.NotNil(t, info)
	assert.False(t, info.Executed)
	assert.Equal(t, resp.Preview, info.Preview)

	// The catalog itself is untouched until someone confirms.
	it, err := store.ItemAt(context.Background(), "kitchen", 0)
	require.NoError(t, err)
	assert.Empty(t, it.Reference)
	assert.Equal(t, 0, ledgerLen(t, store))
}

func TestPreview_RejectionMintsNothing(t *testing.T) {
	b, store, _ := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	_, err := b.Preview(context.Background(), agent.PreviewRequest{
		SectionIdent:    "kitchen",
		ItemIndex:       0,
		Path:            "reference",
		NewValue:        "7438",
		ExpectedProduct: "dishwasher",
	})
	var mismatch *catalog.ProductMismatchError
	require.ErrorAs(t, err, &mismatch)

	assert.Nil(t, b.MostRecentPending())
}

func TestPreview_EachCallMintsDistinctTokens(t *testing.T) {
	b, store, _ := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	first := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})
	second := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})

	assert.NotEqual(t, first.ActionID, second.ActionID)
	require.NotNil(t, b.GetPreview(first.ActionID))
	require.NotNil(t, b.GetPreview(second.ActionID))
}

// =============================================================================
// CONFIRM
// =============================================================================

func TestConfirm_ExecutesPendingAction(t *testing.T) {
	// GIVEN: a minted action setting the oven's reference
	// WHEN: the token is confirmed
	// THEN: the commit runs with the agent source and the result is returned

	b, store, _ := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	minted := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})

	resp, err := b.Confirm(context.Background(), minted.ActionID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSuccess, resp.Status)
	assert.Equal(t, minted.ActionID, resp.ActionID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "7438", resp.Result.NewValue)

	it, err := store.ItemAt(context.Background(), "kitchen", 0)
	require.NoError(t, err)
	assert.Equal(t, "7438", it.Reference)

	edits, err := store.ListEdits(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, catalog.SourceAgent, edits[0].Source)
}

func TestConfirm_IsIdempotent(t *testing.T) {
	// GIVEN: an action that has already been confirmed
	// WHEN: the same token is confirmed again
	// THEN: the cached result comes back and no second write happens

	b, store, _ := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	minted := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})

	first, err := b.Confirm(context.Background(), minted.ActionID)
	require.NoError(t, err)
	require.Equal(t, agent.StatusSuccess, first.Status)

	second, err := b.Confirm(context.Background(), minted.ActionID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusAlreadyExecuted, second.Status)
	require.NotNil(t, second.Result)
	assert.Equal(t, first.Result.NewValue, second.Result.NewValue)

	assert.Equal(t, 1, ledgerLen(t, store))
}

func TestConfirm_EmptyTokenResolvesMostRecentPending(t *testing.T) {
	// GIVEN: two pending actions minted a minute apart
	// WHEN: the agent confirms without naming a token
	// THEN: the newer action runs and the older one stays pending

	b, store, clk := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	older := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})
	clk.Advance(time.Minute)
	newer := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "supplierLink", NewValue: "https://shop.example/7438",
	})

	resp, err := b.Confirm(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSuccess, resp.Status)
	assert.Equal(t, newer.ActionID, resp.ActionID)

	it, err := store.ItemAt(context.Background(), "kitchen", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/7438", it.SupplierLink)
	assert.Empty(t, it.Reference)

	pending := b.MostRecentPending()
	require.NotNil(t, pending)
	assert.Equal(t, older.ActionID, pending.ActionID)
}

func TestConfirm_ExpiredTokenIsReportedAndEvicted(t *testing.T) {
	b, store, clk := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	minted := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})
	clk.Advance(agent.DefaultTTL + time.Second)

	resp, err := b.Confirm(context.Background(), minted.ActionID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusExpiredOrUnknown, resp.Status)
	assert.Nil(t, resp.Result)

	assert.Nil(t, b.GetPreview(minted.ActionID))
	assert.Equal(t, 0, ledgerLen(t, store))
}

func TestConfirm_UnknownTokenIsReported(t *testing.T) {
	b, _, _ := newTestBroker(t)

	resp, err := b.Confirm(context.Background(), "no-such-action")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusExpiredOrUnknown, resp.Status)
}

func TestConfirm_LookupDoesNotExtendTTL(t *testing.T) {
	// Reading a pending action must not push its deadline out.
	b, store, clk := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	minted := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})

	clk.Advance(agent.DefaultTTL - time.Second)
	require.NotNil(t, b.GetPreview(minted.ActionID))

	clk.Advance(2 * time.Second)
	resp, err := b.Confirm(context.Background(), minted.ActionID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusExpiredOrUnknown, resp.Status)
}

func TestConfirm_SkipsHeuristicRechecks(t *testing.T) {
	// GIVEN: a pending action whose change became a no-op in the meantime
	// WHEN: the token is confirmed
	// THEN: it still executes; only existence is re-checked at confirm time

	b, store, _ := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	minted := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})

	// A manual edit lands the same value first.
	_, err := b.Service.Commit(context.Background(), materials.CommitRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})
	require.NoError(t, err)

	resp, err := b.Confirm(context.Background(), minted.ActionID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSuccess, resp.Status)
	assert.Equal(t, 2, ledgerLen(t, store))
}

func TestConfirm_SurfacesVanishedTarget(t *testing.T) {
	// GIVEN: a pending action whose item was deleted after the preview
	// WHEN: the token is confirmed
	// THEN: the existence re-check fails and the action stays pending

	b, store, _ := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	itemID := seedItem(t, store, "kitchen", "beegcat oven")

	minted := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
	})

	err := store.WithTx(context.Background(), func(tx catalog.Tx) error {
		return tx.DeleteItem(context.Background(), itemID)
	})
	require.NoError(t, err)

	_, err = b.Confirm(context.Background(), minted.ActionID)
	var notFound *catalog.ItemNotFoundError
	require.ErrorAs(t, err, &notFound)

	info := b.GetPreview(minted.ActionID)
	require.NotNil(t, info)
	assert.False(t, info.Executed)
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

func TestSweep_RemovesOnlyExpiredActions(t *testing.T) {
	b, store, clk := newTestBroker(t)
	seedSection(t, store, "kitchen", "Cuisine")
	seedItem(t, store, "kitchen", "beegcat oven")

	for n := 0; n < 3; n++ {
		mustPreview(t, b, agent.PreviewRequest{
			SectionIdent: "kitchen", Path: "reference", NewValue: "7438",
		})
	}
	clk.Advance(agent.DefaultTTL + time.Second)
	fresh := mustPreview(t, b, agent.PreviewRequest{
		SectionIdent: "kitchen", Path: "reference", NewValue: "9000",
	})

	assert.Equal(t, 3, b.Sweep())
	assert.Equal(t, 0, b.Sweep())

	pending := b.MostRecentPending()
	require.NotNil(t, pending)
	assert.Equal(t, fresh.ActionID, pending.ActionID)
}

func TestSweeper_StartStopLifecycle(t *testing.T) {
	b, _, _ := newTestBroker(t)

	b.StartSweeper(5 * time.Millisecond)
	b.StartSweeper(5 * time.Millisecond) // second start is a no-op
	time.Sleep(20 * time.Millisecond)
	b.StopSweeper()
	b.StopSweeper() // second stop is a no-op

	// The sweeper can come back after a stop.
	b.StartSweeper(5 * time.Millisecond)
	b.StopSweeper()
}
