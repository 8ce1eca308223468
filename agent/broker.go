/*
broker.go - Two-phase preview/confirm gate for agent mutations

PURPOSE:
  The agent never writes to the catalog directly. It proposes a change,
  gets back a human-readable preview bound to a single-use action token,
  and only a confirm of that token runs the commit. Tokens expire five
  minutes after minting; lookups never refresh the deadline.

ACTION LIFECYCLE:
  pending  -> executed  confirm succeeded, result cached for replays
  pending  -> gone      TTL passed, evicted on sight or by the sweeper

CONCURRENCY:
  mu guards the action map. execMu serializes confirms so two calls on
  the same token cannot both reach the store; the loser re-reads the
  action and gets the cached result.

SEE ALSO:
  - materials/service.go: Validate and Commit, which do the real work
  - queries.go: read-only projections that bypass the broker
*/
package agent

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/materials-engine/catalog"
	"github.com/warp/materials-engine/materials"
)

// DefaultTTL bounds how long a minted action stays confirmable.
const DefaultTTL = 5 * time.Minute

// Statuses reported on broker responses.
const (
	StatusRequiresConfirmation = "requires_confirmation"
	StatusSuccess              = "success"
	StatusAlreadyExecuted      = "already_executed"
	StatusExpiredOrUnknown     = "expired_or_unknown"
)

// Broker keeps pending actions in memory. Restarting the process drops
// them, which is safe: the agent just previews again.
type Broker struct {
	Service *materials.Service
	TTL     time.Duration // zero means DefaultTTL
	Log     zerolog.Logger
	Now     func() time.Time // nil means time.Now

	mu      sync.Mutex
	actions map[string]*action

	execMu sync.Mutex

	sweepMu sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type action struct {
	id        string
	request   materials.CommitRequest
	preview   materials.ChangePreview
	createdAt time.Time
	expiresAt time.Time
	executed  bool
	result    *materials.CommitResult
}

// PreviewRequest is a change the agent proposes on behalf of a user.
type PreviewRequest struct {
	SectionIdent    string `json:"section"`
	ItemIndex       int    `json:"itemIndex"`
	Path            string `json:"fieldPath"`
	NewValue        any    `json:"newValue"`
	ExpectedProduct string `json:"expectedProduct,omitempty"`
}

// PreviewResponse binds the rendered preview to its action token.
type PreviewResponse struct {
	Status    string                  `json:"status"`
	ActionID  string                  `json:"actionId"`
	Preview   materials.ChangePreview `json:"preview"`
	ExpiresAt time.Time               `json:"expiresAt"`
}

// ConfirmResponse reports the outcome of confirming one token.
type ConfirmResponse struct {
	Status   string                  `json:"status"`
	ActionID string                  `json:"actionId,omitempty"`
	Result   *materials.CommitResult `json:"result,omitempty"`
}

// ActionInfo is the externally visible state of one minted action.
type ActionInfo struct {
	ActionID  string                  `json:"actionId"`
	Preview   materials.ChangePreview `json:"preview"`
	Executed  bool                    `json:"executed"`
	CreatedAt time.Time               `json:"createdAt"`
	ExpiresAt time.Time               `json:"expiresAt"`
}

func (b *Broker) clock() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Broker) ttl() time.Duration {
	if b.TTL > 0 {
		return b.TTL
	}
	return DefaultTTL
}

// ============================================================================
// PREVIEW AND CONFIRM
// ============================================================================

// Preview validates the proposed change and, if it passes, mints a
// pending action the caller must confirm within the TTL. Validation
// failures surface as-is; nothing is minted for a rejected change.
func (b *Broker) Preview(ctx context.Context, req PreviewRequest) (*PreviewResponse, error) {
	commit := materials.CommitRequest{
		SectionIdent: req.SectionIdent,
		ItemIndex:    req.ItemIndex,
		Path:         req.Path,
		NewValue:     req.NewValue,
		ProductHint:  req.ExpectedProduct,
		Source:       catalog.SourceAgent,
	}

	preview, err := b.Service.Validate(ctx, commit)
	if err != nil {
		return nil, err
	}

	id, err := newActionID()
	if err != nil {
		return nil, err
	}

	now := b.clock()
	act := &action{
		id:        id,
		request:   commit,
		preview:   *preview,
		createdAt: now,
		expiresAt: now.Add(b.ttl()),
	}

	b.mu.Lock()
	if b.actions == nil {
		b.actions = make(map[string]*action)
	}
	b.actions[id] = act
	b.mu.Unlock()

	recordActionMinted()
	b.Log.Info().
		Str("action_id", id).
		Str("field", commit.Path).
		Str("change", preview.Description).
		Msg("minted confirmable action")

	return &PreviewResponse{
		Status:    StatusRequiresConfirmation,
		ActionID:  id,
		Preview:   *preview,
		ExpiresAt: act.expiresAt,
	}, nil
}

// Confirm executes the pending action behind the token. An empty token
// resolves to the most recently minted pending action, so a user can
// answer "yes" without quoting the id back.
//
// Expired or unknown tokens and replays of executed tokens are reported
// in the response status, not as errors. A failed commit leaves the
// action pending so the caller may retry within the TTL.
func (b *Broker) Confirm(ctx context.Context, actionID string) (*ConfirmResponse, error) {
	b.execMu.Lock()
	defer b.execMu.Unlock()

	now := b.clock()

	b.mu.Lock()
	act := b.lookupLocked(actionID, now)
	b.mu.Unlock()

	if act == nil {
		recordConfirm(StatusExpiredOrUnknown)
		b.Log.Warn().Str("action_id", actionID).Msg("confirm of expired or unknown action")
		return &ConfirmResponse{Status: StatusExpiredOrUnknown}, nil
	}
	if act.executed {
		recordConfirm(StatusAlreadyExecuted)
		return &ConfirmResponse{
			Status:   StatusAlreadyExecuted,
			ActionID: act.id,
			Result:   act.result,
		}, nil
	}

	result, err := b.Service.Commit(ctx, act.request)
	if err != nil {
		recordConfirm("error")
		b.Log.Error().Err(err).Str("action_id", act.id).Msg("confirmed action failed to commit")
		return nil, err
	}

	b.mu.Lock()
	act.executed = true
	act.result = result
	b.mu.Unlock()

	recordConfirm(StatusSuccess)
	b.Log.Info().
		Str("action_id", act.id).
		Str("field", act.request.Path).
		Msg("confirmed action committed")

	return &ConfirmResponse{Status: StatusSuccess, ActionID: act.id, Result: result}, nil
}

// lookupLocked resolves a token to its live action, or the most recent
// pending action when the token is empty. Expired entries are evicted
// on sight. Callers hold b.mu.
func (b *Broker) lookupLocked(actionID string, now time.Time) *action {
	if actionID == "" {
		return b.mostRecentPendingLocked(now)
	}
	act, ok := b.actions[actionID]
	if !ok {
		return nil
	}
	if now.After(act.expiresAt) {
		delete(b.actions, actionID)
		recordActionsSwept(1)
		return nil
	}
	return act
}

func (b *Broker) mostRecentPendingLocked(now time.Time) *action {
	var newest *action
	for id, act := range b.actions {
		if now.After(act.expiresAt) {
			delete(b.actions, id)
			recordActionsSwept(1)
			continue
		}
		if act.executed {
			continue
		}
		if newest == nil || act.createdAt.After(newest.createdAt) {
			newest = act
		}
	}
	return newest
}

// ============================================================================
// INSPECTION
// ============================================================================

// GetPreview returns the stored state of one action, or nil when the
// token is unknown or expired.
func (b *Broker) GetPreview(actionID string) *ActionInfo {
	if actionID == "" {
		return nil
	}
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()
	act := b.lookupLocked(actionID, now)
	if act == nil {
		return nil
	}
	return act.info()
}

// MostRecentPending returns the newest unexecuted action, or nil when
// nothing is waiting.
func (b *Broker) MostRecentPending() *ActionInfo {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()
	act := b.mostRecentPendingLocked(now)
	if act == nil {
		return nil
	}
	return act.info()
}

func (a *action) info() *ActionInfo {
	return &ActionInfo{
		ActionID:  a.id,
		Preview:   a.preview,
		Executed:  a.executed,
		CreatedAt: a.createdAt,
		ExpiresAt: a.expiresAt,
	}
}

// ============================================================================
// EXPIRY SWEEP
// ============================================================================

// Sweep drops every expired action and returns how many were removed.
// Lookups already evict what they touch; the sweep catches tokens
// nobody ever asked about again.
func (b *Broker) Sweep() int {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, act := range b.actions {
		if now.After(act.expiresAt) {
			delete(b.actions, id)
			removed++
		}
	}
	if removed > 0 {
		recordActionsSwept(removed)
	}
	return removed
}

// StartSweeper runs Sweep on a fixed interval until StopSweeper is
// called. Starting an already running sweeper is a no-op.
func (b *Broker) StartSweeper(interval time.Duration) {
	b.sweepMu.Lock()
	defer b.sweepMu.Unlock()

	if b.ticker != nil {
		return
	}
	b.ticker = time.NewTicker(interval)
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.runSweeper()

	b.Log.Info().Dur("interval", interval).Msg("action sweeper started")
}

// StopSweeper halts the sweep loop and waits for it to exit.
func (b *Broker) StopSweeper() {
	b.sweepMu.Lock()
	defer b.sweepMu.Unlock()

	if b.ticker == nil {
		return
	}
	b.ticker.Stop()
	close(b.stopCh)
	b.wg.Wait()
	b.ticker = nil

	b.Log.Info().Msg("action sweeper stopped")
}

func (b *Broker) runSweeper() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ticker.C:
			if n := b.Sweep(); n > 0 {
				b.Log.Debug().Int("expired", n).Msg("swept expired actions")
			}
		case <-b.stopCh:
			return
		}
	}
}

// newActionID mints a 256-bit URL-safe token.
func newActionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to mint action id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
