/*
handlers.go - HTTP handlers for the materials engine

PURPOSE:
  Exposes the materials catalog and the agent action broker over REST.
  Handles HTTP request/response and JSON framing, then delegates to the
  domain services.

ENDPOINTS:
  Materials:
    GET    /api/materials               Export the full catalog document
    PUT    /api/materials               Import a catalog document
    POST   /api/materials/cell          Direct single-field commit
    GET    /api/materials/history       Recent edit ledger entries

  Agent:
    POST   /api/agent/preview           Propose a change, mint an action
    POST   /api/agent/confirm           Execute a pending action
    GET    /api/agent/actions/pending   Newest unexecuted action
    GET    /api/agent/actions/{id}      Inspect one action
    GET    /api/agent/validation        Items awaiting a role's review
    GET    /api/agent/todo              A role's work queue
    GET    /api/agent/pricing           Catalog price totals
    GET    /api/agent/sections/{ident}/items  Flat per-section listing
    GET    /api/agent/search            Product-name search

  Demo:
    POST   /api/demo/load               Seed the demo catalog

ERROR HANDLING:
  Domain errors map to HTTP status by their code:
  - 400: validation rejections, bad values, malformed documents
  - 404: unknown section, item or action
  - 410: expired action tokens
  - 500: commit or storage failures
  Replaying an executed confirm is NOT an error: it returns 200 with
  status "already_executed" and the cached result.

SEE ALSO:
  - dto.go: Request and error envelopes
  - server.go: Router setup and middleware
  - materials/service.go, agent/broker.go: The domain logic called here
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/materials-engine/agent"
	"github.com/warp/materials-engine/catalog"
	"github.com/warp/materials-engine/materials"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *materials.Service
	Broker  *agent.Broker
}

// NewHandler creates a handler over the given service and broker.
func NewHandler(svc *materials.Service, broker *agent.Broker) *Handler {
	return &Handler{Service: svc, Broker: broker}
}

// =============================================================================
// MATERIALS HANDLERS
// =============================================================================

// GetMaterials returns the exported catalog document.
func (h *Handler) GetMaterials(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Service.Export(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PutMaterials imports a full catalog document and returns the
// canonical state after coercion.
func (h *Handler) PutMaterials(w http.ResponseWriter, r *http.Request) {
	var doc catalog.ExportDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	if err := h.Service.Import(r.Context(), &doc); err != nil {
		writeDomainError(w, err)
		return
	}

	exported, err := h.Service.Export(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exported)
}

// CommitCell applies one direct field edit from the sheet.
func (h *Handler) CommitCell(w http.ResponseWriter, r *http.Request) {
	var req CellCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	result, err := h.Service.Commit(r.Context(), materials.CommitRequest{
		SectionIdent: req.Section,
		ItemIndex:    req.ItemIndex,
		Path:         req.FieldPath,
		NewValue:     req.NewValue,
		Source:       catalog.SourceManual,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetHistory returns recent ledger entries, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_value", errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	edits, err := h.Service.History(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edits": edits})
}

// =============================================================================
// AGENT HANDLERS
// =============================================================================

// AgentPreview validates a proposed change and mints a confirmable
// action for it.
func (h *Handler) AgentPreview(w http.ResponseWriter, r *http.Request) {
	var req agent.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	resp, err := h.Broker.Preview(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AgentConfirm executes a pending action. Expired, unknown and
// replayed tokens come back as 200 responses with the matching status
// so the agent can relay them verbatim.
func (h *Handler) AgentConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	resp, err := h.Broker.Confirm(r.Context(), req.ActionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if resp.Status == agent.StatusExpiredOrUnknown {
		status = http.StatusGone
	}
	writeJSON(w, status, resp)
}

// GetPendingAction returns the newest unexecuted action, or null when
// nothing is waiting.
func (h *Handler) GetPendingAction(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Broker.MostRecentPending())
}

// GetAction returns one action's stored state.
func (h *Handler) GetAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	info := h.Broker.GetPreview(id)
	if info == nil {
		writeError(w, http.StatusGone, "action_expired", catalog.ErrActionExpired)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetValidationItems lists items awaiting the role's review.
func (h *Handler) GetValidationItems(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	rows, err := h.Broker.ItemsNeedingValidation(r.Context(), role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

// GetTodoItems lists the role's work queue.
func (h *Handler) GetTodoItems(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(w, r)
	if !ok {
		return
	}

	rows, err := h.Broker.TodoItems(r.Context(), role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

// GetPricingSummary returns catalog-wide price totals.
func (h *Handler) GetPricingSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Broker.PricingTotals(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetSectionItems lists one section's items in flat rows.
func (h *Handler) GetSectionItems(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")

	rows, err := h.Broker.ItemsBySection(r.Context(), ident)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

// SearchItems finds items by product name substring.
func (h *Handler) SearchItems(w http.ResponseWriter, r *http.Request) {
	hits, err := h.Broker.SearchItems(r.Context(), r.URL.Query().Get("product"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": hits})
}

// roleParam reads and validates the ?role= query parameter, defaulting
// to the client role.
func roleParam(w http.ResponseWriter, r *http.Request) (catalog.Role, bool) {
	raw := r.URL.Query().Get("role")
	if raw == "" {
		return catalog.RoleClient, true
	}
	role, err := catalog.ParseRole(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_value", err)
		return "", false
	}
	return role, true
}

// =============================================================================
// DEMO HANDLERS
// =============================================================================

// LoadDemo seeds the catalog with the demo renovation document.
// Existing items with matching products are updated in place.
func (h *Handler) LoadDemo(w http.ResponseWriter, r *http.Request) {
	doc := DemoDocument()
	if err := h.Service.Import(r.Context(), doc); err != nil {
		writeDomainError(w, err)
		return
	}

	items := 0
	for _, sec := range doc.Sections {
		items += len(sec.Items)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"sections": len(doc.Sections),
		"items":    items,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	resp := ErrorResponse{Code: code}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error onto the HTTP status vocabulary.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, materials.ErrBadDocument) {
		writeError(w, http.StatusBadRequest, "bad_document", err)
		return
	}
	code := catalog.Code(err)
	writeError(w, statusForCode(code), code, err)
}

func statusForCode(code string) int {
	switch code {
	case "section_not_found", "item_not_found", "action_not_found":
		return http.StatusNotFound
	case "action_expired":
		return http.StatusGone
	case "ambiguous_section", "unknown_field_path", "invalid_value",
		"no_change", "suspicious_list_edit", "product_mismatch":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
