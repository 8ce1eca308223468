/*
dto.go - Request and error envelopes for the HTTP API

PURPOSE:
  Defines the JSON bodies the API accepts and the error envelope it
  returns. Response shapes mostly live with the domain types that
  produce them (materials.CommitResult, agent.PreviewResponse, ...);
  this file only adds what the HTTP boundary itself needs.

ERROR ENVELOPE:
  {"error": "human readable message", "code": "machine_token"}
  The code is the stable vocabulary clients branch on; the message is
  free to change.

SEE ALSO:
  - handlers.go: Uses these types
  - catalog/errors.go: The error codes surfaced here
*/
package api

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CellCommitRequest is a direct single-field edit from the sheet UI.
type CellCommitRequest struct {
	Section   string `json:"section"`
	ItemIndex int    `json:"itemIndex"`
	FieldPath string `json:"fieldPath"`
	NewValue  any    `json:"newValue"`
}

// ConfirmRequest names the action token to execute. An empty or
// omitted token confirms the most recently proposed action.
type ConfirmRequest struct {
	ActionID string `json:"actionId"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
