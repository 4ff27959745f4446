package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/review"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// SubmitResponse is returned by POST /invoice/submit.
type SubmitResponse struct {
	Status     string            `json:"status"`
	RunID      string            `json:"run_id"`
	Checkpoint *state.Checkpoint `json:"checkpoint"`
	Final      *state.Final      `json:"final"`
	Match      *state.Match      `json:"match"`
}

// DecisionRequest is the body of POST /human-review/decision.
type DecisionRequest struct {
	CheckpointID string `json:"checkpoint_id"`
	Decision     string `json:"decision"`
	Notes        string `json:"notes"`
	ReviewerID   string `json:"reviewer_id"`
}

// DecisionResponse is returned by POST /human-review/decision.
type DecisionResponse struct {
	ResumeToken    string  `json:"resume_token"`
	NextStage      string  `json:"next_stage"`
	WorkflowStatus *string `json:"workflow_status"`
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitInvoice(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeBody(w, r, &payload); err != nil || payload == nil {
		JSONError(w, "Invoice payload must be a JSON object.", http.StatusBadRequest)
		return
	}
	if missing := state.MissingInvoiceFields(payload); len(missing) > 0 {
		JSONError(w, "Missing required fields: "+strings.Join(missing, ", "), http.StatusBadRequest)
		return
	}

	st, err := s.runtime.Engine.Start(r.Context(), payload, "")
	if err != nil {
		s.logger.Error("invoice run failed", "invoice_id", payload["invoice_id"], "error", err)
		HandleError(w, err)
		return
	}
	status := st.Status
	if status == "" {
		status = "UNKNOWN"
	}
	JSONResponse(w, SubmitResponse{
		Status:     status,
		RunID:      st.RunID,
		Checkpoint: st.Checkpoint,
		Final:      st.Final,
		Match:      st.Match,
	})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	items, err := s.runtime.Reviews.ListPending(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	if items == nil {
		items = []review.PendingItem{}
	}
	JSONResponse(w, itemsResponse[review.PendingItem]{Items: items})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		HandleError(w, gateerrors.InvalidPayload(err.Error()))
		return
	}
	var missing []string
	if strings.TrimSpace(req.CheckpointID) == "" {
		missing = append(missing, "checkpoint_id")
	}
	if strings.TrimSpace(req.Decision) == "" {
		missing = append(missing, "decision")
	}
	if strings.TrimSpace(req.ReviewerID) == "" {
		missing = append(missing, "reviewer_id")
	}
	if len(missing) > 0 {
		JSONError(w, "Missing required fields: "+strings.Join(missing, ", "), http.StatusBadRequest)
		return
	}
	if _, err := review.NormalizeDecision(req.Decision); err != nil {
		HandleError(w, err)
		return
	}

	out, err := s.runtime.Decide(r.Context(), req.CheckpointID, req.Decision, req.Notes, req.ReviewerID, true)
	if err != nil {
		HandleError(w, err)
		return
	}
	resp := DecisionResponse{ResumeToken: out.ResumeToken, NextStage: out.NextStage}
	if out.State != nil {
		status := out.State.Status
		resp.WorkflowStatus = &status
	}
	JSONResponse(w, resp)
}

func (s *Server) handleDecisionHelp(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]any{
		"detail": "This endpoint expects POST with JSON body.",
		"example": DecisionRequest{
			CheckpointID: "chk_123",
			Decision:     "ACCEPT",
			Notes:        "ok",
			ReviewerID:   "reviewer_1",
		},
	})
}

func (s *Server) handleFinalResults(w http.ResponseWriter, r *http.Request) {
	limit := review.DefaultResultsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			JSONError(w, fmt.Sprintf("invalid limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = n
	}
	items, err := s.runtime.Reviews.ListFinalResults(r.Context(), limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, itemsResponse[review.FinalResult]{Items: items})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
