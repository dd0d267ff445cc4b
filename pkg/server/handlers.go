package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atriumhq/atrium/pkg/planner"
	"github.com/atriumhq/atrium/pkg/ratelimit"
	"github.com/atriumhq/atrium/pkg/turn"
)

type createTurnRequest struct {
	UserID    string `json:"user_id"`
	UserInput string `json:"user_input"`
}

type turnResponse struct {
	TurnID           string    `json:"turn_id"`
	SessionID        string    `json:"session_id"`
	TurnIndex        int       `json:"turn_index"`
	Mode             string    `json:"mode"`
	UserInput        string    `json:"user_input"`
	AssistantOutput  string    `json:"assistant_output"`
	Status           string    `json:"status"`
	ModelAliasUsed   string    `json:"model_alias_used"`
	SummaryTriggered bool      `json:"summary_triggered"`
	PruneTriggered   bool      `json:"prune_triggered"`
	OverflowRejected bool      `json:"overflow_rejected"`
	CreatedAt        time.Time `json:"created_at"`
	BalanceAfter     string    `json:"balance_after,omitempty"`
	LowBalance       bool      `json:"low_balance"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Budget diagnostics, present only for context_budget_exceeded.
	InputBudget       int `json:"input_budget,omitempty"`
	EstimatedTokens   int `json:"estimated_tokens,omitempty"`
	ModelContextLimit int `json:"model_context_limit,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateTurn(w http.ResponseWriter, r *http.Request) {
	var body createTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if body.UserID == "" || body.UserInput == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "user_id and user_input are required")
		return
	}

	if s.gate != nil {
		if err := s.gate.Allow(r.Context(), body.UserID); err != nil {
			var lerr *ratelimit.LimitExceededError
			if errors.As(err, &lerr) {
				w.Header().Set("Retry-After", strconv.Itoa(lerr.RetryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limited", lerr.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "rate gate failure")
			return
		}
	}

	result, err := s.executor.Execute(r.Context(), turn.Request{
		SessionID: chi.URLParam(r, "sessionID"),
		UserID:    body.UserID,
		UserInput: body.UserInput,
	})
	if err != nil {
		s.writeTurnError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, turnResponse{
		TurnID:           result.TurnID,
		SessionID:        result.SessionID,
		TurnIndex:        result.TurnIndex,
		Mode:             result.Mode,
		UserInput:        result.UserInput,
		AssistantOutput:  result.AssistantOutput,
		Status:           result.Status,
		ModelAliasUsed:   result.ModelAliasUsed,
		SummaryTriggered: result.SummaryTriggered,
		PruneTriggered:   result.PruneTriggered,
		OverflowRejected: result.OverflowRejected,
		CreatedAt:        result.CreatedAt,
		BalanceAfter:     result.BalanceAfter,
		LowBalance:       result.LowBalance,
	})
}

// writeTurnError maps pipeline errors onto HTTP statuses.
func (s *Server) writeTurnError(w http.ResponseWriter, err error) {
	var verr *turn.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, verr.Code, verr.Message)
		return
	}

	var berr *planner.BudgetExceededError
	if errors.As(err, &berr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: errorDetail{
			Code:              "context_budget_exceeded",
			Message:           berr.Error(),
			InputBudget:       berr.InputBudget,
			EstimatedTokens:   berr.EstimatedTokens,
			ModelContextLimit: berr.ModelContextLimit,
		}})
		return
	}

	var nerr *turn.NotFoundError
	if errors.As(err, &nerr) {
		writeError(w, http.StatusNotFound, "not_found", nerr.Error())
		return
	}

	var cerr *turn.ConflictError
	if errors.As(err, &cerr) {
		writeError(w, http.StatusConflict, "concurrent_turn", cerr.Error())
		return
	}

	s.logger.Error("turn execution failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "turn execution failed")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
