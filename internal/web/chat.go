package web

import (
	"encoding/json"
	"net/http"

	"github.com/mwortham/reeve/internal/agent"
)

// ChatRequest is the /api/chat request body. UserID is optional; the
// zero id keeps local experiments in their own scratch session, away
// from any real Telegram history.
type ChatRequest struct {
	UserID  int64  `json:"user_id,omitempty"`
	Message string `json:"message"`
}

// ChatResponse is the /api/chat response body.
type ChatResponse struct {
	Reply     string `json:"reply"`
	Outcome   string `json:"outcome"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Rounds    int    `json:"rounds"`
	ToolCalls int    `json:"tool_calls"`
}

// handleChatAPI runs one agent turn outside Telegram. Meant for local
// testing with curl; it shares the session store with the bridge, so a
// real user id here talks to that user's conversation.
func (s *Server) handleChatAPI(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	// Same per-user lock the Telegram bridge holds for its turns, so a
	// curl here cannot interleave with a live conversation.
	if s.locks != nil {
		lock := s.locks.TurnLock(req.UserID)
		lock.Lock()
		defer lock.Unlock()
	}

	resp, err := s.runner.Run(r.Context(), &agent.Request{
		UserID: req.UserID,
		Text:   req.Message,
	})
	if err != nil {
		s.logger.Error("chat turn failed", "user", req.UserID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Reply:     resp.Content,
		Outcome:   string(resp.Outcome),
		Provider:  resp.Provider,
		Model:     resp.Model,
		Rounds:    resp.Rounds,
		ToolCalls: resp.ToolCalls,
	}, s.logger)
}
