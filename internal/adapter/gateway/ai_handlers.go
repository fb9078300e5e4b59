package gateway

import (
	"net/http"
	"strings"

	"relay-ai/internal/domain"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// handleAIChat runs the orchestrator synchronously and mirrors both sides
// of the exchange into the message store so the conversation survives
// restarts.
func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply := s.deps.Orchestrator.ProcessMessage(r.Context(), claims.UserID, req.Message)

	inbound := &domain.DirectMessage{
		SenderID:    claims.UserID,
		RecipientID: claims.UserID,
		Content:     req.Message,
		IsRead:      true,
	}
	if err := s.deps.Messages.InsertMessage(r.Context(), inbound); err != nil {
		s.deps.Logger.Error("persist inbound chat message failed", "error", err, "user_id", claims.UserID)
	} else {
		outbound := &domain.DirectMessage{
			SenderID:    claims.UserID,
			RecipientID: claims.UserID,
			Content:     reply,
			IsRead:      true,
			ParentID:    &inbound.ID,
		}
		if err := s.deps.Messages.InsertMessage(r.Context(), outbound); err != nil {
			s.deps.Logger.Error("persist chat reply failed", "error", err, "user_id", claims.UserID)
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

func (s *Server) handleAIHistory(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	msgs := s.deps.Orchestrator.GetOrCreateHistory(claims.UserID).Snapshot()
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAIClearHistory(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	s.deps.Orchestrator.ClearHistory(claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAIAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"agents": s.deps.Orchestrator.ListAgents()})
}
