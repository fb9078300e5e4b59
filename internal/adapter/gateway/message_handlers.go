package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"relay-ai/internal/domain"
)

type sendMessageRequest struct {
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
	ParentID    *int64 `json:"parent_id,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if _, err := s.deps.Users.UserByID(r.Context(), req.RecipientID); err != nil {
		writeError(w, http.StatusNotFound, "recipient not found")
		return
	}

	msg := &domain.DirectMessage{
		SenderID:    claims.UserID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		ParentID:    req.ParentID,
	}
	if err := s.deps.Messages.InsertMessage(r.Context(), msg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	msgs, err := s.deps.Messages.MessagesFor(r.Context(), claims.UserID, unreadOnly, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.DirectMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	msg, err := s.deps.Messages.MessageByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msg.SenderID != claims.UserID && msg.RecipientID != claims.UserID {
		// Same response as a missing message so IDs cannot be probed.
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := s.deps.Messages.MarkRead(r.Context(), id, claims.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	count, err := s.deps.Messages.UnreadCount(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
