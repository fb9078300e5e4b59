package gateway

import (
	"net/http"
	"strings"
	"time"

	"relay-ai/internal/auth"
	"relay-ai/internal/domain"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "username and email are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	u := &domain.User{
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hashed,
		Phone:          strings.TrimSpace(req.Phone),
		FullName:       req.FullName,
		Bio:            req.Bio,
		IsActive:       true,
	}
	if err := s.deps.Users.CreateUser(r.Context(), u); err != nil {
		writeDomainError(w, err)
		return
	}

	s.deps.Logger.Info("user registered", "user_id", u.ID, "username", u.Username)
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := s.deps.Users.UserByUsername(r.Context(), req.Username)
	if err != nil {
		// Burn the same amount of time as a real verification so a timing
		// probe cannot distinguish unknown users from wrong passwords.
		auth.DummyVerify()
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, u.HashedPassword)
	if err != nil || !ok || !u.IsActive {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.deps.JWT.IssueToken(u)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	u, err := s.deps.Users.UserByID(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
