package gateway

import (
	"net/http"
	"strings"

	"relay-ai/internal/domain"
)

type createReportRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type updateReportRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

type reportStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req createReportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}

	rep, err := s.deps.Reports.InsertReport(r.Context(), claims.UserID, req.Title, req.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	status := domain.ReportStatus(r.URL.Query().Get("status"))
	if status != "" && !domain.ValidReportStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	reports, err := s.deps.Reports.FindReports(r.Context(), claims.UserID, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}

	rep, err := s.deps.Reports.FindReport(r.Context(), id, claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rep == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleUpdateReport(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}

	var req updateReportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil && req.Content == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	existing, err := s.deps.Reports.FindReport(r.Context(), id, claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if existing.Status != domain.ReportOpen {
		writeError(w, http.StatusConflict, "only open reports can be modified")
		return
	}

	upd := domain.ReportUpdate{Title: req.Title, Content: req.Content}
	rep, err := s.deps.Reports.UpdateReportFields(r.Context(), id, claims.UserID, upd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rep == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if !claims.IsAdmin {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}

	var req reportStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status := domain.ReportStatus(req.Status)
	if status != domain.ReportInProgress && status != domain.ReportResolved {
		writeError(w, http.StatusBadRequest, "status must be in_progress or resolved")
		return
	}

	rep, err := s.deps.Reports.SetReportStatus(r.Context(), id, status, req.Comment, claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
