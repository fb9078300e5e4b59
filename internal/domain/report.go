package domain

import (
	"context"
	"time"
)

// ReportStatus is the lifecycle state of a facility-issue report.
type ReportStatus string

const (
	ReportOpen       ReportStatus = "open"
	ReportInProgress ReportStatus = "in_progress"
	ReportResolved   ReportStatus = "resolved"
)

// ValidReportStatus reports whether s is a known status value.
func ValidReportStatus(s ReportStatus) bool {
	switch s {
	case ReportOpen, ReportInProgress, ReportResolved:
		return true
	}
	return false
}

// Report is a facility-issue report filed by a user. Only open reports
// may have their title/content changed, and only by their reporter.
type Report struct {
	ID         int64        `json:"id"`
	ReporterID int64        `json:"reporter_id"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	Status     ReportStatus `json:"status"`
	Comment    string       `json:"comment,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy *int64       `json:"resolved_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// ReportUpdate carries the optional field changes for a report update.
// Nil fields are left untouched.
type ReportUpdate struct {
	Title   *string
	Content *string
}

// ReportStore is the persistence gateway for reports. FindReport and
// UpdateReportFields are always scoped to a reporter; a report that does
// not exist and one owned by someone else are indistinguishable to the
// caller.
type ReportStore interface {
	// FindReports returns the reporter's reports, newest first,
	// optionally filtered by status (empty = all).
	FindReports(ctx context.Context, reporterID int64, status ReportStatus) ([]Report, error)
	// FindReport returns one report owned by reporterID, or nil.
	FindReport(ctx context.Context, id, reporterID int64) (*Report, error)
	// InsertReport creates an open report and returns it with its ID set.
	InsertReport(ctx context.Context, reporterID int64, title, content string) (*Report, error)
	// UpdateReportFields applies the given changes if the report exists,
	// belongs to reporterID, and is still open. Returns nil (no error)
	// otherwise; the caller decides how to phrase the refusal.
	UpdateReportFields(ctx context.Context, id, reporterID int64, upd ReportUpdate) (*Report, error)
	// SetReportStatus transitions a report's status (admin operation).
	SetReportStatus(ctx context.Context, id int64, status ReportStatus, comment string, resolvedBy int64) (*Report, error)
}
