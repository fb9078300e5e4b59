package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"relay-ai/internal/domain"
	"relay-ai/internal/infra/tracer"
)

const reportTimeLayout = "2006-01-02 15:04"

// ReportAgentSystemPrompt steers the report management agent. The agent
// gathers the minimum detail and files the report instead of drafting
// emails or asking for confirmation.
const ReportAgentSystemPrompt = `You are a Report Management Assistant for a facilities management system.

## YOUR PRIMARY JOB
When a user wants to report an issue, your ONLY job is to CREATE A REPORT in the system using the create_report function.

## CRITICAL RULES
1. NEVER draft emails, forms, or suggest other methods
2. NEVER ask the user "would you like me to create a report?" - just CREATE IT
3. After gathering minimum info (location + when noticed), immediately call create_report
4. ALWAYS call create_report, then confirm to user with the report ID

## WORKFLOW
Step 1: When user says "make a report about X" or similar, ask ONE question for missing info
        - Required: Location (building/floor/room)
        - Optional: When noticed
Step 2: When user responds with location and timing, IMMEDIATELY call create_report
Step 3: Confirm to the user with the report ID and status

Use get_my_reports, get_report and update_report when the user asks about existing reports.
Plain text only, no special characters or emojis.`

// ReportKeywords are the message substrings that route to the report agent.
var ReportKeywords = []string{"report", "issue", "problem", "broken", "complaint", "lapor"}

// RegisterReportTools registers the four report management tools on r.
func RegisterReportTools(r *Registry, store domain.ReportStore, logger *slog.Logger) error {
	tools := []domain.Tool{
		&GetMyReportsTool{store: store, logger: logger},
		&GetReportTool{store: store, logger: logger},
		&CreateReportTool{store: store, logger: logger},
		&UpdateReportTool{store: store, logger: logger},
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// reportUserID extracts the user scope injected by the agent runtime.
func reportUserID(ctx context.Context, op string) (int64, error) {
	id := domain.UserIDFromContext(ctx)
	if id <= 0 {
		return 0, domain.NewDomainError(op, domain.ErrUserRequired, "no user in context")
	}
	return id, nil
}

// --- get_my_reports ---

// GetMyReportsTool lists the calling user's reports, optionally
// filtered by status.
type GetMyReportsTool struct {
	store  domain.ReportStore
	logger *slog.Logger
}

func (t *GetMyReportsTool) Name() string { return "get_my_reports" }

func (t *GetMyReportsTool) Description() string {
	return "Get all reports for the current user. Call this when user asks to see their reports."
}

func (t *GetMyReportsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"status_filter": {
					"type": "string",
					"enum": ["open", "in_progress", "resolved"],
					"description": "Filter reports by status (optional)"
				}
			},
			"required": []
		}`),
	}
}

func (t *GetMyReportsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "tool.get_my_reports",
		trace.WithAttributes(tracer.StringAttr("tool.name", "get_my_reports")))
	defer span.End()

	userID, err := reportUserID(ctx, "GetMyReportsTool.Execute")
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.Int64Attr("user.id", userID))

	var p struct {
		StatusFilter string `json:"status_filter"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	reports, err := t.store.FindReports(ctx, userID, domain.ReportStatus(p.StatusFilter))
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("Error retrieving reports: %v", err)}, nil
	}
	if len(reports) == 0 {
		tracer.SetOK(span)
		return &domain.ToolResult{Content: "You have no reports."}, nil
	}

	var b strings.Builder
	b.WriteString("Your Reports:\n\n")
	for _, r := range reports {
		fmt.Fprintf(&b, "ID: #%d\n", r.ID)
		fmt.Fprintf(&b, "Title: %s\n", r.Title)
		fmt.Fprintf(&b, "Status: %s\n", r.Status)
		fmt.Fprintf(&b, "Created: %s\n", r.CreatedAt.Format(reportTimeLayout))
		b.WriteString(strings.Repeat("-", 30) + "\n")
	}
	tracer.SetOK(span)
	return &domain.ToolResult{Content: b.String()}, nil
}

// --- get_report ---

// GetReportTool fetches one report by ID, scoped to the calling user.
type GetReportTool struct {
	store  domain.ReportStore
	logger *slog.Logger
}

func (t *GetReportTool) Name() string { return "get_report" }

func (t *GetReportTool) Description() string {
	return "Get details of a specific report by ID. Call this when user asks for details of a specific report."
}

func (t *GetReportTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"report_id": {
					"type": "integer",
					"description": "The report ID to retrieve (number only, e.g., 23)"
				}
			},
			"required": ["report_id"]
		}`),
	}
}

func (t *GetReportTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "tool.get_report",
		trace.WithAttributes(tracer.StringAttr("tool.name", "get_report")))
	defer span.End()

	userID, err := reportUserID(ctx, "GetReportTool.Execute")
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var p struct {
		ReportID int64 `json:"report_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	report, err := t.store.FindReport(ctx, p.ReportID, userID)
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("Error retrieving report: %v", err)}, nil
	}
	if report == nil {
		// Ownership is not disclosed: someone else's report reads the
		// same as a missing one.
		tracer.SetOK(span)
		return &domain.ToolResult{Content: fmt.Sprintf("Report #%d not found or you don't have access to it.", p.ReportID)}, nil
	}

	var b strings.Builder
	b.WriteString("Report Details:\n\n")
	fmt.Fprintf(&b, "ID: #%d\n", report.ID)
	fmt.Fprintf(&b, "Title: %s\n", report.Title)
	fmt.Fprintf(&b, "Content: %s\n", report.Content)
	fmt.Fprintf(&b, "Status: %s\n", report.Status)
	fmt.Fprintf(&b, "Created: %s\n", report.CreatedAt.Format(reportTimeLayout))
	if report.Comment != "" {
		fmt.Fprintf(&b, "\nAdmin Comment: %s\n", report.Comment)
	}
	if report.ResolvedAt != nil {
		fmt.Fprintf(&b, "Resolved at: %s\n", report.ResolvedAt.Format(reportTimeLayout))
	}
	tracer.SetOK(span)
	return &domain.ToolResult{Content: b.String()}, nil
}

// --- create_report ---

// CreateReportTool files a new report owned by the calling user.
type CreateReportTool struct {
	store  domain.ReportStore
	logger *slog.Logger
}

func (t *CreateReportTool) Name() string { return "create_report" }

func (t *CreateReportTool) Description() string {
	return "Create a new report in the system. ALWAYS call this when user wants to file a report! After user provides issue details, call this to save the report."
}

func (t *CreateReportTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {
					"type": "string",
					"description": "Brief title (max 100 chars) like 'Low water flow at Building 1'"
				},
				"content": {
					"type": "string",
					"description": "Detailed description including location, when noticed, and severity"
				}
			},
			"required": ["title", "content"]
		}`),
	}
}

func (t *CreateReportTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "tool.create_report",
		trace.WithAttributes(tracer.StringAttr("tool.name", "create_report")))
	defer span.End()

	userID, err := reportUserID(ctx, "CreateReportTool.Execute")
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var p struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Content) == "" {
		return &domain.ToolResult{IsError: true, Content: "Both title and content are required to create a report."}, nil
	}

	report, err := t.store.InsertReport(ctx, userID, p.Title, p.Content)
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("Error creating report: %v", err)}, nil
	}

	t.logger.Info("report created", "report_id", report.ID, "reporter_id", userID)
	tracer.SetOK(span)
	return &domain.ToolResult{
		Content: fmt.Sprintf("Report created successfully!\n\nID: #%d\nTitle: %s\nStatus: open\n\nYour report has been submitted and will be reviewed by the admin.", report.ID, report.Title),
	}, nil
}

// --- update_report ---

// UpdateReportTool edits the title or content of one of the calling
// user's open reports.
type UpdateReportTool struct {
	store  domain.ReportStore
	logger *slog.Logger
}

func (t *UpdateReportTool) Name() string { return "update_report" }

func (t *UpdateReportTool) Description() string {
	return "Update an existing report's title or content (only for open reports)"
}

func (t *UpdateReportTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"report_id": {
					"type": "integer",
					"description": "The report ID to update"
				},
				"title": {
					"type": "string",
					"description": "New title (optional)"
				},
				"content": {
					"type": "string",
					"description": "New content (optional)"
				}
			},
			"required": ["report_id"]
		}`),
	}
}

func (t *UpdateReportTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "tool.update_report",
		trace.WithAttributes(tracer.StringAttr("tool.name", "update_report")))
	defer span.End()

	userID, err := reportUserID(ctx, "UpdateReportTool.Execute")
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var p struct {
		ReportID int64   `json:"report_id"`
		Title    *string `json:"title"`
		Content  *string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	// Check reachability and status separately so the user gets the
	// precise reason an edit was refused.
	existing, err := t.store.FindReport(ctx, p.ReportID, userID)
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("Error updating report: %v", err)}, nil
	}
	if existing == nil {
		tracer.SetOK(span)
		return &domain.ToolResult{Content: fmt.Sprintf("Report #%d not found or you don't have access to it.", p.ReportID)}, nil
	}
	if existing.Status != domain.ReportOpen {
		tracer.SetOK(span)
		return &domain.ToolResult{Content: fmt.Sprintf("Cannot update report #%d. Only open reports can be modified. Current status: %s", p.ReportID, existing.Status)}, nil
	}

	updated, err := t.store.UpdateReportFields(ctx, p.ReportID, userID, domain.ReportUpdate{
		Title:   p.Title,
		Content: p.Content,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("Error updating report: %v", err)}, nil
	}
	if updated == nil {
		// Status changed between the check and the write.
		tracer.SetOK(span)
		return &domain.ToolResult{Content: fmt.Sprintf("Cannot update report #%d. Only open reports can be modified.", p.ReportID)}, nil
	}

	var fields []string
	if p.Title != nil && *p.Title != "" {
		fields = append(fields, "title")
	}
	if p.Content != nil && *p.Content != "" {
		fields = append(fields, "content")
	}

	t.logger.Info("report updated", "report_id", updated.ID, "reporter_id", userID, "fields", fields)
	tracer.SetOK(span)
	return &domain.ToolResult{
		Content: fmt.Sprintf("Report #%d updated successfully!\nUpdated fields: %s\n\nNew content:\nTitle: %s\nContent: %s",
			updated.ID, strings.Join(fields, ", "), updated.Title, updated.Content),
	}, nil
}
