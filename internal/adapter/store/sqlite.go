package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"relay-ai/internal/domain"
)

// SQLiteStore implements domain.UserStore, domain.MessageStore and
// domain.ReportStore over a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and
// runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			username        TEXT NOT NULL UNIQUE,
			email           TEXT NOT NULL UNIQUE,
			hashed_password TEXT NOT NULL,
			phone           TEXT,
			full_name       TEXT NOT NULL DEFAULT '',
			bio             TEXT NOT NULL DEFAULT '',
			is_active       INTEGER NOT NULL DEFAULT 1,
			is_admin        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_phone ON users(phone) WHERE phone IS NOT NULL;

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id       INTEGER NOT NULL REFERENCES users(id),
			recipient_id    INTEGER NOT NULL REFERENCES users(id),
			content         TEXT NOT NULL,
			is_read         INTEGER NOT NULL DEFAULT 0,
			conversation_id TEXT NOT NULL DEFAULT '',
			parent_id       INTEGER REFERENCES messages(id),
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, is_read);
		CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);

		CREATE TABLE IF NOT EXISTS reports (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			reporter_id INTEGER NOT NULL REFERENCES users(id),
			title       TEXT NOT NULL,
			content     TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'open',
			comment     TEXT NOT NULL DEFAULT '',
			resolved_at TEXT,
			resolved_by INTEGER REFERENCES users(id),
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reports_reporter ON reports(reporter_id, status);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// --- UserStore ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *domain.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.IsActive = true

	var phone any
	if u.Phone != "" {
		phone = u.Phone
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, hashed_password, phone, full_name, bio, is_active, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.HashedPassword, phone, u.FullName, u.Bio,
		u.IsActive, u.IsAdmin, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError("SQLiteStore.CreateUser", domain.ErrDuplicate, u.Username)
		}
		return err
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.oneUser(ctx, "id = ?", id)
}

func (s *SQLiteStore) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.oneUser(ctx, "username = ?", username)
}

func (s *SQLiteStore) UserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return s.oneUser(ctx, "phone = ?", phone)
}

func (s *SQLiteStore) oneUser(ctx context.Context, where string, arg any) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, hashed_password, COALESCE(phone, ''), full_name, bio,
		       is_active, is_admin, created_at, updated_at
		FROM users WHERE `+where, arg)

	var u domain.User
	var created, updated string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.Phone,
		&u.FullName, &u.Bio, &u.IsActive, &u.IsAdmin, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteStore.oneUser", domain.ErrUserNotFound, fmt.Sprint(arg))
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return &u, nil
}

// --- MessageStore ---

func (s *SQLiteStore) InsertMessage(ctx context.Context, m *domain.DirectMessage) error {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	var parent any
	if m.ParentID != nil {
		parent = *m.ParentID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (sender_id, recipient_id, content, is_read, conversation_id, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SenderID, m.RecipientID, m.Content, m.IsRead, m.ConversationID, parent,
		fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) MessageByID(ctx context.Context, id int64) (*domain.DirectMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender_id, recipient_id, content, is_read, conversation_id, parent_id, created_at, updated_at
		FROM messages WHERE id = ?`, id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteStore.MessageByID", domain.ErrNotFound, fmt.Sprint(id))
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) MessagesFor(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]domain.DirectMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, sender_id, recipient_id, content, is_read, conversation_id, parent_id, created_at, updated_at
		FROM messages
		WHERE (sender_id = ? OR recipient_id = ?)`
	args := []any{userID, userID}
	if unreadOnly {
		query += " AND recipient_id = ? AND is_read = 0"
		args = append(args, userID)
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DirectMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkRead(ctx context.Context, id, recipientID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET is_read = 1, updated_at = ? WHERE id = ? AND recipient_id = ?",
		fmtTime(time.Now()), id, recipientID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewDomainError("SQLiteStore.MarkRead", domain.ErrNotFound, fmt.Sprint(id))
	}
	return nil
}

func (s *SQLiteStore) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE recipient_id = ? AND is_read = 0", recipientID,
	).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.DirectMessage, error) {
	var m domain.DirectMessage
	var parent sql.NullInt64
	var created, updated string
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.IsRead,
		&m.ConversationID, &parent, &created, &updated)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		m.ParentID = &parent.Int64
	}
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	return &m, nil
}

// --- ReportStore ---

const reportColumns = "id, reporter_id, title, content, status, comment, resolved_at, resolved_by, created_at, updated_at"

func (s *SQLiteStore) FindReports(ctx context.Context, reporterID int64, status domain.ReportStatus) ([]domain.Report, error) {
	query := "SELECT " + reportColumns + " FROM reports WHERE reporter_id = ?"
	args := []any{reporterID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindReport(ctx context.Context, id, reporterID int64) (*domain.Report, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+reportColumns+" FROM reports WHERE id = ? AND reporter_id = ?", id, reporterID)

	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Missing and foreign reports look the same.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) InsertReport(ctx context.Context, reporterID int64, title, content string) (*domain.Report, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (reporter_id, title, content, status, created_at, updated_at)
		VALUES (?, ?, ?, 'open', ?, ?)`,
		reporterID, title, content, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Report{
		ID:         id,
		ReporterID: reporterID,
		Title:      title,
		Content:    content,
		Status:     domain.ReportOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateReportFields(ctx context.Context, id, reporterID int64, upd domain.ReportUpdate) (*domain.Report, error) {
	// Single UPDATE guarded by ownership and status; a lost race shows
	// up as zero rows affected.
	query := "UPDATE reports SET updated_at = ?"
	args := []any{fmtTime(time.Now())}
	if upd.Title != nil && *upd.Title != "" {
		query += ", title = ?"
		args = append(args, *upd.Title)
	}
	if upd.Content != nil && *upd.Content != "" {
		query += ", content = ?"
		args = append(args, *upd.Content)
	}
	query += " WHERE id = ? AND reporter_id = ? AND status = 'open'"
	args = append(args, id, reporterID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return s.FindReport(ctx, id, reporterID)
}

func (s *SQLiteStore) SetReportStatus(ctx context.Context, id int64, status domain.ReportStatus, comment string, resolvedBy int64) (*domain.Report, error) {
	if !domain.ValidReportStatus(status) {
		return nil, domain.NewDomainError("SQLiteStore.SetReportStatus", domain.ErrInvalidInput, string(status))
	}

	now := time.Now().UTC()
	var resolvedAt, resolvedByArg any
	if status == domain.ReportResolved {
		resolvedAt = fmtTime(now)
		resolvedByArg = resolvedBy
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE reports SET status = ?, comment = ?, resolved_at = ?, resolved_by = ?, updated_at = ?
		WHERE id = ?`,
		string(status), comment, resolvedAt, resolvedByArg, fmtTime(now), id,
	)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, domain.NewDomainError("SQLiteStore.SetReportStatus", domain.ErrNotFound, fmt.Sprint(id))
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM reports WHERE id = ?", id)
	return scanReport(row)
}

func scanReport(row rowScanner) (*domain.Report, error) {
	var r domain.Report
	var status string
	var resolvedAt sql.NullString
	var resolvedBy sql.NullInt64
	var created, updated string
	err := row.Scan(&r.ID, &r.ReporterID, &r.Title, &r.Content, &status, &r.Comment,
		&resolvedAt, &resolvedBy, &created, &updated)
	if err != nil {
		return nil, err
	}
	r.Status = domain.ReportStatus(status)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		r.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		r.ResolvedBy = &resolvedBy.Int64
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
