package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-ai/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLiteStore, username, phone string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:       username,
		Email:          username + "@example.com",
		HashedPassword: "x",
		Phone:          phone,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestCreateAndFetchUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "alice", "+628111")
	require.NotZero(t, u.ID)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.True(t, byID.IsActive)

	byName, err := s.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	byPhone, err := s.UserByPhone(ctx, "+628111")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byPhone.ID)
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "alice", "")

	err := s.CreateUser(context.Background(), &domain.User{
		Username:       "alice",
		Email:          "other@example.com",
		HashedPassword: "x",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestInsertAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice", "")
	bob := seedUser(t, s, "bob", "")

	for _, content := range []string{"first", "second", "third"} {
		m := &domain.DirectMessage{SenderID: alice.ID, RecipientID: bob.ID, Content: content}
		require.NoError(t, s.InsertMessage(ctx, m))
		require.NotZero(t, m.ID)
	}

	msgs, err := s.MessagesFor(ctx, bob.ID, false, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "third", msgs[2].Content)

	// Pagination.
	page, err := s.MessagesFor(ctx, bob.ID, false, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "second", page[0].Content)
}

func TestUnreadFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice", "")
	bob := seedUser(t, s, "bob", "")

	m := &domain.DirectMessage{SenderID: alice.ID, RecipientID: bob.ID, Content: "hi"}
	require.NoError(t, s.InsertMessage(ctx, m))

	n, err := s.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Only the recipient can mark read.
	err = s.MarkRead(ctx, m.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.MarkRead(ctx, m.ID, bob.ID))
	n, err = s.UnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	unread, err := s.MessagesFor(ctx, bob.ID, true, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestInsertAndFindReports(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice", "")
	bob := seedUser(t, s, "bob", "")

	r1, err := s.InsertReport(ctx, alice.ID, "leak", "building 1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportOpen, r1.Status)

	_, err = s.InsertReport(ctx, bob.ID, "noise", "building 2")
	require.NoError(t, err)

	mine, err := s.FindReports(ctx, alice.ID, "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "leak", mine[0].Title)

	// Foreign report reads as not found.
	foreign, err := s.FindReport(ctx, r1.ID, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, foreign)

	own, err := s.FindReport(ctx, r1.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, own)
	assert.Equal(t, "building 1", own.Content)
}

func TestFindReportsStatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice", "")

	open, err := s.InsertReport(ctx, alice.ID, "open one", "c")
	require.NoError(t, err)
	other, err := s.InsertReport(ctx, alice.ID, "resolved one", "c")
	require.NoError(t, err)
	_, err = s.SetReportStatus(ctx, other.ID, domain.ReportResolved, "done", alice.ID)
	require.NoError(t, err)

	got, err := s.FindReports(ctx, alice.ID, domain.ReportOpen)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, open.ID, got[0].ID)
}

func TestUpdateReportFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice", "")
	bob := seedUser(t, s, "bob", "")

	r, err := s.InsertReport(ctx, alice.ID, "old", "old content")
	require.NoError(t, err)

	title := "new"
	updated, err := s.UpdateReportFields(ctx, r.ID, alice.ID, domain.ReportUpdate{Title: &title})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "new", updated.Title)
	assert.Equal(t, "old content", updated.Content)

	// Wrong owner: silently refused.
	hijack := "hijack"
	got, err := s.UpdateReportFields(ctx, r.ID, bob.ID, domain.ReportUpdate{Title: &hijack})
	require.NoError(t, err)
	assert.Nil(t, got)

	// Non-open: refused.
	_, err = s.SetReportStatus(ctx, r.ID, domain.ReportInProgress, "", 0)
	require.NoError(t, err)
	got, err = s.UpdateReportFields(ctx, r.ID, alice.ID, domain.ReportUpdate{Title: &hijack})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetReportStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice", "")
	admin := seedUser(t, s, "admin", "")

	r, err := s.InsertReport(ctx, alice.ID, "leak", "c")
	require.NoError(t, err)

	resolved, err := s.SetReportStatus(ctx, r.ID, domain.ReportResolved, "fixed", admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportResolved, resolved.Status)
	assert.Equal(t, "fixed", resolved.Comment)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, admin.ID, *resolved.ResolvedBy)

	_, err = s.SetReportStatus(ctx, 999, domain.ReportOpen, "", 0)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = s.SetReportStatus(ctx, r.ID, "bogus", "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
