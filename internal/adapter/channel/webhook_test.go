package channel

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-ai/internal/domain"
	"relay-ai/internal/usecase"
)

type cannedProvider struct{ reply string }

func (p *cannedProvider) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: p.reply},
	}, nil
}

func (p *cannedProvider) Name() string { return "canned" }

type wordCounter struct{}

func (wordCounter) Count(s string) int { return len(strings.Fields(s)) }

type memUsers struct {
	byPhone map[string]*domain.User
}

func (m *memUsers) CreateUser(context.Context, *domain.User) error { return nil }

func (m *memUsers) UserByID(_ context.Context, id int64) (*domain.User, error) {
	for _, u := range m.byPhone {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memUsers) UserByUsername(context.Context, string) (*domain.User, error) {
	return nil, domain.ErrUserNotFound
}

func (m *memUsers) UserByPhone(_ context.Context, phone string) (*domain.User, error) {
	if u, ok := m.byPhone[phone]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

type memMessages struct {
	mu   sync.Mutex
	msgs []domain.DirectMessage
}

func newMemMessages() *memMessages { return &memMessages{} }

func (m *memMessages) InsertMessage(_ context.Context, msg *domain.DirectMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.msgs) + 1)
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memMessages) MessageByID(context.Context, int64) (*domain.DirectMessage, error) {
	return nil, domain.ErrNotFound
}

func (m *memMessages) MessagesFor(context.Context, int64, bool, int, int) ([]domain.DirectMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DirectMessage, len(m.msgs))
	copy(out, m.msgs)
	return out, nil
}

func (m *memMessages) MarkRead(context.Context, int64, int64) error { return nil }

func (m *memMessages) UnreadCount(context.Context, int64) (int, error) { return 0, nil }

func newTestWebhook(t *testing.T) (*Webhook, *memMessages) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	budget := usecase.NewPromptBudgetWithCounter(1000, wordCounter{}, logger)
	orch := usecase.NewOrchestrator(&cannedProvider{reply: "Got it."}, budget,
		usecase.OrchestratorConfig{Model: "test-model"}, logger)

	users := &memUsers{byPhone: map[string]*domain.User{
		"+15551234567": {ID: 7, Username: "alice", Phone: "+15551234567", IsActive: true},
	}}
	msgs := newMemMessages()
	return NewWebhook(users, msgs, orch, logger), msgs
}

func postForm(t *testing.T, wh *Webhook, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcksAndProcesses(t *testing.T) {
	wh, msgs := newTestWebhook(t)

	rec := postForm(t, wh, url.Values{
		"From": {"+15551234567"},
		"Body": {"hello"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Response>")
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wh.Shutdown(ctx))

	stored, err := msgs.MessagesFor(context.Background(), 7, false, 50, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "hello", stored[0].Content)
	assert.Equal(t, "Got it.", stored[1].Content)
	assert.Equal(t, stored[0].ConversationID, stored[1].ConversationID)
	require.NotNil(t, stored[1].ParentID)
	assert.Equal(t, stored[0].ID, *stored[1].ParentID)
}

func TestWebhookUnknownSenderStillAcks(t *testing.T) {
	wh, msgs := newTestWebhook(t)

	rec := postForm(t, wh, url.Values{
		"From": {"+19998887777"},
		"Body": {"who is this"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wh.Shutdown(ctx))

	stored, err := msgs.MessagesFor(context.Background(), 0, false, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestWebhookMissingFields(t *testing.T) {
	wh, msgs := newTestWebhook(t)

	rec := postForm(t, wh, url.Values{"From": {"+15551234567"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wh.Shutdown(ctx))

	stored, err := msgs.MessagesFor(context.Background(), 0, false, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestWebhookRejectsGet(t *testing.T) {
	wh, _ := newTestWebhook(t)
	req := httptest.NewRequest(http.MethodGet, "/webhook/sms", nil)
	rec := httptest.NewRecorder()
	wh.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookDeliveryIDsUnique(t *testing.T) {
	wh, msgs := newTestWebhook(t)

	for range 3 {
		postForm(t, wh, url.Values{
			"From": {"+15551234567"},
			"Body": {"ping"},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wh.Shutdown(ctx))

	stored, err := msgs.MessagesFor(context.Background(), 7, false, 50, 0)
	require.NoError(t, err)
	require.Len(t, stored, 6)

	seen := map[string]bool{}
	for _, m := range stored {
		if m.ParentID == nil {
			assert.False(t, seen[m.ConversationID], "delivery id reused")
			seen[m.ConversationID] = true
		}
	}
	assert.Len(t, seen, 3)
}
