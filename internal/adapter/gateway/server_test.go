package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-ai/internal/adapter/store"
	"relay-ai/internal/auth"
	"relay-ai/internal/domain"
	"relay-ai/internal/infra/config"
	"relay-ai/internal/usecase"
)

type cannedProvider struct {
	reply string
}

func (p *cannedProvider) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: p.reply},
	}, nil
}

func (p *cannedProvider) Name() string { return "canned" }

type wordCounter struct{}

func (wordCounter) Count(s string) int { return len(strings.Fields(s)) }

type testEnv struct {
	srv   *httptest.Server
	store *store.SQLiteStore
	jwt   *auth.JWTManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	jwtMgr, err := auth.NewJWTManager("", "relay-test", time.Hour)
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	budget := usecase.NewPromptBudgetWithCounter(1000, wordCounter{}, logger)
	orch := usecase.NewOrchestrator(&cannedProvider{reply: "Hello from the assistant."}, budget,
		usecase.OrchestratorConfig{MaxHistory: 20, Model: "test-model"}, logger)

	gw := NewServer(config.ServerConfig{}, Deps{
		Users:        st,
		Messages:     st,
		Reports:      st,
		Orchestrator: orch,
		JWT:          jwtMgr,
		Logger:       logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(gw.Handler(ctx))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: st, jwt: jwtMgr}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) register(t *testing.T, username string) (int64, string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	u := decode[domain.User](t, resp)

	resp = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username,
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := decode[tokenResponse](t, resp)
	return u.ID, tok.AccessToken
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	_, token := env.register(t, "alice")
	require.NotEmpty(t, token)

	resp := env.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[domain.User](t, resp)
	assert.Equal(t, "alice", me.Username)
	assert.Empty(t, me.HashedPassword)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "short",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "carol")

	resp := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "carol",
		"email":    "other@example.com",
		"password": "correct-horse",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "dave")

	resp := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "dave",
		"password": "wrong-password",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "nobody",
		"password": "whatever-long",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/auth/me", "/messages", "/reports", "/ai/history"} {
		resp := env.do(t, http.MethodGet, path, "", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := env.do(t, http.MethodGet, "/auth/me", "not-a-token", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMessageFlow(t *testing.T) {
	env := newTestEnv(t)
	_, aliceTok := env.register(t, "alice")
	bobID, bobTok := env.register(t, "bob")

	resp := env.do(t, http.MethodPost, "/messages", aliceTok, map[string]any{
		"recipient_id": bobID,
		"content":      "hey bob",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[domain.DirectMessage](t, resp)
	assert.Equal(t, bobID, msg.RecipientID)

	resp = env.do(t, http.MethodGet, "/messages?unread_only=true", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[[]domain.DirectMessage](t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hey bob", msgs[0].Content)

	resp = env.do(t, http.MethodGet, "/messages/unread/count", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	count := decode[map[string]int](t, resp)
	assert.Equal(t, 1, count["unread_count"])

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/messages/%d/read", msg.ID), bobTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/messages/unread/count", bobTok, nil)
	count = decode[map[string]int](t, resp)
	assert.Equal(t, 0, count["unread_count"])
}

func TestMessageOwnership(t *testing.T) {
	env := newTestEnv(t)
	_, aliceTok := env.register(t, "alice")
	bobID, _ := env.register(t, "bob")
	_, eveTok := env.register(t, "eve")

	resp := env.do(t, http.MethodPost, "/messages", aliceTok, map[string]any{
		"recipient_id": bobID,
		"content":      "private",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[domain.DirectMessage](t, resp)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/messages/%d", msg.ID), eveTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Only the recipient may mark a message read.
	resp = env.do(t, http.MethodPut, fmt.Sprintf("/messages/%d/read", msg.ID), eveTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageUnknownRecipient(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/messages", tok, map[string]any{
		"recipient_id": 999,
		"content":      "hello?",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/reports", tok, map[string]string{
		"title":   "Broken AC",
		"content": "The AC in room 12 is leaking.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rep := decode[domain.Report](t, resp)
	assert.Equal(t, domain.ReportOpen, rep.Status)

	resp = env.do(t, http.MethodGet, "/reports", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reports := decode[[]domain.Report](t, resp)
	require.Len(t, reports, 1)

	newTitle := "Broken AC unit"
	resp = env.do(t, http.MethodPut, fmt.Sprintf("/reports/%d", rep.ID), tok, map[string]any{
		"title": newTitle,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[domain.Report](t, resp)
	assert.Equal(t, newTitle, updated.Title)
}

func TestReportForeignAccess(t *testing.T) {
	env := newTestEnv(t)
	_, aliceTok := env.register(t, "alice")
	_, eveTok := env.register(t, "eve")

	resp := env.do(t, http.MethodPost, "/reports", aliceTok, map[string]string{
		"title":   "Leaky tap",
		"content": "Kitchen tap drips.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rep := decode[domain.Report](t, resp)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/reports/%d", rep.ID), eveTok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/reports/%d", rep.ID), eveTok, map[string]any{
		"title": "hijacked",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportStatusAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	aliceID, aliceTok := env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/reports", aliceTok, map[string]string{
		"title":   "Broken light",
		"content": "Hallway light flickers.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rep := decode[domain.Report](t, resp)

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/reports/%d/status", rep.ID), aliceTok, map[string]string{
		"status": "resolved",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Mint an admin token directly; there is no admin-promotion endpoint.
	adminTok, _, err := env.jwt.IssueToken(&domain.User{ID: aliceID, Username: "alice", IsAdmin: true})
	require.NoError(t, err)

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/reports/%d/status", rep.ID), adminTok, map[string]string{
		"status":  "resolved",
		"comment": "Replaced the bulb.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decode[domain.Report](t, resp)
	assert.Equal(t, domain.ReportResolved, resolved.Status)
	assert.Equal(t, "Replaced the bulb.", resolved.Comment)

	// Resolved reports can no longer be edited by the reporter.
	resp = env.do(t, http.MethodPut, fmt.Sprintf("/reports/%d", rep.ID), aliceTok, map[string]any{
		"title": "still broken",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReportStatusRejectsOpen(t *testing.T) {
	env := newTestEnv(t)
	aliceID, aliceTok := env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/reports", aliceTok, map[string]string{
		"title":   "Squeaky door",
		"content": "Office door squeaks.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rep := decode[domain.Report](t, resp)

	adminTok, _, err := env.jwt.IssueToken(&domain.User{ID: aliceID, Username: "alice", IsAdmin: true})
	require.NoError(t, err)

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/reports/%d/status", rep.ID), adminTok, map[string]string{
		"status": "open",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAIChatPersistsBothSides(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/ai/chat", tok, map[string]string{
		"message": "hi there",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chat := decode[chatResponse](t, resp)
	assert.Equal(t, "Hello from the assistant.", chat.Response)

	resp = env.do(t, http.MethodGet, "/messages", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[[]domain.DirectMessage](t, resp)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.Equal(t, "Hello from the assistant.", msgs[1].Content)
	require.NotNil(t, msgs[1].ParentID)
	assert.Equal(t, msgs[0].ID, *msgs[1].ParentID)
}

func TestAIHistoryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.register(t, "alice")

	resp := env.do(t, http.MethodGet, "/ai/history", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist := decode[[]domain.Message](t, resp)
	assert.Empty(t, hist)

	resp = env.do(t, http.MethodPost, "/ai/chat", tok, map[string]string{"message": "hello"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/ai/history", tok, nil)
	hist = decode[[]domain.Message](t, resp)
	require.Len(t, hist, 2)
	assert.Equal(t, domain.RoleUser, hist[0].Role)
	assert.Equal(t, domain.RoleAssistant, hist[1].Role)

	resp = env.do(t, http.MethodDelete, "/ai/history", tok, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/ai/history", tok, nil)
	hist = decode[[]domain.Message](t, resp)
	assert.Empty(t, hist)
}

func TestAIAgentsListing(t *testing.T) {
	env := newTestEnv(t)
	_, tok := env.register(t, "alice")

	resp := env.do(t, http.MethodGet, "/ai/agents", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "No agents registered.", body["agents"])
}

func TestSecurityHeadersPresent(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
