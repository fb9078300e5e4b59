package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relay-ai/internal/domain"
)

// Agent is a registered, pluggable message handler specialized for one
// task domain. Chat receives the raw user message, a snapshot of the
// prior conversation, and the authenticated user's ID; maxTurns bounds
// how many sequential model-tool exchanges it may perform.
//
// The returned turn slice is a convenience view of what the agent
// appended; the Orchestrator's History remains the single authority.
type Agent interface {
	Name() string
	Description() string
	// Keywords returns the lowercase substrings that claim a message
	// for this agent.
	Keywords() []string
	Chat(ctx context.Context, message string, history []domain.Message, userID int64, maxTurns int) (string, []domain.Message, error)
}

// Fallback texts returned when a downstream call fails. The fallback is
// recorded as the assistant turn so history and reply never diverge.
const (
	agentApologyPrefix  = "I apologize, but I encountered an error while processing your request: "
	conversationApology = "I apologize, but I'm having trouble responding right now. Please try again later."
	emptyReplyFallback  = "I didn't understand that. Can you try again?"
	noAgentsRegistered  = "No agents registered."
)

// conversationPrompt steers the default (non-agent) path.
const conversationPrompt = `You are a helpful AI assistant for a messaging application.
Respond to the user's message in a friendly, helpful way.
Keep your response concise and conversational.
You can help with various tasks including managing facility reports and general questions.
Plain text only, no special characters or emojis.`

// OrchestratorConfig carries the tunables for an Orchestrator.
type OrchestratorConfig struct {
	// MaxHistory bounds each user's conversation history.
	MaxHistory int
	// MaxTurns is the model-tool exchange bound handed to agents.
	MaxTurns int
	// Model overrides the provider's default model when non-empty.
	Model string
}

// Orchestrator owns the per-user conversation histories and the agent
// registry, and routes each inbound message to a specialized agent or
// to the default conversational path.
//
// Its contract with callers is "always returns text to show the user":
// ProcessMessage converts every downstream failure into an apology
// string and never returns an error. The registry lock guards map
// bookkeeping only and is never held across a model call.
type Orchestrator struct {
	mu        sync.RWMutex
	histories map[int64]*History
	agents    map[string]Agent
	order     []string // registration order, for deterministic listing and tie-breaks

	provider domain.LLMProvider
	budget   *PromptBudget
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator with an empty registry.
// budget may be nil to disable prompt trimming.
func NewOrchestrator(provider domain.LLMProvider, budget *PromptBudget, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 5
	}
	return &Orchestrator{
		histories: make(map[int64]*History),
		agents:    make(map[string]Agent),
		provider:  provider,
		budget:    budget,
		cfg:       cfg,
		logger:    logger,
	}
}

// GetOrCreateHistory returns the user's history, creating it on first
// access. Subsequent calls for the same user return the same instance.
func (o *Orchestrator) GetOrCreateHistory(userID int64) *History {
	o.mu.RLock()
	h, ok := o.histories[userID]
	o.mu.RUnlock()
	if ok {
		return h
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histories[userID]; ok {
		return h
	}
	h = NewHistory(o.cfg.MaxHistory)
	o.histories[userID] = h
	return h
}

// ClearHistory empties the user's history. A user with no history yet
// is a no-op, not an error.
func (o *Orchestrator) ClearHistory(userID int64) {
	o.mu.RLock()
	h, ok := o.histories[userID]
	o.mu.RUnlock()
	if ok {
		h.Clear()
	}
}

// RegisterAgent inserts an agent into the registry. A name collision
// overwrites the previous registration (last one wins) with a warning.
func (o *Orchestrator) RegisterAgent(a Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := a.Name()
	if _, exists := o.agents[name]; exists {
		o.logger.Warn("agent already registered, overwriting", "agent", name)
	} else {
		o.order = append(o.order, name)
	}
	o.agents[name] = a
	o.logger.Info("agent registered", "agent", name)
}

// ListAgents returns a human-readable enumeration of registered agents.
func (o *Orchestrator) ListAgents() string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.order) == 0 {
		return noAgentsRegistered
	}
	var b strings.Builder
	b.WriteString("Available Agents:\n")
	for _, name := range o.order {
		fmt.Fprintf(&b, "  - %s: %s\n", name, o.agents[name].Description())
	}
	return strings.TrimSpace(b.String())
}

// route picks the agent claiming the message, or nil for the default
// path. Matching is a case-insensitive substring check against each
// agent's keyword set; the agent with the longest matched keyword wins,
// and equal lengths fall back to registration order.
func (o *Orchestrator) route(text string) Agent {
	lower := strings.ToLower(text)

	o.mu.RLock()
	defer o.mu.RUnlock()

	var best Agent
	bestLen := 0
	for _, name := range o.order {
		a := o.agents[name]
		for _, kw := range a.Keywords() {
			if kw == "" || !strings.Contains(lower, kw) {
				continue
			}
			if len(kw) > bestLen {
				best, bestLen = a, len(kw)
			}
		}
	}
	return best
}

// ProcessMessage handles one inbound message end-to-end and returns the
// reply text. It is safe to call concurrently; two racing calls for the
// same user both land in the same History.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userID int64, text string) string {
	hist := o.GetOrCreateHistory(userID)
	hist.Add(domain.RoleUser, text)

	o.logger.Info("processing message",
		"user_id", userID,
		"message", truncate(text, 100),
		"history_len", hist.Len(),
	)

	agent := o.route(text)
	if agent == nil {
		return o.handleConversation(ctx, hist)
	}

	o.logger.Debug("routing to agent", "agent", agent.Name(), "user_id", userID)

	// The snapshot already contains the user turn appended above; hand
	// the agent the prior turns so the message is not duplicated.
	prior := trimTrailingUserTurn(hist.Snapshot(), text)

	reply, _, err := agent.Chat(ctx, text, prior, userID, o.cfg.MaxTurns)
	if err != nil {
		o.logger.Error("agent failed",
			"agent", agent.Name(), "user_id", userID, "error", err)
		reply = agentApologyPrefix + err.Error()
	}
	hist.Add(domain.RoleAssistant, reply)
	return reply
}

// handleConversation is the default path: a plain completion over the
// system prompt and the trimmed history (which already ends with the
// new user turn).
func (o *Orchestrator) handleConversation(ctx context.Context, hist *History) string {
	snapshot := hist.Snapshot()
	msgs := make([]domain.Message, 0, len(snapshot)+1)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: conversationPrompt, Timestamp: time.Now()})
	msgs = append(msgs, snapshot...)
	msgs = o.budget.Fit(msgs)

	resp, err := o.provider.Chat(ctx, domain.ChatRequest{
		Model:    o.cfg.Model,
		Messages: msgs,
	})
	if err != nil {
		o.logger.Error("conversation completion failed", "error", err)
		hist.Add(domain.RoleAssistant, conversationApology)
		return conversationApology
	}

	content := CleanPortable(resp.Message.Content)
	if content == "" {
		content = emptyReplyFallback
	}
	hist.Add(domain.RoleAssistant, content)
	return content
}

// trimTrailingUserTurn drops the final turn when it is the user turn
// just appended for this call.
func trimTrailingUserTurn(msgs []domain.Message, text string) []domain.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == domain.RoleUser && msgs[n-1].Content == text {
		return msgs[:n-1]
	}
	return msgs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
