package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relay-ai/internal/domain"
)

const userScopeRequired = "Error: a signed-in user is required for this operation. Please sign in and try again."

// ToolAgent is a tool-calling agent: one completion with the tool
// schemas attached, execution of whatever calls the model requests,
// then a closing completion over the tool results. It satisfies the
// Agent interface for Orchestrator registration.
type ToolAgent struct {
	name         string
	description  string
	systemPrompt string
	keywords     []string
	model        string

	provider domain.LLMProvider
	tools    domain.ToolExecutor
	budget   *PromptBudget
	logger   *slog.Logger
}

// ToolAgentConfig assembles a ToolAgent. Name, Provider and Tools are
// required; Model empty means the provider's default.
type ToolAgentConfig struct {
	Name         string
	Description  string
	SystemPrompt string
	Keywords     []string
	Model        string
}

func NewToolAgent(cfg ToolAgentConfig, provider domain.LLMProvider, tools domain.ToolExecutor, budget *PromptBudget, logger *slog.Logger) *ToolAgent {
	return &ToolAgent{
		name:         cfg.Name,
		description:  cfg.Description,
		systemPrompt: cfg.SystemPrompt,
		keywords:     cfg.Keywords,
		model:        cfg.Model,
		provider:     provider,
		tools:        tools,
		budget:       budget,
		logger:       logger,
	}
}

func (a *ToolAgent) Name() string        { return a.name }
func (a *ToolAgent) Description() string { return a.description }
func (a *ToolAgent) Keywords() []string  { return a.keywords }

// Chat runs one model-tool exchange for the message. userID scopes
// every tool execution; a zero ID is rejected with an explicit error
// text rather than reaching the data layer. maxTurns is the exchange
// bound; values below one are treated as one.
//
// Tool-level failures (unknown function, execution error) are folded
// into the tool results and the model composes the reply over them.
// Model-call failures surface as the returned error; the caller decides
// the user-visible fallback.
func (a *ToolAgent) Chat(ctx context.Context, message string, history []domain.Message, userID int64, maxTurns int) (string, []domain.Message, error) {
	if userID <= 0 {
		a.logger.Warn("chat rejected, no user scope", "agent", a.name)
		return userScopeRequired, history, nil
	}
	if maxTurns < 1 {
		maxTurns = 1
	}
	ctx = domain.ContextWithUserID(ctx, userID)

	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: a.promptWithFunctions(), Timestamp: time.Now()})
	msgs = append(msgs, history...)
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: message, Timestamp: time.Now()})
	msgs = a.budget.Fit(msgs)

	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Model:      a.model,
		Messages:   msgs,
		Tools:      a.tools.Schemas(),
		ToolChoice: domain.ToolChoiceAuto,
	})
	if err != nil {
		return "", history, domain.WrapOp("agent.chat", err)
	}

	reply := resp.Message.Content
	if len(resp.Message.ToolCalls) > 0 {
		msgs = append(msgs, resp.Message)
		msgs = append(msgs, a.executeCalls(ctx, resp.Message.ToolCalls)...)

		// Closing completion, tools withheld so the model answers in text.
		final, err := a.provider.Chat(ctx, domain.ChatRequest{
			Model:    a.model,
			Messages: msgs,
		})
		if err != nil {
			return "", history, domain.WrapOp("agent.chat", err)
		}
		reply = final.Message.Content
	}

	reply = CleanPortable(reply)
	if reply == "" {
		reply = emptyReplyFallback
	}

	turns := append(msgs, domain.Message{Role: domain.RoleAssistant, Content: reply, Timestamp: time.Now()})
	return reply, turns, nil
}

// executeCalls runs every requested call and returns the tool result
// messages in call order. Calls run concurrently; the indexed slice
// keeps result order aligned with request order.
func (a *ToolAgent) executeCalls(ctx context.Context, calls []domain.ToolCall) []domain.Message {
	results := make([]domain.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call domain.ToolCall) {
			defer wg.Done()
			results[i] = a.executeCall(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (a *ToolAgent) executeCall(ctx context.Context, call domain.ToolCall) domain.Message {
	msg := domain.Message{
		Role:      domain.RoleTool,
		Name:      call.Name,
		ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
		Timestamp: time.Now(),
	}

	tool, err := a.tools.Get(call.Name)
	if err != nil {
		a.logger.Warn("unknown function requested", "agent", a.name, "function", call.Name)
		msg.Content = fmt.Sprintf("Function %s not available", call.Name)
		return msg
	}

	args := call.Arguments
	if len(args) == 0 || !json.Valid(args) {
		a.logger.Warn("malformed function arguments, using empty set",
			"agent", a.name, "function", call.Name)
		args = json.RawMessage(`{}`)
	}

	a.logger.Debug("executing function", "agent", a.name, "function", call.Name)
	res, err := tool.Execute(ctx, args)
	if err != nil {
		a.logger.Error("function failed", "agent", a.name, "function", call.Name, "error", err)
		msg.Content = fmt.Sprintf("Error executing %s: %v", call.Name, err)
		return msg
	}
	msg.Content = res.Content
	return msg
}

// promptWithFunctions appends the callable function inventory to the
// system prompt so the model knows what it can reach for.
func (a *ToolAgent) promptWithFunctions() string {
	schemas := a.tools.Schemas()
	if len(schemas) == 0 {
		return a.systemPrompt
	}
	var b strings.Builder
	b.WriteString(a.systemPrompt)
	b.WriteString("\n\nAvailable functions:\n")
	for _, s := range schemas {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return strings.TrimSpace(b.String())
}
