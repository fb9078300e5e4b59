package usecase

import (
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"relay-ai/internal/domain"
)

// perTurnOverhead approximates the non-content tokens (role markers,
// separators) each chat turn contributes to the prompt.
const perTurnOverhead = 4

// TokenCounter estimates the token count of a text fragment.
type TokenCounter interface {
	Count(s string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(s string) int {
	return len(c.enc.Encode(s, nil, nil))
}

// PromptBudget bounds the token size of outgoing completion requests.
// When a message list exceeds the budget, the oldest history turns are
// dropped from the request; the stored history is never touched.
type PromptBudget struct {
	maxTokens int
	counter   TokenCounter
	logger    *slog.Logger
}

// NewPromptBudget creates a budget backed by the cl100k_base encoding.
func NewPromptBudget(maxTokens int, logger *slog.Logger) (*PromptBudget, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load token encoding: %w", err)
	}
	return NewPromptBudgetWithCounter(maxTokens, tiktokenCounter{enc: enc}, logger), nil
}

// NewPromptBudgetWithCounter creates a budget with an injected counter.
func NewPromptBudgetWithCounter(maxTokens int, counter TokenCounter, logger *slog.Logger) *PromptBudget {
	return &PromptBudget{maxTokens: maxTokens, counter: counter, logger: logger}
}

// Estimate returns the approximate prompt token count for msgs.
func (b *PromptBudget) Estimate(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += b.counter.Count(m.Content) + perTurnOverhead
	}
	return total
}

// Fit drops the oldest droppable turns until msgs is within budget.
// The first message (system prompt) and the last message (the new user
// turn) are always kept. A nil PromptBudget fits everything.
func (b *PromptBudget) Fit(msgs []domain.Message) []domain.Message {
	if b == nil || b.maxTokens <= 0 || len(msgs) <= 2 {
		return msgs
	}

	total := b.Estimate(msgs)
	if total <= b.maxTokens {
		return msgs
	}

	kept := make([]domain.Message, len(msgs))
	copy(kept, msgs)
	dropped := 0
	for total > b.maxTokens && len(kept) > 2 {
		victim := kept[1]
		total -= b.counter.Count(victim.Content) + perTurnOverhead
		kept = append(kept[:1], kept[2:]...)
		dropped++
	}

	if dropped > 0 {
		b.logger.Debug("prompt over budget, dropped oldest turns",
			"dropped", dropped, "estimated_tokens", total, "budget", b.maxTokens)
	}
	return kept
}
