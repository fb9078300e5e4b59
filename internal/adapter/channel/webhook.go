// Package channel hosts inbound message channels that sit outside the
// REST gateway. The webhook channel accepts Twilio-style form posts,
// acknowledges immediately, and runs the orchestrator in the background.
package channel

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"relay-ai/internal/domain"
	"relay-ai/internal/usecase"
)

const twimlEmpty = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Webhook handles inbound SMS-style deliveries. Each delivery is
// processed by a background goroutine so the provider's webhook timeout
// never waits on an LLM round trip.
type Webhook struct {
	users        domain.UserStore
	messages     domain.MessageStore
	orchestrator *usecase.Orchestrator
	logger       *slog.Logger

	wg      sync.WaitGroup
	entropy *ulidSource
}

// ulidSource is a mutex-guarded monotonic entropy source; ulid readers
// are not safe for concurrent use.
type ulidSource struct {
	mu sync.Mutex
	r  *ulid.MonotonicEntropy
}

func (s *ulidSource) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Now(), s.r).String()
}

func NewWebhook(users domain.UserStore, messages domain.MessageStore, orch *usecase.Orchestrator, logger *slog.Logger) *Webhook {
	return &Webhook{
		users:        users,
		messages:     messages,
		orchestrator: orch,
		logger:       logger,
		entropy:      &ulidSource{r: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)},
	}
}

// ServeHTTP acknowledges the delivery with an empty TwiML document and
// hands the message to a background worker. Unknown senders are ACKed
// and dropped so the webhook never leaks which numbers are registered.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	from := strings.TrimSpace(r.PostFormValue("From"))
	body := strings.TrimSpace(r.PostFormValue("Body"))
	deliveryID := w.entropy.next()

	rw.Header().Set("Content-Type", "application/xml")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte(twimlEmpty))

	if from == "" || body == "" {
		w.logger.Warn("webhook delivery missing fields", "delivery_id", deliveryID)
		return
	}

	w.wg.Add(1)
	go w.process(deliveryID, from, body)
}

func (w *Webhook) process(deliveryID, from, body string) {
	defer w.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	u, err := w.users.UserByPhone(ctx, from)
	if err != nil {
		w.logger.Warn("webhook from unknown number", "delivery_id", deliveryID)
		return
	}

	w.logger.Info("webhook delivery accepted",
		"delivery_id", deliveryID, "user_id", u.ID)

	reply := w.orchestrator.ProcessMessage(ctx, u.ID, body)

	inbound := &domain.DirectMessage{
		SenderID:       u.ID,
		RecipientID:    u.ID,
		Content:        body,
		IsRead:         true,
		ConversationID: deliveryID,
	}
	if err := w.messages.InsertMessage(ctx, inbound); err != nil {
		w.logger.Error("persist webhook message failed", "error", err, "delivery_id", deliveryID)
		return
	}
	outbound := &domain.DirectMessage{
		SenderID:       u.ID,
		RecipientID:    u.ID,
		Content:        reply,
		IsRead:         true,
		ConversationID: deliveryID,
		ParentID:       &inbound.ID,
	}
	if err := w.messages.InsertMessage(ctx, outbound); err != nil {
		w.logger.Error("persist webhook reply failed", "error", err, "delivery_id", deliveryID)
	}
}

// Shutdown waits for in-flight deliveries to finish or ctx to expire.
func (w *Webhook) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
