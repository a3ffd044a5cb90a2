// Package service provides the chat relay's business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/gemini-relay/internal/llm"
	"github.com/capitalize-ai/gemini-relay/internal/model"
	"github.com/capitalize-ai/gemini-relay/internal/session"
	"github.com/capitalize-ai/gemini-relay/internal/token"
	"github.com/capitalize-ai/gemini-relay/pkg/logger"
	"github.com/capitalize-ai/gemini-relay/pkg/metrics"
	"github.com/capitalize-ai/gemini-relay/pkg/tracing"
)

const eventPublishTimeout = 2 * time.Second

var (
	// ErrEmptyMessage is returned when neither text nor an image was sent.
	ErrEmptyMessage = errors.New("no message provided")

	// ErrProvider wraps failures reported by the model provider.
	ErrProvider = errors.New("model provider failed")
)

// BlockedError is returned when the provider refused to answer.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "response blocked: " + e.Reason
}

// EventPublisher publishes session events.
type EventPublisher interface {
	Publish(ctx context.Context, event *model.SessionEvent) error
}

// Config holds ChatService parameters.
type Config struct {
	// MaxHistory is the number of messages kept per token. It must be even;
	// zero disables history so every turn is stateless.
	MaxHistory int

	// CallTimeout bounds a single provider call.
	CallTimeout time.Duration
}

// Reply is a successful model answer.
type Reply struct {
	Text       string
	HistoryLen int
}

// ChatService relays messages to the model and keeps per-token history.
type ChatService struct {
	store  *session.Store
	client llm.Client
	events EventPublisher
	cfg    Config
	logger *logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewChatService creates a new chat service. events may be nil.
func NewChatService(
	store *session.Store,
	client llm.Client,
	events EventPublisher,
	cfg Config,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		store:  store,
		client: client,
		events: events,
		cfg:    cfg,
		logger: log.Named("chat"),
		tracer: tracing.Tracer("github.com/capitalize-ai/gemini-relay/internal/service"),
		now:    time.Now,
	}
}

// Ask sends one user message in the context of the token's history and
// records the exchange on success. On any failure history is left untouched.
func (s *ChatService) Ask(ctx context.Context, tok, text string, img *model.Image) (*Reply, error) {
	if strings.TrimSpace(text) == "" && img == nil {
		return nil, ErrEmptyMessage
	}

	userMsg := model.NewUserMessage(text, img, s.now())

	var (
		conv    *session.Conversation
		history []model.Message
	)
	if s.cfg.MaxHistory > 0 {
		c, err := s.store.GetOrCreate(tok)
		if err != nil {
			return nil, err
		}
		defer s.store.Release(c)
		conv = c
		history = c.Snapshot()
	}

	res := s.generate(ctx, &llm.Request{History: history, Message: userMsg})

	switch res.Outcome {
	case llm.OutcomeBlocked:
		metrics.TurnsTotal.WithLabelValues(res.Outcome.String()).Inc()
		s.logger.Info("model response blocked",
			zap.String("token", token.Mask(tok)),
			zap.String("reason", res.BlockReason),
		)
		s.publish(model.EventTypeTurnFailed, tok, 0, res.BlockReason)
		return nil, &BlockedError{Reason: res.BlockReason}

	case llm.OutcomeFailure:
		metrics.TurnsTotal.WithLabelValues(res.Outcome.String()).Inc()
		s.logger.Warn("model call failed",
			zap.String("token", token.Mask(tok)),
			zap.String("provider", s.client.Name()),
			zap.Error(res.Err),
		)
		s.publish(model.EventTypeTurnFailed, tok, 0, res.Err.Error())
		return nil, fmt.Errorf("%w: %w", ErrProvider, res.Err)
	}

	metrics.TurnsTotal.WithLabelValues(res.Outcome.String()).Inc()

	reply := &Reply{Text: res.Text}
	if conv != nil {
		pruned, err := conv.Commit(userMsg, model.NewModelMessage(res.Text, s.now()), s.cfg.MaxHistory)
		switch {
		case errors.Is(err, session.ErrDetached):
			// reset while the call was in flight
			s.logger.Debug("conversation reset during model call", zap.String("token", token.Mask(tok)))
		case err != nil:
			return nil, err
		default:
			metrics.PairsPrunedTotal.Add(float64(pruned))
		}
		reply.HistoryLen = conv.Len()
	}

	s.publish(model.EventTypeTurnCompleted, tok, reply.HistoryLen, "")
	return reply, nil
}

// Reset forgets the token's history. Resetting an unknown token is a no-op.
func (s *ChatService) Reset(ctx context.Context, tok string) bool {
	removed := s.store.Remove(tok)
	if !removed {
		return false
	}
	s.logger.Info("conversation reset", zap.String("token", token.Mask(tok)))
	s.publish(model.EventTypeSessionReset, tok, 0, "")
	return true
}

// SessionCount returns the number of conversations held.
func (s *ChatService) SessionCount() int {
	return s.store.Len()
}

// OnReap is a reaper listener publishing reap results.
func (s *ChatService) OnReap(removed int) {
	if removed == 0 || s.events == nil {
		return
	}
	s.emit(&model.SessionEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      model.EventTypeSessionsReaped,
		Removed:   removed,
		CreatedAt: s.now(),
	})
}

func (s *ChatService) generate(ctx context.Context, req *llm.Request) *llm.Result {
	ctx, span := s.tracer.Start(ctx, "llm.Generate",
		trace.WithAttributes(
			attribute.String("llm.provider", s.client.Name()),
			attribute.Int("chat.history_len", len(req.History)),
			attribute.Bool("chat.has_image", req.Message.HasImage()),
		),
	)
	defer span.End()

	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	res := s.client.Generate(ctx, req)
	if res == nil {
		res = llm.Failure(llm.ErrEmptyResponse)
	}
	if res.Outcome == llm.OutcomeFailure && res.Err == nil {
		res.Err = llm.ErrEmptyResponse
	}
	if res.Outcome == llm.OutcomeFailure && ctx.Err() == context.DeadlineExceeded && !errors.Is(res.Err, llm.ErrTimeout) {
		res.Err = fmt.Errorf("%w: %w", llm.ErrTimeout, res.Err)
	}

	metrics.RecordLLMCall(s.client.Name(), res.Outcome.String(), time.Since(start).Seconds(), res.TokensIn, res.TokensOut)

	span.SetAttributes(attribute.String("llm.outcome", res.Outcome.String()))
	if res.Outcome == llm.OutcomeFailure {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

func (s *ChatService) publish(t model.EventType, tok string, historyLen int, reason string) {
	if s.events == nil {
		return
	}
	s.emit(&model.SessionEvent{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       t,
		Token:      token.Mask(tok),
		HistoryLen: historyLen,
		Reason:     reason,
		CreatedAt:  s.now(),
	})
}

func (s *ChatService) emit(event *model.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()

	if err := s.events.Publish(ctx, event); err != nil {
		metrics.EventsPublishFailures.Inc()
		s.logger.Warn("failed to publish session event",
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}
