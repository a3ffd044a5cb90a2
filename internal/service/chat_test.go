package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/gemini-relay/internal/llm"
	"github.com/capitalize-ai/gemini-relay/internal/model"
	"github.com/capitalize-ai/gemini-relay/internal/session"
	"github.com/capitalize-ai/gemini-relay/pkg/logger"
)

const testToken = "0123456789abcdef0123456789abcdef"

type fakeClient struct {
	mu       sync.Mutex
	requests []*llm.Request
	respond  func(ctx context.Context, req *llm.Request) *llm.Result
}

func (f *fakeClient) Generate(ctx context.Context, req *llm.Request) *llm.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(ctx, req)
	}
	return llm.Success("echo: " + req.Message.Text())
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) last() *llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*model.SessionEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, event *model.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newTestService(t *testing.T, client llm.Client, maxHistory int) (*ChatService, *session.Store, *fakePublisher) {
	t.Helper()
	store := session.NewStore()
	pub := &fakePublisher{}
	svc := NewChatService(store, client, pub, Config{
		MaxHistory:  maxHistory,
		CallTimeout: time.Second,
	}, logger.NewNop())
	return svc, store, pub
}

func TestAskStoresTurn(t *testing.T) {
	client := &fakeClient{}
	svc, store, pub := newTestService(t, client, 4)

	reply, err := svc.Ask(context.Background(), testToken, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply.Text)
	assert.Equal(t, 2, reply.HistoryLen)
	assert.Equal(t, 1, store.Len())

	_, err = svc.Ask(context.Background(), testToken, "again", nil)
	require.NoError(t, err)

	req := client.last()
	require.Len(t, req.History, 2)
	assert.Equal(t, "hello", req.History[0].Text())
	assert.Equal(t, "echo: hello", req.History[1].Text())
	assert.Equal(t, "again", req.Message.Text())

	assert.Equal(t, []model.EventType{model.EventTypeTurnCompleted, model.EventTypeTurnCompleted}, pub.types())
	assert.NotContains(t, pub.events[0].Token, "0123456789ab")
}

func TestAskPrunesToMaxHistory(t *testing.T) {
	client := &fakeClient{}
	svc, _, _ := newTestService(t, client, 4)

	for _, msg := range []string{"p1", "p2", "p3"} {
		_, err := svc.Ask(context.Background(), testToken, msg, nil)
		require.NoError(t, err)
	}
	_, err := svc.Ask(context.Background(), testToken, "p4", nil)
	require.NoError(t, err)

	req := client.last()
	require.Len(t, req.History, 4)
	assert.Equal(t, "p2", req.History[0].Text())
	assert.Equal(t, "p3", req.History[2].Text())
}

func TestAskFailureLeavesHistoryUntouched(t *testing.T) {
	fail := false
	client := &fakeClient{respond: func(_ context.Context, req *llm.Request) *llm.Result {
		if fail {
			return llm.Failure(errors.New("upstream 500"))
		}
		return llm.Success("ok")
	}}
	svc, store, pub := newTestService(t, client, 10)

	_, err := svc.Ask(context.Background(), testToken, "first", nil)
	require.NoError(t, err)

	fail = true
	_, err = svc.Ask(context.Background(), testToken, "second", nil)
	require.ErrorIs(t, err, ErrProvider)

	conv, err := store.GetOrCreate(testToken)
	require.NoError(t, err)
	defer store.Release(conv)
	assert.Equal(t, 2, conv.Len())
	assert.Contains(t, pub.types(), model.EventTypeTurnFailed)
}

func TestAskBlocked(t *testing.T) {
	client := &fakeClient{respond: func(context.Context, *llm.Request) *llm.Result {
		return llm.Blocked("SAFETY")
	}}
	svc, store, _ := newTestService(t, client, 10)

	_, err := svc.Ask(context.Background(), testToken, "bad", nil)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "SAFETY", blocked.Reason)

	conv, err := store.GetOrCreate(testToken)
	require.NoError(t, err)
	defer store.Release(conv)
	assert.Equal(t, 0, conv.Len())
}

func TestAskTimeout(t *testing.T) {
	client := &fakeClient{respond: func(ctx context.Context, _ *llm.Request) *llm.Result {
		<-ctx.Done()
		return llm.Failure(ctx.Err())
	}}
	store := session.NewStore()
	svc := NewChatService(store, client, nil, Config{
		MaxHistory:  4,
		CallTimeout: 20 * time.Millisecond,
	}, logger.NewNop())

	_, err := svc.Ask(context.Background(), testToken, "slow", nil)
	require.ErrorIs(t, err, llm.ErrTimeout)
	require.ErrorIs(t, err, ErrProvider)
}

func TestAskStatelessWhenHistoryDisabled(t *testing.T) {
	client := &fakeClient{}
	svc, store, _ := newTestService(t, client, 0)

	for i := 0; i < 3; i++ {
		reply, err := svc.Ask(context.Background(), testToken, "hi", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, reply.HistoryLen)
		assert.Empty(t, client.last().History)
	}
	assert.Equal(t, 0, store.Len())
}

func TestAskEmptyMessage(t *testing.T) {
	client := &fakeClient{}
	svc, store, _ := newTestService(t, client, 4)

	_, err := svc.Ask(context.Background(), testToken, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, client.requests)
	assert.Equal(t, 0, store.Len())
}

func TestAskImageOnly(t *testing.T) {
	client := &fakeClient{}
	svc, _, _ := newTestService(t, client, 4)

	img := &model.Image{MIMEType: "image/png", Data: []byte{1}}
	_, err := svc.Ask(context.Background(), testToken, "", img)
	require.NoError(t, err)
	assert.True(t, client.last().Message.HasImage())
}

func TestAskStoreFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	client := &fakeClient{respond: func(context.Context, *llm.Request) *llm.Result {
		close(started)
		<-block
		return llm.Success("ok")
	}}
	store := session.NewStore(session.WithMaxSessions(1))
	svc := NewChatService(store, client, nil, Config{MaxHistory: 2}, logger.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Ask(context.Background(), testToken, "hold", nil)
		done <- err
	}()
	<-started

	_, err := svc.Ask(context.Background(), "ffffffffffffffffffffffffffffffff", "other", nil)
	assert.ErrorIs(t, err, session.ErrStoreFull)

	close(block)
	require.NoError(t, <-done)
}

func TestResetDuringCallKeepsReset(t *testing.T) {
	var svc *ChatService
	client := &fakeClient{respond: func(ctx context.Context, _ *llm.Request) *llm.Result {
		svc.Reset(ctx, testToken)
		return llm.Success("late")
	}}
	svc, store, _ := newTestService(t, client, 4)

	reply, err := svc.Ask(context.Background(), testToken, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "late", reply.Text)

	assert.Equal(t, 0, store.Len())
}

func TestResetThenFreshConversation(t *testing.T) {
	client := &fakeClient{}
	svc, store, pub := newTestService(t, client, 4)

	_, err := svc.Ask(context.Background(), testToken, "hello", nil)
	require.NoError(t, err)

	assert.True(t, svc.Reset(context.Background(), testToken))
	assert.False(t, svc.Reset(context.Background(), testToken))

	conv, err := store.GetOrCreate(testToken)
	require.NoError(t, err)
	defer store.Release(conv)
	assert.Equal(t, 0, conv.Len())
	assert.Equal(t, []model.EventType{model.EventTypeTurnCompleted, model.EventTypeSessionReset}, pub.types())
}

func TestResetUnknownTokenPublishesNothing(t *testing.T) {
	svc, store, pub := newTestService(t, &fakeClient{}, 4)

	assert.False(t, svc.Reset(context.Background(), testToken))
	assert.Empty(t, pub.types())
	assert.Equal(t, 0, store.Len())
}

func TestOnReapPublishes(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeClient{}, 4)

	svc.OnReap(0)
	assert.Empty(t, pub.types())

	svc.OnReap(3)
	require.Len(t, pub.events, 1)
	assert.Equal(t, model.EventTypeSessionsReaped, pub.events[0].Type)
	assert.Equal(t, 3, pub.events[0].Removed)
}

func TestPublishFailureDoesNotFailTurn(t *testing.T) {
	svc, _, pub := newTestService(t, &fakeClient{}, 4)
	pub.err = errors.New("nats down")

	_, err := svc.Ask(context.Background(), testToken, "hello", nil)
	assert.NoError(t, err)
}
