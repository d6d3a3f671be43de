package pipeline

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/types"
)

// recorder collects emitted events and can simulate a client that goes away
type recorder struct {
	mu        sync.Mutex
	events    []*types.Event
	failAfter int
}

func (r *recorder) emit(ctx context.Context, event *types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter > 0 && len(r.events) >= r.failAfter {
		return stderrors.New("broken pipe")
	}
	r.events = append(r.events, event)
	return nil
}

// kinds returns the event types with consecutive repeats collapsed
func (r *recorder) kinds() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.EventType
	for _, e := range r.events {
		if len(out) > 0 && out[len(out)-1] == e.Type {
			continue
		}
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) ofType(t types.EventType) []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.IsTerminal() {
			n++
		}
	}
	return n
}

func (r *recorder) last() *types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type fakePublisher struct {
	mu        sync.Mutex
	requestID []string
	events    []*types.Event
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, requestID string, event *types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestID = append(p.requestID, requestID)
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func joinTokens(events []*types.Event) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString(e.Token)
	}
	return b.String()
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(&types.ResearchRequest{UserID: "alice", Prompt: "hi"}))

	for _, req := range []*types.ResearchRequest{
		nil,
		{},
		{UserID: "alice"},
		{Prompt: "hi"},
	} {
		err := ValidateRequest(req)
		require.Error(t, err)
		assert.True(t, errors.IsClientError(err))
		assert.Equal(t, RequiredFieldsMessage, errors.PublicMessage(err))
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	req := &types.ResearchRequest{UserID: "alice", Prompt: "What is the capital of France?"}

	t.Run("EventOrder", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		id := f.remember(t, "alice", "Paris is the capital of France")
		svc := f.service(t, config.TopologySupervisor)

		rec := &recorder{}
		require.NoError(t, svc.Search(ctx, req, rec.emit))

		assert.Equal(t, []types.EventType{
			types.EventRationaleToken,
			types.EventRationaleComplete,
			types.EventRationaleAnnotatedHTML,
			types.EventAnswerToken,
			types.EventAnswerComplete,
			types.EventAnswerAnnotatedHTML,
			types.EventCitations,
			types.EventDone,
		}, rec.kinds())
		assert.Equal(t, 1, rec.terminals())

		complete := rec.ofType(types.EventRationaleComplete)
		require.Len(t, complete, 1)
		assert.Equal(t, rationaleReply, complete[0].Rationale)
		assert.Equal(t, rationaleReply, joinTokens(rec.ofType(types.EventRationaleToken)))

		answers := rec.ofType(types.EventAnswerComplete)
		require.Len(t, answers, 1)
		assert.Equal(t, answerReply, answers[0].Answer)
		assert.Equal(t, answerReply, joinTokens(rec.ofType(types.EventAnswerToken)))

		citations := rec.ofType(types.EventCitations)
		require.Len(t, citations, 1)
		assert.Contains(t, citationIDs(citations[0].Citations), id)

		turns := f.conversations.stored("alice")
		require.Len(t, turns, 2)
		assert.Equal(t, req.Prompt, turns[0].Content)
		assert.Equal(t, answerReply, turns[1].Content)
	})

	t.Run("EmptyStores", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		f.deps.Memory = &slowMemory{MemoryStore: f.memory, addErr: stderrors.New("read only")}
		svc := f.service(t, config.TopologySupervisor)

		rec := &recorder{}
		require.NoError(t, svc.Search(ctx, req, rec.emit))
		assert.Equal(t, types.EventDone, rec.last().Type)
		assert.Equal(t, 1, rec.terminals())

		citations := rec.ofType(types.EventCitations)
		require.Len(t, citations, 1)
		assert.Empty(t, citations[0].Citations)
	})

	t.Run("GenerationFailure", func(t *testing.T) {
		model := routedLLM()
		model.StreamFailAfter = 2
		f := newFixture(t, model)
		svc := f.service(t, config.TopologySupervisor)

		rec := &recorder{}
		err := svc.Search(ctx, req, rec.emit)
		require.Error(t, err)

		assert.Equal(t, []types.EventType{types.EventRationaleToken, types.EventError}, rec.kinds())
		assert.Len(t, rec.ofType(types.EventRationaleToken), 2)
		assert.Equal(t, 1, rec.terminals())
		assert.Equal(t, errors.GenericClientMessage, rec.last().Message)
		assert.Empty(t, f.conversations.stored("alice"))
	})

	t.Run("ClientDisconnects", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		svc := f.service(t, config.TopologySupervisor)

		rec := &recorder{failAfter: 3}
		err := svc.Search(ctx, req, rec.emit)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeClientDisconnected))

		rec.mu.Lock()
		assert.Len(t, rec.events, 3)
		rec.mu.Unlock()
		assert.Zero(t, rec.terminals())
		assert.Empty(t, f.conversations.stored("alice"))

		// the prompt was remembered before the client went away
		all, err := f.memory.GetAll(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, req.Prompt, all[0].Memory)
	})

	t.Run("InvalidRequestEmitsNothing", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		svc := f.service(t, config.TopologySupervisor)

		rec := &recorder{}
		err := svc.Search(ctx, &types.ResearchRequest{Prompt: "hi"}, rec.emit)
		require.Error(t, err)
		assert.True(t, errors.IsClientError(err))
		assert.Empty(t, rec.kinds())
	})

	t.Run("ReadFailureEndsWithError", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		f.conversations.fetchErr = stderrors.New("no such table: conversation_history")
		svc := f.service(t, config.TopologySupervisor)

		rec := &recorder{}
		require.Error(t, svc.Search(ctx, req, rec.emit))
		assert.Equal(t, []types.EventType{types.EventError}, rec.kinds())
		assert.NotContains(t, rec.last().Message, "conversation_history")
	})

	t.Run("MirrorsToPublisher", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		publisher := &fakePublisher{}
		svc, err := NewService(f.deps, config.TopologySupervisor, publisher)
		require.NoError(t, err)

		rc := types.NewRequestContext("alice")
		rec := &recorder{}
		require.NoError(t, svc.Search(types.WithRequestContext(ctx, rc), req, rec.emit))

		rec.mu.Lock()
		defer rec.mu.Unlock()
		publisher.mu.Lock()
		defer publisher.mu.Unlock()
		require.Len(t, publisher.events, len(rec.events))
		for i := range rec.events {
			assert.Equal(t, rec.events[i].Type, publisher.events[i].Type)
			assert.Equal(t, rc.RequestID, publisher.requestID[i])
		}
	})

	t.Run("PublisherFailureIsIgnored", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		svc, err := NewService(f.deps, config.TopologySupervisor, &fakePublisher{err: stderrors.New("nats: connection closed")})
		require.NoError(t, err)

		rec := &recorder{}
		require.NoError(t, svc.Search(ctx, req, rec.emit))
		assert.Equal(t, types.EventDone, rec.last().Type)
	})
}

func TestRunGraph(t *testing.T) {
	ctx := context.Background()
	req := &types.ResearchRequest{UserID: "alice", Prompt: "What is the capital of France?"}

	t.Run("ReplaysFinalState", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		f.remember(t, "alice", "Paris is the capital of France")
		svc := f.service(t, config.TopologySupervisor)

		rec := &recorder{}
		require.NoError(t, svc.RunGraph(ctx, req, rec.emit))
		assert.Equal(t, []types.EventType{
			types.EventRationaleComplete,
			types.EventRationaleAnnotatedHTML,
			types.EventAnswerComplete,
			types.EventAnswerAnnotatedHTML,
			types.EventCitations,
			types.EventDone,
		}, rec.kinds())
		assert.Equal(t, answerReply, rec.ofType(types.EventAnswerComplete)[0].Answer)
	})

	t.Run("SkipsEmptyParts", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		f.deps.Memory = &slowMemory{MemoryStore: f.memory, addErr: stderrors.New("read only")}
		svc := f.service(t, config.TopologyLinear)

		rec := &recorder{}
		require.NoError(t, svc.RunGraph(ctx, req, rec.emit))
		assert.Equal(t, []types.EventType{
			types.EventRationaleComplete,
			types.EventAnswerComplete,
			types.EventAnswerAnnotatedHTML,
			types.EventDone,
		}, rec.kinds())
	})

	t.Run("FailureEndsWithError", func(t *testing.T) {
		f := newFixture(t, routedLLM())
		f.deps.Memory = &slowMemory{MemoryStore: f.memory, getAllErr: stderrors.New("collection mem0 not found")}
		svc := f.service(t, config.TopologyLinear)

		rec := &recorder{}
		err := svc.RunGraph(ctx, req, rec.emit)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeStageFailed))
		assert.Equal(t, []types.EventType{types.EventError}, rec.kinds())
		assert.Equal(t, errors.GenericClientMessage, rec.last().Message)
	})
}
