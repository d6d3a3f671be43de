// Package pipeline turns a research request into a cited answer. It offers a
// single-pass streaming agent and a graph engine with linear and supervisor
// topologies built from one shared set of stages.
package pipeline

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

// RequiredFieldsMessage is reported when a request lacks user_id or prompt
const RequiredFieldsMessage = "user_id and prompt are required"

// Request modes reported to metrics
const (
	ModeStream = "stream"
	ModeGraph  = "graph"
)

var validate = validator.New()

// ValidateRequest checks that both request fields are present
func ValidateRequest(req *types.ResearchRequest) error {
	if req == nil || validate.Struct(req) != nil {
		return errors.NewValidationError(RequiredFieldsMessage)
	}
	return nil
}

// Service runs requests through the streaming agent or the graph engine and
// guarantees one terminal event per delivered request
type Service struct {
	deps      Dependencies
	streaming *StreamingAgent
	engine    *Engine
	publisher interfaces.EventPublisher
	logger    interfaces.Logger
	metrics   interfaces.Metrics
}

// NewService wires the agents for topology. A nil publisher publishes
// nothing.
func NewService(deps Dependencies, topology string, publisher interfaces.EventPublisher) (*Service, error) {
	agents, err := NewAgents(deps)
	if err != nil {
		return nil, err
	}
	graph, err := NewGraph(topology, agents.Stages())
	if err != nil {
		return nil, err
	}
	return &Service{
		deps:      agents.deps,
		streaming: NewStreamingAgent(agents),
		engine:    NewEngine(graph, agents.deps.Logger, agents.deps.Metrics),
		publisher: publisher,
		logger:    agents.deps.Logger,
		metrics:   agents.deps.Metrics,
	}, nil
}

// Memory returns the memory store
func (s *Service) Memory() interfaces.MemoryStore { return s.deps.Memory }

// Conversations returns the conversation store
func (s *Service) Conversations() interfaces.ConversationStore { return s.deps.Conversations }

// Engine returns the graph engine used by Answer and RunGraph
func (s *Service) Engine() *Engine { return s.engine }

// Topology names the graph used by Answer and RunGraph
func (s *Service) Topology() string { return s.engine.Topology() }

// Search streams the single-pass agent's events to emit, ending with done or
// error. Validation failures are returned without emitting anything.
func (s *Service) Search(ctx context.Context, req *types.ResearchRequest, emit Emitter) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := s.newState(ctx, req)
	out := s.deliver(state.RequestID, emit, cancel)

	start := time.Now()
	s.log(state).Info("Starting search", nil)
	_, err := s.streaming.Run(ctx, state, out)
	return s.finish(ctx, ModeStream, state, out, start, err)
}

// Answer runs the graph and returns the final state
func (s *Service) Answer(ctx context.Context, req *types.ResearchRequest) (*types.PipelineState, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	state := s.newState(ctx, req)

	start := time.Now()
	result, err := s.engine.Run(ctx, state)
	s.observe(ModeGraph, start, err)
	if err != nil {
		s.log(state).Error("Graph run failed", err, nil)
		return result, err
	}
	return result, nil
}

// RunGraph runs the graph and replays the final state to emit as completion
// events followed by done
func (s *Service) RunGraph(ctx context.Context, req *types.ResearchRequest, emit Emitter) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := s.newState(ctx, req)
	out := s.deliver(state.RequestID, emit, cancel)

	start := time.Now()
	result, err := s.engine.Run(ctx, state)
	if err == nil {
		err = replay(ctx, result, out)
	}
	return s.finish(ctx, ModeGraph, state, out, start, err)
}

// replay sends the non-empty parts of a finished state
func replay(ctx context.Context, state *types.PipelineState, emit Emitter) error {
	var events []*types.Event
	if state.Rationale != "" {
		events = append(events, types.NewRationaleCompleteEvent(state.Rationale))
	}
	if state.RationaleHTML != "" {
		events = append(events, types.NewRationaleHTMLEvent(state.RationaleHTML))
	}
	if state.Answer != "" {
		events = append(events, types.NewAnswerCompleteEvent(state.Answer))
	}
	if state.AnswerHTML != "" {
		events = append(events, types.NewAnswerHTMLEvent(state.AnswerHTML))
	}
	if len(state.Citations) > 0 {
		events = append(events, types.NewCitationsEvent(state.Citations))
	}
	for _, event := range events {
		if err := emit(ctx, event); err != nil {
			return errors.NewClientDisconnectedError(err)
		}
	}
	return nil
}

// finish emits the terminal event for err and records the outcome
func (s *Service) finish(ctx context.Context, mode string, state *types.PipelineState, emit Emitter, start time.Time, err error) error {
	s.observe(mode, start, err)
	logger := s.log(state)

	if err == nil {
		logger.Info("Request completed", map[string]interface{}{"mode": mode, "duration": time.Since(start).String()})
		if emitErr := emit(ctx, types.NewDoneEvent()); emitErr != nil {
			return errors.NewClientDisconnectedError(emitErr)
		}
		return nil
	}

	if errors.HasCode(err, errors.ErrCodeClientDisconnected) {
		logger.Info("Client disconnected", map[string]interface{}{"mode": mode})
		return err
	}

	logger.Error("Request failed", err, map[string]interface{}{"mode": mode})
	// the request context may already be cancelled by the failure
	if emitErr := emit(context.WithoutCancel(ctx), types.NewErrorEvent(errors.PublicMessage(err))); emitErr != nil {
		logger.Warn("Failed to deliver error event", map[string]interface{}{"error": emitErr.Error()})
	}
	return err
}

// deliver wraps emit so every delivered event is mirrored to the publisher
// and a failed delivery cancels the request
func (s *Service) deliver(requestID string, emit Emitter, cancel context.CancelFunc) Emitter {
	return func(ctx context.Context, event *types.Event) error {
		if err := emit(ctx, event); err != nil {
			cancel()
			return err
		}
		s.publish(ctx, requestID, event)
		return nil
	}
}

func (s *Service) publish(ctx context.Context, requestID string, event *types.Event) {
	if s.publisher == nil {
		return
	}
	status := "ok"
	if err := s.publisher.Publish(context.WithoutCancel(ctx), requestID, event); err != nil {
		status = "error"
		s.logger.Warn("Failed to publish event", map[string]interface{}{
			"request_id": requestID,
			"type":       string(event.Type),
			"error":      err.Error(),
		})
	}
	s.metrics.Counter(metrics.EventsPublished, 1, map[string]string{"status": status})
}

func (s *Service) newState(ctx context.Context, req *types.ResearchRequest) *types.PipelineState {
	state := types.NewPipelineState(req.UserID, req.Prompt)
	state.RequestID = types.GetRequestContext(ctx).RequestID
	if state.RequestID == "" {
		state.RequestID = types.NewRequestContext(req.UserID).RequestID
	}
	return state
}

func (s *Service) observe(mode string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.HasCode(err, errors.ErrCodeClientDisconnected):
		status = "disconnected"
	default:
		status = "error"
	}
	s.metrics.Counter(metrics.PipelineRequests, 1, map[string]string{"mode": mode, "status": status})
	s.logger.Debug("Request observed", map[string]interface{}{
		"mode":     mode,
		"status":   status,
		"duration": time.Since(start).String(),
	})
}

func (s *Service) log(state *types.PipelineState) interfaces.Logger {
	return s.logger.WithFields(map[string]interface{}{
		"request_id": state.RequestID,
		"user_id":    state.UserID,
	})
}
