package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/types"
)

// End is the route value that stops a graph
const End = ""

// Route picks the stage that follows a completed stage
type Route func(state *types.PipelineState) string

// Graph is a topology over named stages
type Graph struct {
	Name   string
	Start  string
	Stages map[string]Stage
	Routes map[string]Route
}

// Then returns a route that always continues with next
func Then(next string) Route {
	return func(*types.PipelineState) string { return next }
}

// chain routes names in order and ends after the last one
func chain(routes map[string]Route, names ...string) {
	for i, name := range names {
		if i == len(names)-1 {
			routes[name] = Then(End)
		} else {
			routes[name] = Then(names[i+1])
		}
	}
}

var answerChain = []string{
	StageMemoryAgent,
	StageConversationAgent,
	StageContextAgent,
	StageReasoningAgent,
	StageAnswerAgent,
	StageCitationAgent,
}

// LinearGraph runs the answer chain from memory_agent to citation_agent
func LinearGraph(stages map[string]Stage) *Graph {
	g := &Graph{
		Name:   config.TopologyLinear,
		Start:  StageMemoryAgent,
		Stages: stages,
		Routes: make(map[string]Route),
	}
	chain(g.Routes, answerChain...)
	return g
}

// SupervisorGraph retrieves in parallel, lets the supervisor inspect the
// evidence and then runs the answer chain unless clarifications were asked
func SupervisorGraph(stages map[string]Stage) *Graph {
	g := &Graph{
		Name:   config.TopologySupervisor,
		Start:  StageMergeRetrievals,
		Stages: stages,
		Routes: make(map[string]Route),
	}
	g.Routes[StageMergeRetrievals] = Then(StageSupervisor)
	g.Routes[StageSupervisor] = func(s *types.PipelineState) string {
		if s.NeedsClarification() {
			return End
		}
		return StageMemoryAgent
	}
	chain(g.Routes, answerChain...)
	return g
}

// NewGraph returns the graph named by topology
func NewGraph(topology string, stages map[string]Stage) (*Graph, error) {
	switch topology {
	case config.TopologyLinear:
		return LinearGraph(stages), nil
	case config.TopologySupervisor, "":
		return SupervisorGraph(stages), nil
	default:
		return nil, errors.NewConfigInvalidError(fmt.Sprintf("unknown topology: %s", topology))
	}
}

// StageObserver is called with a copy of the state after each stage
type StageObserver func(stage string, state *types.PipelineState)

// Engine walks a graph, merging every stage's output into the state
type Engine struct {
	graph     *Graph
	logger    interfaces.Logger
	metrics   interfaces.Metrics
	observers []StageObserver
}

// NewEngine creates an engine for graph
func NewEngine(graph *Graph, logger interfaces.Logger, m interfaces.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Engine{graph: graph, logger: logger, metrics: m}
}

// Observe registers fn to be called after every completed stage
func (e *Engine) Observe(fn StageObserver) {
	e.observers = append(e.observers, fn)
}

// Topology returns the name of the engine's graph
func (e *Engine) Topology() string {
	return e.graph.Name
}

// Run executes the graph from its start stage on a copy of state. A stage
// error stops the run; the state reached so far is returned with it.
func (e *Engine) Run(ctx context.Context, state *types.PipelineState) (*types.PipelineState, error) {
	current := state.Clone()
	current.Normalize()

	maxSteps := len(e.graph.Stages) + 1
	name := e.graph.Start
	for step := 0; name != End; step++ {
		if step >= maxSteps {
			return current, errors.NewInternalError(fmt.Sprintf("graph %s did not terminate", e.graph.Name))
		}
		if err := ctx.Err(); err != nil {
			return current, errors.NewStageError(name, err)
		}

		stage, ok := e.graph.Stages[name]
		if !ok {
			return current, errors.NewInternalError(fmt.Sprintf("graph %s has no stage %s", e.graph.Name, name))
		}

		if err := e.runStage(ctx, stage, current); err != nil {
			return current, err
		}

		route, ok := e.graph.Routes[name]
		if !ok {
			break
		}
		next := route(current)
		if e.logger != nil {
			e.logger.Debug("Stage transition", map[string]interface{}{
				"request_id": current.RequestID,
				"from":       name,
				"to":         nextName(next),
			})
		}
		name = next
	}
	return current, nil
}

func (e *Engine) runStage(ctx context.Context, stage Stage, state *types.PipelineState) error {
	labels := map[string]string{"stage": stage.Name}
	start := time.Now()

	out, err := stage.Run(ctx, state.Clone())
	e.metrics.Timer(metrics.StageDuration, time.Since(start).Seconds(), labels)
	if err != nil {
		e.metrics.Counter(metrics.StageErrors, 1, labels)
		if e.logger != nil {
			e.logger.Error("Stage failed", err, map[string]interface{}{
				"request_id": state.RequestID,
				"stage":      stage.Name,
			})
		}
		return errors.NewStageError(stage.Name, err).WithRequestID(state.RequestID)
	}

	out.Apply(state, stage.Writes)
	for _, fn := range e.observers {
		fn(stage.Name, state.Clone())
	}
	return nil
}

func nextName(next string) string {
	if next == End {
		return "END"
	}
	return next
}
