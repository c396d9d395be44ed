package workflow

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/orchestral-ai/orchestral/llm"
	"github.com/orchestral-ai/orchestral/types"
)

// RoutingExecutor 路由执行器
// 先用 Router Agent 对输入分类，再按路由表分派给专门的 Agent
type RoutingExecutor struct {
	*baseExecutor
	rc RoutingConfig

	selMu          sync.RWMutex
	classification string
	selected       []RouteDefinition
}

// NewRoutingExecutor 创建路由执行器
func NewRoutingExecutor(cfg Config, invoker llm.Invoker, opts ...Option) (*RoutingExecutor, error) {
	base, err := newBaseExecutor(TopologyRouting, cfg, invoker, opts...)
	if err != nil {
		return nil, err
	}
	return &RoutingExecutor{baseExecutor: base, rc: *cfg.Routing}, nil
}

// Execute implements Executor.
func (e *RoutingExecutor) Execute(ctx context.Context, opts ExecuteOptions) (*ExecutionResult, error) {
	e.selMu.Lock()
	e.classification = ""
	e.selected = nil
	e.selMu.Unlock()
	return e.execute(ctx, opts, e.run)
}

// Classification returns the router agent's raw output of the last run.
func (e *RoutingExecutor) Classification() string {
	e.selMu.RLock()
	defer e.selMu.RUnlock()
	return e.classification
}

// SelectedRoutes returns the routes chosen by the last run. Dispatch is
// single-route today, so the slice holds at most one entry; an empty
// slice means the fallback agent handled the input.
func (e *RoutingExecutor) SelectedRoutes() []RouteDefinition {
	e.selMu.RLock()
	defer e.selMu.RUnlock()
	out := make([]RouteDefinition, len(e.selected))
	copy(out, e.selected)
	return out
}

// run invokes the router, parses its classification against the route
// table, and dispatches exactly one downstream agent with the original
// input. A router invocation error is fatal; an unmatched classification
// falls back when a fallback agent is configured.
func (e *RoutingExecutor) run(rc *runContext) (string, error) {
	if err := e.checkInterrupt(rc); err != nil {
		return "", err
	}

	routerStep, err := e.runStep(rc, e.agentOrPanic(e.rc.RouterID), rc.opts.Input)
	if err != nil {
		return "", err
	}
	classification := routerStep.Output

	e.selMu.Lock()
	e.classification = classification
	e.selMu.Unlock()
	e.setMetadata("classification", classification)

	route := matchRoute(e.rc.Routes, classification)
	var target types.AgentDefinition
	switch {
	case route != nil:
		target = e.agentOrPanic(route.AgentID)
		e.selMu.Lock()
		e.selected = []RouteDefinition{*route}
		e.selMu.Unlock()
		e.setMetadata("route", route.ID)
		e.logger.Info("route selected",
			zap.String("route", route.ID),
			zap.String("agent_id", route.AgentID),
			zap.Int("priority", route.Priority),
		)
	case e.rc.FallbackID != "":
		target = e.agentOrPanic(e.rc.FallbackID)
		e.setMetadata("route", "fallback")
		e.logger.Info("no route matched, using fallback",
			zap.String("agent_id", e.rc.FallbackID),
		)
	default:
		return "", types.NewError(types.ErrParseFailure,
			"classification matched no route and no fallback agent is configured")
	}

	if err := e.checkInterrupt(rc); err != nil {
		return "", err
	}

	// The delegate receives the original input, not the classifier's
	// output; WithExplanation appends the rationale as extra context.
	input := rc.opts.Input
	if e.rc.WithExplanation {
		input = input + "\n\n[classifier rationale]\n" + classification
	}

	step, err := e.runStep(rc, target, input)
	if err != nil {
		return "", err
	}
	return step.Output, nil
}

// matchRoute selects the route whose id or trigger the classification
// contains, case-insensitive. The highest priority wins; ties keep the
// first-declared route. Returns nil when nothing matches.
func matchRoute(routes []RouteDefinition, classification string) *RouteDefinition {
	lowered := strings.ToLower(classification)

	var best *RouteDefinition
	for i := range routes {
		r := &routes[i]
		if !routeMatches(r, lowered) {
			continue
		}
		// Strictly greater keeps the first-declared route on ties.
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best
}

func routeMatches(r *RouteDefinition, lowered string) bool {
	if strings.Contains(lowered, strings.ToLower(r.ID)) {
		return true
	}
	for _, trigger := range r.Triggers {
		if trigger != "" && strings.Contains(lowered, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}
