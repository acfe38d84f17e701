// Package suggestion consults an external recommender for next transitions
// and keeps only what the engine would currently allow.
package suggestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
)

const (
	// DefaultTimeout bounds one recommender call
	DefaultTimeout = 3 * time.Second
	// DefaultMaxResults caps the returned list
	DefaultMaxResults = 3
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Gateway filters recommender output through the engine's transition preview
type Gateway struct {
	engine      workflow.WorkflowEngine
	recommender port.Recommender
	timeout     time.Duration
	maxResults  int
	withHistory bool
	metrics     port.MetricsRecorder
	logger      Logger
}

// Option configures a Gateway
type Option func(*Gateway)

// WithTimeout bounds each recommender call
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMaxResults caps how many suggestions are returned
func WithMaxResults(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxResults = n
		}
	}
}

// WithHistory passes the instance ledger to the recommender
func WithHistory(enabled bool) Option {
	return func(g *Gateway) { g.withHistory = enabled }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m port.MetricsRecorder) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithLogger sets the gateway logger
func WithLogger(l Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a Gateway. A nil recommender yields no suggestions.
func NewGateway(engine workflow.WorkflowEngine, recommender port.Recommender, opts ...Option) *Gateway {
	g := &Gateway{
		engine:      engine,
		recommender: recommender,
		timeout:     DefaultTimeout,
		maxResults:  DefaultMaxResults,
		withHistory: true,
		metrics:     port.NopMetrics{},
		logger:      nopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Suggest returns ranked next transitions that are legal and guard-passing
// right now. Recommender failures degrade to an empty list; only a missing
// instance is reported as an error.
func (g *Gateway) Suggest(ctx context.Context, instanceID string, entitySnapshot map[string]any) ([]port.Suggestion, error) {
	view, err := g.engine.Inspect(ctx, instanceID, entitySnapshot)
	if err != nil {
		return nil, err
	}

	out := []port.Suggestion{}
	if g.recommender == nil || !view.Instance.IsRunning() {
		return out, nil
	}

	allowed := make(map[string]struct{}, len(view.Available))
	candidates := make([]port.CandidateTransition, 0, len(view.Available))
	for _, t := range view.Available {
		if !t.GuardPassed {
			continue
		}
		allowed[t.To] = struct{}{}
		candidates = append(candidates, port.CandidateTransition{
			ToState:  t.To,
			Guard:    t.Guard,
			Action:   t.Action,
			Metadata: t.Metadata,
		})
	}
	if len(candidates) == 0 {
		return out, nil
	}

	req := &port.RecommendRequest{
		Definition: view.Definition,
		Instance:   view.Instance,
		Entity:     entitySnapshot,
		Candidates: candidates,
	}
	if g.withHistory {
		if history, err := g.engine.History(ctx, instanceID); err == nil {
			req.History = history
		}
	}

	raw, err := g.recommend(ctx, req)
	if err != nil {
		g.logger.Error("Recommender unavailable, returning no suggestions",
			"instance_id", instanceID,
			"error", err,
		)
		g.metrics.SuggestionsServed(0, 0, err)
		return out, nil
	}

	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		to := strings.TrimSpace(s.ToState)
		if _, ok := allowed[to]; !ok {
			continue
		}
		if _, dup := seen[to]; dup {
			continue
		}
		seen[to] = struct{}{}
		out = append(out, port.Suggestion{ToState: to, Reason: strings.TrimSpace(s.Reason)})
		if len(out) == g.maxResults {
			break
		}
	}

	g.logger.Info("Suggestions served",
		"instance_id", instanceID,
		"offered", len(raw),
		"accepted", len(out),
	)
	g.metrics.SuggestionsServed(len(raw), len(out), nil)
	return out, nil
}

// recommend bounds the call even when the recommender ignores ctx
func (g *Gateway) recommend(ctx context.Context, req *port.RecommendRequest) ([]port.Suggestion, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		suggestions []port.Suggestion
		err         error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("recommender panic: %v", r)}
			}
		}()
		s, err := g.recommender.Recommend(callCtx, req)
		done <- result{suggestions: s, err: err}
	}()

	select {
	case res := <-done:
		return res.suggestions, res.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("recommender timed out after %s", g.timeout)
		}
		return nil, callCtx.Err()
	}
}
