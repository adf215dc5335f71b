// Package scheduler enforces the execution policy for tool calls: lookup,
// enablement, rate limiting, parameter validation, and timeout-bounded
// execution, with per-tool statistics.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/prismlabs/prism/internal/config"
	"github.com/prismlabs/prism/internal/observability"
	"github.com/prismlabs/prism/internal/ratelimit"
	"github.com/prismlabs/prism/internal/tools"
	"github.com/prismlabs/prism/pkg/models"
)

// Scheduler sits between the agent loop and the tool implementations.
// It is safe for concurrent use; window and statistics updates happen
// under its own lock, everything else is stateless per call.
type Scheduler struct {
	registry       *tools.Registry
	policies       map[string]config.ToolPolicy
	limiter        *ratelimit.Limiter
	defaultTimeout time.Duration
	log            *observability.Logger
	metrics        *observability.Metrics

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
	stats   map[string]*Stats
}

// Options configures a single Schedule call.
type Options struct {
	// SessionID stamps emitted events.
	SessionID string
	// Timeout overrides the per-tool and global timeouts when positive.
	Timeout time.Duration
	// Emit receives tool_start, tool_progress, and tool_complete events.
	// May be nil.
	Emit func(*models.StreamEvent)
}

// New creates a scheduler over the given registry and tool policies.
func New(registry *tools.Registry, policies map[string]config.ToolPolicy, defaultTimeout time.Duration, log *observability.Logger, metrics *observability.Metrics) *Scheduler {
	if defaultTimeout <= 0 {
		defaultTimeout = config.DefaultToolTimeout
	}
	if policies == nil {
		policies = map[string]config.ToolPolicy{}
	}
	return &Scheduler{
		registry:       registry,
		policies:       policies,
		limiter:        ratelimit.NewLimiter(ratelimit.DefaultWindow),
		defaultTimeout: defaultTimeout,
		log:            log,
		metrics:        metrics,
		schemas:        make(map[string]*jsonschema.Schema),
		stats:          make(map[string]*Stats),
	}
}

// Schedule runs one tool call through the policy pipeline, mutating the
// call record in place. Tool failures are reported through the call's
// status and error fields, never through the returned error; the return
// is non-nil only for cancellation of the parent context.
func (s *Scheduler) Schedule(ctx context.Context, call *models.ToolCall, opts Options) error {
	emit := opts.Emit
	if emit == nil {
		emit = func(*models.StreamEvent) {}
	}

	tool, ok := s.registry.Get(call.Name)
	if !ok {
		s.recordLookup(call.Name)
		s.fail(call, opts.SessionID, emit, models.ErrCodeValidation, fmt.Sprintf("unknown tool %q", call.Name))
		return nil
	}

	policy := s.policies[call.Name]
	if !policy.IsEnabled() {
		s.record(call.Name, 0, false)
		s.fail(call, opts.SessionID, emit, models.ErrCodeConfiguration, fmt.Sprintf("tool %q is disabled", call.Name))
		return nil
	}

	if !s.limiter.Allow(call.Name, policy.RateLimit) {
		wait := s.limiter.RetryAfter(call.Name, policy.RateLimit)
		s.record(call.Name, 0, false)
		s.fail(call, opts.SessionID, emit, models.ErrCodeRateLimit,
			fmt.Sprintf("tool %q exceeded %d calls per minute, retry in %s", call.Name, policy.RateLimit, wait.Round(time.Second)))
		return nil
	}

	call.Status = models.ToolCallValidating
	if err := s.validate(tool, call.Params); err != nil {
		s.record(call.Name, 0, false)
		s.fail(call, opts.SessionID, emit, models.ErrCodeValidation, fmt.Sprintf("invalid parameters: %v", err))
		return nil
	}

	timeout := s.effectiveTimeout(policy, opts.Timeout)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	call.Status = models.ToolCallExecuting
	call.StartedAt = &started
	emit(models.ToolStartEvent(opts.SessionID, call))
	s.log.Debug(ctx, "tool executing", "tool", call.Name, "call_id", call.ID, "timeout", timeout)

	type execResult struct {
		result *tools.Result
		err    error
	}
	done := make(chan execResult, 1)
	go func() {
		result, err := runTool(execCtx, tool, call.Params, func(progress float64) {
			emit(models.ToolProgressEvent(opts.SessionID, call, progress))
		})
		done <- execResult{result, err}
	}()

	var res execResult
	select {
	case res = <-done:
	case <-execCtx.Done():
		duration := time.Since(started)
		if ctx.Err() != nil {
			s.finish(call, models.ToolCallCancelled, "", "cancelled")
			s.record(call.Name, duration, false)
			emit(models.ToolCompleteEvent(opts.SessionID, call))
			return ctx.Err()
		}
		s.record(call.Name, duration, false)
		s.fail(call, opts.SessionID, emit, models.ErrCodeTimeout,
			fmt.Sprintf("tool %q timed out after %s", call.Name, timeout))
		return nil
	}

	duration := time.Since(started)
	switch {
	case res.err != nil:
		if ctx.Err() != nil {
			s.finish(call, models.ToolCallCancelled, "", "cancelled")
			s.record(call.Name, duration, false)
			emit(models.ToolCompleteEvent(opts.SessionID, call))
			return ctx.Err()
		}
		s.record(call.Name, duration, false)
		s.fail(call, opts.SessionID, emit, models.ErrCodeInternal, fmt.Sprintf("tool %q failed: %v", call.Name, res.err))
	case res.result.IsError:
		s.finish(call, models.ToolCallFailed, res.result.Content, res.result.Content)
		s.record(call.Name, duration, false)
		emit(models.ToolCompleteEvent(opts.SessionID, call))
	default:
		s.finish(call, models.ToolCallCompleted, res.result.Content, "")
		s.record(call.Name, duration, true)
		emit(models.ToolCompleteEvent(opts.SessionID, call))
	}
	s.log.Debug(ctx, "tool finished", "tool", call.Name, "call_id", call.ID, "status", call.Status, "duration", duration)
	return nil
}

// ScheduleAll runs calls with at most maxConcurrent in flight. The calls
// slice is mutated in place, so result ordering matches input ordering
// regardless of completion order.
func (s *Scheduler) ScheduleAll(ctx context.Context, calls []*models.ToolCall, opts Options, maxConcurrent int) error {
	if maxConcurrent <= 1 {
		for _, call := range calls {
			if err := s.Schedule(ctx, call, opts); err != nil {
				return err
			}
		}
		return nil
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(call *models.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.Schedule(ctx, call, opts); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(call)
	}
	wg.Wait()
	return firstErr
}

// runTool dispatches to the progress-reporting path when the tool
// supports it.
func runTool(ctx context.Context, tool tools.Tool, params json.RawMessage, progress func(float64)) (*tools.Result, error) {
	if reporter, ok := tool.(tools.ProgressReporter); ok {
		return reporter.ExecuteWithProgress(ctx, params, progress)
	}
	return tool.Execute(ctx, params)
}

// validate checks params against the tool's declared JSON schema.
// Compiled schemas are cached per tool name.
func (s *Scheduler) validate(tool tools.Tool, params json.RawMessage) error {
	schema, err := s.compiledSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(params, &value); err != nil {
		return fmt.Errorf("parse params: %w", err)
	}
	return schema.Validate(value)
}

func (s *Scheduler) compiledSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schema, ok := s.schemas[name]; ok {
		return schema, nil
	}

	url := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	s.schemas[name] = schema
	return schema, nil
}

func (s *Scheduler) effectiveTimeout(policy config.ToolPolicy, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if policy.Timeout.Std() > 0 {
		return policy.Timeout.Std()
	}
	return s.defaultTimeout
}

// fail marks the call failed with a structured error message and emits
// its terminal event.
func (s *Scheduler) fail(call *models.ToolCall, sessionID string, emit func(*models.StreamEvent), code models.ErrorCode, msg string) {
	s.finish(call, models.ToolCallFailed, "", fmt.Sprintf("[%s] %s", code, msg))
	emit(models.ToolCompleteEvent(sessionID, call))
}

func (s *Scheduler) finish(call *models.ToolCall, status models.ToolCallStatus, result, errMsg string) {
	now := time.Now()
	call.Status = status
	call.CompletedAt = &now
	call.Result = result
	call.Error = errMsg
	if s.metrics != nil {
		s.metrics.ToolExecutions.WithLabelValues(call.Name, string(status)).Inc()
	}
}
