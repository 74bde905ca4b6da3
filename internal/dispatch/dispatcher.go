package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/writeflow/writeflow/internal/observability"
	"github.com/writeflow/writeflow/internal/registry"
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// Config tunes the dispatcher's concurrency and timeout behavior (spec
// §4.E). Zero values are replaced with the documented defaults by New.
type Config struct {
	// MaxConcurrency bounds the total number of tool calls the worker
	// pool runs at once, independent of the finer-grained serialization
	// rules below. Default 10.
	MaxConcurrency int

	// DefaultTimeout applies when a call doesn't request an explicit one.
	// Default 120s.
	DefaultTimeout time.Duration

	// MaxTimeout caps any requested timeout. Default 600s.
	MaxTimeout time.Duration

	// GracePeriod is how long the dispatcher waits for cooperative
	// cancellation to produce a terminal event after a timeout or
	// cancel, before abandoning the call and synthesizing one. Default
	// 5s.
	GracePeriod time.Duration

	// Metrics records per-call tool execution counts and latencies when
	// set. Nil disables recording.
	Metrics *observability.Metrics
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 10
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 120 * time.Second
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 600 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	return c
}

// callDesc describes one admitted or in-flight call for conflict detection.
type callDesc struct {
	callID          string
	toolName        string
	concurrencySafe bool
	paths           []string
}

func conflicts(a, b callDesc) bool {
	if a.toolName == b.toolName {
		return true
	}
	if !a.concurrencySafe || !b.concurrencySafe {
		return true
	}
	for _, p := range a.paths {
		for _, q := range b.paths {
			if p == q {
				return true
			}
		}
	}
	return false
}

// Dispatcher implements spec §4.E's Tool Dispatcher: schema validation,
// permission checks, the concurrency-serialization rules, per-call
// timeouts, and background job handles, all surfaced as a per-call Event
// stream. Grounded on internal/agent/tool_exec.go's ToolExecutor
// (semaphore-bounded concurrency, per-call context.WithTimeout, a
// non-blocking result channel to avoid leaking the executing goroutine)
// extended with a conflict-admission layer for the tool-name/file-path
// serialization rules tool_exec.go doesn't need (tool calls within one
// turn there always ran independently of each other).
type Dispatcher struct {
	registry *registry.Registry
	gate     *registry.Gate
	config   Config
	jobs     *JobStore

	toolsMu sync.RWMutex
	tools   map[string]Tool

	admitMu  sync.Mutex
	admitCnd *sync.Cond
	inFlight []callDesc

	sem chan struct{}
}

// New returns a dispatcher backed by reg/gate. Register tools with
// RegisterTool before dispatching calls.
func New(reg *registry.Registry, gate *registry.Gate, config Config) *Dispatcher {
	config = config.withDefaults()
	d := &Dispatcher{
		registry: reg,
		gate:     gate,
		config:   config,
		jobs:     NewJobStore(),
		tools:    make(map[string]Tool),
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
	d.admitCnd = sync.NewCond(&d.admitMu)
	return d
}

// RegisterTool adds tool to both the dispatcher's execution table and the
// shared registry (so the gate and prompt UI can see its metadata).
func (d *Dispatcher) RegisterTool(tool Tool) {
	spec := tool.Spec()
	d.registry.Register(spec)
	d.toolsMu.Lock()
	d.tools[spec.Name] = tool
	d.toolsMu.Unlock()
}

// Jobs exposes the background job store for status polling and Kill.
func (d *Dispatcher) Jobs() *JobStore { return d.jobs }

func (d *Dispatcher) clampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return d.config.DefaultTimeout
	}
	if requested > d.config.MaxTimeout {
		return d.config.MaxTimeout
	}
	return requested
}

// Dispatch runs one tool call per spec §4.E and returns its lifecycle
// event stream. The channel always closes after exactly one terminal
// Result or Err event (or, for a backgrounded call, after EventStarted —
// later events are then only observable via Jobs()/the background
// channel continuing to deliver until the caller stops reading).
func (d *Dispatcher) Dispatch(ctx context.Context, callID, toolName string, input []byte, mode wfmodel.Mode, policy wfmodel.PermissionPolicy, requestedTimeout time.Duration) <-chan Event {
	out := make(chan Event, 4)

	d.toolsMu.RLock()
	tool, known := d.tools[toolName]
	d.toolsMu.RUnlock()

	if !known {
		go func() {
			defer close(out)
			out <- Started(callID)
			out <- Err(callID, wfmodel.ErrorValidation, fmt.Sprintf("unknown tool %q", toolName), nil)
		}()
		return out
	}

	spec := tool.Spec()

	if err := validateAgainstSchema(toolName, spec.InputSchema, input); err != nil {
		go func() {
			defer close(out)
			out <- Started(callID)
			out <- Err(callID, wfmodel.ErrorValidation, err.Error(), err)
		}()
		return out
	}

	if err := tool.ValidateInput(ctx, input); err != nil {
		go func() {
			defer close(out)
			out <- Started(callID)
			out <- Err(callID, wfmodel.ErrorValidation, err.Error(), err)
		}()
		return out
	}

	if tool.NeedsPermission(input) {
		verdict := d.gate.Check(toolName, input, mode, policy)
		if verdict.Decision != wfmodel.DecisionAllow {
			go func() {
				defer close(out)
				out <- Started(callID)
				out <- Err(callID, wfmodel.ErrorPermissionDenied, string(verdict.Reason), nil)
			}()
			return out
		}
	}

	var paths []string
	if scoped, ok := tool.(FilePathScoped); ok {
		paths = scoped.FilePaths(input)
	}
	desc := callDesc{callID: callID, toolName: toolName, concurrencySafe: spec.IsConcurrencySafe, paths: paths}

	background := false
	if bg, ok := tool.(BackgroundCapable); ok {
		background = bg.RunInBackground(input)
	}

	if background {
		return d.dispatchBackground(ctx, tool, desc, callID, input, out)
	}

	return d.dispatchForeground(ctx, tool, desc, callID, input, requestedTimeout, out)
}

func (d *Dispatcher) admit(desc callDesc) {
	d.admitMu.Lock()
	for d.hasConflict(desc) {
		d.admitCnd.Wait()
	}
	d.inFlight = append(d.inFlight, desc)
	d.admitMu.Unlock()
}

func (d *Dispatcher) hasConflict(desc callDesc) bool {
	for _, other := range d.inFlight {
		if other.callID == desc.callID {
			continue
		}
		if conflicts(desc, other) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) release(callID string) {
	d.admitMu.Lock()
	for i, other := range d.inFlight {
		if other.callID == callID {
			d.inFlight = append(d.inFlight[:i], d.inFlight[i+1:]...)
			break
		}
	}
	d.admitCnd.Broadcast()
	d.admitMu.Unlock()
}

// recordToolMetrics reports one terminal tool-execution outcome. No-op
// when the dispatcher wasn't configured with a Metrics sink.
func (d *Dispatcher) recordToolMetrics(toolName string, started time.Time, ev Event) {
	if d.config.Metrics == nil {
		return
	}
	status := "success"
	if ev.Kind == EventError {
		status = "error"
	}
	d.config.Metrics.RecordToolExecution(toolName, status, time.Since(started).Seconds())
}

func (d *Dispatcher) dispatchForeground(ctx context.Context, tool Tool, desc callDesc, callID string, input []byte, requestedTimeout time.Duration, out chan Event) <-chan Event {
	timeout := d.clampTimeout(requestedTimeout)
	started := time.Now()

	go func() {
		defer close(out)
		out <- Started(callID)

		d.admit(desc)
		defer d.release(callID)

		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			ev := Err(callID, wfmodel.ErrorCancelled, "cancelled before execution", ctx.Err())
			out <- ev
			d.recordToolMetrics(desc.toolName, started, ev)
			return
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		toolEvents := tool.Call(runCtx, callID, input)

		for {
			select {
			case ev, ok := <-toolEvents:
				if !ok {
					return
				}
				out <- ev
				if ev.Kind == EventResult || ev.Kind == EventError {
					d.recordToolMetrics(desc.toolName, started, ev)
					return
				}
			case <-runCtx.Done():
				// Cooperative stop: runCtx cancellation reaches tool.Call
				// via the shared context. Give it GracePeriod to produce
				// its own terminal event before we synthesize one and
				// abandon the goroutine (spec §4.E "forced termination
				// after a grace period").
				kind := wfmodel.ErrorCancelled
				msg := "cancelled"
				if ctx.Err() == nil {
					kind = wfmodel.ErrorTimeout
					msg = fmt.Sprintf("tool execution exceeded %s timeout", timeout)
				}
				select {
				case ev, ok := <-toolEvents:
					if ok && (ev.Kind == EventResult || ev.Kind == EventError) {
						out <- ev
						d.recordToolMetrics(desc.toolName, started, ev)
						return
					}
				case <-time.After(d.config.GracePeriod):
				}
				timeoutEv := Err(callID, kind, msg, runCtx.Err())
				out <- timeoutEv
				d.recordToolMetrics(desc.toolName, started, timeoutEv)
				return
			}
		}
	}()

	return out
}

func (d *Dispatcher) dispatchBackground(parent context.Context, tool Tool, desc callDesc, callID string, input []byte, out chan Event) <-chan Event {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(parent))
	d.jobs.create(callID, desc.toolName, cancel)
	d.admit(desc)
	started := time.Now()

	toolEvents := tool.Call(runCtx, callID, input)

	go func() {
		defer close(out)
		defer cancel()
		defer d.release(callID)

		out <- Started(callID)

		for ev := range toolEvents {
			out <- ev
			switch ev.Kind {
			case EventResult:
				d.jobs.finish(callID, JobSucceeded)
				d.recordToolMetrics(desc.toolName, started, ev)
			case EventError:
				status := JobFailed
				if ev.ErrKind == wfmodel.ErrorCancelled {
					status = JobKilled
				}
				d.jobs.finish(callID, status)
				d.recordToolMetrics(desc.toolName, started, ev)
			}
		}
	}()

	return out
}
