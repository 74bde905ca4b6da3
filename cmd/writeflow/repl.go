package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/writeflow/writeflow/internal/config"
	"github.com/writeflow/writeflow/internal/observability"
	"github.com/writeflow/writeflow/internal/orchestrator"
	"github.com/writeflow/writeflow/internal/planmode"
	"github.com/writeflow/writeflow/internal/queue"
	"github.com/writeflow/writeflow/internal/registry"
	"github.com/writeflow/writeflow/internal/state"
	"github.com/writeflow/writeflow/internal/stream"
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// repl drives the external REPL contract (spec §6): it owns stdin, routes
// slash commands before the agent loop ever sees them, converts the plan
// mode toggle into a system message for the Plan-Mode Controller, enqueues
// everything else as user_input, and renders the streaming pipeline to
// stdout.
type repl struct {
	cfg      *config.Config
	store    *state.Store
	queue    *queue.Queue
	pipeline *stream.Pipeline
	orch     *orchestrator.Orchestrator
	planmode *planmode.Controller
	gate     *registry.Gate
	logger   *observability.Logger

	in  io.Reader
	out io.Writer
}

// Run blocks until stdin closes or the queue is closed by a /quit command.
func (r *repl) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.renderPipeline(ctx)
	go r.readInput(ctx, cancel)

	fmt.Fprintln(r.out, "WriteFlow ready. Type /help for commands.")

	for {
		msg, ok := r.queue.Next(ctx)
		if !ok {
			return nil
		}
		if msg.Type != wfmodel.MessageUserInput {
			continue
		}
		text, _ := msg.Payload.(string)
		if err := r.orch.RunTurn(ctx, text); err != nil {
			fmt.Fprintf(r.out, "\n[error] turn failed: %v\n", err)
		}
	}
}

// readInput scans stdin line by line, handling local commands inline and
// enqueuing everything else as a user_input message.
func (r *repl) readInput(ctx context.Context, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if r.handleCommand(ctx, line) {
				r.queue.Close()
				cancel()
				return
			}
			continue
		}
		r.queue.Enqueue(wfmodel.NewMessage(wfmodel.MessageUserInput, line, wfmodel.PriorityUserInput, "repl"))
	}
	r.queue.Close()
	cancel()
}

// handleCommand resolves a slash command before the agent loop sees it
// (spec §6 REPL contract). It returns true when the session should end.
func (r *repl) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/quit", "/exit":
		fmt.Fprintln(r.out, "bye.")
		return true

	case "/help":
		fmt.Fprint(r.out, helpText)

	case "/clear":
		r.orch.ResetContext()
		fmt.Fprintln(r.out, "working context cleared.")

	case "/plan":
		r.planmode.EnterPlan()
		r.queue.Enqueue(wfmodel.NewMessage(wfmodel.MessageSystem, "entered plan mode", wfmodel.PrioritySystem, "repl"))
		fmt.Fprintln(r.out, "entered plan mode: the model may only use read-only tools until it proposes a plan.")

	case "/model":
		r.printModelProfiles()

	case "/cost":
		r.printCost()

	case "/timeline":
		r.printTimeline()

	case "/allow":
		if len(args) == 0 {
			fmt.Fprintln(r.out, "usage: /allow <tool-name> [--permanent]")
			break
		}
		r.grantTool(args[0], len(args) > 1 && args[1] == "--permanent")

	default:
		fmt.Fprintf(r.out, "unrecognized command %q. Type /help for a list.\n", cmd)
	}
	return false
}

func (r *repl) grantTool(toolName string, permanent bool) {
	if permanent {
		r.gate.Grant(toolName, wfmodel.GrantPermanent, nil)
		r.store.AddPermanentGrant(toolName, time.Now())
		if err := r.store.Save(); err != nil {
			fmt.Fprintf(r.out, "granted %s for this session, but failed to persist: %v\n", toolName, err)
			return
		}
		fmt.Fprintf(r.out, "granted %s permanently.\n", toolName)
		return
	}
	r.gate.Grant(toolName, wfmodel.GrantSession, nil)
	fmt.Fprintf(r.out, "granted %s for this session.\n", toolName)
}

func (r *repl) printModelProfiles() {
	profiles := r.store.ModelProfiles()
	if len(profiles) == 0 {
		fmt.Fprintf(r.out, "current model: %s (%s)\n", r.cfg.Models.Main, r.cfg.DefaultProvider)
		return
	}
	for _, p := range profiles {
		marker := " "
		if p.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s: %s/%s\n", marker, p.Name, p.Provider, p.Model)
	}
}

func (r *repl) printCost() {
	metrics := r.orch.CompressionMetrics()
	fmt.Fprintf(r.out, "estimated context tokens: %d (compression level %d, last compressed %s)\n",
		metrics.CurrentTokens, metrics.CompressionLevel, formatLastCompression(metrics.LastCompressionAt))
}

func (r *repl) printTimeline() {
	tl := r.orch.Timeline()
	if tl == nil {
		fmt.Fprintln(r.out, "no events recorded yet for this session.")
		return
	}
	fmt.Fprint(r.out, observability.FormatTimeline(tl))
}

func formatLastCompression(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

// renderPipeline drains the streaming pipeline to stdout until ctx is
// cancelled, translating each stream.Event into REPL-friendly text (spec
// §4.F's six event kinds).
func (r *repl) renderPipeline(ctx context.Context) {
	for {
		ev, ok := r.pipeline.Next(ctx)
		if !ok {
			return
		}
		switch ev.Kind {
		case stream.KindAIResponse:
			fmt.Fprint(r.out, ev.ContentDelta)
			if ev.IsComplete {
				fmt.Fprintln(r.out)
			}
		case stream.KindThinking:
			// Thinking spans are suppressed from the default render; a
			// verbose flag could surface ev.ThinkingText here.
		case stream.KindToolExecution:
			r.renderToolExecution(ev)
		case stream.KindProgress:
			fmt.Fprintf(r.out, "[%s] %s\n", ev.Stage, ev.ProgressMessage)
		case stream.KindSystem:
			fmt.Fprintf(r.out, "[%s] %s\n", ev.SystemLevel, ev.SystemMessage)
		case stream.KindError:
			fmt.Fprintf(r.out, "\n[error:%s] %s\n", ev.ErrKind, ev.ErrMessage)
		}
	}
}

func (r *repl) renderToolExecution(ev stream.Event) {
	switch ev.ToolStatus {
	case stream.ToolStarted:
		fmt.Fprintf(r.out, "\n→ %s\n", ev.ToolName)
	case stream.ToolCompleted:
		fmt.Fprintf(r.out, "✓ %s\n", ev.ToolName)
	case stream.ToolFailed:
		fmt.Fprintf(r.out, "✗ %s: %s\n", ev.ToolName, ev.ToolOutput)
	}
}

const helpText = `Commands:
  /help              show this message
  /model             show configured model profiles
  /cost               show estimated context token usage
  /timeline          show the event timeline for the current run
  /clear             clear the working context
  /plan              enter plan mode (read-only until a plan is proposed)
  /allow <tool>      grant a tool for this session
  /allow <tool> --permanent  grant a tool permanently (persisted)
  /quit, /exit       end the session
`
