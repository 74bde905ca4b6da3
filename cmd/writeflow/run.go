package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/writeflow/writeflow/internal/compress"
	"github.com/writeflow/writeflow/internal/config"
	"github.com/writeflow/writeflow/internal/dispatch"
	"github.com/writeflow/writeflow/internal/infra"
	"github.com/writeflow/writeflow/internal/observability"
	"github.com/writeflow/writeflow/internal/orchestrator"
	"github.com/writeflow/writeflow/internal/planmode"
	"github.com/writeflow/writeflow/internal/provider"
	"github.com/writeflow/writeflow/internal/provider/anthropic"
	"github.com/writeflow/writeflow/internal/provider/openai"
	"github.com/writeflow/writeflow/internal/queue"
	"github.com/writeflow/writeflow/internal/registry"
	"github.com/writeflow/writeflow/internal/state"
	"github.com/writeflow/writeflow/internal/stream"
	"github.com/writeflow/writeflow/internal/tools/exec"
	"github.com/writeflow/writeflow/internal/tools/files"
	toolplanmode "github.com/writeflow/writeflow/internal/tools/planmode"
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

func buildRunCmd() *cobra.Command {
	var configPath string
	var workspace string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the interactive WriteFlow session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(configPath) == "" {
				configPath = "writeflow.yaml"
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if strings.TrimSpace(workspace) == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve workspace: %w", err)
				}
				workspace = wd
			}
			return runSession(cmd, cfg, workspace)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "writeflow.yaml", "Path to the configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace directory tools operate in (default: cwd)")
	return cmd
}

// runSession wires the full agent runtime from a validated config and
// drives the REPL until stdin closes or the user exits.
func runSession(cmd *cobra.Command, cfg *config.Config, workspace string) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	// A context that cancels on SIGINT/SIGTERM, triggering the shutdown
	// coordinator below.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.AddSessionID(ctx, uuid.NewString())

	stateDir := filepath.Join(workspace, ".writeflow")
	store, err := state.Load(state.DefaultPath(stateDir))
	if err != nil {
		return fmt.Errorf("load persisted state: %w", err)
	}

	metrics := observability.NewMetrics()

	p, err := buildProvider(cfg, metrics)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	reg := registry.New()
	gate := registry.NewGate(reg)
	d := dispatch.New(reg, gate, dispatch.Config{
		MaxConcurrency: cfg.Dispatch.WorkerPoolSize,
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
		MaxTimeout:     cfg.Dispatch.MaxTimeout,
		GracePeriod:    cfg.Dispatch.GracePeriod,
		Metrics:        metrics,
	})

	pm := planmode.New(gate)

	for _, g := range store.PermanentGrants() {
		gate.Grant(g.ToolName, wfmodel.GrantPermanent, nil)
	}

	fileCfg := files.Config{Workspace: workspace, MaxReadBytes: 1 << 20}
	d.RegisterTool(files.NewReadTool(fileCfg))
	d.RegisterTool(files.NewWriteTool(fileCfg))
	d.RegisterTool(files.NewEditTool(fileCfg))
	d.RegisterTool(files.NewApplyPatchTool(fileCfg))

	execManager := exec.NewManager(workspace)
	d.RegisterTool(exec.NewExecTool("Bash", execManager))
	d.RegisterTool(exec.NewProcessTool(execManager))

	confirmer := &replConfirmer{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
	d.RegisterTool(toolplanmode.New(pm, confirmer))

	pipeline := stream.New(256)
	wc := wfmodel.NewWorkingContext(cfg.Context.KeepNewestTurns)

	compressor := compress.New(compress.Config{
		Ceiling:       cfg.Context.MaxTokens,
		Alpha:         cfg.Context.CompressionTrigger,
		SummaryBudget: cfg.Context.MaxTokens / 10,
	}, nil)

	events := observability.NewEventRecorder(observability.NewMemoryEventStore(1000), logger)

	var tracingEndpoint string
	if cfg.Observability.Tracing.Enabled {
		tracingEndpoint = cfg.Observability.Tracing.Endpoint
	}
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       tracingEndpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	defer func() { _ = tracerShutdown(context.Background()) }()

	orch := orchestrator.New(
		orchestrator.Config{
			ToolTimeout:  cfg.Dispatch.DefaultTimeout,
			SystemPrompt: defaultSystemPrompt,
			Metrics:      metrics,
			Events:       events,
			Tracer:       tracer,
		},
		p, compressor, d, reg, gate, pm, pipeline, wc,
		cfg.PolicyFor(wfmodel.ModeDefault),
	)

	q := queue.New(cfg.Queue.Capacity, cfg.Queue.BackpressureThreshold)

	repl := &repl{
		cfg:       cfg,
		store:     store,
		queue:     q,
		pipeline:  pipeline,
		orch:      orch,
		planmode:  pm,
		gate:      gate,
		logger:    logger,
		in:        cmd.InOrStdin(),
		out:       cmd.OutOrStdout(),
	}

	// Persist state and drain the queue on shutdown, matching the
	// teacher's phased ShutdownCoordinator rather than an ad hoc
	// defer chain: the queue closing wakes repl.Run's blocked Next call
	// once the signal-cancelled ctx also unblocks the reader goroutine.
	coordinator := infra.NewShutdownCoordinator(10*time.Second, slog.Default())
	coordinator.RegisterConnection("persisted state", func(context.Context) error { return store.Save() })
	coordinator.RegisterConnection("message queue", func(context.Context) error { q.Close(); return nil })
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		coordinator.Shutdown(shutdownCtx)
	}()

	return repl.Run(ctx)
}

func buildProvider(cfg *config.Config, metrics *observability.Metrics) (provider.Provider, error) {
	entry, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("no provider configuration for %q", cfg.DefaultProvider)
	}
	switch cfg.DefaultProvider {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: cfg.Models.Main,
			Metrics:      metrics,
		})
	case "openai":
		return openai.New(openai.Config{
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: cfg.Models.Main,
			Metrics:      metrics,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.DefaultProvider)
	}
}

const defaultSystemPrompt = `You are WriteFlow, an interactive writing assistant. Use the available tools to read, draft, and edit text on the user's behalf, and narrate what you're doing as you go.`
