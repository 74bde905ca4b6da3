// Package planmode provides the one tool the Plan-Mode Controller itself
// requires registered (spec §4.D): ExitPlanMode, the model's only way to
// propose leaving Plan mode. Grounded on internal/registry's Gate
// recognizing wfmodel.ExitPlanModeTool as the sole non-read-only tool
// name allowed while Active, and internal/planmode.Controller.ExitPlanMode
// implementing the three-way accept/accept-plan-only/reject resolution
// this tool's Call defers to.
package planmode

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/writeflow/writeflow/internal/dispatch"
	"github.com/writeflow/writeflow/internal/planmode"
	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// Confirmer resolves a proposed plan with the user, analogous to the
// permission gate's prompt path: the REPL surfaces the plan text and
// returns once the user picks accept_and_execute / accept_plan_only /
// reject (spec §4.D invariant: only a user-confirmed outcome flips
// Active false).
type Confirmer interface {
	ConfirmPlan(ctx context.Context, plan string) (outcome planmode.ExitOutcome, feedback string, err error)
}

// Tool implements dispatch.Tool for ExitPlanMode.
type Tool struct {
	controller *planmode.Controller
	confirmer  Confirmer
}

// New returns the ExitPlanMode tool bound to controller and confirmer.
func New(controller *planmode.Controller, confirmer Confirmer) *Tool {
	return &Tool{controller: controller, confirmer: confirmer}
}

func (t *Tool) Name() string        { return wfmodel.ExitPlanModeTool }
func (t *Tool) Description() string { return "Propose ending plan mode with a concrete plan for the user to accept, accept-plan-only, or reject." }

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"plan": {"type": "string", "description": "The proposed plan, in markdown."}
		},
		"required": ["plan"]
	}`)
}

func (t *Tool) Spec() wfmodel.ToolSpec {
	return wfmodel.ToolSpec{
		Name: t.Name(), Description: t.Description(), InputSchema: t.Schema(),
		IsReadOnly: true, IsConcurrencySafe: false, NeedsPermission: false, Category: wfmodel.CategoryPlan,
	}
}

// NeedsPermission is always false: resolution goes through the dedicated
// Confirmer flow below, not the general permission gate.
func (t *Tool) NeedsPermission(input json.RawMessage) bool { return false }

func (t *Tool) ValidateInput(ctx context.Context, input json.RawMessage) error {
	var v struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("invalid ExitPlanMode input: %w", err)
	}
	if v.Plan == "" {
		return fmt.Errorf("plan is required")
	}
	return nil
}

func (t *Tool) Call(ctx context.Context, callID string, input json.RawMessage) <-chan dispatch.Event {
	out := make(chan dispatch.Event, 1)
	go func() {
		defer close(out)

		var v struct {
			Plan string `json:"plan"`
		}
		if err := json.Unmarshal(input, &v); err != nil {
			out <- dispatch.Err(callID, wfmodel.ErrorValidation, err.Error(), err)
			return
		}

		outcome, feedback, err := t.confirmer.ConfirmPlan(ctx, v.Plan)
		if err != nil {
			out <- dispatch.Err(callID, wfmodel.ErrorInternal, err.Error(), err)
			return
		}

		seed, err := t.controller.ExitPlanMode(v.Plan, outcome, feedback)
		if err != nil {
			out <- dispatch.Err(callID, wfmodel.ErrorInternal, err.Error(), err)
			return
		}

		switch outcome {
		case planmode.ExitReject:
			out <- dispatch.Result(callID, wfmodel.ToolCallResult{Content: fmt.Sprintf("Plan rejected. Feedback: %s", seed)})
		default:
			out <- dispatch.Result(callID, wfmodel.ToolCallResult{Content: "Plan accepted."})
		}
	}()
	return out
}

func (t *Tool) RenderResultForAssistant(result wfmodel.ToolCallResult) string { return result.Content }

func (t *Tool) RenderToolUseMessage(input json.RawMessage, verbose bool) string {
	return "ExitPlanMode(...)"
}
