package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/writeflow/writeflow/internal/planmode"
)

// replConfirmer implements internal/tools/planmode.Confirmer by printing
// the proposed plan to stdout and blocking on a single line of stdin: a
// (1) accept and execute, (2) accept but don't execute yet, or (3) reject
// with feedback choice (spec §4.D's three-way ExitPlanMode resolution).
//
// This reads from the same stdin the REPL's line scanner owns; ExitPlanMode
// is only ever invoked from within a tool call the REPL is blocked waiting
// on, so the two readers never race for a line.
type replConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (c *replConfirmer) ConfirmPlan(ctx context.Context, plan string) (planmode.ExitOutcome, string, error) {
	fmt.Fprintln(c.out, "\n--- proposed plan ---")
	fmt.Fprintln(c.out, plan)
	fmt.Fprintln(c.out, "---------------------")
	fmt.Fprint(c.out, "[1] accept and execute  [2] accept, don't execute yet  [3] reject: ")

	scanner := bufio.NewScanner(c.in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return planmode.ExitReject, "", err
		}
		return planmode.ExitReject, "stdin closed", nil
	}

	switch strings.TrimSpace(scanner.Text()) {
	case "1":
		return planmode.ExitAcceptAndExecute, "", nil
	case "2":
		return planmode.ExitAcceptPlanOnly, "", nil
	default:
		fmt.Fprint(c.out, "feedback: ")
		var feedback string
		if scanner.Scan() {
			feedback = strings.TrimSpace(scanner.Text())
		}
		return planmode.ExitReject, feedback, nil
	}
}
