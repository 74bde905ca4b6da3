package wfmodel

import "testing"

func TestTurn_WellFormed(t *testing.T) {
	cases := []struct {
		name string
		turn Turn
		want bool
	}{
		{
			name: "empty turn",
			turn: Turn{Role: TurnAssistant},
			want: true,
		},
		{
			name: "tool_use resolved before text",
			turn: Turn{Role: TurnAssistant, Blocks: []ContentBlock{
				{Kind: BlockToolUse, CallID: "1"},
				{Kind: BlockToolResult, ResultCallID: "1"},
				{Kind: BlockText, Text: "done"},
			}},
			want: true,
		},
		{
			name: "text before tool_use resolves",
			turn: Turn{Role: TurnAssistant, Blocks: []ContentBlock{
				{Kind: BlockToolUse, CallID: "1"},
				{Kind: BlockText, Text: "premature"},
				{Kind: BlockToolResult, ResultCallID: "1"},
			}},
			want: false,
		},
		{
			name: "duplicate call_id",
			turn: Turn{Role: TurnAssistant, Blocks: []ContentBlock{
				{Kind: BlockToolUse, CallID: "1"},
				{Kind: BlockToolResult, ResultCallID: "1"},
				{Kind: BlockToolUse, CallID: "1"},
			}},
			want: false,
		},
		{
			name: "unresolved tool_use, no dependent text yet",
			turn: Turn{Role: TurnAssistant, Blocks: []ContentBlock{
				{Kind: BlockToolUse, CallID: "1"},
			}},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.turn.WellFormed(); got != tc.want {
				t.Fatalf("WellFormed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTurn_PendingToolUses(t *testing.T) {
	turn := Turn{Role: TurnAssistant, Blocks: []ContentBlock{
		{Kind: BlockToolUse, CallID: "1", ToolName: "Glob"},
		{Kind: BlockToolUse, CallID: "2", ToolName: "Read"},
		{Kind: BlockToolResult, ResultCallID: "1"},
	}}

	pending := turn.PendingToolUses()
	if len(pending) != 1 || pending[0].CallID != "2" {
		t.Fatalf("expected only call_id 2 pending, got %+v", pending)
	}
}

func TestWorkingContext_NewestAndOlderTurns(t *testing.T) {
	wc := NewWorkingContext(2)
	for i := 0; i < 5; i++ {
		wc.Turns = append(wc.Turns, Turn{Role: TurnUser})
	}

	if len(wc.NewestTurns()) != 2 {
		t.Fatalf("expected 2 newest turns, got %d", len(wc.NewestTurns()))
	}
	if len(wc.OlderTurns()) != 3 {
		t.Fatalf("expected 3 older turns, got %d", len(wc.OlderTurns()))
	}
}

func TestWorkingContext_KeepNewestFloor(t *testing.T) {
	wc := NewWorkingContext(1)
	if wc.KeepNewest != 3 {
		t.Fatalf("expected KeepNewest to floor at 3, got %d", wc.KeepNewest)
	}
}

func TestWorkingContext_FewerTurnsThanKeepNewest(t *testing.T) {
	wc := NewWorkingContext(3)
	wc.Turns = []Turn{{Role: TurnUser}}

	if len(wc.NewestTurns()) != 1 {
		t.Fatalf("expected all turns to count as newest, got %d", len(wc.NewestTurns()))
	}
	if len(wc.OlderTurns()) != 0 {
		t.Fatalf("expected no older turns, got %d", len(wc.OlderTurns()))
	}
}

func TestSingleInProgress(t *testing.T) {
	cases := []struct {
		name  string
		items []TodoItem
		want  bool
	}{
		{"none in progress", []TodoItem{{Status: TodoPending}, {Status: TodoCompleted}}, true},
		{"one in progress", []TodoItem{{Status: TodoInProgress}, {Status: TodoPending}}, true},
		{"two in progress", []TodoItem{{Status: TodoInProgress}, {Status: TodoInProgress}}, false},
		{"empty", nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SingleInProgress(tc.items); got != tc.want {
				t.Fatalf("SingleInProgress() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMessageType_Valid(t *testing.T) {
	if !MessageUserInput.Valid() {
		t.Fatalf("expected user_input to be valid")
	}
	if MessageType("bogus").Valid() {
		t.Fatalf("expected unknown message type to be invalid")
	}
}

func TestNewMessage(t *testing.T) {
	m := NewMessage(MessageUserInput, "hello", PriorityUserInput, "repl")
	if m.ID == "" {
		t.Fatalf("expected a generated ID")
	}
	if m.Type != MessageUserInput || m.Priority != PriorityUserInput || m.Source != "repl" {
		t.Fatalf("unexpected message fields: %+v", m)
	}
	if m.Timestamp.IsZero() {
		t.Fatalf("expected a non-zero timestamp")
	}
}

func TestErrorKind_Recoverable(t *testing.T) {
	recoverable := []ErrorKind{ErrorValidation, ErrorPermissionDenied, ErrorTimeout, ErrorInternal}
	for _, k := range recoverable {
		if !k.Recoverable() {
			t.Fatalf("expected %q to be recoverable", k)
		}
	}

	fatal := []ErrorKind{ErrorCancelled, ErrorProviderUnavailable, ErrorResource, ErrorConfiguration, ErrorMaxRounds}
	for _, k := range fatal {
		if k.Recoverable() {
			t.Fatalf("expected %q to be non-recoverable", k)
		}
	}
}
