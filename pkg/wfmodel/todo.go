package wfmodel

// TodoStatus is a closed enum over a todo item's lifecycle state.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem mirrors the shape the external todo-list store persists (spec
// §3, §9). The core only enforces the single-in-progress invariant; the
// store itself is an external collaborator (internal/state).
type TodoItem struct {
	ID         string
	Content    string
	ActiveForm string
	Status     TodoStatus
	Priority   int
}

// SingleInProgress reports whether at most one item in items has status
// TodoInProgress (spec §8 "Single in-progress todo").
func SingleInProgress(items []TodoItem) bool {
	count := 0
	for _, it := range items {
		if it.Status == TodoInProgress {
			count++
		}
	}
	return count <= 1
}
