package turn

import "fmt"

// Validation error codes surfaced to callers.
const (
	CodeNoValidTaggedAgents = "no_valid_tagged_agents"
	CodeNoRoomAgents        = "no_room_agents"
	CodeInsufficientCredits = "insufficient_credits"
)

// ValidationError rejects a turn before any side effects. The code is a
// stable machine identifier; the message is for humans.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFoundError covers missing or foreign-owned sessions, rooms and agents.
// Ownership mismatches deliberately look identical to missing rows.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// ConflictError reports a concurrent turn insertion on the same session. The
// caller may retry; nothing was persisted.
type ConflictError struct {
	SessionID string
	TurnIndex int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent turn write on session %s at index %d", e.SessionID, e.TurnIndex)
}
