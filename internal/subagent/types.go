package subagent

import (
	"context"
	"errors"

	"github.com/owulveryck/agentmail/internal/a2a"
)

// TaskHandler performs one task type. The returned result becomes the
// Result of the task_response sent back to the requester; a non-nil error
// becomes its Error with Success false.
type TaskHandler func(ctx context.Context, req a2a.TaskRequest, msg *a2a.Message) (any, error)

// Handler processes a message of a given type.
type Handler func(ctx context.Context, msg *a2a.Message) error

// Skill represents a capability that the agent can perform
type Skill struct {
	Name        string
	Description string
	Handler     TaskHandler
}

// Common errors
var (
	ErrMissingAgentID      = errors.New("agent ID is required")
	ErrMissingName         = errors.New("agent name is required")
	ErrMissingDescription  = errors.New("agent description is required")
	ErrNoHandlers          = errors.New("at least one skill or handler must be registered")
	ErrDuplicateSkill      = errors.New("skill with this name already registered")
	ErrAgentAlreadyRunning = errors.New("agent is already running")
)
