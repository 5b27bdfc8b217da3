package mailbox

import (
	"fmt"
	"strings"
)

// CallbackPolicy decides what Send does when the recipient's callback fails.
// The message is enqueued before the callback runs, so it stays queued under
// either policy.
type CallbackPolicy int

const (
	// CallbackPropagate returns the callback failure from Send as a *CallbackError.
	CallbackPropagate CallbackPolicy = iota
	// CallbackLogAndContinue logs the failure and lets Send succeed.
	CallbackLogAndContinue
)

func (p CallbackPolicy) String() string {
	switch p {
	case CallbackPropagate:
		return "propagate"
	case CallbackLogAndContinue:
		return "log"
	default:
		return "unknown"
	}
}

// ParseCallbackPolicy maps "propagate" or "log" to a policy.
func ParseCallbackPolicy(s string) (CallbackPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "propagate":
		return CallbackPropagate, nil
	case "log", "log_and_continue":
		return CallbackLogAndContinue, nil
	default:
		return CallbackPropagate, fmt.Errorf("unknown callback policy %q", s)
	}
}

// CallbackError reports a callback that failed or panicked during Send.
type CallbackError struct {
	AgentID   string
	MessageID string
	Err       error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback for agent %s failed on message %s: %v", e.AgentID, e.MessageID, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
