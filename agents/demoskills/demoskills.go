// Package demoskills holds the task handlers of the demo agents, shared by
// the standalone echo agent and the in-memory mode of the publisher.
package demoskills

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/owulveryck/agentmail/internal/a2a"
	"github.com/owulveryck/agentmail/internal/subagent"
)

var (
	ErrMissingName      = errors.New("name parameter is required")
	ErrDivisionByZero   = errors.New("division by zero")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Register adds every demo skill to agent.
func Register(agent *subagent.SubAgent) {
	agent.MustAddSkill("echo", "Echoes the parameters back", Echo)
	agent.MustAddSkill("greeting", "Greets the given name", Greeting)
	agent.MustAddSkill("math_calculation", "add, subtract, multiply or divide a and b", Math)
	agent.MustAddSkill("random_number", "Deterministic random number from a seed", RandomNumber)
}

func Echo(_ context.Context, req a2a.TaskRequest, msg *a2a.Message) (any, error) {
	return map[string]any{
		"echo": req.Parameters,
		"from": msg.SenderID,
	}, nil
}

func Greeting(_ context.Context, req a2a.TaskRequest, _ *a2a.Message) (any, error) {
	name, _ := req.Parameters["name"].(string)
	if name == "" {
		return nil, ErrMissingName
	}
	return map[string]any{
		"greeting": fmt.Sprintf("Hello, %s! Nice to meet you.", name),
	}, nil
}

func Math(_ context.Context, req a2a.TaskRequest, _ *a2a.Message) (any, error) {
	operation, _ := req.Parameters["operation"].(string)
	a, _ := req.Parameters["a"].(float64)
	b, _ := req.Parameters["b"].(float64)

	var result float64
	switch operation {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		result = a / b
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}

	return map[string]any{
		"operation": operation,
		"a":         a,
		"b":         b,
		"result":    result,
	}, nil
}

func RandomNumber(_ context.Context, req a2a.TaskRequest, _ *a2a.Message) (any, error) {
	seed, _ := req.Parameters["seed"].(float64)
	r := rand.New(rand.NewSource(int64(seed)))
	return map[string]any{
		"seed":          seed,
		"random_number": float64(r.Intn(1000)),
	}, nil
}
