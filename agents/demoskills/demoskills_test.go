package demoskills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owulveryck/agentmail/internal/a2a"
	"github.com/owulveryck/agentmail/internal/mailbox"
	"github.com/owulveryck/agentmail/internal/subagent"
)

func task(params map[string]any) a2a.TaskRequest {
	return a2a.TaskRequest{Parameters: params}
}

func TestMath(t *testing.T) {
	tests := []struct {
		op      string
		a, b    float64
		want    float64
		wantErr error
	}{
		{"add", 42, 58, 100, nil},
		{"subtract", 10, 4, 6, nil},
		{"multiply", 6, 7, 42, nil},
		{"divide", 9, 3, 3, nil},
		{"divide", 1, 0, 0, ErrDivisionByZero},
		{"modulo", 1, 2, 0, ErrUnknownOperation},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			got, err := Math(context.Background(), task(map[string]any{"operation": tt.op, "a": tt.a, "b": tt.b}), nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.(map[string]any)["result"])
		})
	}
}

func TestGreeting(t *testing.T) {
	got, err := Greeting(context.Background(), task(map[string]any{"name": "Ada"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada! Nice to meet you.", got.(map[string]any)["greeting"])

	_, err = Greeting(context.Background(), task(nil), nil)
	assert.ErrorIs(t, err, ErrMissingName)
}

func TestRandomNumberIsDeterministic(t *testing.T) {
	a, err := RandomNumber(context.Background(), task(map[string]any{"seed": 12345.0}), nil)
	require.NoError(t, err)
	b, err := RandomNumber(context.Background(), task(map[string]any{"seed": 12345.0}), nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEcho(t *testing.T) {
	msg := &a2a.Message{SenderID: "publisher"}
	got, err := Echo(context.Background(), task(map[string]any{"text": "hi"}), msg)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": map[string]any{"text": "hi"}, "from": "publisher"}, got)
}

func TestRegister(t *testing.T) {
	agent, err := subagent.New(&subagent.Config{AgentID: "echo", Name: "Echo", Description: "d"}, mailbox.New())
	require.NoError(t, err)
	Register(agent)
	assert.Equal(t, []string{"echo", "greeting", "math_calculation", "random_number"}, agent.Capabilities())
}
