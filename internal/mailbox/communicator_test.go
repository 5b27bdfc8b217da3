package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owulveryck/agentmail/internal/a2a"
)

func newMessage(t *testing.T, from, to, tag string) *a2a.Message {
	t.Helper()
	msg, err := a2a.NewMessage(from, to, a2a.TypeStatus, a2a.Fields{"tag": tag})
	require.NoError(t, err)
	return msg
}

func tagOf(msg *a2a.Message) string {
	return msg.Payload.(a2a.Fields)["tag"].(string)
}

func TestCommunicator_FIFOPerRecipient(t *testing.T) {
	comm := New()
	ctx := context.Background()

	require.NoError(t, comm.Send(ctx, newMessage(t, "A", "B", "1")))
	require.NoError(t, comm.Send(ctx, newMessage(t, "C", "B", "2")))
	require.NoError(t, comm.Send(ctx, newMessage(t, "D", "B", "3")))

	for _, want := range []string{"1", "2", "3"} {
		msg, err := comm.Receive(ctx, "B", time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, want, tagOf(msg))
	}
}

func TestCommunicator_FIFOManyMessages(t *testing.T) {
	comm := New()
	ctx := context.Background()

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, comm.Send(ctx, newMessage(t, "src", "dst", fmt.Sprint(i))))
	}
	assert.Equal(t, n, comm.Pending("dst"))

	for i := 0; i < n; i++ {
		msg, err := comm.Receive(ctx, "dst", time.Second)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprint(i), tagOf(msg))
	}
	assert.Equal(t, 0, comm.Pending("dst"))
}

func TestCommunicator_RecipientsAreIsolated(t *testing.T) {
	comm := New()
	ctx := context.Background()

	require.NoError(t, comm.Send(ctx, newMessage(t, "A", "B", "for-b")))
	require.NoError(t, comm.Send(ctx, newMessage(t, "A", "C", "for-c")))

	msg, err := comm.Receive(ctx, "C", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "for-c", tagOf(msg))

	msg, err = comm.Receive(ctx, "C", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, 1, comm.Pending("B"))
}

func TestCommunicator_ReceiveTimeoutReturnsNil(t *testing.T) {
	comm := New()
	timeout := 100 * time.Millisecond

	start := time.Now()
	msg, err := comm.Receive(context.Background(), "X", timeout)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)
	assert.Contains(t, comm.Agents(), "X", "receive registers the agent")
}

func TestCommunicator_ReceiveWaitsForSend(t *testing.T) {
	comm := New()
	ctx := context.Background()

	got := make(chan *a2a.Message, 1)
	go func() {
		msg, err := comm.Receive(ctx, "late", 0)
		if err == nil {
			got <- msg
		}
	}()

	select {
	case <-got:
		t.Fatal("Receive returned before any send")
	case <-time.After(50 * time.Millisecond):
	}

	want := newMessage(t, "early", "late", "wake")
	require.NoError(t, comm.Send(ctx, want))

	select {
	case msg := <-got:
		assert.Same(t, want, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive never returned")
	}
}

func TestCommunicator_ReceiveContextCancelled(t *testing.T) {
	comm := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := comm.Receive(ctx, "idle", 0)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Receive ignored cancellation")
	}
}

func TestCommunicator_CallbackDoesNotConsume(t *testing.T) {
	comm := New()
	ctx := context.Background()

	var mu sync.Mutex
	var seen []*a2a.Message
	comm.RegisterCallback("Y", func(_ context.Context, msg *a2a.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
		return nil
	})

	first := newMessage(t, "A", "Y", "1")
	second := newMessage(t, "A", "Y", "2")
	require.NoError(t, comm.Send(ctx, first))
	require.NoError(t, comm.Send(ctx, second))

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Same(t, first, seen[0])
	assert.Same(t, second, seen[1])
	mu.Unlock()

	for _, want := range []*a2a.Message{first, second} {
		msg, err := comm.Receive(ctx, "Y", time.Second)
		require.NoError(t, err)
		assert.Same(t, want, msg)
	}
}

func TestCommunicator_CallbackLastRegistrationWins(t *testing.T) {
	comm := New()
	ctx := context.Background()

	var first, second int32
	comm.RegisterCallback("Z", func(context.Context, *a2a.Message) error {
		atomic.AddInt32(&first, 1)
		return nil
	})
	comm.RegisterCallback("Z", func(context.Context, *a2a.Message) error {
		atomic.AddInt32(&second, 1)
		return nil
	})

	require.NoError(t, comm.Send(ctx, newMessage(t, "A", "Z", "x")))
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))

	comm.RegisterCallback("Z", nil)
	require.NoError(t, comm.Send(ctx, newMessage(t, "A", "Z", "y")))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestCommunicator_CallbackOnlyForItsRecipient(t *testing.T) {
	comm := New()
	var calls int32
	comm.RegisterCallback("watched", func(context.Context, *a2a.Message) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, comm.Send(context.Background(), newMessage(t, "A", "other", "x")))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCommunicator_CallbackErrorPolicies(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		policy   CallbackPolicy
		callback Callback
		wantErr  bool
	}{
		{
			name:     "propagate error",
			policy:   CallbackPropagate,
			callback: func(context.Context, *a2a.Message) error { return boom },
			wantErr:  true,
		},
		{
			name:     "propagate panic",
			policy:   CallbackPropagate,
			callback: func(context.Context, *a2a.Message) error { panic("kaboom") },
			wantErr:  true,
		},
		{
			name:     "log and continue",
			policy:   CallbackLogAndContinue,
			callback: func(context.Context, *a2a.Message) error { return boom },
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &countingRecorder{}
			comm := New(WithCallbackPolicy(tt.policy), WithMetrics(rec))
			comm.RegisterCallback("R", tt.callback)

			msg := newMessage(t, "A", "R", "x")
			err := comm.Send(context.Background(), msg)
			if tt.wantErr {
				var cbErr *CallbackError
				require.True(t, errors.As(err, &cbErr))
				assert.Equal(t, "R", cbErr.AgentID)
				assert.Equal(t, msg.ID, cbErr.MessageID)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, 1, comm.Pending("R"), "message stays queued")
			assert.Equal(t, int32(1), atomic.LoadInt32(&rec.callbackErrors))
		})
	}
}

func TestCommunicator_CallbackErrorUnwraps(t *testing.T) {
	boom := errors.New("boom")
	comm := New()
	comm.RegisterCallback("R", func(context.Context, *a2a.Message) error { return boom })

	err := comm.Send(context.Background(), newMessage(t, "A", "R", "x"))
	assert.True(t, errors.Is(err, boom))
}

func TestCommunicator_SendRejectsInvalid(t *testing.T) {
	comm := New()
	err := comm.Send(context.Background(), &a2a.Message{Payload: a2a.Fields{}})
	assert.True(t, errors.Is(err, a2a.ErrEmptyRecipient))
	assert.Empty(t, comm.Agents())

	err = comm.Send(context.Background(), &a2a.Message{RecipientID: "B", Payload: (*a2a.TaskRequest)(nil)})
	assert.True(t, errors.Is(err, a2a.ErrNilPayload))
	assert.Empty(t, comm.Agents())
}

func TestCommunicator_ConcurrentReceiversGetDistinctMessages(t *testing.T) {
	comm := New()
	ctx := context.Background()

	const receivers = 8
	const perReceiver = 25
	total := receivers * perReceiver

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)

	for i := 0; i < receivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perReceiver; j++ {
				msg, err := comm.Receive(ctx, "shared", 5*time.Second)
				if err != nil || msg == nil {
					t.Errorf("receive failed: msg=%v err=%v", msg, err)
					return
				}
				mu.Lock()
				seen[msg.ID]++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < total; i++ {
		require.NoError(t, comm.Send(ctx, newMessage(t, "producer", "shared", fmt.Sprint(i))))
	}

	wg.Wait()
	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s delivered %d times", id, n)
	}
}

func TestCommunicator_MetricsRecorded(t *testing.T) {
	rec := &countingRecorder{}
	comm := New(WithMetrics(rec))
	ctx := context.Background()

	require.NoError(t, comm.Send(ctx, newMessage(t, "A", "B", "1")))
	_, err := comm.Receive(ctx, "B", time.Second)
	require.NoError(t, err)
	_, err = comm.Receive(ctx, "B", 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.sent))
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.received))
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.timeouts))
}

func TestParseCallbackPolicy(t *testing.T) {
	p, err := ParseCallbackPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CallbackPropagate, p)

	p, err = ParseCallbackPolicy("LOG")
	require.NoError(t, err)
	assert.Equal(t, CallbackLogAndContinue, p)
	assert.Equal(t, "log", p.String())

	_, err = ParseCallbackPolicy("drop")
	assert.Error(t, err)
}

type countingRecorder struct {
	sent, received, timeouts, callbackErrors int32
}

func (r *countingRecorder) RecordMessageSent(context.Context, string, string, time.Duration) {
	atomic.AddInt32(&r.sent, 1)
}

func (r *countingRecorder) RecordMessageReceived(context.Context, string, string, time.Duration) {
	atomic.AddInt32(&r.received, 1)
}

func (r *countingRecorder) RecordReceiveTimeout(context.Context, string) {
	atomic.AddInt32(&r.timeouts, 1)
}

func (r *countingRecorder) RecordCallbackError(context.Context, string) {
	atomic.AddInt32(&r.callbackErrors, 1)
}
