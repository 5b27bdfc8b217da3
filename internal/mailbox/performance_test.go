package mailbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/owulveryck/agentmail/internal/a2a"
)

func benchMessage(b *testing.B, to string) *a2a.Message {
	b.Helper()
	msg, err := a2a.NewMessage("bench", to, a2a.TypeStatus, a2a.Fields{"n": 1.0})
	if err != nil {
		b.Fatal(err)
	}
	return msg
}

func BenchmarkSend(b *testing.B) {
	c := New()
	ctx := context.Background()
	msg := benchMessage(b, "sink")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Send(ctx, msg); err != nil {
			b.Fatalf("Send failed: %v", err)
		}
	}
}

func BenchmarkSendReceive(b *testing.B) {
	c := New()
	ctx := context.Background()
	msg := benchMessage(b, "echo")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Send(ctx, msg); err != nil {
			b.Fatalf("Send failed: %v", err)
		}
		if _, err := c.Receive(ctx, "echo", time.Second); err != nil {
			b.Fatalf("Receive failed: %v", err)
		}
	}
}

func BenchmarkSendWithCallback(b *testing.B) {
	c := New()
	ctx := context.Background()
	c.RegisterCallback("cb", func(context.Context, *a2a.Message) error { return nil })
	msg := benchMessage(b, "cb")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Send(ctx, msg); err != nil {
			b.Fatalf("Send failed: %v", err)
		}
	}
}

func BenchmarkConcurrentSenders(b *testing.B) {
	c := New()
	ctx := context.Background()
	const recipients = 16
	msgs := make([]*a2a.Message, recipients)
	for i := range msgs {
		msgs[i] = benchMessage(b, fmt.Sprintf("agent-%d", i))
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if err := c.Send(ctx, msgs[i%recipients]); err != nil {
				b.Errorf("Send failed: %v", err)
				return
			}
			i++
		}
	})
}

func TestConcurrentSendersKeepPerSenderOrder(t *testing.T) {
	c := New()
	ctx := context.Background()
	const senders, perSender = 8, 200

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				msg, err := a2a.NewMessage(fmt.Sprintf("s%d", s), "hub", a2a.TypeStatus, a2a.Fields{"seq": float64(i)})
				if err != nil {
					t.Error(err)
					return
				}
				if err := c.Send(ctx, msg); err != nil {
					t.Error(err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	if got := c.Pending("hub"); got != senders*perSender {
		t.Fatalf("Pending = %d, want %d", got, senders*perSender)
	}

	last := map[string]float64{}
	for i := 0; i < senders*perSender; i++ {
		msg, err := c.Receive(ctx, "hub", time.Second)
		if err != nil || msg == nil {
			t.Fatalf("Receive #%d: msg=%v err=%v", i, msg, err)
		}
		seq := msg.Payload.(a2a.Fields)["seq"].(float64)
		if prev, ok := last[msg.SenderID]; ok && seq <= prev {
			t.Fatalf("sender %s: seq %v after %v", msg.SenderID, seq, prev)
		}
		last[msg.SenderID] = seq
	}
}
