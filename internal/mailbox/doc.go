// Package mailbox implements in-process agent-to-agent messaging: one
// unbounded FIFO queue per agent, created lazily, plus an optional push
// callback per agent.
//
// A Communicator is an ordinary value owned by whoever constructs it; there is
// no package-level registry, so tests and processes can run as many isolated
// communicators as they need.
//
//	comm := mailbox.New(mailbox.WithLogger(logger))
//	_ = comm.Send(ctx, msg)                       // enqueue, then run callback if any
//	next, err := comm.Receive(ctx, "agent_b", time.Second)
//	if next == nil && err == nil {
//	    // nothing arrived within a second
//	}
//
// Delivery is FIFO per recipient. Nothing is persisted: messages still queued
// when the process exits are lost.
package mailbox
