// Package agenthub puts a mailbox behind gRPC so that agents in other
// processes can share it.
//
// The hub process owns a single mailbox.Communicator and serves it as the
// agentmail.v1.Mailbox service. The service is declared by hand on top of
// well-known protobuf types (structpb.Struct and emptypb.Empty), so it needs
// no generated code:
//
//	Send(envelope)                  -> Empty
//	Receive({agent_id, timeout_ms}) -> {found, message}
//	Subscribe({agent_id})           -> stream envelope
//
// Envelopes use the a2a wire form (a2a.ToProto). Send maps decoding errors
// to InvalidArgument and recipient callback failures to Aborted.
//
// # Push delivery
//
// Subscribe registers a callback on the hub's communicator that writes each
// envelope sent to the agent down the stream. The hub's Send returns once the
// envelope is on the wire, and the envelope also stays in the mailbox, as
// with any callback. A second Subscribe for the same agent replaces the
// first, whose stream then ends.
//
// # Agents
//
// RemoteCommunicator implements Communicator against the service, so agent
// code is the same whether it runs next to the mailbox or talks to a hub:
//
//	comm, closeFn, err := agenthub.NewCommunicator(ctx, cfg, agenthub.Deps{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer closeFn()
//
// cfg.Backend (A2A_BACKEND) picks "inmemory" or "grpc". Any other value is
// ErrUnknownBackend.
//
// AgentHubServer and AgentHubClient bundle the gRPC server or connection with
// otelgrpc instrumentation, observability, a health server and a metrics
// ticker. The hub health server also serves /mailboxes, a JSON listing of
// mailbox depths and subscriptions.
package agenthub
