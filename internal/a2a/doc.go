// Package a2a defines the envelope exchanged between agents through a mailbox
// and its protobuf wire form.
//
// # Envelope
//
// A Message carries a sender, a recipient (the only routing key), a message
// type tag, a payload, a creation timestamp and optional metadata:
//
//	msg, err := a2a.NewMessage("planner", "researcher", a2a.TypeTaskRequest,
//	    a2a.TaskRequest{TaskType: "search", Parameters: map[string]any{"q": "otel"}})
//
// # Payloads
//
// Payload is a closed sum type with four variants: TaskRequest, TaskResponse,
// CapabilityDiscovery and Fields. The message type and the payload variant are
// expected to agree (a task_request carries a TaskRequest) but this is a
// convention only, it is never checked.
//
// # Wire form
//
// ToProto and FromProto convert a Message to and from a structpb.Struct so it
// can travel over gRPC without generated stubs. Marshal and Unmarshal use the
// protojson encoding of the same Struct. The payload is encoded as
// {"kind": ..., "body": ...} and decoding dispatches on kind.
package a2a
