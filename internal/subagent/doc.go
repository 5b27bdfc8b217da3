// Package subagent is a small runtime for agents that live on a mailbox.
//
// A SubAgent reads its mailbox in a loop and dispatches by message type:
//
//   - task_request: routed by TaskRequest.TaskType to a registered skill. The
//     skill's result or error is sent back to the requester as a
//     task_response, with in_reply_to set to the request ID.
//   - capability_discovery: the sender's capabilities are recorded (see
//     Peer) and, unless the message is itself a reply, answered with this
//     agent's skills.
//   - task_response: logged.
//
// Handle overrides the built-in behaviour for a type, or adds one for types
// such as status.
//
//	config := &subagent.Config{
//	    AgentID:     "echo_agent",
//	    Name:        "Echo",
//	    Description: "Repeats what it is told",
//	}
//	agent, err := subagent.New(config, comm, subagent.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	agent.MustAddSkill("echo", "Echo the parameters", func(ctx context.Context, req a2a.TaskRequest, _ *a2a.Message) (any, error) {
//	    return req.Parameters, nil
//	})
//	if err := agent.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// comm is any agenthub.Communicator: the in-process mailbox or a remote hub.
// Failing or panicking handlers are logged and the loop carries on.
package subagent
