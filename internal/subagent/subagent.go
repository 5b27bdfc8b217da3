package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/owulveryck/agentmail/internal/a2a"
	"github.com/owulveryck/agentmail/internal/agenthub"
	"github.com/owulveryck/agentmail/internal/observability"
)

// SubAgent pulls messages from its mailbox and dispatches them to the
// registered skills and handlers.
type SubAgent struct {
	config *Config
	comm   agenthub.Communicator
	logger *slog.Logger
	traces *observability.TraceManager

	skills   map[string]*Skill
	handlers map[a2a.MessageType]Handler

	mu      sync.Mutex
	running bool
	peers   map[string]a2a.CapabilityDiscovery
}

// Option configures a SubAgent.
type Option func(*SubAgent)

func WithLogger(l *slog.Logger) Option {
	return func(s *SubAgent) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTraceManager(tm *observability.TraceManager) Option {
	return func(s *SubAgent) {
		if tm != nil {
			s.traces = tm
		}
	}
}

// New creates a new SubAgent reading from comm.
func New(config *Config, comm agenthub.Communicator, opts ...Option) (*SubAgent, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &SubAgent{
		config:   config,
		comm:     comm,
		logger:   slog.New(slog.DiscardHandler),
		traces:   observability.NewTraceManager(config.AgentID),
		skills:   make(map[string]*Skill),
		handlers: make(map[a2a.MessageType]Handler),
		peers:    make(map[string]a2a.CapabilityDiscovery),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("agent_id", config.AgentID)
	return s, nil
}

// AddSkill registers the handler for task requests whose TaskType is name.
func (s *SubAgent) AddSkill(name, description string, handler TaskHandler) error {
	if _, exists := s.skills[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSkill, name)
	}

	s.skills[name] = &Skill{
		Name:        name,
		Description: description,
		Handler:     handler,
	}

	return nil
}

// MustAddSkill is like AddSkill but panics on error (for cleaner initialization code)
func (s *SubAgent) MustAddSkill(name, description string, handler TaskHandler) {
	if err := s.AddSkill(name, description, handler); err != nil {
		panic(err)
	}
}

// Handle registers h for messages of type t, replacing the built-in
// behaviour for that type. The last registration wins.
func (s *SubAgent) Handle(t a2a.MessageType, h Handler) {
	s.handlers[t] = h
}

// Capabilities returns the registered skill names, sorted.
func (s *SubAgent) Capabilities() []string {
	names := make([]string, 0, len(s.skills))
	for name := range s.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Peer returns the capabilities last announced by agentID.
func (s *SubAgent) Peer(agentID string) (a2a.CapabilityDiscovery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cd, ok := s.peers[agentID]
	return cd, ok
}

// Run pulls messages until ctx is done. Skills and handlers must be
// registered before calling it. Handler failures are logged and never stop
// the loop.
func (s *SubAgent) Run(ctx context.Context) error {
	if len(s.skills) == 0 && len(s.handlers) == 0 {
		return ErrNoHandlers
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAgentAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.InfoContext(ctx, "Agent started",
		"name", s.config.Name,
		"version", s.config.Version,
		"skills", s.Capabilities(),
	)

	for {
		msg, err := s.comm.Receive(ctx, s.config.AgentID, s.config.ReceiveTimeout)
		if ctx.Err() != nil {
			s.logger.InfoContext(context.Background(), "Agent shutting down gracefully")
			return nil
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "Receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.config.ReceiveTimeout):
			}
			continue
		}
		if msg == nil {
			continue
		}
		s.dispatch(ctx, msg)
	}
}

// Announce sends this agent's capabilities to another agent.
func (s *SubAgent) Announce(ctx context.Context, to string) error {
	msg, err := a2a.NewMessage(s.config.AgentID, to, a2a.TypeCapabilityDiscovery, s.capabilityPayload())
	if err != nil {
		return err
	}
	return s.comm.Send(ctx, msg)
}

// RequestTask sends a task request to another agent and returns the sent
// envelope. Its ID is the in_reply_to of the eventual task_response.
func (s *SubAgent) RequestTask(ctx context.Context, to, taskType string, params map[string]any) (*a2a.Message, error) {
	msg, err := a2a.NewMessage(s.config.AgentID, to, a2a.TypeTaskRequest, a2a.TaskRequest{
		TaskType:   taskType,
		Parameters: params,
	})
	if err != nil {
		return nil, err
	}
	if err := s.comm.Send(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// dispatch handles one message. A panicking handler is logged like a failed one.
func (s *SubAgent) dispatch(ctx context.Context, msg *a2a.Message) {
	ctx, span := s.traces.StartHandleSpan(ctx, s.config.AgentID, msg)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.traces.RecordError(span, err)
			s.logger.ErrorContext(ctx, "Handler panicked", "message_id", msg.ID, "error", err)
		}
	}()

	var err error
	if h, ok := s.handlers[msg.Type]; ok {
		err = h(ctx, msg)
	} else {
		switch msg.Type {
		case a2a.TypeTaskRequest:
			err = s.handleTaskRequest(ctx, msg)
		case a2a.TypeCapabilityDiscovery:
			err = s.handleCapabilityDiscovery(ctx, msg)
		case a2a.TypeTaskResponse:
			s.logTaskResponse(ctx, msg)
		default:
			s.logger.DebugContext(ctx, "No handler for message type",
				"message_id", msg.ID,
				"message_type", string(msg.Type),
				"sender_id", msg.SenderID,
			)
		}
	}

	if err != nil {
		s.traces.RecordError(span, err)
		s.logger.ErrorContext(ctx, "Message handling failed",
			"message_id", msg.ID,
			"message_type", string(msg.Type),
			"sender_id", msg.SenderID,
			"error", err,
		)
		return
	}
	s.traces.SetSpanSuccess(span)
}

func (s *SubAgent) handleTaskRequest(ctx context.Context, msg *a2a.Message) error {
	req, ok := taskRequest(msg.Payload)
	if !ok {
		return s.reply(ctx, msg, a2a.TaskResponse{
			Error: fmt.Sprintf("expected %s payload, got %s", a2a.KindTaskRequest, a2a.PayloadKind(msg.Payload)),
		})
	}

	skill, ok := s.skills[req.TaskType]
	if !ok {
		s.logger.WarnContext(ctx, "Unknown task type", "task_type", req.TaskType, "sender_id", msg.SenderID)
		return s.reply(ctx, msg, a2a.TaskResponse{Error: fmt.Sprintf("unknown task type %q", req.TaskType)})
	}

	s.logger.InfoContext(ctx, "Processing task",
		"message_id", msg.ID,
		"task_type", req.TaskType,
		"sender_id", msg.SenderID,
	)

	result, err := s.runSkill(ctx, skill, req, msg)
	resp := a2a.TaskResponse{Success: err == nil, Result: result}
	if err != nil {
		resp.Result = nil
		resp.Error = err.Error()
		s.logger.ErrorContext(ctx, "Task failed", "task_type", req.TaskType, "error", err)
	} else {
		s.logger.InfoContext(ctx, "Task completed successfully", "task_type", req.TaskType)
	}
	return s.reply(ctx, msg, resp)
}

func (s *SubAgent) runSkill(ctx context.Context, skill *Skill, req a2a.TaskRequest, msg *a2a.Message) (result any, err error) {
	ctx, span := s.traces.StartSpan(ctx, "agent.skill."+skill.Name)
	defer span.End()
	s.traces.AddTaskAttributes(span, req.TaskType, req.Parameters)
	s.traces.AddComponentAttribute(span, s.config.AgentID)

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("skill %s panicked: %v", skill.Name, r)
		}
		s.traces.AddTaskResult(span, err == nil, errString(err))
	}()

	return skill.Handler(ctx, req, msg)
}

// handleCapabilityDiscovery records the sender's capabilities and, unless
// the message is itself a reply, answers with ours.
func (s *SubAgent) handleCapabilityDiscovery(ctx context.Context, msg *a2a.Message) error {
	if cd, ok := capabilityDiscovery(msg.Payload); ok {
		s.mu.Lock()
		s.peers[msg.SenderID] = cd
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "Peer capabilities",
			"peer_id", msg.SenderID,
			"capabilities", cd.Capabilities,
			"agent_version", cd.AgentVersion,
		)
	}

	if _, isReply := msg.Metadata[a2a.MetadataInReplyTo]; isReply {
		return nil
	}
	return s.reply(ctx, msg, s.capabilityPayload())
}

func (s *SubAgent) logTaskResponse(ctx context.Context, msg *a2a.Message) {
	resp, ok := taskResponse(msg.Payload)
	if !ok {
		s.logger.WarnContext(ctx, "Task response without task_response payload", "message_id", msg.ID)
		return
	}
	s.logger.InfoContext(ctx, "Task response received",
		"sender_id", msg.SenderID,
		"in_reply_to", msg.Metadata[a2a.MetadataInReplyTo],
		"success", resp.Success,
		"result", resp.Result,
		"error", resp.Error,
	)
}

func (s *SubAgent) reply(ctx context.Context, to *a2a.Message, p a2a.Payload) error {
	msgType := a2a.TypeTaskResponse
	if _, ok := p.(a2a.CapabilityDiscovery); ok {
		msgType = a2a.TypeCapabilityDiscovery
	}
	resp, err := to.Reply(msgType, p)
	if err != nil {
		return err
	}
	if err := s.comm.Send(ctx, resp); err != nil {
		return fmt.Errorf("reply to %s: %w", to.SenderID, err)
	}
	return nil
}

func (s *SubAgent) capabilityPayload() a2a.CapabilityDiscovery {
	return a2a.CapabilityDiscovery{
		Capabilities: s.Capabilities(),
		AgentVersion: s.config.Version,
		Extra: map[string]any{
			"name":        s.config.Name,
			"description": s.config.Description,
		},
	}
}

// GetLogger returns the agent's logger for custom logging needs
func (s *SubAgent) GetLogger() *slog.Logger {
	return s.logger
}

// GetConfig returns the agent configuration
func (s *SubAgent) GetConfig() *Config {
	return s.config
}

func taskRequest(p a2a.Payload) (a2a.TaskRequest, bool) {
	switch v := p.(type) {
	case a2a.TaskRequest:
		return v, true
	case *a2a.TaskRequest:
		if v != nil {
			return *v, true
		}
	}
	return a2a.TaskRequest{}, false
}

func taskResponse(p a2a.Payload) (a2a.TaskResponse, bool) {
	switch v := p.(type) {
	case a2a.TaskResponse:
		return v, true
	case *a2a.TaskResponse:
		if v != nil {
			return *v, true
		}
	}
	return a2a.TaskResponse{}, false
}

func capabilityDiscovery(p a2a.Payload) (a2a.CapabilityDiscovery, bool) {
	switch v := p.(type) {
	case a2a.CapabilityDiscovery:
		return v, true
	case *a2a.CapabilityDiscovery:
		if v != nil {
			return *v, true
		}
	}
	return a2a.CapabilityDiscovery{}, false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
