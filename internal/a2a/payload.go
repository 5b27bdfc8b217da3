package a2a

// Payload is the body of a Message. The set of implementations is closed:
// TaskRequest, TaskResponse, CapabilityDiscovery and Fields.
type Payload interface {
	payloadKind() string
}

// Payload kind tags used on the wire.
const (
	KindTaskRequest         = "task_request"
	KindTaskResponse        = "task_response"
	KindCapabilityDiscovery = "capability_discovery"
	KindFields              = "fields"
)

// TaskRequest asks another agent to perform a task.
type TaskRequest struct {
	TaskType   string
	Parameters map[string]any
	// Context is optional, nil means absent.
	Context map[string]any
}

func (TaskRequest) payloadKind() string { return KindTaskRequest }

// TaskResponse answers a TaskRequest.
type TaskResponse struct {
	Success bool
	Result  any
	Error   string
}

func (TaskResponse) payloadKind() string { return KindTaskResponse }

// CapabilityDiscovery advertises what an agent can do.
type CapabilityDiscovery struct {
	Capabilities []string
	AgentVersion string
	Extra        map[string]any
}

func (CapabilityDiscovery) payloadKind() string { return KindCapabilityDiscovery }

// Fields is a free-form key/value body.
type Fields map[string]any

func (Fields) payloadKind() string { return KindFields }

// PayloadKind returns the wire tag of p, or "" for nil and typed-nil pointers.
func PayloadKind(p Payload) string {
	p, ok := derefPayload(p)
	if !ok {
		return ""
	}
	return p.payloadKind()
}

// derefPayload turns a pointer variant into its value. ok is false for a nil
// payload, including a nil pointer variant.
func derefPayload(p Payload) (Payload, bool) {
	switch v := p.(type) {
	case nil:
		return nil, false
	case *TaskRequest:
		if v == nil {
			return nil, false
		}
		return *v, true
	case *TaskResponse:
		if v == nil {
			return nil, false
		}
		return *v, true
	case *CapabilityDiscovery:
		if v == nil {
			return nil, false
		}
		return *v, true
	case *Fields:
		if v == nil {
			return nil, false
		}
		return *v, true
	default:
		return p, true
	}
}
