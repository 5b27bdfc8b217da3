package a2a

import (
	"fmt"
	"strings"

	"github.com/go-json-experiment/json"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Envelope field names on the wire.
const (
	fieldID          = "id"
	fieldSender      = "sender_id"
	fieldRecipient   = "recipient_id"
	fieldType        = "message_type"
	fieldTimestamp   = "timestamp"
	fieldMetadata    = "metadata"
	fieldPayload     = "payload"
	fieldPayloadKind = "kind"
	fieldPayloadBody = "body"
)

// ToProto converts m to its protobuf Struct form. Payload, parameter and
// metadata values travel as their JSON form: slices of any element type
// decode as []any, structs and typed maps as map[string]any and numbers as
// float64.
func ToProto(m *Message) (*structpb.Struct, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	ts, err := protojson.Marshal(timestamppb.New(m.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("encode timestamp: %w", err)
	}

	body, err := payloadBody(m.Payload)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		fieldID:        m.ID,
		fieldSender:    m.SenderID,
		fieldRecipient: m.RecipientID,
		fieldType:      string(m.Type),
		// protojson renders a Timestamp as a quoted RFC 3339 string.
		fieldTimestamp: strings.Trim(string(ts), `"`),
		fieldPayload: map[string]any{
			fieldPayloadKind: PayloadKind(m.Payload),
			fieldPayloadBody: body,
		},
	}
	if m.Metadata != nil {
		fields[fieldMetadata] = m.Metadata
	}

	wire, err := jsonValues(fields)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return s, nil
}

// FromProto rebuilds a Message from its protobuf Struct form.
func FromProto(s *structpb.Struct) (*Message, error) {
	if s == nil {
		return nil, ErrMalformedEnvelope
	}
	raw := s.AsMap()

	m := &Message{
		ID:          stringField(raw, fieldID),
		SenderID:    stringField(raw, fieldSender),
		RecipientID: stringField(raw, fieldRecipient),
		Type:        MessageType(stringField(raw, fieldType)),
	}

	if tsRaw := stringField(raw, fieldTimestamp); tsRaw != "" {
		var ts timestamppb.Timestamp
		if err := protojson.Unmarshal([]byte(`"`+tsRaw+`"`), &ts); err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformedEnvelope, err)
		}
		m.Timestamp = ts.AsTime()
	}

	if md, ok := raw[fieldMetadata].(map[string]any); ok {
		m.Metadata = md
	}

	payload, ok := raw[fieldPayload].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedEnvelope)
	}
	p, err := decodePayload(stringField(payload, fieldPayloadKind), mapField(payload, fieldPayloadBody))
	if err != nil {
		return nil, err
	}
	m.Payload = p

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal encodes m as protojson.
func Marshal(m *Message) ([]byte, error) {
	s, err := ToProto(m)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(s)
}

// Unmarshal decodes a protojson envelope produced by Marshal.
func Unmarshal(data []byte) (*Message, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return FromProto(&s)
}

func payloadBody(p Payload) (map[string]any, error) {
	body := map[string]any{}
	switch v := p.(type) {
	case TaskRequest:
		body["task_type"] = v.TaskType
		if v.Parameters != nil {
			body["parameters"] = v.Parameters
		}
		if v.Context != nil {
			body["context"] = v.Context
		}
	case TaskResponse:
		body["success"] = v.Success
		if v.Result != nil {
			body["result"] = v.Result
		}
		if v.Error != "" {
			body["error"] = v.Error
		}
	case CapabilityDiscovery:
		if v.Capabilities != nil {
			caps := make([]any, len(v.Capabilities))
			for i, c := range v.Capabilities {
				caps[i] = c
			}
			body["capabilities"] = caps
		}
		if v.AgentVersion != "" {
			body["agent_version"] = v.AgentVersion
		}
		if v.Extra != nil {
			body["extra"] = v.Extra
		}
	case Fields:
		for k, val := range v {
			body[k] = val
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayloadKind, p)
	}
	return body, nil
}

// jsonValues rewrites fields into the plain JSON types structpb accepts.
func jsonValues(fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(fields, json.DefaultOptionsV2())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out, json.DefaultOptionsV2()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return out, nil
}

func decodePayload(kind string, body map[string]any) (Payload, error) {
	switch kind {
	case KindTaskRequest:
		return TaskRequest{
			TaskType:   stringField(body, "task_type"),
			Parameters: mapField(body, "parameters"),
			Context:    mapField(body, "context"),
		}, nil
	case KindTaskResponse:
		success, _ := body["success"].(bool)
		return TaskResponse{
			Success: success,
			Result:  body["result"],
			Error:   stringField(body, "error"),
		}, nil
	case KindCapabilityDiscovery:
		cd := CapabilityDiscovery{
			AgentVersion: stringField(body, "agent_version"),
			Extra:        mapField(body, "extra"),
		}
		if caps, ok := body["capabilities"].([]any); ok {
			cd.Capabilities = make([]string, 0, len(caps))
			for _, c := range caps {
				if s, ok := c.(string); ok {
					cd.Capabilities = append(cd.Capabilities, s)
				}
			}
		}
		return cd, nil
	case KindFields:
		if body == nil {
			body = map[string]any{}
		}
		return Fields(body), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloadKind, kind)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}
