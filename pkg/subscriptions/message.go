package subscriptions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/getmockd/gqlsubs/pkg/graphql"
)

// Subprotocol is the WebSocket sub-protocol spoken by the registry: the
// legacy subscriptions-transport-ws protocol, not graphql-transport-ws.
const Subprotocol = "graphql-ws"

// MessageType is the wire discriminator of a protocol message.
type MessageType string

// Protocol message types.
const (
	// Client to server.
	TypeConnectionInit      MessageType = "connection_init"
	TypeStart               MessageType = "start"
	TypeStop                MessageType = "stop"
	TypeConnectionTerminate MessageType = "connection_terminate"

	// Server to client.
	TypeConnectionAck   MessageType = "connection_ack"
	TypeConnectionError MessageType = "connection_error"
	TypeKeepAlive       MessageType = "ka"
	TypeData            MessageType = "data"
	TypeError           MessageType = "error"
	TypeComplete        MessageType = "complete"
)

// Message is one protocol message. The set of implementations is closed:
// only the types declared in this package satisfy it.
type Message interface {
	Type() MessageType
	message()
}

// ConnectionInit opens the protocol session. Payload is passed to the
// OnConnect hook untouched.
type ConnectionInit struct {
	Payload json.RawMessage
}

// Start begins a query, mutation or subscription.
type Start struct {
	ID      OperationID
	Payload StartPayload
}

// StartPayload is the GraphQL request carried by a start message.
type StartPayload struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// Stop ends a subscription.
type Stop struct {
	ID OperationID
}

// ConnectionTerminate asks the server to drop the connection.
type ConnectionTerminate struct{}

// ConnectionAck accepts a connection_init.
type ConnectionAck struct {
	Payload json.RawMessage
}

// ConnectionError rejects a connection_init or reports a connection-level fault.
type ConnectionError struct {
	Message string
}

// KeepAlive is the server heartbeat.
type KeepAlive struct{}

// Data carries an execution result for one operation.
type Data struct {
	ID      OperationID
	Payload *graphql.GraphQLResponse
}

// OperationError reports a failure for one operation (wire type "error").
type OperationError struct {
	ID      OperationID
	Message string
}

// Complete signals that an operation will produce no more results.
type Complete struct {
	ID OperationID
}

// Publish is the in-process event variant of "data": it has no id and names
// the subscription the payload is routed to.
type Publish struct {
	Subscription string
	Payload      json.RawMessage
}

func (*ConnectionInit) Type() MessageType      { return TypeConnectionInit }
func (*Start) Type() MessageType               { return TypeStart }
func (*Stop) Type() MessageType                { return TypeStop }
func (*ConnectionTerminate) Type() MessageType { return TypeConnectionTerminate }
func (*ConnectionAck) Type() MessageType       { return TypeConnectionAck }
func (*ConnectionError) Type() MessageType     { return TypeConnectionError }
func (*KeepAlive) Type() MessageType           { return TypeKeepAlive }
func (*Data) Type() MessageType                { return TypeData }
func (*OperationError) Type() MessageType      { return TypeError }
func (*Complete) Type() MessageType            { return TypeComplete }
func (*Publish) Type() MessageType             { return TypeData }

func (*ConnectionInit) message()      {}
func (*Start) message()               {}
func (*Stop) message()                {}
func (*ConnectionTerminate) message() {}
func (*ConnectionAck) message()       {}
func (*ConnectionError) message()     {}
func (*KeepAlive) message()           {}
func (*Data) message()                {}
func (*OperationError) message()      {}
func (*Complete) message()            {}
func (*Publish) message()             {}

// OperationID is a client-chosen operation id. It keeps the JSON form the
// client used, so an id sent as 1 is echoed as 1 and "a" as "a". The zero
// value means "no id". OperationID is comparable and usable as a map key.
type OperationID struct {
	raw string
}

// StringID returns a string operation id.
func StringID(s string) OperationID {
	b, _ := json.Marshal(s)
	return OperationID{raw: string(b)}
}

// IntID returns an integer operation id.
func IntID(n int64) OperationID {
	return OperationID{raw: strconv.FormatInt(n, 10)}
}

// ParseOperationID parses a JSON id token. Only strings and integers are
// accepted.
func ParseOperationID(data []byte) (OperationID, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return OperationID{}, ErrInvalidID
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return OperationID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		return StringID(s), nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return OperationID{}, fmt.Errorf("%w: %s", ErrInvalidID, data)
	}
	return IntID(n), nil
}

// IsZero reports whether the id is unset.
func (id OperationID) IsZero() bool {
	return id.raw == ""
}

// IsString reports whether the id was sent as a JSON string.
func (id OperationID) IsString() bool {
	return len(id.raw) > 0 && id.raw[0] == '"'
}

// String returns the id value without JSON quoting.
func (id OperationID) String() string {
	if id.IsString() {
		var s string
		if err := json.Unmarshal([]byte(id.raw), &s); err == nil {
			return s
		}
	}
	return id.raw
}

// MarshalJSON implements json.Marshaler.
func (id OperationID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return []byte(id.raw), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *OperationID) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*id = OperationID{}
		return nil
	}
	parsed, err := ParseOperationID(data)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// envelope is the wire form of every message.
type envelope struct {
	Type         MessageType     `json:"type"`
	ID           *OperationID    `json:"id,omitempty"`
	Subscription string          `json:"subscription,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// rawEnvelope is used for decoding so that each field can be checked
// separately.
type rawEnvelope struct {
	Type         *string         `json:"type"`
	ID           json.RawMessage `json:"id"`
	Subscription *string         `json:"subscription"`
	Payload      json.RawMessage `json:"payload"`
}

// Decode parses one wire message. Every failure is a *DecodeError.
func Decode(data []byte) (Message, error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("malformed message: %w", err)}
	}

	var id OperationID
	if !isNull(env.ID) {
		parsed, err := ParseOperationID(env.ID)
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		id = parsed
	}

	if env.Type == nil || *env.Type == "" {
		return nil, &DecodeError{ID: id, Err: fmt.Errorf("%w: type is required", ErrUnknownMessageType)}
	}
	msgType := MessageType(*env.Type)

	payload := env.Payload
	if isNull(payload) {
		payload = nil
	}

	switch msgType {
	case TypeConnectionInit:
		return &ConnectionInit{Payload: payload}, nil

	case TypeConnectionTerminate:
		return &ConnectionTerminate{}, nil

	case TypeConnectionAck:
		return &ConnectionAck{Payload: payload}, nil

	case TypeConnectionError:
		return &ConnectionError{Message: payloadMessage(payload)}, nil

	case TypeKeepAlive:
		return &KeepAlive{}, nil

	case TypeData:
		if id.IsZero() && env.Subscription != nil {
			if *env.Subscription == "" {
				return nil, &DecodeError{Err: fmt.Errorf("%w: subscription name is required", ErrInvalidPayload)}
			}
			return &Publish{Subscription: *env.Subscription, Payload: payload}, nil
		}
	}

	// Everything below is scoped to an operation.
	if id.IsZero() {
		switch msgType {
		case TypeStart, TypeStop, TypeData, TypeError, TypeComplete:
			return nil, &DecodeError{Err: fmt.Errorf("%w for %s", ErrMissingID, msgType)}
		}
		return nil, &DecodeError{Err: fmt.Errorf("%w: %q", ErrUnknownMessageType, msgType)}
	}

	switch msgType {
	case TypeStart:
		var p StartPayload
		if payload != nil {
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, &DecodeError{ID: id, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
			}
		}
		return &Start{ID: id, Payload: p}, nil

	case TypeStop:
		return &Stop{ID: id}, nil

	case TypeData:
		var resp *graphql.GraphQLResponse
		if payload != nil {
			resp = &graphql.GraphQLResponse{}
			if err := json.Unmarshal(payload, resp); err != nil {
				return nil, &DecodeError{ID: id, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
			}
		}
		return &Data{ID: id, Payload: resp}, nil

	case TypeError:
		return &OperationError{ID: id, Message: payloadMessage(payload)}, nil

	case TypeComplete:
		return &Complete{ID: id}, nil

	default:
		return nil, &DecodeError{ID: id, Err: fmt.Errorf("%w: %q", ErrUnknownMessageType, msgType)}
	}
}

// Encode serializes a message to its wire form.
func Encode(m Message) ([]byte, error) {
	var env envelope
	switch msg := m.(type) {
	case *ConnectionInit:
		env = envelope{Type: TypeConnectionInit, Payload: msg.Payload}

	case *Start:
		payload, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode start payload: %w", err)
		}
		env = envelope{Type: TypeStart, ID: idRef(msg.ID), Payload: payload}

	case *Stop:
		env = envelope{Type: TypeStop, ID: idRef(msg.ID)}

	case *ConnectionTerminate:
		env = envelope{Type: TypeConnectionTerminate}

	case *ConnectionAck:
		env = envelope{Type: TypeConnectionAck, Payload: msg.Payload}

	case *ConnectionError:
		env = envelope{Type: TypeConnectionError, Payload: stringPayload(msg.Message)}

	case *KeepAlive:
		env = envelope{Type: TypeKeepAlive}

	case *Data:
		payload, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode data payload: %w", err)
		}
		env = envelope{Type: TypeData, ID: idRef(msg.ID), Payload: payload}

	case *OperationError:
		env = envelope{Type: TypeError, ID: idRef(msg.ID), Payload: stringPayload(msg.Message)}

	case *Complete:
		env = envelope{Type: TypeComplete, ID: idRef(msg.ID)}

	case *Publish:
		if msg.Subscription == "" {
			return nil, fmt.Errorf("encode publish: %w: subscription name is required", ErrInvalidPayload)
		}
		env = envelope{Type: TypeData, Subscription: msg.Subscription, Payload: msg.Payload}

	case nil:
		return nil, fmt.Errorf("encode: nil message")

	default:
		return nil, fmt.Errorf("encode: %w: %T", ErrUnknownMessageType, m)
	}

	switch m.(type) {
	case *Start, *Stop, *Data, *OperationError, *Complete:
		if env.ID == nil {
			return nil, fmt.Errorf("encode %s: %w", env.Type, ErrMissingID)
		}
	}

	return json.Marshal(env)
}

func idRef(id OperationID) *OperationID {
	if id.IsZero() {
		return nil
	}
	return &id
}

func stringPayload(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// payloadMessage extracts an error message from a string payload, or from an
// object payload with a "message" key.
func payloadMessage(payload json.RawMessage) string {
	if payload == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(payload)
}

func isNull(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
