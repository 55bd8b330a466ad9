package subscriptions

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlsubs/pkg/graphql"
)

func TestMessageRoundTrip(t *testing.T) {
	messages := []Message{
		&ConnectionInit{Payload: json.RawMessage(`{"authToken":"abc"}`)},
		&ConnectionInit{},
		&Start{ID: StringID("1"), Payload: StartPayload{
			Query:         "subscription S($c: String) { messageAdded(channel: $c) { id } }",
			Variables:     map[string]interface{}{"c": "general", "n": 2.0},
			OperationName: "S",
		}},
		&Start{ID: IntID(7), Payload: StartPayload{Query: "{ hello }"}},
		&Stop{ID: StringID("a")},
		&ConnectionTerminate{},
		&ConnectionAck{},
		&ConnectionAck{Payload: json.RawMessage(`{}`)},
		&ConnectionError{Message: "unauthorized"},
		&KeepAlive{},
		&Data{ID: IntID(1), Payload: &graphql.GraphQLResponse{Data: map[string]interface{}{"dummy": "hello"}}},
		&Data{ID: StringID("q"), Payload: &graphql.GraphQLResponse{
			Errors: []graphql.GraphQLError{{Message: "boom", Path: []interface{}{"fail"}}},
		}},
		&OperationError{ID: StringID("2"), Message: "query is required"},
		&Complete{ID: IntID(3)},
		&Publish{Subscription: "dummy", Payload: json.RawMessage(`{"text":"hi"}`)},
	}

	for _, m := range messages {
		t.Run(string(m.Type()), func(t *testing.T) {
			data, err := Encode(m)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err, "frame %s", data)
			assert.Equal(t, m, decoded)
		})
	}
}

func TestEncode_WireFormat(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"ack", &ConnectionAck{Payload: json.RawMessage(`{}`)}, `{"type":"connection_ack","payload":{}}`},
		{"ka", &KeepAlive{}, `{"type":"ka"}`},
		{"connection error", &ConnectionError{Message: "denied"}, `{"type":"connection_error","payload":"denied"}`},
		{"int id data", &Data{ID: IntID(1), Payload: &graphql.GraphQLResponse{Data: map[string]interface{}{"dummy": "hello"}}},
			`{"type":"data","id":1,"payload":{"data":{"dummy":"hello"}}}`},
		{"string id error", &OperationError{ID: StringID("a"), Message: "bad"}, `{"type":"error","id":"a","payload":"bad"}`},
		{"complete", &Complete{ID: StringID("a")}, `{"type":"complete","id":"a"}`},
		{"publish", &Publish{Subscription: "dummy", Payload: json.RawMessage(`"x"`)}, `{"type":"data","subscription":"dummy","payload":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)

	_, err = Encode(&Complete{})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = Encode(&Publish{})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecode(t *testing.T) {
	t.Run("start keeps integer id", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"start","id":1,"payload":{"query":"subscription { dummy }"}}`))
		require.NoError(t, err)
		start := msg.(*Start)
		assert.Equal(t, IntID(1), start.ID)
		assert.False(t, start.ID.IsString())
		assert.Equal(t, "1", start.ID.String())
		assert.Equal(t, "subscription { dummy }", start.Payload.Query)
	})

	t.Run("string and integer ids differ", func(t *testing.T) {
		assert.NotEqual(t, StringID("1"), IntID(1))
	})

	t.Run("start without payload", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"start","id":"a"}`))
		require.NoError(t, err)
		assert.Equal(t, "", msg.(*Start).Payload.Query)
	})

	t.Run("data without id is a publish", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"data","subscription":"dummy","payload":{"x":1}}`))
		require.NoError(t, err)
		pub := msg.(*Publish)
		assert.Equal(t, "dummy", pub.Subscription)
		assert.JSONEq(t, `{"x":1}`, string(pub.Payload))
	})

	t.Run("error with object payload", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"error","id":"a","payload":{"message":"nope"}}`))
		require.NoError(t, err)
		assert.Equal(t, "nope", msg.(*OperationError).Message)
	})
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		target  error
		hasID   bool
		wantsID OperationID
	}{
		{name: "not json", input: `nope`},
		{name: "array", input: `[]`},
		{name: "missing type", input: `{"id":"1"}`, target: ErrUnknownMessageType, hasID: true, wantsID: StringID("1")},
		{name: "unknown type", input: `{"type":"subscribe","id":"1"}`, target: ErrUnknownMessageType, hasID: true, wantsID: StringID("1")},
		{name: "unknown type without id", input: `{"type":"ping"}`, target: ErrUnknownMessageType},
		{name: "start without id", input: `{"type":"start","payload":{"query":"{ hello }"}}`, target: ErrMissingID},
		{name: "stop without id", input: `{"type":"stop"}`, target: ErrMissingID},
		{name: "data without id or subscription", input: `{"type":"data","payload":{}}`, target: ErrMissingID},
		{name: "publish with empty name", input: `{"type":"data","subscription":""}`, target: ErrInvalidPayload},
		{name: "float id", input: `{"type":"stop","id":1.5}`, target: ErrInvalidID},
		{name: "object id", input: `{"type":"stop","id":{}}`, target: ErrInvalidID},
		{name: "bad start payload", input: `{"type":"start","id":"x","payload":"query"}`, target: ErrInvalidPayload, hasID: true, wantsID: StringID("x")},
		{name: "bad query type", input: `{"type":"start","id":4,"payload":{"query":1}}`, target: ErrInvalidPayload, hasID: true, wantsID: IntID(4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, msg)

			var de *DecodeError
			require.True(t, errors.As(err, &de), "error should be a *DecodeError: %v", err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.hasID {
				assert.Equal(t, tt.wantsID, de.ID)
			} else {
				assert.True(t, de.ID.IsZero())
			}
		})
	}
}

func TestOperationID_JSON(t *testing.T) {
	type wrapper struct {
		ID OperationID `json:"id"`
	}

	for _, in := range []string{`{"id":"abc"}`, `{"id":42}`, `{"id":-3}`, `{"id":null}`} {
		var w wrapper
		require.NoError(t, json.Unmarshal([]byte(in), &w), in)
		out, err := json.Marshal(w)
		require.NoError(t, err)
		assert.Equal(t, in, string(out))
	}

	var w wrapper
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"id":true}`), &w), ErrInvalidID)
}
