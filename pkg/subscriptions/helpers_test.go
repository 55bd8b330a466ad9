package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlsubs/pkg/graphql"
)

const testSchema = `
type Query {
	hello: String
	fail: String
	whoami: String
}

type Mutation {
	echo(text: String!): String
}

type Subscription {
	dummy: String
	counter: Int
	messageAdded(channel: String): Message
}

type Message {
	id: ID!
	text: String!
	channel: String
}
`

func newTestExecutor(t testing.TB, opts ...graphql.ExecutorOption) *graphql.Executor {
	t.Helper()
	schema, err := graphql.ParseSchema(testSchema)
	require.NoError(t, err)

	return graphql.NewExecutor(schema, append([]graphql.ExecutorOption{graphql.WithResolvers(map[string]graphql.Resolver{
		"Query.hello": func(context.Context, graphql.ResolveParams) (interface{}, error) {
			return "world", nil
		},
		"Query.fail": func(context.Context, graphql.ResolveParams) (interface{}, error) {
			panic("resolver exploded")
		},
		"Query.whoami": func(ctx context.Context, _ graphql.ResolveParams) (interface{}, error) {
			tenant, _ := ContextValue(ctx, "tenant")
			user, _ := ContextValue(ctx, "user")
			return fmt.Sprintf("%v/%v", tenant, user), nil
		},
		"Mutation.echo": func(_ context.Context, p graphql.ResolveParams) (interface{}, error) {
			return p.Args["text"], nil
		},
	})}, opts...)...)
}

func newTestRegistry(t testing.TB, opts ...Option) *Registry {
	t.Helper()
	return New(newTestExecutor(t), opts...)
}

// recordingConn is an in-memory Connection that records every frame.
type recordingConn struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  []string
}

func newConn(id string) *recordingConn {
	return &recordingConn{id: id}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *recordingConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, reason)
	return nil
}

func (c *recordingConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *recordingConn) raw() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

func (c *recordingConn) messages(t testing.TB) []Message {
	t.Helper()
	var out []Message
	for _, f := range c.raw() {
		msg, err := Decode([]byte(f))
		require.NoError(t, err, "frame %s", f)
		out = append(out, msg)
	}
	return out
}

func (c *recordingConn) types(t testing.TB) []MessageType {
	t.Helper()
	var out []MessageType
	for _, m := range c.messages(t) {
		out = append(out, m.Type())
	}
	return out
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func startFrame(t testing.TB, id interface{}, query string, variables map[string]interface{}) []byte {
	t.Helper()
	payload := map[string]interface{}{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}
	b, err := json.Marshal(map[string]interface{}{"type": "start", "id": id, "payload": payload})
	require.NoError(t, err)
	return b
}

var errBrokenPipe = errors.New("broken pipe")
