package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlsubs/pkg/config"
	"github.com/getmockd/gqlsubs/pkg/graphql"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

var message = map[string]interface{}{
	"id":      "1",
	"channel": "general",
	"likes":   float64(3),
	"author":  map[string]interface{}{"name": "ada", "role": "admin"},
}

func TestExpr(t *testing.T) {
	ctx := context.Background()

	f, err := Expr(`payload.channel == variables.channel && payload.likes >= 3`, nil)
	require.NoError(t, err)
	assert.True(t, f(ctx, message, map[string]interface{}{"channel": "general"}))
	assert.False(t, f(ctx, message, map[string]interface{}{"channel": "random"}))

	f, err = Expr(`payload.author.role in ["admin", "owner"]`, nil)
	require.NoError(t, err)
	assert.True(t, f(ctx, message, nil))
}

func TestExpr_OptionalVariable(t *testing.T) {
	ctx := context.Background()

	f, err := Expr(`variables.channel == nil || payload.channel == variables.channel`, nil)
	require.NoError(t, err)
	assert.True(t, f(ctx, message, nil))
	assert.True(t, f(ctx, message, map[string]interface{}{}))
	assert.True(t, f(ctx, message, map[string]interface{}{"channel": "general"}))
	assert.False(t, f(ctx, message, map[string]interface{}{"channel": "random"}))
}

func TestExpr_StructPayload(t *testing.T) {
	type event struct {
		Channel string `json:"channel"`
	}
	f, err := Expr(`payload.channel == "general"`, nil)
	require.NoError(t, err)
	assert.True(t, f(context.Background(), event{Channel: "general"}, nil))
	assert.True(t, f(context.Background(), &event{Channel: "general"}, nil))
}

func TestExpr_CompileErrors(t *testing.T) {
	_, err := Expr(`payload.channel ==`, nil)
	assert.Error(t, err)

	_, err = Expr(`"not a bool"`, nil)
	assert.Error(t, err)
}

func TestExpr_RuntimeErrorDrops(t *testing.T) {
	f, err := Expr(`payload.author.name == "ada"`, nil)
	require.NoError(t, err)
	assert.False(t, f(context.Background(), nil, nil))
}

func TestJSONPath(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		conditions map[string]interface{}
		variables  map[string]interface{}
		want       bool
	}{
		{"literal", map[string]interface{}{"$.channel": "general"}, nil, true},
		{"literal mismatch", map[string]interface{}{"$.channel": "random"}, nil, false},
		{"numeric coercion", map[string]interface{}{"$.likes": 3}, nil, true},
		{"nested", map[string]interface{}{"$.author.name": "ada"}, nil, true},
		{"variable", map[string]interface{}{"$.channel": "$variables.channel"}, map[string]interface{}{"channel": "general"}, true},
		{"variable mismatch", map[string]interface{}{"$.channel": "$variables.channel"}, map[string]interface{}{"channel": "random"}, false},
		{"missing variable", map[string]interface{}{"$.channel": "$variables.channel"}, nil, false},
		{"exists", map[string]interface{}{"$.author": map[string]interface{}{"exists": true}}, nil, true},
		{"not exists", map[string]interface{}{"$.deleted": map[string]interface{}{"exists": false}}, nil, true},
		{"all must hold", map[string]interface{}{"$.channel": "general", "$.id": "2"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := JSONPath(tt.conditions)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f(ctx, message, tt.variables))
		})
	}
}

func TestJSONPath_Invalid(t *testing.T) {
	_, err := JSONPath(map[string]interface{}{"$[": 1})
	assert.Error(t, err)
}

func TestAll(t *testing.T) {
	yes := func(context.Context, interface{}, map[string]interface{}) bool { return true }
	no := func(context.Context, interface{}, map[string]interface{}) bool { return false }

	assert.Nil(t, All())
	assert.Nil(t, All(nil))
	assert.True(t, All(yes, nil)(context.Background(), nil, nil))
	assert.False(t, All(yes, no)(context.Background(), nil, nil))
}

func TestFromConfig(t *testing.T) {
	filters, err := FromConfig(map[string]config.FilterConfig{
		"messageAdded": {
			Expr:     `context.tenant == "acme"`,
			JSONPath: map[string]interface{}{"$.channel": "$variables.channel"},
		},
	}, nil)
	require.NoError(t, err)
	require.Contains(t, filters, "messageAdded")

	_, err = FromConfig(map[string]config.FilterConfig{"x": {Expr: "1 +"}}, nil)
	assert.Error(t, err)
	_, err = FromConfig(map[string]config.FilterConfig{"x": {JSONPath: map[string]interface{}{"$[": 1}}}, nil)
	assert.Error(t, err)
}

func TestFromConfig_WithRegistry(t *testing.T) {
	schema, err := graphql.ParseSchema(`
type Query { hello: String }
type Subscription { messageAdded(channel: String): Message }
type Message { id: ID! channel: String }
`)
	require.NoError(t, err)

	filters, err := FromConfig(map[string]config.FilterConfig{
		"messageAdded": {
			Expr:     `context.tenant == "acme"`,
			JSONPath: map[string]interface{}{"$.channel": "$variables.channel"},
		},
	}, nil)
	require.NoError(t, err)

	reg := subscriptions.New(graphql.NewExecutor(schema),
		subscriptions.WithFilters(filters),
		subscriptions.WithContextValues(map[string]interface{}{"tenant": "acme"}),
	)

	ctx := context.Background()
	general, random := &memConn{id: "general"}, &memConn{id: "random"}
	reg.HandleRaw(ctx, general, []byte(`{"type":"start","id":"1","payload":{"query":"subscription($c: String) { messageAdded(channel: $c) { id } }","variables":{"c":"general"}}}`))
	reg.HandleRaw(ctx, random, []byte(`{"type":"start","id":"1","payload":{"query":"subscription($c: String) { messageAdded(channel: $c) { id } }","variables":{"c":"random"}}}`))

	// The JSONPath condition reads the variable named in the config, not
	// the GraphQL argument.
	result := reg.Publish(ctx, "messageAdded", message)
	assert.Equal(t, 2, result.Filtered)

	filters, err = FromConfig(map[string]config.FilterConfig{
		"messageAdded": {JSONPath: map[string]interface{}{"$.channel": "$variables.c"}},
	}, nil)
	require.NoError(t, err)
	reg = subscriptions.New(graphql.NewExecutor(schema), subscriptions.WithFilters(filters))
	reg.HandleRaw(ctx, general, []byte(`{"type":"start","id":"1","payload":{"query":"subscription($c: String) { messageAdded(channel: $c) { id } }","variables":{"c":"general"}}}`))
	reg.HandleRaw(ctx, random, []byte(`{"type":"start","id":"1","payload":{"query":"subscription($c: String) { messageAdded(channel: $c) { id } }","variables":{"c":"random"}}}`))

	result = reg.Publish(ctx, "messageAdded", message)
	assert.Equal(t, subscriptions.PublishResult{Matched: 2, Filtered: 1, Delivered: 1}, result)
	assert.Equal(t, []string{`{"type":"data","id":"1","payload":{"data":{"messageAdded":{"id":"1"}}}}`}, general.frames)
	assert.Empty(t, random.frames)
}

type memConn struct {
	id     string
	frames []string
}

func (c *memConn) ID() string { return c.id }

func (c *memConn) Send(_ context.Context, data []byte) error {
	c.frames = append(c.frames, string(data))
	return nil
}
