package graphql

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const executorTestSchema = `
type Query {
	user(id: ID!): User
	users(role: Role): [User!]!
	search(query: String!): [SearchResult!]!
	count: Int
	boom: String
	role: Role
}

type Subscription {
	messageAdded(channel: String): Message
	counter: Int
}

type Message {
	id: ID!
	text: String!
	channel: String
}

type User {
	id: ID!
	name: String!
	email: String
	role: Role!
}

type Post {
	id: ID!
	title: String!
}

enum Role {
	ADMIN
	USER
	GUEST
}

union SearchResult = User | Post
`

func newTestExecutor(t *testing.T, opts ...ExecutorOption) *Executor {
	t.Helper()
	schema, err := ParseSchema(executorTestSchema)
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	return NewExecutor(schema, opts...)
}

func dataMap(t *testing.T, resp *GraphQLResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected data map, got %T (errors: %v)", resp.Data, resp.Errors)
	}
	return m
}

func TestExecutor_ResolverAndArguments(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.user", func(_ context.Context, p ResolveParams) (interface{}, error) {
		return map[string]interface{}{
			"id":   p.Args["id"],
			"name": "User " + p.Args["id"].(string),
			"role": "ADMIN",
		}, nil
	}))

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query:     `query Get($id: ID!) { user(id: $id) { id name role } }`,
		Variables: map[string]interface{}{"id": "42"},
	}, nil)

	if resp.HasErrors() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	user := dataMap(t, resp)["user"].(map[string]interface{})
	if user["id"] != "42" || user["name"] != "User 42" || user["role"] != "ADMIN" {
		t.Errorf("unexpected user: %v", user)
	}
}

func TestExecutor_AliasesAndTypename(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.user", func(_ context.Context, p ResolveParams) (interface{}, error) {
		return map[string]interface{}{"id": p.Args["id"], "name": "n", "role": "USER"}, nil
	}))

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query: `{ a: user(id: "1") { id __typename } b: user(id: "2") { ident: id } }`,
	}, nil)

	if resp.HasErrors() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	data := dataMap(t, resp)
	a := data["a"].(map[string]interface{})
	b := data["b"].(map[string]interface{})
	if a["id"] != "1" || a["__typename"] != "User" {
		t.Errorf("a = %v", a)
	}
	if b["ident"] != "2" {
		t.Errorf("b = %v", b)
	}
}

type structUser struct {
	ID     string `json:"id"`
	Name   string
	Email  string `json:"-"`
	Role   string `json:"role,omitempty"`
	hidden string
}

func TestExecutor_DefaultResolverStruct(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.users", func(context.Context, ResolveParams) (interface{}, error) {
		return []*structUser{
			{ID: "1", Name: "Ann", Email: "a@example.com", Role: "ADMIN", hidden: "x"},
			{ID: "2", Name: "Bob", Role: "GUEST"},
		}, nil
	}))

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query: `{ users { id name email role } }`,
	}, nil)

	if resp.HasErrors() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	users := dataMap(t, resp)["users"].([]interface{})
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	first := users[0].(map[string]interface{})
	if first["id"] != "1" || first["name"] != "Ann" || first["role"] != "ADMIN" {
		t.Errorf("first = %v", first)
	}
	if first["email"] != nil {
		t.Errorf("json:\"-\" field should not resolve, got %v", first["email"])
	}
}

func TestExecutor_SubscriptionRootValue(t *testing.T) {
	exec := newTestExecutor(t)

	tests := []struct {
		name string
		root interface{}
	}{
		{
			name: "payload is the field value",
			root: map[string]interface{}{"id": "1", "text": "hello", "channel": "general"},
		},
		{
			name: "payload keyed by field name",
			root: map[string]interface{}{"messageAdded": map[string]interface{}{"id": "1", "text": "hello", "channel": "general"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := exec.Execute(context.Background(), &GraphQLRequest{
				Query: `subscription { messageAdded(channel: "general") { id text } }`,
			}, tt.root)

			if resp.HasErrors() {
				t.Fatalf("unexpected errors: %v", resp.Errors)
			}
			msg := dataMap(t, resp)["messageAdded"].(map[string]interface{})
			if msg["id"] != "1" || msg["text"] != "hello" {
				t.Errorf("messageAdded = %v", msg)
			}
			if _, ok := msg["channel"]; ok {
				t.Error("unselected field should not be present")
			}
		})
	}
}

func TestExecutor_ScalarRootPayload(t *testing.T) {
	exec := newTestExecutor(t)

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query: `subscription { counter }`,
	}, map[string]interface{}{"counter": 3})

	if resp.HasErrors() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	if got := dataMap(t, resp)["counter"]; got != int64(3) {
		t.Errorf("counter = %v (%T), want 3", got, got)
	}
}

func TestExecutor_NonNullPropagation(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.user", func(context.Context, ResolveParams) (interface{}, error) {
		return map[string]interface{}{"id": "1", "role": "USER"}, nil
	}))

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query: `{ user(id: "1") { id name } }`,
	}, nil)

	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", resp.Errors)
	}
	if !strings.Contains(resp.Errors[0].Message, "User.name") {
		t.Errorf("error message = %q", resp.Errors[0].Message)
	}
	if got := resp.Errors[0].Path; len(got) != 2 || got[0] != "user" || got[1] != "name" {
		t.Errorf("error path = %v", got)
	}
	data := dataMap(t, resp)
	if v, ok := data["user"]; !ok || v != nil {
		t.Errorf("user should be present and null, got %v", v)
	}
}

func TestExecutor_NonNullListItemBubblesToData(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.users", func(context.Context, ResolveParams) (interface{}, error) {
		return []interface{}{nil}, nil
	}))

	resp := exec.Execute(context.Background(), &GraphQLRequest{Query: `{ users { id } }`}, nil)

	if !resp.HasErrors() {
		t.Fatal("expected an error")
	}
	if resp.Data != nil {
		t.Errorf("non-null root field failure should null data, got %v", resp.Data)
	}
}

func TestExecutor_ResolverError(t *testing.T) {
	exec := newTestExecutor(t,
		WithResolver("Query.count", func(context.Context, ResolveParams) (interface{}, error) {
			return nil, errors.New("count unavailable")
		}),
		WithResolver("Query.role", func(context.Context, ResolveParams) (interface{}, error) {
			return nil, &GraphQLError{Message: "forbidden", Extensions: map[string]interface{}{"code": "FORBIDDEN"}}
		}),
	)

	resp := exec.Execute(context.Background(), &GraphQLRequest{Query: `{ count role }`}, nil)

	if len(resp.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", resp.Errors)
	}
	data := dataMap(t, resp)
	if data["count"] != nil || data["role"] != nil {
		t.Errorf("failed fields should be null: %v", data)
	}
	if resp.Errors[0].Message != "count unavailable" {
		t.Errorf("first error = %q", resp.Errors[0].Message)
	}
	if resp.Errors[1].Extensions["code"] != "FORBIDDEN" {
		t.Errorf("extensions not preserved: %v", resp.Errors[1].Extensions)
	}
	if len(resp.Errors[1].Path) != 1 || resp.Errors[1].Path[0] != "role" {
		t.Errorf("path = %v", resp.Errors[1].Path)
	}
}

func TestExecutor_ResolverPanic(t *testing.T) {
	panicky := func(context.Context, ResolveParams) (interface{}, error) {
		panic("kaboom")
	}

	t.Run("production hides detail", func(t *testing.T) {
		exec := newTestExecutor(t, WithResolver("Query.boom", panicky))
		resp := exec.Execute(context.Background(), &GraphQLRequest{Query: `{ boom count }`}, nil)

		if len(resp.Errors) != 1 {
			t.Fatalf("expected 1 error, got %v", resp.Errors)
		}
		if resp.Errors[0].Message != `internal server error resolving field "boom"` {
			t.Errorf("message = %q", resp.Errors[0].Message)
		}
		if resp.Errors[0].Extensions != nil {
			t.Errorf("extensions should be empty, got %v", resp.Errors[0].Extensions)
		}
		if _, ok := dataMap(t, resp)["count"]; !ok {
			t.Error("sibling fields should still resolve")
		}
	})

	t.Run("debug exposes detail", func(t *testing.T) {
		exec := newTestExecutor(t, WithResolver("Query.boom", panicky), WithDebug(true))
		resp := exec.Execute(context.Background(), &GraphQLRequest{Query: `{ boom }`}, nil)

		if len(resp.Errors) != 1 {
			t.Fatalf("expected 1 error, got %v", resp.Errors)
		}
		ext := resp.Errors[0].Extensions
		if ext["panic"] != "kaboom" {
			t.Errorf("panic extension = %v", ext["panic"])
		}
		if stack, _ := ext["stack"].(string); stack == "" {
			t.Error("expected a stack trace in debug mode")
		}
	})
}

func TestExecutor_FragmentsAndDirectives(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.user", func(context.Context, ResolveParams) (interface{}, error) {
		return map[string]interface{}{"id": "1", "name": "Ann", "email": "ann@example.com", "role": "ADMIN"}, nil
	}))

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query: `
			query Q($withEmail: Boolean!) {
				user(id: "1") {
					...Basic
					email @include(if: $withEmail)
					role @skip(if: true)
				}
			}
			fragment Basic on User { id name }
		`,
		Variables: map[string]interface{}{"withEmail": false},
	}, nil)

	if resp.HasErrors() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	user := dataMap(t, resp)["user"].(map[string]interface{})
	if user["id"] != "1" || user["name"] != "Ann" {
		t.Errorf("fragment fields missing: %v", user)
	}
	if _, ok := user["email"]; ok {
		t.Error("email should be excluded by @include(if: false)")
	}
	if _, ok := user["role"]; ok {
		t.Error("role should be excluded by @skip(if: true)")
	}
}

func TestExecutor_UnionCompletion(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.search", func(context.Context, ResolveParams) (interface{}, error) {
		return []interface{}{
			map[string]interface{}{"__typename": "User", "id": "1", "name": "Ann", "role": "USER"},
			map[string]interface{}{"title": "Hello", "id": "2"},
		}, nil
	}), WithTypeResolver(func(_ context.Context, value interface{}, abstractType string) string {
		if m, ok := value.(map[string]interface{}); ok && m["title"] != nil {
			return "Post"
		}
		return ""
	}))

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query: `{ search(query: "x") { __typename ... on User { name } ... on Post { title } } }`,
	}, nil)

	if resp.HasErrors() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	results := dataMap(t, resp)["search"].([]interface{})
	first := results[0].(map[string]interface{})
	second := results[1].(map[string]interface{})
	if first["__typename"] != "User" || first["name"] != "Ann" {
		t.Errorf("first = %v", first)
	}
	if second["__typename"] != "Post" || second["title"] != "Hello" {
		t.Errorf("second = %v", second)
	}
}

func TestExecutor_InvalidEnumValue(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.role", func(context.Context, ResolveParams) (interface{}, error) {
		return "SUPERUSER", nil
	}))

	resp := exec.Execute(context.Background(), &GraphQLRequest{Query: `{ role }`}, nil)

	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", resp.Errors)
	}
	if !strings.Contains(resp.Errors[0].Message, "SUPERUSER") {
		t.Errorf("message = %q", resp.Errors[0].Message)
	}
}

func TestExecutor_ParseAndValidateErrors(t *testing.T) {
	exec := newTestExecutor(t)

	_, err := exec.ParseAndValidate(`{ user(id: "1") { `)
	if !IsSyntaxError(err) {
		t.Errorf("expected syntax error, got %v", err)
	}

	_, err = exec.ParseAndValidate(`{ nope }`)
	if !IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	_, err = exec.ParseAndValidate("   ")
	if !IsSyntaxError(err) {
		t.Errorf("expected syntax error for empty query, got %v", err)
	}

	resp := exec.Execute(context.Background(), &GraphQLRequest{Query: `{ nope }`}, nil)
	if !resp.HasErrors() || resp.Data != nil {
		t.Errorf("validation failure should carry errors and no data: %+v", resp)
	}
	if len(resp.Errors[0].Locations) == 0 {
		t.Error("validation errors should carry locations")
	}
}

func TestExecutor_VariableErrors(t *testing.T) {
	exec := newTestExecutor(t)

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query: `query Get($id: ID!) { user(id: $id) { id } }`,
	}, nil)

	if !resp.HasErrors() {
		t.Fatal("expected missing variable error")
	}
	if resp.Data != nil {
		t.Errorf("data should be nil, got %v", resp.Data)
	}
}

func TestSelectOperation(t *testing.T) {
	exec := newTestExecutor(t)
	doc, err := exec.ParseAndValidate(`query A { count } query B { role }`)
	if err != nil {
		t.Fatalf("ParseAndValidate() error = %v", err)
	}

	if _, err := SelectOperation(doc, ""); err == nil {
		t.Error("expected error for ambiguous document")
	}
	op, err := SelectOperation(doc, "B")
	if err != nil || op.Name != "B" {
		t.Errorf("SelectOperation(B) = %v, %v", op, err)
	}
	if _, err := SelectOperation(doc, "C"); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	exec := newTestExecutor(t, WithResolver("Query.count", func(context.Context, ResolveParams) (interface{}, error) {
		return 1, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := exec.Execute(ctx, &GraphQLRequest{Query: `{ count }`}, nil)
	if len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0].Message, "cancelled") {
		t.Errorf("expected cancellation error, got %v", resp.Errors)
	}
}
