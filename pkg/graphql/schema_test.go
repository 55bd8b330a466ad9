package graphql

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vektah/gqlparser/v2/ast"
)

const testSchema = `
type Query {
	user(id: ID!): User
}

type Subscription {
	userCreated: User
	postUpdated(id: ID!): Post
	messageAdded(channel: String!): String
}

type User {
	id: ID!
	name: String!
}

type Post {
	id: ID!
	title: String!
}
`

func TestParseSchema(t *testing.T) {
	schema, err := ParseSchema(testSchema)
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	if schema.Source() != testSchema {
		t.Error("Source() should return the original SDL")
	}
	if err := schema.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if def := schema.GetType("User"); def == nil || def.Kind != ast.Object {
		t.Errorf("GetType(User) = %v", def)
	}
	if schema.GetType("Missing") != nil {
		t.Error("GetType(Missing) should be nil")
	}
	if f := schema.GetField("Post", "title"); f == nil || f.Type.String() != "String!" {
		t.Errorf("GetField(Post.title) = %v", f)
	}
	if schema.GetField("Missing", "x") != nil {
		t.Error("GetField on unknown type should be nil")
	}
}

func TestParseSchema_Invalid(t *testing.T) {
	tests := []struct {
		name string
		sdl  string
	}{
		{name: "syntax", sdl: `type Query {`},
		{name: "unknown type", sdl: `type Query { user: Missing }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSchema(tt.sdl); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.graphql")
	if err := os.WriteFile(path, []byte(testSchema), 0o600); err != nil {
		t.Fatal(err)
	}

	schema, err := ParseSchemaFile(path)
	if err != nil {
		t.Fatalf("ParseSchemaFile() error = %v", err)
	}
	if !schema.HasSubscription() {
		t.Error("expected subscriptions")
	}

	if _, err := ParseSchemaFile(filepath.Join(t.TempDir(), "missing.graphql")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSchema_Subscriptions(t *testing.T) {
	schema, err := ParseSchema(testSchema)
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}

	got := schema.ListSubscriptions()
	want := []string{"messageAdded", "postUpdated", "userCreated"}
	if len(got) != len(want) {
		t.Fatalf("ListSubscriptions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListSubscriptions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	field := schema.GetSubscriptionField("postUpdated")
	if field == nil || field.Arguments.ForName("id") == nil {
		t.Errorf("GetSubscriptionField(postUpdated) = %v", field)
	}
	if schema.GetSubscriptionField("nope") != nil {
		t.Error("unknown subscription should be nil")
	}

	noSubs, err := ParseSchema(`type Query { a: String }`)
	if err != nil {
		t.Fatal(err)
	}
	if noSubs.HasSubscription() || len(noSubs.ListSubscriptions()) != 0 {
		t.Error("schema without Subscription type should report none")
	}
}

func TestSchema_ValidateWithoutQuery(t *testing.T) {
	s := &Schema{ast: &ast.Schema{}}
	if err := s.Validate(); err == nil {
		t.Error("expected error for schema without Query type")
	}
}

func TestSchema_ValidateFieldPaths(t *testing.T) {
	schema, err := ParseSchema(testSchema)
	if err != nil {
		t.Fatal(err)
	}

	if err := schema.ValidateFieldPaths([]string{"Query.user", "User.name", "Subscription.userCreated"}); err != nil {
		t.Errorf("ValidateFieldPaths() error = %v", err)
	}
	if err := schema.ValidateFieldPaths([]string{"Query.missing"}); err == nil {
		t.Error("expected error for unknown field")
	}
	if err := schema.ValidateFieldPaths([]string{"user"}); err == nil {
		t.Error("expected error for path without type")
	}
}

func TestParseFieldPath(t *testing.T) {
	tests := []struct {
		in   string
		want FieldPath
	}{
		{"Query.user", FieldPath{TypeName: "Query", FieldName: "user"}},
		{"Mutation.createUser", FieldPath{TypeName: "Mutation", FieldName: "createUser"}},
		{"user", FieldPath{FieldName: "user"}},
	}
	for _, tt := range tests {
		if got := ParseFieldPath(tt.in); got != tt.want {
			t.Errorf("ParseFieldPath(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if s := (FieldPath{TypeName: "Query", FieldName: "user"}).String(); s != "Query.user" {
		t.Errorf("String() = %q", s)
	}
}
