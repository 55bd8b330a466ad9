package graphql

import (
	"fmt"
	"os"
	"sort"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Schema is an immutable, parsed GraphQL schema. It is safe to share across
// concurrent executions.
type Schema struct {
	ast           *ast.Schema
	source        string
	subscriptions map[string]*ast.FieldDefinition
}

// ParseSchema parses a GraphQL SDL string and returns a Schema.
func ParseSchema(sdl string) (*Schema, error) {
	return loadSchema("schema", sdl)
}

// ParseSchemaFile parses a GraphQL schema from a file and returns a Schema.
func ParseSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return loadSchema(path, string(data))
}

func loadSchema(name, sdl string) (*Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL schema %s: %w", name, err)
	}

	s := &Schema{
		ast:           schema,
		source:        sdl,
		subscriptions: make(map[string]*ast.FieldDefinition),
	}
	if schema.Subscription != nil {
		for _, field := range schema.Subscription.Fields {
			if !isIntrospectionField(field.Name) {
				s.subscriptions[field.Name] = field
			}
		}
	}
	return s, nil
}

// isIntrospectionField returns true if the field name is a built-in introspection field.
func isIntrospectionField(name string) bool {
	return len(name) >= 2 && name[0] == '_' && name[1] == '_'
}

// AST returns the underlying gqlparser AST schema.
func (s *Schema) AST() *ast.Schema {
	return s.ast
}

// Source returns the original SDL source string.
func (s *Schema) Source() string {
	return s.source
}

// GetType returns a type definition by name, or nil if not found.
func (s *Schema) GetType(name string) *ast.Definition {
	return s.ast.Types[name]
}

// GetField returns a field definition by type and field name.
func (s *Schema) GetField(typeName, fieldName string) *ast.FieldDefinition {
	def := s.GetType(typeName)
	if def == nil {
		return nil
	}
	return def.Fields.ForName(fieldName)
}

// GetSubscriptionField returns a subscription field definition by name, or nil if not found.
func (s *Schema) GetSubscriptionField(name string) *ast.FieldDefinition {
	return s.subscriptions[name]
}

// ListSubscriptions returns all subscription field names in sorted order.
func (s *Schema) ListSubscriptions() []string {
	names := make([]string, 0, len(s.subscriptions))
	for name := range s.subscriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSubscription returns true if the schema has a subscription type with fields.
func (s *Schema) HasSubscription() bool {
	return len(s.subscriptions) > 0
}

// Validate performs checks beyond what gqlparser enforces while loading.
func (s *Schema) Validate() error {
	if s.ast.Query == nil || len(s.ast.Query.Fields) == 0 {
		return fmt.Errorf("schema must define a Query type with at least one field")
	}
	return nil
}

// ValidateFieldPaths checks that every "Type.field" path refers to a field
// declared in the schema.
func (s *Schema) ValidateFieldPaths(paths []string) error {
	for _, p := range paths {
		fp := ParseFieldPath(p)
		if fp.TypeName == "" {
			return fmt.Errorf("field path %q must have the form Type.field", p)
		}
		if s.GetField(fp.TypeName, fp.FieldName) == nil {
			return fmt.Errorf("field path %q does not exist in schema", fp)
		}
	}
	return nil
}

// isSubscriptionRoot reports whether typeName is the schema's subscription root.
func (s *Schema) isSubscriptionRoot(typeName string) bool {
	return s.ast.Subscription != nil && s.ast.Subscription.Name == typeName
}

// rootType returns the root object type for an operation kind.
func (s *Schema) rootType(op ast.Operation) *ast.Definition {
	switch op {
	case ast.Query:
		return s.ast.Query
	case ast.Mutation:
		return s.ast.Mutation
	case ast.Subscription:
		return s.ast.Subscription
	default:
		return nil
	}
}

// possibleType reports whether the object type objectName satisfies the
// type condition named cond.
func (s *Schema) possibleType(cond, objectName string) bool {
	if cond == "" || cond == objectName {
		return true
	}
	def := s.GetType(cond)
	if def == nil {
		return false
	}
	for _, t := range s.ast.GetPossibleTypes(def) {
		if t.Name == objectName {
			return true
		}
	}
	return false
}
