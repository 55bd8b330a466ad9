package graphql

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
)

// GraphQLError represents a GraphQL error in the response format.
type GraphQLError struct {
	// Message is the error message.
	Message string `json:"message"`
	// Locations indicates where in the query the error occurred.
	Locations []GraphQLErrorLocation `json:"locations,omitempty"`
	// Path is the response field path where the error occurred.
	Path []interface{} `json:"path,omitempty"`
	// Extensions contains additional error metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Error implements the error interface so resolvers can return a *GraphQLError
// to control the path and extensions reported to the client.
func (e *GraphQLError) Error() string {
	return e.Message
}

// GraphQLErrorLocation represents a location in the GraphQL query where an error occurred.
type GraphQLErrorLocation struct {
	// Line is the line number (1-indexed).
	Line int `json:"line"`
	// Column is the column number (1-indexed).
	Column int `json:"column"`
}

// GraphQLRequest represents an incoming GraphQL request.
type GraphQLRequest struct {
	// Query is the GraphQL query string.
	Query string `json:"query"`
	// OperationName is the name of the operation to execute (for multi-operation documents).
	OperationName string `json:"operationName,omitempty"`
	// Variables are the variable values for the query.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// GraphQLResponse represents a GraphQL response.
type GraphQLResponse struct {
	// Data contains the result of the query execution.
	Data interface{} `json:"data"`
	// Errors contains any errors that occurred during execution.
	Errors []GraphQLError `json:"errors,omitempty"`
	// Extensions contains additional response metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// HasErrors reports whether the response carries at least one error.
func (r *GraphQLResponse) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// ResolveParams is passed to every field resolver.
type ResolveParams struct {
	// Source is the parent value. For root fields it is the root value.
	Source interface{}
	// Args holds the coerced argument values for the field.
	Args map[string]interface{}
	// Info describes where in the operation the field is being resolved.
	Info ResolveInfo
}

// ResolveInfo describes the field being resolved.
type ResolveInfo struct {
	// ParentType is the name of the object type that owns the field.
	ParentType string
	// FieldName is the schema field name (not the alias).
	FieldName string
	// Path is the response path of the field.
	Path []interface{}
	// Field is the AST node of the field selection.
	Field *ast.Field
	// Operation is the operation being executed.
	Operation *ast.OperationDefinition
	// RootValue is the root value the operation was started with.
	RootValue interface{}
	// Variables are the coerced operation variables.
	Variables map[string]interface{}
}

// Resolver resolves the value of a single field.
type Resolver func(ctx context.Context, p ResolveParams) (interface{}, error)

// TypeResolver picks the concrete object type for a value of an abstract
// (interface or union) type. It returns "" when it cannot decide.
type TypeResolver func(ctx context.Context, value interface{}, abstractType string) string

// FieldPath represents a path to a field in the schema (e.g., "Query.user" or "Mutation.createUser").
type FieldPath struct {
	// TypeName is the parent type name (e.g., "Query", "Mutation", "User").
	TypeName string
	// FieldName is the field name.
	FieldName string
}

// String returns the string representation of the field path.
func (fp FieldPath) String() string {
	return fp.TypeName + "." + fp.FieldName
}

// ParseFieldPath parses a field path string (e.g., "Query.user") into a FieldPath.
func ParseFieldPath(path string) FieldPath {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return FieldPath{
				TypeName:  path[:i],
				FieldName: path[i+1:],
			}
		}
	}
	// No dot found, treat the whole string as a field name
	return FieldPath{FieldName: path}
}
