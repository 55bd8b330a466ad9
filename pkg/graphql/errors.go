package graphql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ErrorKind classifies a QueryError.
type ErrorKind string

// Query error kinds.
const (
	ErrorKindSyntax     ErrorKind = "syntax"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindVariables  ErrorKind = "variables"
	ErrorKindOperation  ErrorKind = "operation"
)

// QueryError is returned when a query document cannot be parsed, validated,
// or prepared for execution.
type QueryError struct {
	Kind   ErrorKind
	Errors []GraphQLError
}

func (e *QueryError) Error() string {
	if len(e.Errors) == 0 {
		return string(e.Kind) + " error"
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Message
		if e.Kind == ErrorKindVariables && len(err.Path) > 0 {
			msgs[i] = joinPath(err.Path) + ": " + err.Message
		}
	}
	return strings.Join(msgs, "; ")
}

// IsSyntaxError reports whether err is a QueryError caused by invalid syntax.
func IsSyntaxError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == ErrorKindSyntax
}

// IsValidationError reports whether err is a QueryError caused by schema validation.
func IsValidationError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == ErrorKindValidation
}

func joinPath(path []interface{}) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ".")
}

func newQueryError(kind ErrorKind, message string) *QueryError {
	return &QueryError{Kind: kind, Errors: []GraphQLError{{Message: message}}}
}

// fromGQLError converts a gqlparser error into the response error shape.
func fromGQLError(err *gqlerror.Error) GraphQLError {
	out := GraphQLError{
		Message:    err.Message,
		Extensions: err.Extensions,
	}
	for _, loc := range err.Locations {
		out.Locations = append(out.Locations, GraphQLErrorLocation{Line: loc.Line, Column: loc.Column})
	}
	for _, p := range err.Path {
		switch v := p.(type) {
		case ast.PathName:
			out.Path = append(out.Path, string(v))
		case ast.PathIndex:
			out.Path = append(out.Path, int(v))
		}
	}
	return out
}

// errorsFrom converts any parser/validator error into response errors.
func errorsFrom(err error) []GraphQLError {
	var list gqlerror.List
	if errors.As(err, &list) {
		out := make([]GraphQLError, 0, len(list))
		for _, e := range list {
			out = append(out, fromGQLError(e))
		}
		return out
	}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return []GraphQLError{fromGQLError(gqlErr)}
	}
	return []GraphQLError{{Message: err.Error()}}
}
