package graphql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// Executor executes GraphQL operations against a schema and a table of
// field resolvers. It is safe for concurrent use once constructed.
type Executor struct {
	schema       *Schema
	resolvers    map[string]Resolver // "Query.user" -> resolver
	typeResolver TypeResolver
	debug        bool
	logger       *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithResolvers adds the given resolvers, keyed by "Type.field".
func WithResolvers(resolvers map[string]Resolver) ExecutorOption {
	return func(e *Executor) {
		for path, r := range resolvers {
			e.resolvers[path] = r
		}
	}
}

// WithResolver registers a single resolver for a "Type.field" path.
func WithResolver(path string, r Resolver) ExecutorOption {
	return func(e *Executor) {
		e.resolvers[path] = r
	}
}

// WithTypeResolver sets the resolver used to pick concrete types for
// interface and union values that do not carry a __typename key.
func WithTypeResolver(tr TypeResolver) ExecutorOption {
	return func(e *Executor) {
		e.typeResolver = tr
	}
}

// WithDebug controls how much error detail is reported. When enabled,
// resolver panics include the stack trace and errors carry their Go type.
func WithDebug(enabled bool) ExecutorOption {
	return func(e *Executor) {
		e.debug = enabled
	}
}

// WithLogger sets the logger used for resolver panics.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates a new GraphQL executor for the given schema.
func NewExecutor(schema *Schema, opts ...ExecutorOption) *Executor {
	e := &Executor{
		schema:    schema,
		resolvers: make(map[string]Resolver),
		logger:    slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})), // slog.DiscardHandler needs go1.24
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the schema the executor runs against.
func (e *Executor) Schema() *Schema {
	return e.schema
}

// Debug reports whether verbose error detail is enabled.
func (e *Executor) Debug() bool {
	return e.debug
}

// Parse parses a query document without validating it against the schema.
// Syntax errors are returned as a *QueryError of kind ErrorKindSyntax.
func (e *Executor) Parse(query string) (*ast.QueryDocument, error) {
	if strings.TrimSpace(query) == "" {
		return nil, newQueryError(ErrorKindSyntax, "query is required")
	}
	doc, err := parser.ParseQuery(&ast.Source{Name: "query", Input: query})
	if err != nil {
		return nil, &QueryError{Kind: ErrorKindSyntax, Errors: errorsFrom(err)}
	}
	return doc, nil
}

// Validate validates a parsed document against the schema.
// Validation errors are returned as a *QueryError of kind ErrorKindValidation.
func (e *Executor) Validate(doc *ast.QueryDocument) error {
	if list := validator.Validate(e.schema.AST(), doc); len(list) > 0 {
		return &QueryError{Kind: ErrorKindValidation, Errors: errorsFrom(list)}
	}
	return nil
}

// CoerceVariables checks variables against the operation's declarations and
// returns them coerced to their declared types. Missing required variables
// and type mismatches are returned as a *QueryError of kind
// ErrorKindVariables.
func (e *Executor) CoerceVariables(op *ast.OperationDefinition, variables map[string]interface{}) (map[string]interface{}, error) {
	vars, err := validator.VariableValues(e.schema.AST(), op, variables)
	if err != nil {
		return nil, &QueryError{Kind: ErrorKindVariables, Errors: errorsFrom(err)}
	}
	return vars, nil
}

// ParseAndValidate parses and validates a query document.
func (e *Executor) ParseAndValidate(query string) (*ast.QueryDocument, error) {
	doc, err := e.Parse(query)
	if err != nil {
		return nil, err
	}
	if err := e.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SelectOperation picks the operation to run from a document. With an empty
// name the document must contain exactly one operation.
func SelectOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if doc == nil || len(doc.Operations) == 0 {
		return nil, newQueryError(ErrorKindOperation, "no operation found in query")
	}
	if operationName == "" {
		if len(doc.Operations) > 1 {
			return nil, newQueryError(ErrorKindOperation, "operationName is required for documents with multiple operations")
		}
		return doc.Operations[0], nil
	}
	for _, op := range doc.Operations {
		if op.Name == operationName {
			return op, nil
		}
	}
	return nil, newQueryError(ErrorKindOperation, fmt.Sprintf("operation %q not found", operationName))
}

// Execute parses, validates and executes a GraphQL request. It never returns
// nil and never panics: every failure is reported in the response errors.
func (e *Executor) Execute(ctx context.Context, req *GraphQLRequest, rootValue interface{}) *GraphQLResponse {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return &GraphQLResponse{
			Errors: []GraphQLError{{Message: "query is required"}},
		}
	}

	doc, err := e.ParseAndValidate(req.Query)
	if err != nil {
		return responseFromError(err)
	}

	return e.ExecuteDocument(ctx, doc, req.OperationName, req.Variables, rootValue)
}

// ExecuteDocument executes an already parsed and validated document.
func (e *Executor) ExecuteDocument(ctx context.Context, doc *ast.QueryDocument, operationName string, variables map[string]interface{}, rootValue interface{}) (resp *GraphQLResponse) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("graphql execution panicked", "panic", r)
			resp = &GraphQLResponse{Errors: []GraphQLError{e.panicError(r, nil, nil)}}
		}
	}()

	op, err := SelectOperation(doc, operationName)
	if err != nil {
		return responseFromError(err)
	}

	vars, varErr := e.CoerceVariables(op, variables)
	if varErr != nil {
		return responseFromError(varErr)
	}

	root := e.schema.rootType(op.Operation)
	if root == nil {
		return &GraphQLResponse{
			Errors: []GraphQLError{{Message: fmt.Sprintf("schema does not support %s operations", op.Operation)}},
		}
	}

	x := &execution{
		executor:  e,
		ctx:       ctx,
		doc:       doc,
		operation: op,
		variables: vars,
		rootValue: rootValue,
	}

	data, bubbled := x.executeSelectionSet(root, rootValue, op.SelectionSet, nil)
	resp = &GraphQLResponse{Errors: x.errors}
	if !bubbled {
		resp.Data = data
	}
	return resp
}

func responseFromError(err error) *GraphQLResponse {
	if qe, ok := err.(*QueryError); ok {
		return &GraphQLResponse{Errors: qe.Errors}
	}
	return &GraphQLResponse{Errors: []GraphQLError{{Message: err.Error()}}}
}

// execution holds the state of one operation execution.
type execution struct {
	executor  *Executor
	ctx       context.Context
	doc       *ast.QueryDocument
	operation *ast.OperationDefinition
	variables map[string]interface{}
	rootValue interface{}
	errors    []GraphQLError
}

// collectedField groups the field nodes that share a response key.
type collectedField struct {
	key    string
	fields []*ast.Field
}

// collectFields flattens a selection set for a concrete object type,
// applying fragments and @skip/@include.
func (x *execution) collectFields(objectType string, selections ast.SelectionSet, visited map[string]bool, out []*collectedField) []*collectedField {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if !x.shouldInclude(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			found := false
			for _, cf := range out {
				if cf.key == key {
					cf.fields = append(cf.fields, s)
					found = true
					break
				}
			}
			if !found {
				out = append(out, &collectedField{key: key, fields: []*ast.Field{s}})
			}

		case *ast.FragmentSpread:
			if visited[s.Name] || !x.shouldInclude(s.Directives) {
				continue
			}
			visited[s.Name] = true
			frag := s.Definition
			if frag == nil {
				frag = x.doc.Fragments.ForName(s.Name)
			}
			if frag == nil || !x.executor.schema.possibleType(frag.TypeCondition, objectType) {
				continue
			}
			out = x.collectFields(objectType, frag.SelectionSet, visited, out)

		case *ast.InlineFragment:
			if !x.shouldInclude(s.Directives) || !x.executor.schema.possibleType(s.TypeCondition, objectType) {
				continue
			}
			out = x.collectFields(objectType, s.SelectionSet, visited, out)
		}
	}
	return out
}

// shouldInclude evaluates @skip and @include.
func (x *execution) shouldInclude(directives ast.DirectiveList) bool {
	for _, d := range directives {
		arg := d.Arguments.ForName("if")
		if arg == nil {
			continue
		}
		v, err := arg.Value.Value(x.variables)
		if err != nil {
			continue
		}
		b, _ := v.(bool)
		switch d.Name {
		case "skip":
			if b {
				return false
			}
		case "include":
			if !b {
				return false
			}
		}
	}
	return true
}

// executeSelectionSet resolves every field of a selection set against source.
// bubbled is true when a non-null field resolved to null, which makes the
// whole object null.
func (x *execution) executeSelectionSet(objectDef *ast.Definition, source interface{}, selections ast.SelectionSet, path []interface{}) (result map[string]interface{}, bubbled bool) {
	result = make(map[string]interface{})

	for _, cf := range x.collectFields(objectDef.Name, selections, make(map[string]bool), nil) {
		fieldPath := appendPath(path, cf.key)
		field := cf.fields[0]

		if field.Name == "__typename" {
			result[cf.key] = objectDef.Name
			continue
		}

		fieldDef := objectDef.Fields.ForName(field.Name)
		if fieldDef == nil {
			x.addError(fmt.Errorf("cannot query field %q on type %q", field.Name, objectDef.Name), field, fieldPath)
			result[cf.key] = nil
			continue
		}

		value, _ := x.executeField(objectDef, fieldDef, source, cf.fields, fieldPath)
		if value == nil && fieldDef.Type.NonNull {
			return nil, true
		}
		result[cf.key] = value
	}

	return result, false
}

// executeField resolves and completes a single field. errored is true when
// the returned nil was caused by an error that has already been recorded.
func (x *execution) executeField(objectDef *ast.Definition, fieldDef *ast.FieldDefinition, source interface{}, fields []*ast.Field, path []interface{}) (value interface{}, errored bool) {
	field := fields[0]

	if err := x.ctx.Err(); err != nil {
		x.addError(fmt.Errorf("execution cancelled: %w", err), field, path)
		return nil, true
	}

	args, err := x.argumentValues(fieldDef, field)
	if err != nil {
		x.addError(err, field, path)
		return nil, true
	}

	params := ResolveParams{
		Source: source,
		Args:   args,
		Info: ResolveInfo{
			ParentType: objectDef.Name,
			FieldName:  field.Name,
			Path:       path,
			Field:      field,
			Operation:  x.operation,
			RootValue:  x.rootValue,
			Variables:  x.variables,
		},
	}

	resolved, panicked, err := x.resolve(objectDef, field, params)
	if panicked != nil {
		x.errors = append(x.errors, x.executor.panicError(panicked, field, path))
		return nil, true
	}
	if err != nil {
		x.addError(err, field, path)
		return nil, true
	}

	return x.completeValue(fieldDef.Type, objectDef.Name+"."+field.Name, fields, resolved, path)
}

// resolve runs the field's resolver, converting panics into a value the
// caller reports as an error.
func (x *execution) resolve(objectDef *ast.Definition, field *ast.Field, params ResolveParams) (value interface{}, panicked interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			x.executor.logger.Error("resolver panicked",
				"field", objectDef.Name+"."+field.Name,
				"panic", r)
			panicked = r
		}
	}()

	if resolver, ok := x.executor.resolvers[objectDef.Name+"."+field.Name]; ok && resolver != nil {
		value, err = resolver(x.ctx, params)
		return value, nil, err
	}
	return x.defaultResolve(objectDef, field, params.Source), nil, nil
}

// defaultResolve reads the field from a map or struct source. Root fields of
// the subscription type resolve to the root value itself when it does not
// carry a value under the field name.
func (x *execution) defaultResolve(objectDef *ast.Definition, field *ast.Field, source interface{}) interface{} {
	isSubscriptionRoot := x.executor.schema.isSubscriptionRoot(objectDef.Name)

	if m, ok := source.(map[string]interface{}); ok {
		if v, ok := m[field.Name]; ok {
			return v
		}
		if isSubscriptionRoot {
			return source
		}
		return nil
	}

	if v, ok := lookupField(source, field.Name); ok {
		return v
	}
	if isSubscriptionRoot {
		return source
	}
	return nil
}

// lookupField reads a named value from a map or struct using reflection.
// Struct fields match on their json tag or a case-insensitive name.
func lookupField(source interface{}, name string) (interface{}, bool) {
	v := reflect.ValueOf(source)
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, false
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			tag := strings.Split(sf.Tag.Get("json"), ",")[0]
			if tag == "-" {
				continue
			}
			if tag == name || (tag == "" && strings.EqualFold(sf.Name, name)) {
				return v.Field(i).Interface(), true
			}
		}
	}
	return nil, false
}

// argumentValues coerces the arguments of a field, applying defaults.
func (x *execution) argumentValues(fieldDef *ast.FieldDefinition, field *ast.Field) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(fieldDef.Arguments))
	for _, def := range fieldDef.Arguments {
		if arg := field.Arguments.ForName(def.Name); arg != nil {
			if arg.Value.Kind == ast.Variable {
				if v, ok := x.variables[arg.Value.Raw]; ok {
					args[def.Name] = v
					continue
				}
				if def.DefaultValue != nil {
					v, err := def.DefaultValue.Value(nil)
					if err != nil {
						return nil, err
					}
					args[def.Name] = v
				}
				continue
			}
			v, err := arg.Value.Value(x.variables)
			if err != nil {
				return nil, fmt.Errorf("argument %q: %w", def.Name, err)
			}
			args[def.Name] = v
			continue
		}
		if def.DefaultValue != nil {
			v, err := def.DefaultValue.Value(nil)
			if err != nil {
				return nil, err
			}
			args[def.Name] = v
		}
	}
	return args, nil
}

// completeValue shapes a resolved value according to its schema type.
func (x *execution) completeValue(t *ast.Type, fieldName string, fields []*ast.Field, value interface{}, path []interface{}) (interface{}, bool) {
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		completed, errored := x.completeValue(&inner, fieldName, fields, value, path)
		if completed == nil && !errored {
			x.addError(fmt.Errorf("cannot return null for non-nullable field %s", fieldName), fields[0], path)
			errored = true
		}
		return completed, errored
	}

	if isNil(value) {
		return nil, false
	}

	if t.Elem != nil {
		return x.completeList(t, fieldName, fields, value, path)
	}

	def := x.executor.schema.GetType(t.NamedType)
	if def == nil {
		x.addError(fmt.Errorf("unknown type %q", t.NamedType), fields[0], path)
		return nil, true
	}

	switch def.Kind {
	case ast.Scalar, ast.Enum:
		leaf, err := serializeLeaf(def, value)
		if err != nil {
			x.addError(err, fields[0], path)
			return nil, true
		}
		return leaf, false

	case ast.Object:
		return x.completeObject(def, fields, value, path)

	case ast.Interface, ast.Union:
		concrete := x.resolveAbstractType(def, value)
		objectDef := x.executor.schema.GetType(concrete)
		if objectDef == nil || objectDef.Kind != ast.Object || !x.executor.schema.possibleType(def.Name, concrete) {
			x.addError(fmt.Errorf("abstract type %s must resolve to an object type at runtime for field %s", def.Name, fieldName), fields[0], path)
			return nil, true
		}
		return x.completeObject(objectDef, fields, value, path)

	default:
		x.addError(fmt.Errorf("cannot complete value of type %s", def.Name), fields[0], path)
		return nil, true
	}
}

func (x *execution) completeList(t *ast.Type, fieldName string, fields []*ast.Field, value interface{}, path []interface{}) (interface{}, bool) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		x.addError(fmt.Errorf("expected a list for field %s, got %T", fieldName, value), fields[0], path)
		return nil, true
	}

	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, _ := x.completeValue(t.Elem, fieldName, fields, rv.Index(i).Interface(), appendPath(path, i))
		if item == nil && t.Elem.NonNull {
			return nil, true
		}
		out[i] = item
	}
	return out, false
}

func (x *execution) completeObject(objectDef *ast.Definition, fields []*ast.Field, value interface{}, path []interface{}) (interface{}, bool) {
	var selections ast.SelectionSet
	for _, f := range fields {
		selections = append(selections, f.SelectionSet...)
	}
	result, bubbled := x.executeSelectionSet(objectDef, value, selections, path)
	if bubbled {
		return nil, true
	}
	return result, false
}

// resolveAbstractType picks the concrete type for an interface or union value.
func (x *execution) resolveAbstractType(def *ast.Definition, value interface{}) string {
	if v, ok := lookupField(value, "__typename"); ok {
		if name, ok := v.(string); ok {
			return name
		}
	}
	if x.executor.typeResolver != nil {
		if name := x.executor.typeResolver(x.ctx, value, def.Name); name != "" {
			return name
		}
	}
	if possible := x.executor.schema.AST().GetPossibleTypes(def); len(possible) == 1 {
		return possible[0].Name
	}
	return ""
}

// addError records a field error with its location and path.
func (x *execution) addError(err error, field *ast.Field, path []interface{}) {
	gqlErr := GraphQLError{Message: err.Error()}
	if ge, ok := err.(*GraphQLError); ok {
		gqlErr = *ge
	} else if x.executor.debug {
		gqlErr.Extensions = map[string]interface{}{"cause": fmt.Sprintf("%T", err)}
	}
	if gqlErr.Path == nil {
		gqlErr.Path = path
	}
	if gqlErr.Locations == nil && field != nil && field.Position != nil {
		gqlErr.Locations = []GraphQLErrorLocation{{Line: field.Position.Line, Column: field.Position.Column}}
	}
	x.errors = append(x.errors, gqlErr)
}

// panicError converts a recovered panic into a response error. Details are
// only exposed in debug mode.
func (e *Executor) panicError(r interface{}, field *ast.Field, path []interface{}) GraphQLError {
	gqlErr := GraphQLError{Message: "internal server error", Path: path}
	if field != nil {
		gqlErr.Message = fmt.Sprintf("internal server error resolving field %q", field.Name)
		if field.Position != nil {
			gqlErr.Locations = []GraphQLErrorLocation{{Line: field.Position.Line, Column: field.Position.Column}}
		}
	}
	if e.debug {
		gqlErr.Extensions = map[string]interface{}{
			"panic": fmt.Sprint(r),
			"stack": string(debug.Stack()),
		}
	}
	return gqlErr
}

func appendPath(path []interface{}, elem interface{}) []interface{} {
	out := make([]interface{}, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
