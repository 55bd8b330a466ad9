package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// ParamsSchema compiles a JSON Schema and returns a connect hook rejecting
// connection_init payloads that do not conform. A missing payload is
// validated as an empty object.
func ParamsSchema(schema string) (subscriptions.ConnectFunc, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("params.json", strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to add params schema: %w", err)
	}
	compiled, err := compiler.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile params schema: %w", err)
	}

	return func(_ context.Context, _ subscriptions.Connection, payload json.RawMessage) (map[string]interface{}, error) {
		var params interface{} = map[string]interface{}{}
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &params); err != nil {
				return nil, fmt.Errorf("invalid connection params: %w", err)
			}
		}
		if err := compiled.Validate(params); err != nil {
			var verr *jsonschema.ValidationError
			if errors.As(err, &verr) {
				return nil, fmt.Errorf("invalid connection params: %s", strings.Join(schemaMessages(verr, nil), "; "))
			}
			return nil, fmt.Errorf("invalid connection params: %w", err)
		}
		return nil, nil
	}, nil
}

// schemaMessages flattens a validation error tree into leaf messages.
func schemaMessages(err *jsonschema.ValidationError, out []string) []string {
	if len(err.Causes) == 0 {
		loc := strings.ReplaceAll(strings.TrimPrefix(err.InstanceLocation, "/"), "/", ".")
		if loc == "" {
			return append(out, err.Message)
		}
		return append(out, loc+": "+err.Message)
	}
	for _, cause := range err.Causes {
		out = schemaMessages(cause, out)
	}
	return out
}
