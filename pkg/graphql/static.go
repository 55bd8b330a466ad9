package graphql

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// ResolverConfig configures a canned response for a GraphQL field.
type ResolverConfig struct {
	// Response is the data returned for this field.
	Response interface{} `json:"response,omitempty" yaml:"response,omitempty"`
	// Delay is the simulated latency before returning the response (e.g., "100ms", "2s").
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
	// Match specifies conditions that must be met for this resolver to be used.
	Match *ResolverMatch `json:"match,omitempty" yaml:"match,omitempty"`
	// Error configures an error response instead of data.
	Error *GraphQLErrorConfig `json:"error,omitempty" yaml:"error,omitempty"`
}

// ResolverMatch specifies matching conditions for a resolver.
type ResolverMatch struct {
	// Args specifies argument values that must match for this resolver to apply.
	Args map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
}

// GraphQLErrorConfig configures a GraphQL error response.
type GraphQLErrorConfig struct {
	Message    string                 `json:"message" yaml:"message"`
	Extensions map[string]interface{} `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// templatePattern matches {{args.fieldName}} patterns.
var templatePattern = regexp.MustCompile(`\{\{args\.([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// StaticResolvers builds resolvers from configuration. Several configs may
// share a path; the first whose Match is satisfied wins, falling back to
// the first config without a Match.
func StaticResolvers(configs map[string][]ResolverConfig) map[string]Resolver {
	out := make(map[string]Resolver, len(configs))
	for path, candidates := range configs {
		candidates := candidates
		out[path] = func(ctx context.Context, p ResolveParams) (interface{}, error) {
			return resolveStatic(ctx, findResolver(candidates, p.Args), p.Args)
		}
	}
	return out
}

// findResolver finds the best matching resolver for the given arguments.
func findResolver(resolvers []ResolverConfig, args map[string]interface{}) *ResolverConfig {
	for i := range resolvers {
		if resolvers[i].Match != nil && matchArgs(resolvers[i].Match.Args, args) {
			return &resolvers[i]
		}
	}
	for i := range resolvers {
		if resolvers[i].Match == nil {
			return &resolvers[i]
		}
	}
	return nil
}

// matchArgs checks if the resolver match conditions are satisfied by the arguments.
func matchArgs(expected, actual map[string]interface{}) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values loosely, so that int and int64 or
// YAML and JSON numbers compare equal.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func resolveStatic(ctx context.Context, rc *ResolverConfig, args map[string]interface{}) (interface{}, error) {
	if rc == nil {
		return nil, nil
	}

	if rc.Delay != "" {
		if delay, err := time.ParseDuration(rc.Delay); err == nil {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}

	if rc.Error != nil {
		return nil, &GraphQLError{
			Message:    rc.Error.Message,
			Extensions: rc.Error.Extensions,
		}
	}

	return applyArgs(rc.Response, args), nil
}

// applyArgs substitutes {{args.fieldName}} templates in response data.
func applyArgs(data interface{}, args map[string]interface{}) interface{} {
	switch v := data.(type) {
	case string:
		return templatePattern.ReplaceAllStringFunc(v, func(match string) string {
			parts := templatePattern.FindStringSubmatch(match)
			if val, ok := args[parts[1]]; ok {
				return fmt.Sprintf("%v", val)
			}
			return match
		})

	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			result[key] = applyArgs(val, args)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = applyArgs(val, args)
		}
		return result

	default:
		return data
	}
}
