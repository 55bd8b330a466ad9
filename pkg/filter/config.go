package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getmockd/gqlsubs/pkg/config"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// All returns a filter that passes only when every filter passes. Nil
// filters are skipped.
func All(filters ...subscriptions.Filter) subscriptions.Filter {
	var active []subscriptions.Filter
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(ctx context.Context, payload interface{}, variables map[string]interface{}) bool {
		for _, f := range active {
			if !f(ctx, payload, variables) {
				return false
			}
		}
		return true
	}
}

// FromConfig builds the filter table for subscriptions.WithFilters.
func FromConfig(configs map[string]config.FilterConfig, logger *slog.Logger) (map[string]subscriptions.Filter, error) {
	out := make(map[string]subscriptions.Filter, len(configs))
	for name, fc := range configs {
		var parts []subscriptions.Filter
		if fc.Expr != "" {
			f, err := Expr(fc.Expr, logger)
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", name, err)
			}
			parts = append(parts, f)
		}
		if len(fc.JSONPath) > 0 {
			f, err := JSONPath(fc.JSONPath)
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", name, err)
			}
			parts = append(parts, f)
		}
		if f := All(parts...); f != nil {
			out[name] = f
		}
	}
	return out, nil
}
