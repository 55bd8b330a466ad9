package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/getmockd/gqlsubs/pkg/logging"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// exprEnv is what a filter expression sees. Payload is untyped so field
// access on it is resolved at run time.
type exprEnv struct {
	Payload   interface{}            `expr:"payload"`
	Variables map[string]interface{} `expr:"variables"`
	Context   map[string]interface{} `expr:"context"`
}

// Expr compiles a boolean expr-lang expression into a filter. The
// expression sees payload, variables (the subscription's variables) and
// context (the connection's context values), for example:
//
//	payload.channel == variables.channel && context.role != "guest"
//
// An expression that fails at run time drops the event for that
// registration and is logged.
func Expr(expression string, logger *slog.Logger) (subscriptions.Filter, error) {
	program, err := expr.Compile(expression, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	logger = logging.Component(logger, "filter")

	return func(ctx context.Context, payload interface{}, variables map[string]interface{}) bool {
		ok, err := runExpr(program, payload, variables, subscriptions.ContextValues(ctx))
		if err != nil {
			logger.Warn("filter expression failed", "expr", expression, "error", err)
			return false
		}
		return ok
	}, nil
}

func runExpr(program *vm.Program, payload interface{}, variables, values map[string]interface{}) (bool, error) {
	if variables == nil {
		variables = map[string]interface{}{}
	}
	if values == nil {
		values = map[string]interface{}{}
	}
	out, err := expr.Run(program, exprEnv{
		Payload:   normalize(payload),
		Variables: variables,
		Context:   values,
	})
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}
