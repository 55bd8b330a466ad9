// Package filter builds subscription delivery filters from configuration:
// expr-lang expressions (Expr) and JSONPath conditions (JSONPath).
package filter
