package subscriptions

import "context"

type contextKey int

const (
	valuesKey contextKey = iota
	connectionKey
	operationIDKey
)

// withOperation returns a context carrying the connection, its context
// values snapshot and the operation id.
func withOperation(ctx context.Context, conn Connection, values map[string]interface{}, id OperationID) context.Context {
	ctx = context.WithValue(ctx, valuesKey, values)
	if conn != nil {
		ctx = context.WithValue(ctx, connectionKey, conn)
	}
	if !id.IsZero() {
		ctx = context.WithValue(ctx, operationIDKey, id)
	}
	return ctx
}

// ContextValues returns the connection context values an execution runs
// with: the registry baseline merged with whatever OnConnect returned. The
// map is shared and must not be modified.
func ContextValues(ctx context.Context) map[string]interface{} {
	values, _ := ctx.Value(valuesKey).(map[string]interface{})
	return values
}

// ContextValue returns a single connection context value.
func ContextValue(ctx context.Context, key string) (interface{}, bool) {
	v, ok := ContextValues(ctx)[key]
	return v, ok
}

// ConnectionFromContext returns the connection an execution belongs to.
func ConnectionFromContext(ctx context.Context) (Connection, bool) {
	conn, ok := ctx.Value(connectionKey).(Connection)
	return conn, ok
}

// OperationIDFromContext returns the id of the operation being executed.
func OperationIDFromContext(ctx context.Context) (OperationID, bool) {
	id, ok := ctx.Value(operationIDKey).(OperationID)
	return id, ok
}

// mergeValues returns a new map holding base overlaid with overlay.
// Neither input is modified.
func mergeValues(base, overlay map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
