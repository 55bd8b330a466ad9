package subscriptions

import (
	"context"
	"encoding/json"

	"github.com/getmockd/gqlsubs/pkg/graphql"
)

// ConnectFunc runs on connection_init. The returned values are merged over
// the registry's baseline context values for this connection. Returning an
// error rejects the connection with connection_error.
type ConnectFunc func(ctx context.Context, conn Connection, payload json.RawMessage) (map[string]interface{}, error)

// OperationFunc runs for every start before the operation is executed or
// registered. Returning an error rejects it with error and complete.
type OperationFunc func(ctx context.Context, conn Connection, op *Operation) error

// OperationCompleteFunc runs after a query or mutation result was sent.
type OperationCompleteFunc func(ctx context.Context, conn Connection, op *Operation, resp *graphql.GraphQLResponse)

// DisconnectFunc runs once for every registration removed by stop or by
// connection close.
type DisconnectFunc func(ctx context.Context, conn Connection, reg *Registration)

// Hooks are the optional lifecycle callbacks of a Registry. A panic inside a
// hook is recovered and treated as if the hook had returned an error.
type Hooks struct {
	OnConnect           ConnectFunc
	OnOperation         OperationFunc
	OnOperationComplete OperationCompleteFunc
	OnDisconnect        DisconnectFunc
}

// ChainOnConnect runs several connect hooks in order and merges their
// values, later hooks overriding earlier ones. The first error stops the
// chain.
func ChainOnConnect(fns ...ConnectFunc) ConnectFunc {
	return func(ctx context.Context, conn Connection, payload json.RawMessage) (map[string]interface{}, error) {
		merged := make(map[string]interface{})
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			values, err := fn(ctx, conn, payload)
			if err != nil {
				return nil, err
			}
			for k, v := range values {
				merged[k] = v
			}
		}
		return merged, nil
	}
}

func (r *Registry) callOnConnect(ctx context.Context, conn Connection, payload json.RawMessage) (values map[string]interface{}, err error) {
	if r.hooks.OnConnect == nil {
		return nil, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("connect hook panicked", "conn", conn.ID(), "panic", rec)
			values, err = nil, r.panicError("connect hook", rec)
		}
	}()
	return r.hooks.OnConnect(ctx, conn, payload)
}

func (r *Registry) callOnOperation(ctx context.Context, conn Connection, op *Operation) (err error) {
	if r.hooks.OnOperation == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("operation hook panicked", "conn", conn.ID(), "id", op.ID, "panic", rec)
			err = r.panicError("operation hook", rec)
		}
	}()
	return r.hooks.OnOperation(ctx, conn, op)
}

func (r *Registry) callOnOperationComplete(ctx context.Context, conn Connection, op *Operation, resp *graphql.GraphQLResponse) {
	if r.hooks.OnOperationComplete == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("operation complete hook panicked", "conn", conn.ID(), "id", op.ID, "panic", rec)
		}
	}()
	r.hooks.OnOperationComplete(ctx, conn, op, resp)
}

func (r *Registry) callOnDisconnect(ctx context.Context, conn Connection, reg *Registration) {
	if r.hooks.OnDisconnect == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("disconnect hook panicked", "conn", conn.ID(), "id", reg.ID, "panic", rec)
		}
	}()
	r.hooks.OnDisconnect(ctx, conn, reg)
}
