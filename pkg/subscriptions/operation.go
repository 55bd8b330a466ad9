package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/getmockd/gqlsubs/pkg/graphql"
)

var ackPayload = json.RawMessage(`{}`)

func (r *Registry) handleInit(ctx context.Context, cs *connState, m *ConnectionInit) {
	conn := cs.conn

	values, err := r.callOnConnect(ctx, conn, m.Payload)
	if err != nil {
		r.logger.Info("connection rejected", "conn", conn.ID(), "error", err)
		_ = r.send(ctx, cs, &ConnectionError{Message: err.Error()})
		return
	}

	merged := mergeValues(r.baseValues, values)
	r.mu.Lock()
	cs.values = merged
	r.mu.Unlock()

	if err := r.send(ctx, cs, &ConnectionAck{Payload: ackPayload}); err != nil {
		return
	}
	if r.keepAliveOnAck {
		_ = r.send(ctx, cs, &KeepAlive{})
	}

	// Periodic ka starts only once the ack is on the wire.
	r.mu.Lock()
	cs.initialized = true
	r.mu.Unlock()
}

func (r *Registry) handleStart(ctx context.Context, cs *connState, m *Start) {
	conn := cs.conn

	op, invalid, err := r.parseOperation(m.ID, m.Payload)
	if err != nil {
		r.logger.Debug("start rejected", "conn", conn.ID(), "id", m.ID, "error", err)
		r.replyError(ctx, cs, m.ID, err)
		return
	}

	if invalid != nil {
		r.logger.Debug("operation failed validation", "conn", conn.ID(), "id", m.ID, "error", invalid)
		if op.Kind == ast.Subscription {
			r.replyError(ctx, cs, m.ID, invalid)
			return
		}
		resp := &graphql.GraphQLResponse{Errors: queryErrors(invalid)}
		if err := r.send(ctx, cs, &Data{ID: m.ID, Payload: resp}); err == nil {
			_ = r.send(ctx, cs, &Complete{ID: m.ID})
		}
		return
	}

	r.mu.RLock()
	values := cs.values
	r.mu.RUnlock()

	hookCtx := withOperation(ctx, conn, values, op.ID)
	if err := r.callOnOperation(hookCtx, conn, op); err != nil {
		r.logger.Info("operation rejected", "conn", conn.ID(), "id", op.ID, "error", err)
		r.replyError(ctx, cs, op.ID, err)
		return
	}

	if op.Kind == ast.Subscription {
		r.register(ctx, cs, op, values)
		return
	}

	execCtx, cancel := r.executionContext(ctx, conn, values, op.ID)
	start := time.Now()
	resp := r.executor.ExecuteDocument(execCtx, op.Document, op.OperationName, op.Variables, r.rootValue)
	cancel()
	r.metrics.ObserveExecution(string(op.Kind), time.Since(start))

	if err := r.send(ctx, cs, &Data{ID: op.ID, Payload: resp}); err == nil {
		_ = r.send(ctx, cs, &Complete{ID: op.ID})
	}
	r.callOnOperationComplete(hookCtx, conn, op, resp)
}

// register inserts a subscription into both indices. A live registration
// with the same id on the same connection is replaced.
func (r *Registry) register(ctx context.Context, cs *connState, op *Operation, values map[string]interface{}) {
	conn := cs.conn
	reg := &Registration{
		Operation:  op,
		Connection: conn,
		CreatedAt:  time.Now(),
		values:     values,
	}
	key := registrationKey{conn: conn.ID(), id: op.ID}

	r.mu.Lock()
	if r.conns[conn.ID()] != cs {
		// The connection went away while the start was being handled.
		r.mu.Unlock()
		return
	}
	old := cs.subs[op.ID]
	if old != nil {
		r.removeLocked(cs, old)
	}
	cs.subs[op.ID] = reg
	set := r.byName[op.Name]
	if set == nil {
		set = make(map[registrationKey]*Registration)
		r.byName[op.Name] = set
	}
	set[key] = reg
	r.mu.Unlock()

	if old != nil {
		r.logger.Debug("subscription replaced", "conn", conn.ID(), "id", op.ID, "subscription", old.Name)
		r.metrics.SubscriptionRemoved(old.Name)
		r.callOnDisconnect(ctx, conn, old)
	}
	r.metrics.SubscriptionAdded(op.Name)
	r.logger.Debug("subscription added", "conn", conn.ID(), "id", op.ID, "subscription", op.Name)
}

func (r *Registry) handleStop(ctx context.Context, conn Connection, id OperationID) {
	r.mu.Lock()
	var reg *Registration
	if cs := r.conns[conn.ID()]; cs != nil {
		if reg = cs.subs[id]; reg != nil {
			r.removeLocked(cs, reg)
		}
	}
	r.mu.Unlock()

	if reg == nil {
		return
	}
	r.metrics.SubscriptionRemoved(reg.Name)
	r.logger.Debug("subscription stopped", "conn", conn.ID(), "id", id, "subscription", reg.Name)
	r.callOnDisconnect(ctx, conn, reg)
}

func (r *Registry) handleTerminate(ctx context.Context, conn Connection) {
	r.Disconnect(ctx, conn)
	if closer, ok := conn.(Closer); ok {
		if err := closer.Close("connection terminated"); err != nil {
			r.logger.Debug("close failed", "conn", conn.ID(), "error", err)
		}
	}
}

// Execute runs a query or mutation outside of any subscription connection,
// with the baseline context values. Subscription operations are rejected.
func (r *Registry) Execute(ctx context.Context, req *graphql.GraphQLRequest) *graphql.GraphQLResponse {
	if req == nil {
		return &graphql.GraphQLResponse{Errors: []graphql.GraphQLError{{Message: ErrMissingQuery.Error()}}}
	}

	op, invalid, err := r.parseOperation(OperationID{}, StartPayload{
		Query:         req.Query,
		Variables:     req.Variables,
		OperationName: req.OperationName,
	})
	if err != nil {
		return &graphql.GraphQLResponse{Errors: queryErrors(err)}
	}
	if op.Kind == ast.Subscription {
		return &graphql.GraphQLResponse{Errors: []graphql.GraphQLError{{Message: ErrSubscriptionNotAllowed.Error()}}}
	}
	if invalid != nil {
		return &graphql.GraphQLResponse{Errors: queryErrors(invalid)}
	}

	execCtx, cancel := r.executionContext(ctx, nil, r.baseValues, OperationID{})
	defer cancel()

	start := time.Now()
	resp := r.executor.ExecuteDocument(execCtx, op.Document, op.OperationName, op.Variables, r.rootValue)
	r.metrics.ObserveExecution(string(op.Kind), time.Since(start))
	return resp
}

// parseOperation turns a start payload into an Operation. err is set when
// the request cannot be run at all. invalid is set when the document parsed
// but failed schema validation.
func (r *Registry) parseOperation(id OperationID, p StartPayload) (op *Operation, invalid error, err error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, nil, ErrMissingQuery
	}

	doc, err := r.executor.Parse(p.Query)
	if err != nil {
		return nil, nil, err
	}

	def, err := graphql.SelectOperation(doc, p.OperationName)
	if err != nil {
		return nil, nil, err
	}

	op = &Operation{
		ID:            id,
		Kind:          def.Operation,
		OperationName: p.OperationName,
		Query:         p.Query,
		Variables:     p.Variables,
		Document:      doc,
	}

	if err := r.executor.Validate(doc); err != nil {
		return op, err, nil
	}
	if _, err := r.executor.CoerceVariables(def, p.Variables); err != nil {
		return op, err, nil
	}

	if op.Kind == ast.Subscription {
		name, err := subscriptionName(def)
		if err != nil {
			return nil, nil, err
		}
		op.Name = name
	}
	return op, nil, nil
}

// subscriptionName returns the single root field a subscription selects.
func subscriptionName(def *ast.OperationDefinition) (string, error) {
	if len(def.SelectionSet) != 1 {
		return "", fmt.Errorf("%w, got %d selections", ErrMultipleRootFields, len(def.SelectionSet))
	}
	field, ok := def.SelectionSet[0].(*ast.Field)
	if !ok {
		return "", fmt.Errorf("%w, got a fragment", ErrMultipleRootFields)
	}
	if strings.HasPrefix(field.Name, "__") {
		return "", fmt.Errorf("%w, got %s", ErrMultipleRootFields, field.Name)
	}
	return field.Name, nil
}

func (r *Registry) executionContext(ctx context.Context, conn Connection, values map[string]interface{}, id OperationID) (context.Context, context.CancelFunc) {
	ctx = withOperation(ctx, conn, values, id)
	if r.execTimeout > 0 {
		return context.WithTimeout(ctx, r.execTimeout)
	}
	return context.WithCancel(ctx)
}

// queryErrors converts an error into response errors, keeping locations
// from parser and validator errors.
func queryErrors(err error) []graphql.GraphQLError {
	var qe *graphql.QueryError
	if errors.As(err, &qe) && len(qe.Errors) > 0 {
		return qe.Errors
	}
	return []graphql.GraphQLError{{Message: err.Error()}}
}
