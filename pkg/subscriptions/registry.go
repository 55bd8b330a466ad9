package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/getmockd/gqlsubs/pkg/graphql"
	"github.com/getmockd/gqlsubs/pkg/logging"
	"github.com/getmockd/gqlsubs/pkg/metrics"
)

// Filter decides whether a published payload is delivered to one
// registration. ctx carries the registration's connection context values
// (see ContextValues).
type Filter func(ctx context.Context, payload interface{}, variables map[string]interface{}) bool

// Registry is the subscription state machine. It tracks connections and
// their live subscriptions, answers protocol messages and fans published
// events out to matching subscriptions. It is safe for concurrent use.
type Registry struct {
	executor           *graphql.Executor
	logger             *slog.Logger
	hooks              Hooks
	filters            map[string]Filter
	baseValues         map[string]interface{}
	rootValue          interface{}
	metrics            *metrics.Metrics
	execTimeout        time.Duration
	sendTimeout        time.Duration
	publishConcurrency int
	keepAliveOnAck     bool

	// mu guards byName, conns and the subs and values of every connState.
	mu     sync.RWMutex
	byName map[string]map[registrationKey]*Registration
	conns  map[string]*connState
}

// connState is the per-connection state.
type connState struct {
	conn        Connection
	values      map[string]interface{}
	subs        map[OperationID]*Registration
	initialized bool

	// sendMu serializes writes to conn.
	sendMu sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logging.Component(logger, "subscriptions")
	}
}

// WithHooks sets the lifecycle hooks.
func WithHooks(hooks Hooks) Option {
	return func(r *Registry) {
		r.hooks = hooks
	}
}

// WithFilter sets the filter for one subscription name.
func WithFilter(name string, f Filter) Option {
	return func(r *Registry) {
		if f == nil {
			delete(r.filters, name)
			return
		}
		r.filters[name] = f
	}
}

// WithFilters sets filters for several subscription names.
func WithFilters(filters map[string]Filter) Option {
	return func(r *Registry) {
		for name, f := range filters {
			WithFilter(name, f)(r)
		}
	}
}

// WithContextValues sets the baseline context values every connection
// starts from. The map is copied.
func WithContextValues(values map[string]interface{}) Option {
	return func(r *Registry) {
		r.baseValues = mergeValues(nil, values)
	}
}

// WithRootValue sets the root value for queries and mutations.
func WithRootValue(root interface{}) Option {
	return func(r *Registry) {
		r.rootValue = root
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithExecutionTimeout bounds every GraphQL execution. Zero means no bound.
func WithExecutionTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.execTimeout = d
	}
}

// WithSendTimeout bounds every Connection.Send call. Zero means no bound.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.sendTimeout = d
	}
}

// WithPublishConcurrency sets how many registrations a single Publish
// processes in parallel. Values below 2 mean sequential fan-out.
func WithPublishConcurrency(n int) Option {
	return func(r *Registry) {
		r.publishConcurrency = n
	}
}

// WithKeepAlive makes the registry send a ka message right after every
// connection_ack, and enables Registry.KeepAlive.
func WithKeepAlive(enabled bool) Option {
	return func(r *Registry) {
		r.keepAliveOnAck = enabled
	}
}

// New creates a Registry that executes operations with executor.
// executor must not be nil.
func New(executor *graphql.Executor, opts ...Option) *Registry {
	r := &Registry{
		executor:   executor,
		logger:     logging.Component(nil, "subscriptions"),
		filters:    make(map[string]Filter),
		baseValues: map[string]interface{}{},
		byName:     make(map[string]map[registrationKey]*Registration),
		conns:      make(map[string]*connState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Executor returns the executor the registry runs operations with.
func (r *Registry) Executor() *graphql.Executor {
	return r.executor
}

// HandleRaw decodes one wire message and handles it. Decode failures are
// answered with error and complete when the message carried an id, and
// with connection_error otherwise.
func (r *Registry) HandleRaw(ctx context.Context, conn Connection, data []byte) {
	msg, err := Decode(data)
	if err == nil {
		r.Handle(ctx, conn, msg)
		return
	}

	if conn == nil {
		r.logger.Warn("dropping malformed publish", "error", err)
		return
	}
	r.logger.Debug("malformed message", "conn", conn.ID(), "error", err)
	r.metrics.MessageReceived("invalid")

	cs := r.ensureConn(conn)
	var de *DecodeError
	if errors.As(err, &de) && !de.ID.IsZero() {
		r.replyError(ctx, cs, de.ID, de.Err)
		return
	}
	_ = r.send(ctx, cs, &ConnectionError{Message: err.Error()})
}

// Handle processes one decoded message. A nil conn marks an in-process
// message, which is only valid for Publish. Handle never panics and reports
// every failure to the client through the protocol.
func (r *Registry) Handle(ctx context.Context, conn Connection, msg Message) {
	if msg == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("message handling panicked", "type", msg.Type(), "panic", rec)
		}
	}()

	r.metrics.MessageReceived(string(msg.Type()))

	if conn == nil {
		if pub, ok := msg.(*Publish); ok {
			r.publishMessage(ctx, pub)
			return
		}
		r.logger.Warn("dropping message without a connection", "type", msg.Type())
		return
	}

	r.logger.Debug("message received", "conn", conn.ID(), "type", msg.Type())
	cs := r.ensureConn(conn)

	switch m := msg.(type) {
	case *ConnectionInit:
		r.handleInit(ctx, cs, m)
	case *Start:
		r.handleStart(ctx, cs, m)
	case *Stop:
		r.handleStop(ctx, conn, m.ID)
	case *ConnectionTerminate:
		r.handleTerminate(ctx, conn)
	case *Publish:
		_ = r.send(ctx, cs, &ConnectionError{Message: ErrPublishNotAllowed.Error()})
	case *ConnectionAck, *ConnectionError, *KeepAlive, *Data, *OperationError, *Complete:
		_ = r.send(ctx, cs, &ConnectionError{Message: fmt.Sprintf("%v: %s", ErrUnexpectedMessage, msg.Type())})
	}
}

// Disconnect removes every registration of conn, firing OnDisconnect for
// each, and forgets the connection. Transports call it when the connection
// closes. Calling it for an unknown connection is a no-op.
func (r *Registry) Disconnect(ctx context.Context, conn Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	cs := r.conns[conn.ID()]
	if cs == nil {
		r.mu.Unlock()
		return
	}
	delete(r.conns, conn.ID())
	removed := make([]*Registration, 0, len(cs.subs))
	for _, reg := range cs.subs {
		r.removeLocked(cs, reg)
		removed = append(removed, reg)
	}
	r.mu.Unlock()

	r.metrics.ConnectionClosed()
	r.logger.Debug("connection closed", "conn", conn.ID(), "subscriptions", len(removed))

	for _, reg := range removed {
		r.metrics.SubscriptionRemoved(reg.Name)
		r.callOnDisconnect(ctx, conn, reg)
	}
}

// KeepAlive sends a ka message to conn if it has been acknowledged. It is
// a no-op unless keep-alive was enabled with WithKeepAlive.
func (r *Registry) KeepAlive(ctx context.Context, conn Connection) error {
	if !r.keepAliveOnAck || conn == nil {
		return nil
	}
	r.mu.RLock()
	cs := r.conns[conn.ID()]
	ready := cs != nil && cs.initialized
	r.mu.RUnlock()
	if !ready {
		return nil
	}
	return r.send(ctx, cs, &KeepAlive{})
}

// ConnectionCount returns the number of known connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SubscriptionCount returns the number of live registrations.
func (r *Registry) SubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.byName {
		n += len(set)
	}
	return n
}

// Subscriptions returns the live registrations for one subscription name.
func (r *Registry) Subscriptions(name string) []SubscriptionInfo {
	r.mu.RLock()
	out := make([]SubscriptionInfo, 0, len(r.byName[name]))
	for _, reg := range r.byName[name] {
		out = append(out, reg.Info())
	}
	r.mu.RUnlock()
	sortInfos(out)
	return out
}

// ListSubscriptions returns every live registration.
func (r *Registry) ListSubscriptions() []SubscriptionInfo {
	r.mu.RLock()
	var out []SubscriptionInfo
	for _, set := range r.byName {
		for _, reg := range set {
			out = append(out, reg.Info())
		}
	}
	r.mu.RUnlock()
	sortInfos(out)
	return out
}

// CloseAll disconnects every connection and closes the ones that implement
// Closer. It is used on server shutdown.
func (r *Registry) CloseAll(ctx context.Context, reason string) {
	r.mu.RLock()
	conns := make([]Connection, 0, len(r.conns))
	for _, cs := range r.conns {
		conns = append(conns, cs.conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		r.Disconnect(ctx, conn)
		if closer, ok := conn.(Closer); ok {
			if err := closer.Close(reason); err != nil {
				r.logger.Debug("close failed", "conn", conn.ID(), "error", err)
			}
		}
	}
}

// ensureConn returns the state for conn, creating it on first use.
func (r *Registry) ensureConn(conn Connection) *connState {
	id := conn.ID()

	r.mu.RLock()
	cs := r.conns[id]
	r.mu.RUnlock()
	if cs != nil {
		return cs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cs = r.conns[id]; cs == nil {
		cs = &connState{
			conn:   conn,
			values: r.baseValues,
			subs:   make(map[OperationID]*Registration),
		}
		r.conns[id] = cs
		r.metrics.ConnectionOpened()
	}
	return cs
}

// removeLocked removes reg from both indices. r.mu must be held.
func (r *Registry) removeLocked(cs *connState, reg *Registration) {
	if cs.subs[reg.ID] == reg {
		delete(cs.subs, reg.ID)
	}
	key := registrationKey{conn: cs.conn.ID(), id: reg.ID}
	if set := r.byName[reg.Name]; set != nil && set[key] == reg {
		delete(set, key)
		if len(set) == 0 {
			delete(r.byName, reg.Name)
		}
	}
}

// isLive reports whether reg is still registered.
func (r *Registry) isLive(reg *Registration) (*connState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs := r.conns[reg.Connection.ID()]
	if cs == nil || cs.subs[reg.ID] != reg {
		return nil, false
	}
	return cs, true
}

// send encodes msg and writes it to the connection, holding the
// connection's send lock for the duration of the write.
func (r *Registry) send(ctx context.Context, cs *connState, msg Message) (err error) {
	data, err := Encode(msg)
	if err != nil {
		r.logger.Error("encode failed", "conn", cs.conn.ID(), "type", msg.Type(), "error", err)
		return err
	}

	if r.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sendTimeout)
		defer cancel()
	}

	cs.sendMu.Lock()
	defer cs.sendMu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			err = r.panicError("send", rec)
		}
		if err != nil {
			r.logger.Warn("send failed", "conn", cs.conn.ID(), "type", msg.Type(), "error", err)
		}
	}()

	if err := cs.conn.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	r.metrics.MessageSent(string(msg.Type()))
	return nil
}

// replyError sends error followed by complete for one operation.
func (r *Registry) replyError(ctx context.Context, cs *connState, id OperationID, err error) {
	if sendErr := r.send(ctx, cs, &OperationError{ID: id, Message: err.Error()}); sendErr != nil {
		return
	}
	_ = r.send(ctx, cs, &Complete{ID: id})
}

func sortInfos(infos []SubscriptionInfo) {
	sort.Slice(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.Subscription != b.Subscription {
			return a.Subscription < b.Subscription
		}
		if a.ConnectionID != b.ConnectionID {
			return a.ConnectionID < b.ConnectionID
		}
		return a.ID.String() < b.ID.String()
	})
}
