// Package server assembles a runnable subscription server from a
// config.Config: schema, resolvers, filters, authentication, the WebSocket
// and HTTP endpoints, metrics and the event bridges.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/gqlsubs/pkg/auth"
	"github.com/getmockd/gqlsubs/pkg/bridge"
	"github.com/getmockd/gqlsubs/pkg/config"
	"github.com/getmockd/gqlsubs/pkg/filter"
	"github.com/getmockd/gqlsubs/pkg/graphql"
	"github.com/getmockd/gqlsubs/pkg/logging"
	"github.com/getmockd/gqlsubs/pkg/metrics"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
	"github.com/getmockd/gqlsubs/pkg/transport"
)

// DefaultShutdownTimeout is used when the configuration sets none.
const DefaultShutdownTimeout = 10 * time.Second

// Server is a configured subscription server.
type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	schema    *graphql.Schema
	registry  *subscriptions.Registry
	publisher bridge.Publisher
	sources   []bridge.Source
	closers   []io.Closer
	gatherer  prometheus.Gatherer
	handler   http.Handler

	// options
	resolvers   map[string]graphql.Resolver
	hooks       subscriptions.Hooks
	promReg     *prometheus.Registry
	extraSource []bridge.Source

	mu   sync.Mutex
	addr net.Addr
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithResolver adds a code resolver for "Type.field". It takes precedence
// over a canned resolver configured for the same path.
func WithResolver(path string, r graphql.Resolver) Option {
	return func(s *Server) {
		s.resolvers[path] = r
	}
}

// WithHooks sets lifecycle hooks. A configured auth hook runs before
// hooks.OnConnect.
func WithHooks(hooks subscriptions.Hooks) Option {
	return func(s *Server) {
		s.hooks = hooks
	}
}

// WithPrometheusRegistry registers the collectors on reg instead of a
// private registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.promReg = reg
	}
}

// WithSource adds an event source run alongside the configured bridges.
func WithSource(src bridge.Source) Option {
	return func(s *Server) {
		s.extraSource = append(s.extraSource, src)
	}
}

// New validates cfg and builds the server. Nothing is started until Run or
// Serve is called.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		cfg:       cfg,
		log:       logging.Nop(),
		resolvers: make(map[string]graphql.Resolver),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	schema, err := cfg.LoadSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	if err := cfg.ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("configuration does not match schema: %w", err)
	}
	s.schema = schema

	if err := s.buildRegistry(); err != nil {
		return nil, err
	}
	if err := s.buildBridges(); err != nil {
		s.closeAll()
		return nil, err
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) buildRegistry() error {
	cfg := s.cfg

	resolvers := graphql.StaticResolvers(cfg.Resolvers)
	for path, r := range s.resolvers {
		resolvers[path] = r
	}
	if err := s.schema.ValidateFieldPaths(sortedPaths(resolvers)); err != nil {
		return fmt.Errorf("invalid resolver: %w", err)
	}
	executor := graphql.NewExecutor(s.schema,
		graphql.WithResolvers(resolvers),
		graphql.WithDebug(cfg.Debug),
		graphql.WithLogger(s.log),
	)

	filters, err := filter.FromConfig(cfg.Filters, s.log)
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	authHook, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}
	hooks := s.hooks
	if authHook != nil {
		hooks.OnConnect = subscriptions.ChainOnConnect(authHook, hooks.OnConnect)
	}

	promReg := s.promReg
	if promReg == nil {
		promReg = metrics.NewRegistry()
	}
	m, err := metrics.New(promReg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	s.gatherer = promReg

	s.registry = subscriptions.New(executor,
		subscriptions.WithLogger(s.log),
		subscriptions.WithHooks(hooks),
		subscriptions.WithFilters(filters),
		subscriptions.WithContextValues(cfg.Context),
		subscriptions.WithMetrics(m),
		subscriptions.WithExecutionTimeout(cfg.Execution.TimeoutDuration()),
		subscriptions.WithSendTimeout(cfg.Execution.SendTimeoutDuration()),
		subscriptions.WithPublishConcurrency(cfg.Execution.PublishConcurrency),
		subscriptions.WithKeepAlive(cfg.Server.KeepAliveInterval() > 0),
	)
	return nil
}

func (s *Server) buildBridges() error {
	local := bridge.NewRegistryPublisher(s.registry)
	s.publisher = local

	b := s.cfg.Bridges
	if rc := b.Redis; rc != nil {
		client, err := bridge.NewRedisClient(rc.URL)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, client)
		s.sources = append(s.sources, bridge.NewRedisSource(client, rc.Prefix, local, s.log))
		if rc.Sink {
			s.publisher = bridge.NewRedisSink(client, rc.Prefix)
		}
	}
	if mc := b.MQTT; mc != nil {
		s.sources = append(s.sources, bridge.NewMQTTSource(bridge.MQTTOptions{
			Broker:      mc.Broker,
			ClientID:    mc.ClientID,
			Username:    mc.Username,
			Password:    mc.Password,
			TopicPrefix: mc.TopicPrefix,
			QoS:         mc.QoS,
		}, local, s.log))
	}
	if bc := b.MQTTBroker; bc != nil {
		broker, err := bridge.NewMQTTBroker(bridge.BrokerOptions{
			Addr:        bc.Addr,
			TopicPrefix: bc.TopicPrefix,
			Users:       bc.Users,
		}, local, s.log)
		if err != nil {
			return err
		}
		s.sources = append(s.sources, broker)
	}
	if pc := b.Postgres; pc != nil {
		s.sources = append(s.sources, bridge.NewPostgresSource(pc.DSN, pc.Channels, local, s.log))
	}
	s.sources = append(s.sources, s.extraSource...)
	return nil
}

func (s *Server) routes() http.Handler {
	sc := s.cfg.Server
	wsOpts := transport.WebSocketOptions{
		KeepAlive:          sc.KeepAliveInterval(),
		ReadLimit:          sc.ReadLimit,
		WriteTimeout:       sc.WriteTimeoutDuration(),
		InsecureSkipVerify: sc.InsecureSkipVerify,
		OriginPatterns:     sc.OriginPatterns,
	}

	var ws http.Handler
	if sc.Transport == config.TransportGorilla {
		ws = transport.NewGorillaHandler(s.registry, wsOpts, s.log)
	} else {
		ws = transport.NewWebSocketHandler(s.registry, wsOpts, s.log)
	}
	query := transport.NewQueryHandler(s.registry, s.log)

	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc(sc.Path, func(w http.ResponseWriter, req *http.Request) {
		if isWebSocketUpgrade(req) {
			ws.ServeHTTP(w, req)
			return
		}
		query.ServeHTTP(w, req)
	})
	if sc.PublishPath != "" {
		r.Handle(strings.TrimSuffix(sc.PublishPath, "/")+"/{name}", transport.NewPublishHandler(s.publisher, s.schema, s.log))
	}
	if sc.MetricsPath != "" {
		r.Handle(sc.MetricsPath, metrics.Handler(s.gatherer))
	}
	r.Get("/healthz", s.health)
	r.Get("/subscriptions", transport.SubscriptionsHandler(s.registry))

	return h2c.NewHandler(r, &http2.Server{})
}

// Registry returns the subscription registry.
func (s *Server) Registry() *subscriptions.Registry { return s.registry }

// Schema returns the loaded schema.
func (s *Server) Schema() *graphql.Schema { return s.schema }

// Publisher returns the publisher used by the publish endpoint.
func (s *Server) Publisher() bridge.Publisher { return s.publisher }

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the listener address once Serve has started, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln and runs the event bridges until ctx is done or one
// of them fails. On return every subscription connection was closed and
// the HTTP server shut down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server started",
			"addr", ln.Addr().String(),
			"path", s.cfg.Server.Path,
			"transport", s.cfg.Server.Transport)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return bridge.RunAll(gctx, s.sources...)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(context.WithoutCancel(ctx), srv)
	})

	err := g.Wait()
	s.closeAll()
	return err
}

func (s *Server) shutdown(ctx context.Context, srv *http.Server) error {
	timeout := s.cfg.Server.ShutdownTimeoutDuration()
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.log.Info("shutting down",
		"connections", s.registry.ConnectionCount(),
		"subscriptions", s.registry.SubscriptionCount())

	s.registry.CloseAll(ctx, "server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

func (s *Server) closeAll() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.log.Warn("failed to close resource", "error", err)
		}
	}
	s.closers = nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","connections":%d,"subscriptions":%d}`,
		s.registry.ConnectionCount(), s.registry.SubscriptionCount())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func sortedPaths(m map[string]graphql.Resolver) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
