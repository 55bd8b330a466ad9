package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/getmockd/gqlsubs/pkg/bridge"
	"github.com/getmockd/gqlsubs/pkg/graphql"
	"github.com/getmockd/gqlsubs/pkg/logging"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// MaxRequestBodySize is the maximum allowed request body size (1MB).
const MaxRequestBodySize = 1 << 20

// QueryHandler serves queries and mutations over plain HTTP.
// It supports GET with query parameters and POST with application/json or
// application/graphql bodies. Subscriptions must use the WebSocket
// endpoint.
type QueryHandler struct {
	registry *subscriptions.Registry
	logger   *slog.Logger
}

// NewQueryHandler creates a handler executing through registry.
func NewQueryHandler(registry *subscriptions.Registry, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		registry: registry,
		logger:   logging.Component(logger, "http"),
	}
}

// ServeHTTP handles GET and POST GraphQL requests.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeGraphQLError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var (
		req *graphql.GraphQLRequest
		err error
	)
	if r.Method == http.MethodGet {
		req, err = parseGetRequest(r)
	} else {
		req, err = parsePostRequest(r)
	}
	if err != nil {
		writeGraphQLError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := h.registry.Execute(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)

	h.logger.Debug("query executed",
		"method", r.Method,
		"operationName", req.OperationName,
		"errors", len(resp.Errors),
		"duration", time.Since(start))
}

func parseGetRequest(r *http.Request) (*graphql.GraphQLRequest, error) {
	query := r.URL.Query()
	req := &graphql.GraphQLRequest{
		Query:         query.Get("query"),
		OperationName: query.Get("operationName"),
	}
	if vars := query.Get("variables"); vars != "" {
		if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
			return nil, &requestError{message: "invalid variables JSON"}
		}
	}
	return req, nil
}

func parsePostRequest(r *http.Request) (*graphql.GraphQLRequest, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/graphql") {
		return &graphql.GraphQLRequest{Query: string(body)}, nil
	}

	var req graphql.GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &requestError{message: "invalid JSON request body"}
	}
	return &req, nil
}

func readBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		return nil, &requestError{message: "failed to read request body"}
	}
	if len(body) > MaxRequestBodySize {
		return nil, &requestError{message: "request body too large"}
	}
	if len(body) == 0 {
		return nil, &requestError{message: "empty request body"}
	}
	return body, nil
}

// PublishHandler accepts POST {prefix}/{name} with a JSON body and
// publishes the body as the payload for subscription name. It must be
// mounted on a chi route with a {name} parameter.
type PublishHandler struct {
	publisher bridge.Publisher
	schema    *graphql.Schema
	logger    *slog.Logger
}

// NewPublishHandler creates a publish endpoint. When schema is non-nil,
// names the schema does not declare are rejected with 404.
func NewPublishHandler(publisher bridge.Publisher, schema *graphql.Schema, logger *slog.Logger) *PublishHandler {
	return &PublishHandler{
		publisher: publisher,
		schema:    schema,
		logger:    logging.Component(logger, "http"),
	}
}

// ServeHTTP handles one publish request.
func (h *PublishHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "subscription name is required")
		return
	}
	if h.schema != nil && h.schema.GetSubscriptionField(name) == nil {
		writeJSONError(w, http.StatusNotFound, "unknown subscription: "+name)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	_ = r.Body.Close()
	if err != nil || len(body) > MaxRequestBodySize {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var payload interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	if local, ok := h.publisher.(*bridge.RegistryPublisher); ok {
		result := local.PublishWithResult(r.Context(), name, payload)
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := h.publisher.Publish(r.Context(), name, payload); err != nil {
		h.logger.Warn("publish failed", "subscription", name, "error", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// SubscriptionsHandler lists the live registrations as JSON.
func SubscriptionsHandler(registry *subscriptions.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := registry.ListSubscriptions()
		if name := r.URL.Query().Get("name"); name != "" {
			infos = registry.Subscriptions(name)
		}
		if infos == nil {
			infos = []subscriptions.SubscriptionInfo{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"connections":   registry.ConnectionCount(),
			"subscriptions": infos,
		})
	}
}

type requestError struct {
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func writeGraphQLError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &graphql.GraphQLResponse{
		Errors: []graphql.GraphQLError{{Message: message}},
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
