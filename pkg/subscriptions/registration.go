package subscriptions

import (
	"time"

	"github.com/vektah/gqlparser/v2/ast"
)

// Operation is a parsed start request.
type Operation struct {
	// ID is the client-chosen operation id.
	ID OperationID
	// Kind is query, mutation or subscription.
	Kind ast.Operation
	// Name is the subscription name: the single root field of a
	// subscription operation. It is empty for queries and mutations.
	Name string
	// OperationName is the operationName the client sent, if any.
	OperationName string
	// Query is the original query text.
	Query string
	// Variables are the variables the client sent.
	Variables map[string]interface{}
	// Document is the parsed query document.
	Document *ast.QueryDocument
}

// Registration is a live subscription: one subscription operation bound to
// the connection that started it.
type Registration struct {
	*Operation

	// Connection is the connection that owns the registration.
	Connection Connection
	// CreatedAt is when the registration was inserted.
	CreatedAt time.Time

	// values is the connection context snapshot taken at start time.
	values map[string]interface{}
}

// Info returns a serializable summary of the registration.
func (r *Registration) Info() SubscriptionInfo {
	return SubscriptionInfo{
		ConnectionID:  r.Connection.ID(),
		ID:            r.ID,
		Subscription:  r.Name,
		OperationName: r.OperationName,
		Variables:     r.Variables,
		CreatedAt:     r.CreatedAt,
	}
}

// SubscriptionInfo describes a registration for introspection endpoints.
type SubscriptionInfo struct {
	ConnectionID  string                 `json:"connectionId"`
	ID            OperationID            `json:"id"`
	Subscription  string                 `json:"subscription"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// registrationKey identifies a registration across connections.
type registrationKey struct {
	conn string
	id   OperationID
}
