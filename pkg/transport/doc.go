// Package transport binds a subscriptions.Registry to HTTP.
//
// WebSocketHandler (github.com/coder/websocket) and GorillaHandler
// (github.com/gorilla/websocket) serve the graphql-ws subprotocol. Both
// reject clients that do not negotiate it, ignore binary frames, send
// periodic ka messages when configured and disconnect the registry state
// when the socket closes. Every connection gets a random UUID.
//
// QueryHandler serves queries and mutations over plain HTTP, PublishHandler
// injects events for a subscription name, and SubscriptionsHandler reports
// the live registrations.
package transport
