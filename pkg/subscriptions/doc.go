// Package subscriptions implements the server side of the legacy
// GraphQL-over-WebSocket protocol (subscriptions-transport-ws, sub-protocol
// "graphql-ws").
//
// A Registry owns all subscription state for one schema. Transports feed it
// raw frames through HandleRaw and call Disconnect when a connection goes
// away; application code injects events with Publish:
//
//	exec := graphql.NewExecutor(schema)
//	reg := subscriptions.New(exec, subscriptions.WithLogger(logger))
//
//	// in the transport read loop
//	reg.HandleRaw(ctx, conn, frame)
//
//	// anywhere in the application
//	reg.Publish(ctx, "messageAdded", map[string]interface{}{"id": "1", "text": "hi"})
//
// Queries and mutations sent with start are executed immediately and answered
// with data then complete. Subscriptions are registered under the name of
// their single root field and produce data only when that name is published.
// The published payload is the root value of the execution, and the root
// field resolves to the payload itself unless a resolver is configured.
//
// Every connection gets its own snapshot of context values, built from the
// registry baseline and the values returned by the OnConnect hook.
// Resolvers, filters and hooks read it with ContextValues.
package subscriptions
