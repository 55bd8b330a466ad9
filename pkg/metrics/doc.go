// Package metrics exposes Prometheus collectors for the subscription engine.
//
// Collectors are created with New on a caller-supplied registerer:
//
//	reg := metrics.NewRegistry()
//	m, err := metrics.New(reg)
//	if err != nil {
//	    return err
//	}
//	http.Handle("/metrics", metrics.Handler(reg))
//
// # Label Conventions
//
//   - subscription: the root field name of a Subscription operation, or
//     "unknown" for publishes to names the schema does not declare
//   - type: the protocol message type (connection_init, start, data, ...)
//   - outcome: delivered, filtered, error
//   - kind: query, mutation, subscription
//
// Every method on *Metrics is safe to call on a nil receiver.
package metrics
