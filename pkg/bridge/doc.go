// Package bridge connects external event feeds to subscription fan-out.
//
// A Publisher accepts events for a subscription name. RegistryPublisher
// delivers them to a local registry; RedisSink forwards them over Redis
// Pub/Sub so that several instances share one event stream.
//
// Sources consume a feed and publish into a Publisher:
//
//   - RedisSource pattern-subscribes to a channel prefix.
//   - MQTTSource subscribes to a topic prefix.
//   - MQTTBroker embeds an MQTT broker and forwards what clients publish.
//   - PostgresSource LISTENs for NOTIFY events.
//
// Event bodies are decoded as JSON; bodies that are not valid JSON are
// published as strings.
package bridge
