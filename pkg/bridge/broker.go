package bridge

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/getmockd/gqlsubs/pkg/logging"
)

// BrokerOptions configures an embedded MQTT broker.
type BrokerOptions struct {
	Addr        string
	TopicPrefix string
	// Users maps usernames to passwords. Empty allows anonymous clients.
	Users map[string]string
}

// MQTTBroker runs an MQTT broker inside the process. Every message a client
// publishes under TopicPrefix is forwarded to the target, using the same
// topic mapping as MQTTSource, and is still delivered to MQTT subscribers.
type MQTTBroker struct {
	opts   BrokerOptions
	logger *slog.Logger
	server *mqtt.Server
	topics *MQTTSource

	mu      sync.Mutex
	started bool
}

// NewMQTTBroker creates a broker. It does not listen until Start or Run.
func NewMQTTBroker(opts BrokerOptions, target Publisher, logger *slog.Logger) (*MQTTBroker, error) {
	if opts.Addr == "" {
		return nil, errors.New("mqtt broker address is required")
	}
	log := logging.Component(logger, "bridge.broker")
	b := &MQTTBroker{
		opts:   opts,
		logger: log,
		server: mqtt.New(&mqtt.Options{InlineClient: true, Logger: log}),
		topics: NewMQTTSource(MQTTOptions{TopicPrefix: opts.TopicPrefix}, target, logger),
	}

	if len(opts.Users) > 0 {
		if err := b.server.AddHook(&brokerAuthHook{users: opts.Users}, nil); err != nil {
			return nil, fmt.Errorf("failed to add auth hook: %w", err)
		}
	} else if err := b.server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add allow hook: %w", err)
	}
	if err := b.server.AddHook(&forwardHook{broker: b}, nil); err != nil {
		return nil, fmt.Errorf("failed to add forward hook: %w", err)
	}
	return b, nil
}

// Addr returns the configured listen address.
func (b *MQTTBroker) Addr() string { return b.opts.Addr }

// Start binds the listener and begins accepting clients. Calling it again
// is a no-op.
func (b *MQTTBroker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	listener := listeners.NewTCP(listeners.Config{
		ID:      "gqlsubs-mqtt",
		Address: b.opts.Addr,
	})
	if err := b.server.AddListener(listener); err != nil {
		return fmt.Errorf("failed to add listener: %w", err)
	}
	go func() {
		if err := b.server.Serve(); err != nil {
			b.logger.Error("mqtt broker error", "error", err)
		}
	}()
	b.started = true
	b.logger.Info("listening", "addr", b.opts.Addr, "filter", b.topics.filter())
	return nil
}

// Run implements Source. It starts the broker if needed and closes it when
// ctx ends.
func (b *MQTTBroker) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return b.server.Close()
}

// Inject publishes a message as the broker's inline client. MQTT
// subscribers receive it and the forward hook routes it like a client
// publish.
func (b *MQTTBroker) Inject(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, false, 0)
}

type brokerAuthHook struct {
	mqtt.HookBase
	users map[string]string
}

func (h *brokerAuthHook) ID() string { return "gqlsubs-auth" }

func (h *brokerAuthHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
	}, []byte{b})
}

func (h *brokerAuthHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	want, ok := h.users[string(cl.Properties.Username)]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), pk.Connect.Password) == 1
}

func (h *brokerAuthHook) OnACLCheck(*mqtt.Client, string, bool) bool { return true }

// forwardHook hands published messages to the broker's target.
type forwardHook struct {
	mqtt.HookBase
	broker *MQTTBroker
}

func (h *forwardHook) ID() string { return "gqlsubs-forward" }

func (h *forwardHook) Provides(b byte) bool {
	return b == mqtt.OnPublish
}

func (h *forwardHook) OnPublish(_ *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if strings.HasPrefix(pk.TopicName, "$SYS") {
		return pk, nil
	}
	h.broker.topics.handle(context.Background(), pk.TopicName, pk.Payload)
	return pk, nil
}
