package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/getmockd/gqlsubs/pkg/logging"
)

const mqttTimeout = 10 * time.Second

// MQTTOptions configures an MQTTSource.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTSource subscribes to TopicPrefix/# and publishes each message under
// the topic suffix as the subscription name. Nested suffixes such as
// "chat/general" are kept whole.
type MQTTSource struct {
	opts   MQTTOptions
	target Publisher
	logger *slog.Logger
}

// NewMQTTSource creates a source.
func NewMQTTSource(opts MQTTOptions, target Publisher, logger *slog.Logger) *MQTTSource {
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")
	return &MQTTSource{
		opts:   opts,
		target: target,
		logger: logging.Component(logger, "bridge.mqtt"),
	}
}

func (s *MQTTSource) filter() string {
	if s.opts.TopicPrefix == "" {
		return "#"
	}
	return s.opts.TopicPrefix + "/#"
}

// subscriptionName maps a topic to a subscription name.
func (s *MQTTSource) subscriptionName(topic string) (string, bool) {
	if s.opts.TopicPrefix == "" {
		return topic, topic != ""
	}
	name, ok := strings.CutPrefix(topic, s.opts.TopicPrefix+"/")
	return name, ok && name != ""
}

// Run implements Source.
func (s *MQTTSource) Run(ctx context.Context) error {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(s.opts.Broker)
	clientOpts.SetClientID(s.opts.ClientID)
	clientOpts.SetUsername(s.opts.Username)
	clientOpts.SetPassword(s.opts.Password)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectTimeout(mqttTimeout)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.opts.Broker, err)
	}
	defer client.Disconnect(250)

	token = client.Subscribe(s.filter(), s.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(ctx, msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(mqttTimeout) {
		return errors.New("mqtt subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.filter(), err)
	}
	s.logger.Info("listening", "broker", s.opts.Broker, "filter", s.filter())

	<-ctx.Done()
	return nil
}

func (s *MQTTSource) handle(ctx context.Context, topic string, payload []byte) {
	name, ok := s.subscriptionName(topic)
	if !ok {
		s.logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return
	}
	if err := s.target.Publish(ctx, name, decodePayload(payload)); err != nil {
		s.logger.Warn("publish failed", "subscription", name, "error", err)
	}
}
