package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/getmockd/gqlsubs/pkg/logging"
)

const defaultPostgresRetry = 3 * time.Second

// PostgresSource LISTENs on a set of channels and publishes every
// notification under the subscription name its channel maps to.
type PostgresSource struct {
	dsn      string
	channels map[string]string
	retry    time.Duration
	target   Publisher
	logger   *slog.Logger
}

// NewPostgresSource creates a source. channels maps notification channels
// to subscription names; an empty name means the channel name itself.
func NewPostgresSource(dsn string, channels map[string]string, target Publisher, logger *slog.Logger) *PostgresSource {
	mapped := make(map[string]string, len(channels))
	for ch, name := range channels {
		if name == "" {
			name = ch
		}
		mapped[ch] = name
	}
	return &PostgresSource{
		dsn:      dsn,
		channels: mapped,
		retry:    defaultPostgresRetry,
		target:   target,
		logger:   logging.Component(logger, "bridge.postgres"),
	}
}

// Run implements Source. Lost connections are re-established after a
// short delay; the first connection failure is returned.
func (s *PostgresSource) Run(ctx context.Context) error {
	if len(s.channels) == 0 {
		return errors.New("postgres source has no channels")
	}

	first := true
	for {
		err := s.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if first && err != nil && errors.Is(err, errConnect) {
			return err
		}
		first = false
		s.logger.Warn("listener stopped, reconnecting", "error", err, "retry", s.retry)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retry):
		}
	}
}

var errConnect = errors.New("postgres connect failed")

func (s *PostgresSource) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("%w: %w", errConnect, err)
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	for _, ch := range s.channelNames() {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	s.logger.Info("listening", "channels", s.channelNames())

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		s.handle(ctx, n.Channel, n.Payload)
	}
}

func (s *PostgresSource) channelNames() []string {
	names := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		names = append(names, ch)
	}
	sort.Strings(names)
	return names
}

func (s *PostgresSource) handle(ctx context.Context, channel, payload string) {
	name, ok := s.channels[channel]
	if !ok {
		s.logger.Warn("ignoring notification on unknown channel", "channel", channel)
		return
	}
	if err := s.target.Publish(ctx, name, decodePayload([]byte(payload))); err != nil {
		s.logger.Warn("publish failed", "subscription", name, "error", err)
	}
}
