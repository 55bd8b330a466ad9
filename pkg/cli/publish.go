package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlsubs/pkg/bridge"
	"github.com/getmockd/gqlsubs/pkg/config"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

type publishFlags struct {
	url         string
	redisURL    string
	redisPrefix string
	timeout     time.Duration
}

// PublishOutput is the JSON form of the publish command.
type PublishOutput struct {
	Subscription string                       `json:"subscription"`
	Target       string                       `json:"target"`
	Accepted     bool                         `json:"accepted"`
	Result       *subscriptions.PublishResult `json:"result,omitempty"`
}

func newPublishCmd(g *globalFlags) *cobra.Command {
	f := &publishFlags{}

	cmd := &cobra.Command{
		Use:   "publish <subscription> [payload]",
		Short: "Publish an event to a running server or to Redis",
		Long: `Publish a JSON payload for a subscription name. The payload is read from
the second argument, or from stdin when it is omitted or "-".

By default the event is POSTed to the server's publish endpoint, derived from
the configuration (server.addr and server.publishPath) unless --url is set.
With --redis the event is published on the Redis bridge channel instead, so
every server instance subscribed to Redis delivers it.`,
		Example: `  gqlsubs publish messageAdded '{"id":"1","text":"hello"}'
  echo '{"id":"2"}' | gqlsubs publish messageAdded
  gqlsubs publish messageAdded --url http://events:8080/publish '{"id":"3"}'
  gqlsubs publish messageAdded --redis redis://localhost:6379 '{"id":"4"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			payload, err := readPayload(cmd, args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if f.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.timeout)
				defer cancel()
			}

			var out PublishOutput
			if f.redisURL != "" {
				out, err = publishRedis(ctx, f, name, payload)
			} else {
				target := f.url
				if target == "" {
					cfg, lerr := loadConfig(cmd, g, nil)
					if lerr != nil {
						return lerr
					}
					target = publishURL(cfg)
				}
				out, err = publishHTTP(ctx, target, name, payload)
			}
			if err != nil {
				return err
			}

			return printResult(cmd, g, out, func() {
				w := cmd.OutOrStdout()
				if out.Result == nil {
					fmt.Fprintf(w, "Published %s to %s\n", name, out.Target)
					return
				}
				r := out.Result
				fmt.Fprintf(w, "Published %s: matched %d, delivered %d, filtered %d, failed %d\n",
					name, r.Matched, r.Delivered, r.Filtered, r.Failed)
			})
		},
	}

	cmd.Flags().StringVar(&f.url, "url", "", "Publish endpoint prefix (default derived from the configuration)")
	cmd.Flags().StringVar(&f.redisURL, "redis", "", "Publish through Redis at this URL instead of HTTP")
	cmd.Flags().StringVar(&f.redisPrefix, "redis-prefix", bridge.DefaultRedisPrefix, "Redis channel prefix")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

// readPayload returns the payload argument, or stdin when it is absent or
// "-". The payload must be valid JSON.
func readPayload(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	var data []byte
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		data = b
	} else {
		data = []byte(args[0])
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload must be valid JSON")
	}
	return data, nil
}

// publishURL derives the local publish endpoint from cfg.
func publishURL(cfg *config.Config) string {
	host := cfg.Server.Addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + cfg.Server.PublishPath
}

func publishHTTP(ctx context.Context, prefix, name string, payload json.RawMessage) (PublishOutput, error) {
	target := strings.TrimSuffix(prefix, "/") + "/" + url.PathEscape(name)
	out := PublishOutput{Subscription: name, Target: target}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("invalid publish url: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("publish request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch resp.StatusCode {
	case http.StatusOK:
		var result subscriptions.PublishResult
		if err := json.Unmarshal(body, &result); err != nil {
			return out, fmt.Errorf("invalid publish response: %w", err)
		}
		out.Accepted = true
		out.Result = &result
		return out, nil
	case http.StatusAccepted:
		out.Accepted = true
		return out, nil
	default:
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return out, fmt.Errorf("publish failed (%d): %s", resp.StatusCode, msg)
	}
}

func publishRedis(ctx context.Context, f *publishFlags, name string, payload json.RawMessage) (PublishOutput, error) {
	out := PublishOutput{Subscription: name, Target: f.redisPrefix + name}

	client, err := bridge.NewRedisClient(f.redisURL)
	if err != nil {
		return out, err
	}
	defer func() { _ = client.Close() }()

	if err := bridge.NewRedisSink(client, f.redisPrefix).Publish(ctx, name, payload); err != nil {
		return out, fmt.Errorf("redis publish failed: %w", err)
	}
	out.Accepted = true
	return out, nil
}
