package auth

import (
	"fmt"
	"os"

	"github.com/getmockd/gqlsubs/pkg/config"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// FromConfig builds the connect hook described by cfg. The params schema
// runs before JWT validation. It returns nil when nothing is configured.
func FromConfig(cfg config.AuthConfig) (subscriptions.ConnectFunc, error) {
	var hooks []subscriptions.ConnectFunc

	schema := cfg.ParamsSchema
	if cfg.ParamsSchemaFile != "" {
		data, err := os.ReadFile(cfg.ParamsSchemaFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read params schema: %w", err)
		}
		schema = string(data)
	}
	if schema != "" {
		hook, err := ParamsSchema(schema)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}

	if j := cfg.JWT; j != nil {
		hooks = append(hooks, JWT(JWTOptions{
			Secret:     []byte(j.Secret),
			Issuer:     j.Issuer,
			Audience:   j.Audience,
			TokenField: j.TokenField,
			Required:   j.Required,
		}))
	}

	switch len(hooks) {
	case 0:
		return nil, nil
	case 1:
		return hooks[0], nil
	}
	return subscriptions.ChainOnConnect(hooks...), nil
}
