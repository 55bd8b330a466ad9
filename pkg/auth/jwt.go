package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// DefaultTokenField is the connection_init payload field holding the token.
const DefaultTokenField = "authToken"

var (
	// ErrMissingToken is returned when a token is required but absent.
	ErrMissingToken = errors.New("authentication token is required")
	// ErrInvalidToken wraps every token parse or validation failure.
	ErrInvalidToken = errors.New("invalid authentication token")
)

// JWTOptions configures JWT.
type JWTOptions struct {
	Secret []byte
	// Issuer and Audience, when set, must match the token's iss and aud.
	Issuer   string
	Audience string
	// TokenField names the payload field with the token. Defaults to
	// DefaultTokenField. An "Authorization: Bearer <token>" field is
	// accepted as well.
	TokenField string
	// Required rejects connections without a token. Otherwise they are
	// accepted anonymously.
	Required bool
}

// JWT returns a connect hook validating an HMAC-signed token from the
// connection_init payload. On success the connection gets the context
// values "claims" (the token's claims) and "subject" (its sub claim).
func JWT(opts JWTOptions) subscriptions.ConnectFunc {
	field := opts.TokenField
	if field == "" {
		field = DefaultTokenField
	}

	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if opts.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(opts.Audience))
	}

	return func(_ context.Context, _ subscriptions.Connection, payload json.RawMessage) (map[string]interface{}, error) {
		raw := tokenFromPayload(payload, field)
		if raw == "" {
			if opts.Required {
				return nil, ErrMissingToken
			}
			return nil, nil
		}

		token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
			return opts.Secret, nil
		}, parseOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
		}
		subject, _ := claims.GetSubject()
		return map[string]interface{}{
			"claims":  map[string]interface{}(claims),
			"subject": subject,
		}, nil
	}
}

// tokenFromPayload reads the token from field, falling back to an
// Authorization bearer value.
func tokenFromPayload(payload json.RawMessage, field string) string {
	if len(payload) == 0 {
		return ""
	}
	var params map[string]interface{}
	if err := json.Unmarshal(payload, &params); err != nil {
		return ""
	}
	if s, ok := params[field].(string); ok && s != "" {
		return s
	}
	for _, key := range []string{"Authorization", "authorization"} {
		if s, ok := params[key].(string); ok {
			if token, found := strings.CutPrefix(s, "Bearer "); found {
				return strings.TrimSpace(token)
			}
		}
	}
	return ""
}
