package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlsubs/pkg/config"
	"github.com/getmockd/gqlsubs/pkg/graphql"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

var secret = []byte("test-secret")

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func params(t *testing.T, v map[string]interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestJWT(t *testing.T) {
	ctx := context.Background()
	hook := JWT(JWTOptions{Secret: secret, Issuer: "gqlsubs", Audience: "clients", Required: true})

	valid := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "user-1",
		"iss": "gqlsubs",
		"aud": "clients",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	values, err := hook(ctx, nil, params(t, map[string]interface{}{"authToken": valid}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", values["subject"])
	claims := values["claims"].(map[string]interface{})
	assert.Equal(t, "gqlsubs", claims["iss"])

	values, err = hook(ctx, nil, params(t, map[string]interface{}{"Authorization": "Bearer " + valid}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", values["subject"])

	tests := []struct {
		name    string
		payload json.RawMessage
		want    error
	}{
		{"missing", nil, ErrMissingToken},
		{"empty object", json.RawMessage(`{}`), ErrMissingToken},
		{"garbage", params(t, map[string]interface{}{"authToken": "not-a-token"}), ErrInvalidToken},
		{"wrong secret", params(t, map[string]interface{}{"authToken": sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"iss": "gqlsubs", "aud": "clients"})}), ErrInvalidToken},
		{"expired", params(t, map[string]interface{}{"authToken": sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"iss": "gqlsubs", "aud": "clients", "exp": time.Now().Add(-time.Hour).Unix()})}), ErrInvalidToken},
		{"wrong issuer", params(t, map[string]interface{}{"authToken": sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"iss": "other", "aud": "clients"})}), ErrInvalidToken},
		{"wrong audience", params(t, map[string]interface{}{"authToken": sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"iss": "gqlsubs", "aud": "other"})}), ErrInvalidToken},
		{"unsigned", params(t, map[string]interface{}{"authToken": sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"iss": "gqlsubs", "aud": "clients"})}), ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hook(ctx, nil, tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJWT_Optional(t *testing.T) {
	hook := JWT(JWTOptions{Secret: secret, TokenField: "token"})

	values, err := hook(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, values)

	token := sign(t, jwt.SigningMethodHS384, secret, jwt.MapClaims{"sub": "user-2"})
	values, err = hook(context.Background(), nil, params(t, map[string]interface{}{"token": token}))
	require.NoError(t, err)
	assert.Equal(t, "user-2", values["subject"])

	// A present but invalid token is rejected even when optional.
	_, err = hook(context.Background(), nil, params(t, map[string]interface{}{"token": "bad"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

const paramsSchema = `{
  "type": "object",
  "required": ["clientName"],
  "properties": {
    "clientName": {"type": "string", "minLength": 1},
    "version": {"type": "integer"}
  }
}`

func TestParamsSchema(t *testing.T) {
	hook, err := ParamsSchema(paramsSchema)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = hook(ctx, nil, json.RawMessage(`{"clientName":"web","version":2}`))
	assert.NoError(t, err)

	_, err = hook(ctx, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clientName")

	_, err = hook(ctx, nil, json.RawMessage(`{"clientName":"web","version":"two"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")

	_, err = hook(ctx, nil, json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestParamsSchema_Invalid(t *testing.T) {
	_, err := ParamsSchema(`{"type": 12}`)
	assert.Error(t, err)

	_, err = ParamsSchema(`not json`)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	hook, err := FromConfig(config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, hook)

	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(paramsSchema), 0o600))

	hook, err = FromConfig(config.AuthConfig{
		ParamsSchemaFile: path,
		JWT:              &config.JWTConfig{Secret: string(secret), Required: true},
	})
	require.NoError(t, err)
	require.NotNil(t, hook)

	token := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "user-3"})
	values, err := hook(context.Background(), nil, params(t, map[string]interface{}{"clientName": "web", "authToken": token}))
	require.NoError(t, err)
	assert.Equal(t, "user-3", values["subject"])

	_, err = hook(context.Background(), nil, params(t, map[string]interface{}{"authToken": token}))
	assert.Error(t, err)

	_, err = FromConfig(config.AuthConfig{ParamsSchemaFile: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestJWT_WithRegistry(t *testing.T) {
	schema, err := graphql.ParseSchema(`
type Query { me: String }
type Subscription { ping: String }
`)
	require.NoError(t, err)

	var seen interface{}
	reg := subscriptions.New(graphql.NewExecutor(schema), subscriptions.WithHooks(subscriptions.Hooks{
		OnConnect: JWT(JWTOptions{Secret: secret, Required: true}),
		OnOperation: func(ctx context.Context, _ subscriptions.Connection, _ *subscriptions.Operation) error {
			seen, _ = subscriptions.ContextValue(ctx, "subject")
			return nil
		},
	}))

	ctx := context.Background()
	rejected := &memConn{id: "rejected"}
	reg.HandleRaw(ctx, rejected, []byte(`{"type":"connection_init","payload":{}}`))
	require.Len(t, rejected.frames, 1)
	assert.JSONEq(t, `{"type":"connection_error","payload":"authentication token is required"}`, rejected.frames[0])

	token := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "user-4"})
	accepted := &memConn{id: "accepted"}
	reg.HandleRaw(ctx, accepted, []byte(`{"type":"connection_init","payload":{"authToken":"`+token+`"}}`))
	reg.HandleRaw(ctx, accepted, []byte(`{"type":"start","id":"1","payload":{"query":"subscription { ping }"}}`))
	require.NotEmpty(t, accepted.frames)
	assert.JSONEq(t, `{"type":"connection_ack","payload":{}}`, accepted.frames[0])
	assert.Equal(t, "user-4", seen)
}

type memConn struct {
	id     string
	frames []string
}

func (c *memConn) ID() string { return c.id }

func (c *memConn) Send(_ context.Context, data []byte) error {
	c.frames = append(c.frames, string(data))
	return nil
}
