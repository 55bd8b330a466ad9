// Package auth provides connection_init hooks: HMAC JWT authentication and
// JSON Schema validation of the connection parameters.
package auth
