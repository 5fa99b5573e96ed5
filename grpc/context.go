// Package grpc carries the session's access credential on outgoing gRPC calls
// with the same refresh and retry rules as the HTTP gateway.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys for outgoing calls.
// These can be customized via Config if needed.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyRequestID carries the per-call correlation id
	DefaultMetadataKeyRequestID = "x-request-id"
)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeyRequestID defaults to "x-request-id".
	MetadataKeyRequestID string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyRequestID:     DefaultMetadataKeyRequestID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyRequestID == "" {
		c.MetadataKeyRequestID = DefaultMetadataKeyRequestID
	}
}

// withCredential returns ctx with the credential and request id set in the
// outgoing metadata, replacing any earlier values so a retry does not send
// two authorization entries
func withCredential(ctx context.Context, config *Config, token, requestID string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if token != "" {
		md.Set(config.MetadataKeyAuthorization, "Bearer "+token)
	} else {
		md.Delete(config.MetadataKeyAuthorization)
	}
	if requestID != "" {
		md.Set(config.MetadataKeyRequestID, requestID)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// RequestIDFromOutgoingContext returns the request id attached to ctx under
// the default key
func RequestIDFromOutgoingContext(ctx context.Context) string {
	return firstOutgoing(ctx, DefaultMetadataKeyRequestID)
}

// TokenFromOutgoingContext returns the bearer token attached to ctx under the
// default key
func TokenFromOutgoingContext(ctx context.Context) string {
	token, _ := strings.CutPrefix(firstOutgoing(ctx, DefaultMetadataKeyAuthorization), "Bearer ")
	return token
}

func firstOutgoing(ctx context.Context, key string) string {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
