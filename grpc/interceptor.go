package grpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/websession/client"
)

// InterceptorConfig configures the client interceptors.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// LoginMethods are credential-issuing methods. Unauthenticated from them
	// is reported as client.ErrInvalidCredentials and never refreshes.
	// Keys should be full method names like "/package.Service/Method".
	LoginMethods map[string]bool
}

// DefaultInterceptorConfig returns a config where every method is an
// ordinary authenticated call.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:       DefaultConfig(),
		LoginMethods: make(map[string]bool),
	}
}

// NewLoginMethodsConfig creates a config with the specified login methods.
func NewLoginMethodsConfig(loginMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range loginMethods {
		config.LoginMethods[method] = true
	}
	return config
}

func ensureConfig(config *InterceptorConfig) *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	if config.LoginMethods == nil {
		config.LoginMethods = make(map[string]bool)
	}
	config.Config.EnsureDefaults()
	return config
}

// attemptFunc issues one attempt of a call with the given outgoing context
type attemptFunc func(ctx context.Context) error

// call runs attempt with the session credential, recovering from one
// Unauthenticated response through gw
func call(ctx context.Context, gw *client.Gateway, config *InterceptorConfig, method string, attempt attemptFunc) error {
	requestID := uuid.NewString()
	logger := log.With().Str("request_id", requestID).Str("method", method).Logger()

	login := config.LoginMethods[method]
	var cred client.Credential
	var retried bool
	var err error
	if login {
		cred = gw.Acquire()
	} else if cred, retried, err = gw.AcquireFresh(ctx); err != nil {
		return err
	}

	for {
		err = attempt(withCredential(ctx, config.Config, cred.Token, requestID))
		switch status.Code(err) {
		case codes.OK:
			return nil
		case codes.Unavailable:
			return fmt.Errorf("%w: %w", client.ErrNetworkUnavailable, err)
		case codes.Unauthenticated:
		default:
			return err
		}

		if login {
			return fmt.Errorf("%w: %w", client.ErrInvalidCredentials, err)
		}
		if retried {
			logger.Debug().Msg("retried call rejected again")
			gw.Expire(cred, client.ReasonRetryUnauthorized)
			return fmt.Errorf("%w: %w", client.ErrSessionExpired, err)
		}
		retried = true

		logger.Debug().Msg("unauthenticated, recovering credential")
		if cred, err = gw.Recover(ctx, cred); err != nil {
			return err
		}
	}
}

// UnaryClientInterceptor attaches the session credential to unary calls and
// retries a call once after refreshing when it fails with Unauthenticated.
func UnaryClientInterceptor(gw *client.Gateway, config *InterceptorConfig) grpc.UnaryClientInterceptor {
	config = ensureConfig(config)

	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return call(ctx, gw, config, method, func(ctx context.Context) error {
			return invoker(ctx, method, req, reply, cc, opts...)
		})
	}
}

// StreamClientInterceptor does the same for stream creation. An
// Unauthenticated status delivered later on an open stream reaches the
// caller unchanged, since the messages already sent cannot be replayed.
func StreamClientInterceptor(gw *client.Gateway, config *InterceptorConfig) grpc.StreamClientInterceptor {
	config = ensureConfig(config)

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		var stream grpc.ClientStream
		err := call(ctx, gw, config, method, func(ctx context.Context) error {
			var err error
			stream, err = streamer(ctx, desc, cc, method, opts...)
			return err
		})
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
}

// DialOptions returns the options that install both interceptors
func DialOptions(gw *client.Gateway, config *InterceptorConfig) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor(gw, config)),
		grpc.WithChainStreamInterceptor(StreamClientInterceptor(gw, config)),
	}
}
