package websocket

import (
	"crypto/tls"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/UkoeHB/simplenet"
)

// DefaultProtocolVersion is compared during the opening exchange; a mismatch
// closes the connection with CloseProtocolMismatch.
const DefaultProtocolVersion = "0"

// RateLimitConfig defines the per-session inbound rate limit as a token
// bucket allowing MaxCount messages per Period.
type RateLimitConfig struct {
	// Period is the bucket refill window.
	Period time.Duration
	// MaxCount is the number of messages allowed per Period (and the burst
	// capacity).
	MaxCount int
	// Enabled determines if rate limiting is active.
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration:
// 100 messages per second.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Period:   time.Second,
		MaxCount: 100,
		Enabled:  true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

func (c *RateLimitConfig) limiter() *rate.Limiter {
	if c == nil || !c.Enabled || c.MaxCount <= 0 || c.Period <= 0 {
		return nil
	}
	interval := c.Period / time.Duration(c.MaxCount)
	return rate.NewLimiter(rate.Every(interval), c.MaxCount)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Addr is the listen address (e.g. ":8080", "127.0.0.1:0").
	Addr string
	// ProtocolVersion is the handshake version field. Defaults to
	// DefaultProtocolVersion.
	ProtocolVersion string
	// Authenticator validates opening exchanges. Defaults to
	// simplenet.NoneAuthenticator.
	Authenticator simplenet.Authenticator
	// MaxConnections caps concurrent sessions.
	MaxConnections int
	// MaxMsgSize caps inbound frame size in bytes.
	MaxMsgSize int64
	// RateLimit is the per-session inbound rate limit. If nil,
	// DefaultRateLimitConfig() is used.
	RateLimit *RateLimitConfig
	// HeartbeatInterval is the interval between keepalive pings.
	HeartbeatInterval time.Duration
	// KeepaliveTimeout closes a session with no inbound traffic for this
	// long. Also bounds the opening exchange.
	KeepaliveTimeout time.Duration
	// TLSConfig enables TLS termination when non-nil.
	TLSConfig *tls.Config
	// CheckOrigin validates upgrade origins. Nil allows all origins.
	CheckOrigin func(r *http.Request) bool
	// Logger overrides the default stderr logger.
	Logger *zerolog.Logger
}

// DefaultServerConfig returns a server configuration with the default
// limits: 100k connections, 1MB messages, 5s heartbeat, 10s keepalive.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:              "127.0.0.1:0",
		ProtocolVersion:   DefaultProtocolVersion,
		Authenticator:     simplenet.NoneAuthenticator{},
		MaxConnections:    100_000,
		MaxMsgSize:        1_000_000,
		RateLimit:         DefaultRateLimitConfig(),
		HeartbeatInterval: 5 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the server endpoint (ws://host:port/ws or wss://...).
	URL string
	// ProtocolVersion is the handshake version field. Defaults to
	// DefaultProtocolVersion.
	ProtocolVersion string
	// Auth is the authentication material for the opening exchange.
	Auth simplenet.AuthRequest
	// ConnectMsg is delivered to the server with every opening exchange.
	ConnectMsg []byte
	// Env declares the client environment. Defaults to EnvNative.
	Env simplenet.EnvType

	// ReconnectOnDisconnect re-dials after a transport-level drop.
	ReconnectOnDisconnect bool
	// ReconnectOnServerClose re-dials after a server-ordered close.
	ReconnectOnServerClose bool
	// ReconnectInterval is the delay between connection attempts.
	ReconnectInterval time.Duration
	// MaxInitialConnectAttempts bounds attempts before the first successful
	// connection. 0 means no attempts (the client dies immediately).
	MaxInitialConnectAttempts int
	// MaxReconnectAttempts bounds consecutive failed attempts after a
	// disconnect. 0 means no auto-reconnect.
	MaxReconnectAttempts int

	// ConnectTimeout bounds the dial plus opening exchange.
	ConnectTimeout time.Duration
	// HeartbeatInterval is the interval between keepalive pings.
	HeartbeatInterval time.Duration
	// KeepaliveTimeout drops a connection with no inbound traffic for this
	// long.
	KeepaliveTimeout time.Duration
	// MaxMsgSize caps inbound frame size in bytes.
	MaxMsgSize int64
	// Logger overrides the default stderr logger.
	Logger *zerolog.Logger
}

// DefaultClientConfig returns a client configuration with auto-reconnect on
// disconnect, a 2s reconnect interval, and unbounded attempt budgets.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ProtocolVersion:           DefaultProtocolVersion,
		Env:                       simplenet.EnvNative,
		ReconnectOnDisconnect:     true,
		ReconnectOnServerClose:    false,
		ReconnectInterval:         2 * time.Second,
		MaxInitialConnectAttempts: math.MaxInt,
		MaxReconnectAttempts:      math.MaxInt,
		ConnectTimeout:            10 * time.Second,
		HeartbeatInterval:         5 * time.Second,
		KeepaliveTimeout:          10 * time.Second,
		MaxMsgSize:                1_000_000,
	}
}
