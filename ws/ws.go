// Package ws is the public surface of the simplenet engine: constructors,
// configuration, and aliases for the endpoint types implemented in
// internal/websocket.
package ws

import (
	"net/http"

	"github.com/UkoeHB/simplenet/internal/config"
	"github.com/UkoeHB/simplenet/internal/websocket"
)

// Endpoints
type Server = websocket.Server
type Client = websocket.Client

// Configuration
type ServerConfig = websocket.ServerConfig
type ClientConfig = websocket.ClientConfig
type RateLimitConfig = websocket.RateLimitConfig

// Signals and tokens
type MessageSignal = websocket.MessageSignal
type RequestSignal = websocket.RequestSignal
type RequestToken = websocket.RequestToken

// Server events
type ServerEvent = websocket.ServerEvent
type ServerConnected = websocket.ServerConnected
type ServerDisconnected = websocket.ServerDisconnected
type ServerMsg = websocket.ServerMsg
type ServerRequest = websocket.ServerRequest

// Client events
type ClientEvent = websocket.ClientEvent
type ClientConnected = websocket.ClientConnected
type ClientDisconnected = websocket.ClientDisconnected
type ClientClosedByServer = websocket.ClientClosedByServer
type ClientClosedBySelf = websocket.ClientClosedBySelf
type ClientIsDead = websocket.ClientIsDead
type ClientMsg = websocket.ClientMsg
type ClientResponse = websocket.ClientResponse
type ClientAck = websocket.ClientAck
type ClientReject = websocket.ClientReject
type ClientSendFailed = websocket.ClientSendFailed
type ClientResponseLost = websocket.ClientResponseLost
type ClientAborted = websocket.ClientAborted

// NewServer creates a server from the given configuration. Call Start to
// begin listening.
func NewServer(cfg *ServerConfig) *Server {
	return websocket.NewServer(cfg)
}

// NewClient creates a client and starts its background worker.
func NewClient(cfg *ClientConfig) *Client {
	return websocket.NewClient(cfg)
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() *ServerConfig {
	return websocket.DefaultServerConfig()
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return websocket.DefaultClientConfig()
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// LoadServerConfig loads a server configuration from a TOML file, with
// defaults applied for absent fields. Authentication material is provided
// programmatically, not through the file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	return config.LoadServerConfig(path)
}

// LoadClientConfig loads a client configuration from a TOML file, with
// defaults applied for absent fields.
func LoadClientConfig(path string) (*ClientConfig, error) {
	return config.LoadClientConfig(path)
}

// AllOrigins returns a CheckOrigin function that allows all origins
// (development only).
func AllOrigins() func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return true
	}
}
