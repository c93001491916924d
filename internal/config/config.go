// Package config loads endpoint configuration from TOML files.
//
// Absent fields keep their defaults; durations are strings accepted by
// time.ParseDuration (e.g. "2s", "500ms"). Authentication material (secrets,
// keys, tokens) is provided programmatically and never read from files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/UkoeHB/simplenet/internal/websocket"
)

type rateLimitFile struct {
	Period   string `toml:"period"`
	MaxCount int    `toml:"max_count"`
	Enabled  *bool  `toml:"enabled"`
}

type serverFile struct {
	Addr              string         `toml:"addr"`
	ProtocolVersion   string         `toml:"protocol_version"`
	MaxConnections    int            `toml:"max_connections"`
	MaxMsgSize        int64          `toml:"max_msg_size"`
	HeartbeatInterval string         `toml:"heartbeat_interval"`
	KeepaliveTimeout  string         `toml:"keepalive_timeout"`
	RateLimit         *rateLimitFile `toml:"rate_limit"`
}

type clientFile struct {
	URL                       string `toml:"url"`
	ProtocolVersion           string `toml:"protocol_version"`
	ReconnectOnDisconnect     *bool  `toml:"reconnect_on_disconnect"`
	ReconnectOnServerClose    *bool  `toml:"reconnect_on_server_close"`
	ReconnectInterval         string `toml:"reconnect_interval"`
	MaxInitialConnectAttempts *int   `toml:"max_initial_connect_attempts"`
	MaxReconnectAttempts      *int   `toml:"max_reconnect_attempts"`
	ConnectTimeout            string `toml:"connect_timeout"`
	HeartbeatInterval         string `toml:"heartbeat_interval"`
	KeepaliveTimeout          string `toml:"keepalive_timeout"`
	MaxMsgSize                int64  `toml:"max_msg_size"`
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func parseDuration(field, value string, out *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config field %s: %w", field, err)
	}
	*out = d
	return nil
}

// LoadServerConfig loads a server configuration from a TOML file on top of
// the defaults.
func LoadServerConfig(path string) (*websocket.ServerConfig, error) {
	var file serverFile
	if err := loadToml(path, &file); err != nil {
		return nil, err
	}

	cfg := websocket.DefaultServerConfig()
	if file.Addr != "" {
		cfg.Addr = file.Addr
	}
	if file.ProtocolVersion != "" {
		cfg.ProtocolVersion = file.ProtocolVersion
	}
	if file.MaxConnections > 0 {
		cfg.MaxConnections = file.MaxConnections
	}
	if file.MaxMsgSize > 0 {
		cfg.MaxMsgSize = file.MaxMsgSize
	}
	if err := parseDuration("heartbeat_interval", file.HeartbeatInterval, &cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if err := parseDuration("keepalive_timeout", file.KeepaliveTimeout, &cfg.KeepaliveTimeout); err != nil {
		return nil, err
	}
	if file.RateLimit != nil {
		limit := websocket.DefaultRateLimitConfig()
		if err := parseDuration("rate_limit.period", file.RateLimit.Period, &limit.Period); err != nil {
			return nil, err
		}
		if file.RateLimit.MaxCount > 0 {
			limit.MaxCount = file.RateLimit.MaxCount
		}
		if file.RateLimit.Enabled != nil {
			limit.Enabled = *file.RateLimit.Enabled
		}
		cfg.RateLimit = limit
	}
	return cfg, nil
}

// LoadClientConfig loads a client configuration from a TOML file on top of
// the defaults.
func LoadClientConfig(path string) (*websocket.ClientConfig, error) {
	var file clientFile
	if err := loadToml(path, &file); err != nil {
		return nil, err
	}

	cfg := websocket.DefaultClientConfig()
	if file.URL != "" {
		cfg.URL = file.URL
	}
	if file.ProtocolVersion != "" {
		cfg.ProtocolVersion = file.ProtocolVersion
	}
	if file.ReconnectOnDisconnect != nil {
		cfg.ReconnectOnDisconnect = *file.ReconnectOnDisconnect
	}
	if file.ReconnectOnServerClose != nil {
		cfg.ReconnectOnServerClose = *file.ReconnectOnServerClose
	}
	if err := parseDuration("reconnect_interval", file.ReconnectInterval, &cfg.ReconnectInterval); err != nil {
		return nil, err
	}
	if file.MaxInitialConnectAttempts != nil {
		cfg.MaxInitialConnectAttempts = *file.MaxInitialConnectAttempts
	}
	if file.MaxReconnectAttempts != nil {
		cfg.MaxReconnectAttempts = *file.MaxReconnectAttempts
	}
	if err := parseDuration("connect_timeout", file.ConnectTimeout, &cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	if err := parseDuration("heartbeat_interval", file.HeartbeatInterval, &cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if err := parseDuration("keepalive_timeout", file.KeepaliveTimeout, &cfg.KeepaliveTimeout); err != nil {
		return nil, err
	}
	if file.MaxMsgSize > 0 {
		cfg.MaxMsgSize = file.MaxMsgSize
	}
	return cfg, nil
}
