package websocket

import (
	"testing"
	"time"
)

// TestRateLimiterCreation tests limiter construction from different
// configurations.
func TestRateLimiterCreation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *RateLimitConfig
		wantNil bool
	}{
		{"default", DefaultRateLimitConfig(), false},
		{"disabled", NoRateLimit(), true},
		{"nil config", nil, true},
		{
			"custom enabled",
			&RateLimitConfig{Period: time.Second, MaxCount: 10, Enabled: true},
			false,
		},
		{
			"custom disabled",
			&RateLimitConfig{Period: time.Second, MaxCount: 10, Enabled: false},
			true,
		},
		{
			"zero count",
			&RateLimitConfig{Period: time.Second, MaxCount: 0, Enabled: true},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			limiter := tt.config.limiter()
			if (limiter == nil) != tt.wantNil {
				t.Errorf("limiter nil = %v, want %v", limiter == nil, tt.wantNil)
			}
			if limiter != nil && !limiter.Allow() {
				t.Error("first message should be allowed")
			}
		})
	}
}

// TestRateLimiterBurst tests that the bucket admits MaxCount messages at
// once and rejects the next.
func TestRateLimiterBurst(t *testing.T) {
	t.Parallel()

	cfg := &RateLimitConfig{Period: time.Hour, MaxCount: 5, Enabled: true}
	limiter := cfg.limiter()

	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if limiter.Allow() {
		t.Error("message beyond the burst should be rejected")
	}
}

// TestDefaultConfigs tests the default configuration values the rest of the
// engine depends on.
func TestDefaultConfigs(t *testing.T) {
	t.Parallel()

	server := DefaultServerConfig()
	if server.MaxConnections != 100_000 {
		t.Errorf("max connections = %d, want 100000", server.MaxConnections)
	}
	if server.MaxMsgSize != 1_000_000 {
		t.Errorf("max msg size = %d, want 1000000", server.MaxMsgSize)
	}
	if server.ProtocolVersion != DefaultProtocolVersion {
		t.Errorf("protocol version = %q, want %q", server.ProtocolVersion, DefaultProtocolVersion)
	}

	client := DefaultClientConfig()
	if !client.ReconnectOnDisconnect {
		t.Error("reconnect on disconnect should default to true")
	}
	if client.ReconnectOnServerClose {
		t.Error("reconnect on server close should default to false")
	}
	if client.ReconnectInterval != 2*time.Second {
		t.Errorf("reconnect interval = %v, want 2s", client.ReconnectInterval)
	}
}
