package config

import "testing"

func TestGatewayConfigValidateDefaults(t *testing.T) {
	cfg := &GatewayConfig{
		NATSURL:       "nats://localhost:4222",
		SubjectPrefix: "greentic.msg",
		LogLevel:      "info",
		LogFormat:     "json",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestGatewayConfigValidateRejectsBadLogLevel(t *testing.T) {
	cfg := &GatewayConfig{NATSURL: "nats://x", SubjectPrefix: "p", LogLevel: "loud", LogFormat: "json"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestWebChatConfigValidateRequiresSigningKey(t *testing.T) {
	cfg := &WebChatConfig{TokenTTL: 0, LogLevel: "info", LogFormat: "json"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing signing key")
	}
	cfg.JWTSigningKey = "secret"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive token ttl")
	}
	cfg.TokenTTL = 1800 * 1e9 // 30m in nanoseconds
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
