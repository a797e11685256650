package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredEmptyAPIBaseURLIsFatal(t *testing.T) {
	cfg := Default()
	cfg.APIBaseURL = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty api_base_url should be fatal")
	}
}

func TestValidateTieredInvalidURLSchemeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.APIBaseURL = "ftp://example.com"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid URL scheme should be fatal")
	}
}

func TestValidateTieredControlCharsInTokenIsFatal(t *testing.T) {
	cfg := Default()
	cfg.AuthToken = "token\x00with\x01control"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("control chars in token should be fatal")
	}
}

func TestValidateTieredBadIceServerIsWarning(t *testing.T) {
	cfg := Default()
	cfg.ICEServers = []string{"stun:stun.l.google.com:19302", "https://not-an-ice-url"}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("bad ice server should not be fatal: %v", result.Fatals)
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "not-an-ice-url") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning about malformed ice server URL")
	}
}

func TestValidateTieredSessionReadyTimeoutClamping(t *testing.T) {
	cfg := Default()
	cfg.SessionReadyTimeoutSeconds = 1 // below minimum 10
	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("clamped timeout should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped timeout")
	}
	if cfg.SessionReadyTimeoutSeconds != 10 {
		t.Fatalf("SessionReadyTimeoutSeconds = %d, want 10 (clamped)", cfg.SessionReadyTimeoutSeconds)
	}
}

func TestValidateTieredSessionReadyTimeoutHighClamping(t *testing.T) {
	cfg := Default()
	cfg.SessionReadyTimeoutSeconds = 99999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped timeout should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.SessionReadyTimeoutSeconds != 1800 {
		t.Fatalf("SessionReadyTimeoutSeconds = %d, want 1800 (clamped)", cfg.SessionReadyTimeoutSeconds)
	}
}

func TestValidateTieredSignalingHandshakeTimeoutClamping(t *testing.T) {
	cfg := Default()
	cfg.SignalingHandshakeTimeoutMs = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped signaling timeout should be warning: %v", result.Fatals)
	}
	if cfg.SignalingHandshakeTimeoutMs != 1000 {
		t.Fatalf("SignalingHandshakeTimeoutMs = %d, want 1000", cfg.SignalingHandshakeTimeoutMs)
	}
}

func TestValidateTieredInputHandshakeTimeoutClamping(t *testing.T) {
	cfg := Default()
	cfg.InputHandshakeTimeoutMs = 999999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped input handshake timeout should be warning: %v", result.Fatals)
	}
	if cfg.InputHandshakeTimeoutMs != 60000 {
		t.Fatalf("InputHandshakeTimeoutMs = %d, want 60000", cfg.InputHandshakeTimeoutMs)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want %q after defaulting", cfg.LogLevel, "info")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("LogFormat = %q, want %q after defaulting", cfg.LogFormat, "text")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.APIBaseURL = "ftp://bad"                           // fatal
	cfg.ICEServers = []string{"https://not-an-ice-server"} // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	cfg.APIBaseURL = "https://session.geforcenow.com"
	cfg.AuthToken = "clean-token"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}
