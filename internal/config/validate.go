package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits validation problems into Fatals (the client
// cannot start) and Warnings (a value was out of range and has already
// been clamped to a safe default, or is merely suspicious).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just
// want to log everything.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Values that would
// make the client unable to reach the GFN API or open the signaling
// socket are fatal; everything else is clamped to a safe default and
// reported as a warning so startup can proceed.
func (c *Config) ValidateTiered() ValidationResult {
	var res ValidationResult

	if c.APIBaseURL == "" {
		res.Fatals = append(res.Fatals, fmt.Errorf("api_base_url must not be empty"))
	} else if u, err := url.Parse(c.APIBaseURL); err != nil {
		res.Fatals = append(res.Fatals, fmt.Errorf("api_base_url %q is not a valid URL: %w", c.APIBaseURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		res.Fatals = append(res.Fatals, fmt.Errorf("api_base_url scheme must be http or https, got %q", u.Scheme))
	}

	if c.AuthToken != "" {
		for _, r := range c.AuthToken {
			if unicode.IsControl(r) {
				res.Fatals = append(res.Fatals, fmt.Errorf("auth_token contains control characters"))
				break
			}
		}
	}

	for _, ice := range c.ICEServers {
		u, err := url.Parse(ice)
		scheme := ""
		if err == nil {
			scheme = u.Scheme
		}
		if err != nil || (scheme != "stun" && scheme != "turn" && scheme != "turns") {
			res.Warnings = append(res.Warnings, fmt.Errorf("ice_servers entry %q does not look like a stun:/turn:/turns: URL", ice))
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		res.Warnings = append(res.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		res.Warnings = append(res.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	// Clamp timeouts to a safe range to prevent pathological ticker
	// intervals or instantly-expiring deadlines.
	if c.SessionReadyTimeoutSeconds < 10 {
		res.Warnings = append(res.Warnings, fmt.Errorf("session_ready_timeout_seconds %d is below minimum 10, clamping", c.SessionReadyTimeoutSeconds))
		c.SessionReadyTimeoutSeconds = 10
	} else if c.SessionReadyTimeoutSeconds > 1800 {
		res.Warnings = append(res.Warnings, fmt.Errorf("session_ready_timeout_seconds %d exceeds maximum 1800, clamping", c.SessionReadyTimeoutSeconds))
		c.SessionReadyTimeoutSeconds = 1800
	}

	if c.SignalingHandshakeTimeoutMs < 1000 {
		res.Warnings = append(res.Warnings, fmt.Errorf("signaling_handshake_timeout_ms %d is below minimum 1000, clamping", c.SignalingHandshakeTimeoutMs))
		c.SignalingHandshakeTimeoutMs = 1000
	} else if c.SignalingHandshakeTimeoutMs > 60000 {
		res.Warnings = append(res.Warnings, fmt.Errorf("signaling_handshake_timeout_ms %d exceeds maximum 60000, clamping", c.SignalingHandshakeTimeoutMs))
		c.SignalingHandshakeTimeoutMs = 60000
	}

	if c.InputHandshakeTimeoutMs < 1000 {
		res.Warnings = append(res.Warnings, fmt.Errorf("input_handshake_timeout_ms %d is below minimum 1000, clamping", c.InputHandshakeTimeoutMs))
		c.InputHandshakeTimeoutMs = 1000
	} else if c.InputHandshakeTimeoutMs > 60000 {
		res.Warnings = append(res.Warnings, fmt.Errorf("input_handshake_timeout_ms %d exceeds maximum 60000, clamping", c.InputHandshakeTimeoutMs))
		c.InputHandshakeTimeoutMs = 60000
	}

	return res
}
