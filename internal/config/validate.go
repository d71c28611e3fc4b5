package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError lists every missing or invalid setting found in one pass.
type ValidationError struct {
	Missing []string // secrets file keys with no value
	Invalid []string // human-readable problems with present values
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Invalid...)
	return strings.Join(parts, "; ")
}

// Validate checks the settings the local orchestrator needs. All missing
// keys are accumulated into a single error rather than stopping at the
// first.
func (c *Config) Validate() error {
	verr := &ValidationError{}
	if c.RepositoryURL == "" {
		verr.Missing = append(verr.Missing, KeyRepositoryURL)
	}
	if c.ServerURL == "" {
		verr.Missing = append(verr.Missing, KeyServerURL)
	}
	if c.Token == "" {
		verr.Missing = append(verr.Missing, KeyToken)
	}
	if c.ServerURL != "" {
		if err := ValidateEndpoint(c.ServerURL); err != nil {
			verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s: %v", KeyServerURL, err))
		}
	}
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return verr
	}
	return nil
}

// ValidateServer checks the settings the remote executor needs.
func (c *Config) ValidateServer() error {
	if c.Token == "" {
		return &ValidationError{Missing: []string{KeyToken}}
	}
	return nil
}

// ValidateEndpoint reports whether raw is an absolute http(s) URL with a host.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("not a valid URL: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("not a valid URL: missing host")
	}
	return nil
}
