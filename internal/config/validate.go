package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Provider.BaseURL != "" {
		if u, err := url.Parse(cfg.Provider.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, ValidationIssue{
				Path:    "provider.baseUrl",
				Message: fmt.Sprintf("must be an absolute URL, got %q", cfg.Provider.BaseURL),
			})
		}
	}

	if cfg.Provider.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "provider.timeoutSeconds",
			Message: fmt.Sprintf("must be non-negative, got %d", cfg.Provider.TimeoutSeconds),
		})
	}

	if cfg.History.Port < 0 || cfg.History.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "history.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.History.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.History.Bind != "" && !slices.Contains(validBinds, cfg.History.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "history.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.History.Bind),
		})
	}

	if cfg.History.BaseURL != "" {
		if u, err := url.Parse(cfg.History.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, ValidationIssue{
				Path:    "history.baseUrl",
				Message: fmt.Sprintf("must be an absolute URL, got %q", cfg.History.BaseURL),
			})
		}
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	return issues
}
