package resilience

import (
	"os"
	"strconv"

	"github.com/agentuity/go-resilience/logger"
	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Policy overrides retry, breaker and severity handling for one operation.
// Nil fields fall back to the Protector defaults. Severity acts as a floor:
// calls may raise their severity above it but never below.
type Policy struct {
	Retry    *RetryConfig
	Breaker  *CircuitBreakerConfig
	Severity Severity
}

// Environment variables read by the FromEnv loaders and New.
const (
	EnvMaxRetries        = "RESILIENCE_MAX_RETRIES"
	EnvInitialBackoff    = "RESILIENCE_INITIAL_BACKOFF"
	EnvMaxBackoff        = "RESILIENCE_MAX_BACKOFF"
	EnvBackoffMultiplier = "RESILIENCE_BACKOFF_MULTIPLIER"
	EnvJitter            = "RESILIENCE_JITTER"
	EnvFailureThreshold  = "RESILIENCE_FAILURE_THRESHOLD"
	EnvOpenTimeout       = "RESILIENCE_OPEN_TIMEOUT"
	EnvSuccessThreshold  = "RESILIENCE_SUCCESS_THRESHOLD"
	EnvMonitoringWindow  = "RESILIENCE_MONITORING_WINDOW"
	EnvService           = "RESILIENCE_SERVICE"
	EnvEnvironment       = "RESILIENCE_ENV"
)

func envInt(log logger.Logger, name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		log.Warn("invalid %s=%q, using %d", name, s, def)
		return def
	}
	return v
}

func envFloat(log logger.Logger, name string, def float64) float64 {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Warn("invalid %s=%q, using %v", name, s, def)
		return def
	}
	return v
}

func envBool(log logger.Logger, name string, def bool) bool {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		log.Warn("invalid %s=%q, using %v", name, s, def)
		return def
	}
	return v
}

func envDuration(log logger.Logger, name string, def string) string {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	if _, err := str2duration.ParseDuration(s); err != nil {
		log.Warn("invalid %s=%q, using %s", name, s, def)
		return def
	}
	return s
}

// RetryConfigFromEnv builds a RetryConfig from RESILIENCE_* environment
// variables, falling back to defaults (with a warning) for anything missing
// or unparsable. Durations accept extended forms like "1m30s" or "2h".
func RetryConfigFromEnv(log logger.Logger) RetryConfig {
	def := DefaultRetryConfig()
	config := RetryConfig{
		MaxRetries:        envInt(log, EnvMaxRetries, def.MaxRetries),
		BackoffMultiplier: envFloat(log, EnvBackoffMultiplier, def.BackoffMultiplier),
		Jitter:            envBool(log, EnvJitter, def.Jitter),
		Retryable:         DefaultRetryable,
	}
	config.InitialBackoff, _ = str2duration.ParseDuration(envDuration(log, EnvInitialBackoff, def.InitialBackoff.String()))
	config.MaxBackoff, _ = str2duration.ParseDuration(envDuration(log, EnvMaxBackoff, def.MaxBackoff.String()))
	return config.normalize()
}

// CircuitBreakerConfigFromEnv builds a CircuitBreakerConfig from
// RESILIENCE_* environment variables.
func CircuitBreakerConfigFromEnv(log logger.Logger) CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	config := CircuitBreakerConfig{
		FailureThreshold: envInt(log, EnvFailureThreshold, def.FailureThreshold),
		SuccessThreshold: envInt(log, EnvSuccessThreshold, def.SuccessThreshold),
	}
	config.OpenTimeout, _ = str2duration.ParseDuration(envDuration(log, EnvOpenTimeout, def.OpenTimeout.String()))
	config.MonitoringWindow, _ = str2duration.ParseDuration(envDuration(log, EnvMonitoringWindow, def.MonitoringWindow.String()))
	return config.normalize()
}

// Config aggregates the Protector's tunables: the default retry and breaker
// behavior plus per-operation policy overrides. Explicit options passed to
// New take precedence over everything here.
type Config struct {
	Retry    RetryConfig
	Breaker  CircuitBreakerConfig
	Policies map[string]Policy
}

// ConfigFromEnv loads the default tunables from RESILIENCE_* environment
// variables. Policies are left empty; load them with LoadPolicies.
func ConfigFromEnv(log logger.Logger) Config {
	return Config{
		Retry:   RetryConfigFromEnv(log),
		Breaker: CircuitBreakerConfigFromEnv(log),
	}
}

// Options expands the config into Protector options.
func (c Config) Options() []Option {
	opts := []Option{WithRetryConfig(c.Retry), WithBreakerConfig(c.Breaker)}
	if len(c.Policies) > 0 {
		opts = append(opts, WithPolicies(c.Policies))
	}
	return opts
}

type policyFile struct {
	Operations map[string]policyEntry `yaml:"operations"`
}

type policyEntry struct {
	Severity string         `yaml:"severity"`
	Retry    *retryPolicy   `yaml:"retry"`
	Breaker  *breakerPolicy `yaml:"breaker"`
}

type retryPolicy struct {
	MaxRetries        *int     `yaml:"max_retries"`
	InitialBackoff    string   `yaml:"initial_backoff"`
	MaxBackoff        string   `yaml:"max_backoff"`
	BackoffMultiplier *float64 `yaml:"backoff_multiplier"`
	Jitter            *bool    `yaml:"jitter"`
}

type breakerPolicy struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	OpenTimeout      string `yaml:"open_timeout"`
	SuccessThreshold int    `yaml:"success_threshold"`
	MonitoringWindow string `yaml:"monitoring_window"`
}

// LoadPolicies reads per-operation policies from a YAML file:
//
//	operations:
//	  payment.charge:
//	    severity: CRITICAL
//	    retry:
//	      max_retries: 5
//	      initial_backoff: 500ms
//	      max_backoff: 10s
//	    breaker:
//	      failure_threshold: 3
//	      open_timeout: 30s
func LoadPolicies(path string) (map[string]Policy, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read policy file %s", path)
	}
	return ParsePolicies(buf)
}

// ParsePolicies parses the YAML policy document.
func ParsePolicies(buf []byte) (map[string]Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse policy file")
	}
	policies := make(map[string]Policy, len(file.Operations))
	for operation, entry := range file.Operations {
		var policy Policy
		if entry.Severity != "" {
			policy.Severity = ParseSeverity(entry.Severity)
		}
		if entry.Retry != nil {
			retry := DefaultRetryConfig()
			if entry.Retry.MaxRetries != nil {
				retry.MaxRetries = *entry.Retry.MaxRetries
			}
			if entry.Retry.InitialBackoff != "" {
				d, err := str2duration.ParseDuration(entry.Retry.InitialBackoff)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid initial_backoff for %s", operation)
				}
				retry.InitialBackoff = d
			}
			if entry.Retry.MaxBackoff != "" {
				d, err := str2duration.ParseDuration(entry.Retry.MaxBackoff)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid max_backoff for %s", operation)
				}
				retry.MaxBackoff = d
			}
			if entry.Retry.BackoffMultiplier != nil {
				retry.BackoffMultiplier = *entry.Retry.BackoffMultiplier
			}
			if entry.Retry.Jitter != nil {
				retry.Jitter = *entry.Retry.Jitter
			}
			policy.Retry = &retry
		}
		if entry.Breaker != nil {
			breaker := DefaultCircuitBreakerConfig()
			if entry.Breaker.FailureThreshold > 0 {
				breaker.FailureThreshold = entry.Breaker.FailureThreshold
			}
			if entry.Breaker.OpenTimeout != "" {
				d, err := str2duration.ParseDuration(entry.Breaker.OpenTimeout)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid open_timeout for %s", operation)
				}
				breaker.OpenTimeout = d
			}
			if entry.Breaker.SuccessThreshold > 0 {
				breaker.SuccessThreshold = entry.Breaker.SuccessThreshold
			}
			if entry.Breaker.MonitoringWindow != "" {
				d, err := str2duration.ParseDuration(entry.Breaker.MonitoringWindow)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid monitoring_window for %s", operation)
				}
				breaker.MonitoringWindow = d
			}
			policy.Breaker = &breaker
		}
		policies[operation] = policy
	}
	return policies, nil
}
