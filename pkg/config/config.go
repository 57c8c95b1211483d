// Package config loads worker settings from defaults and environment
// variables and validates them before anything else starts.
//
// Environment variables use the CLAIMWORKER_ prefix and a double underscore
// for nesting, e.g. CLAIMWORKER_ENGINE__BASE_URL or CLAIMWORKER_WORKER__CONCURRENCY.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CLAIMWORKER_"

// ConfigurationError reports invalid startup parameters. It is never
// retryable: the process must not start with it.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config is the full worker configuration.
type Config struct {
	Engine   EngineConfig   `koanf:"engine"`
	Worker   WorkerConfig   `koanf:"worker"`
	Redis    RedisConfig    `koanf:"redis"`
	Services ServicesConfig `koanf:"services"`
	HTTP     HTTPConfig     `koanf:"http"`
	Log      LogConfig      `koanf:"log"`
}

// EngineConfig describes how to reach the process engine.
type EngineConfig struct {
	BaseURL  string `koanf:"base_url" validate:"required,url"`
	WorkerID string `koanf:"worker_id" validate:"required"`

	// LockDuration is how long fetched tasks stay reserved for this worker.
	LockDuration time.Duration `koanf:"lock_duration" validate:"gt=0"`

	// RequestTimeout bounds every non-polling call and must stay below
	// LockDuration so a stuck call fails the task before the lock expires.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0,ltfield=LockDuration"`

	// AsyncResponseTimeout is the fetchAndLock long poll. It must be set:
	// without it an idle engine answers every poll at once.
	AsyncResponseTimeout time.Duration `koanf:"async_response_timeout" validate:"gt=0"`

	// LockExtension is how far a running task's lock is pushed on each
	// heartbeat, sent every half extension. Zero disables the heartbeat.
	LockExtension time.Duration `koanf:"lock_extension" validate:"gte=0"`

	MaxTasks             int           `koanf:"max_tasks" validate:"gte=1,lte=1000"`
	UsePriority          bool          `koanf:"use_priority"`
	PollBackoffMax       time.Duration `koanf:"poll_backoff_max" validate:"gt=0"`
}

// WorkerConfig bounds local execution.
type WorkerConfig struct {
	Concurrency     int           `koanf:"concurrency" validate:"gte=1"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	RateBurst       int           `koanf:"rate_burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// RedisConfig points at the outcome journal. An empty address disables it.
type RedisConfig struct {
	Addr string `koanf:"addr"`
}

// ServicesConfig holds the claim domain REST services.
type ServicesConfig struct {
	ClaimsURL       string        `koanf:"claims_url" validate:"omitempty,url"`
	PoliciesURL     string        `koanf:"policies_url" validate:"omitempty,url"`
	EmployeesURL    string        `koanf:"employees_url" validate:"omitempty,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	PolicyCacheSize int           `koanf:"policy_cache_size" validate:"gte=1"`
	PolicyCacheTTL  time.Duration `koanf:"policy_cache_ttl" validate:"gt=0"`
}

// HTTPConfig holds listen addresses of the metrics and correlation servers.
type HTTPConfig struct {
	MetricsAddr string `koanf:"metrics_addr"`
	APIAddr     string `koanf:"api_addr"`
	APIKey      string `koanf:"api_key"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Env   string `koanf:"env"`
}

// Default returns the configuration used when nothing is overridden.
// Engine.BaseURL has no default and must always be provided.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			WorkerID:             "claim-worker",
			LockDuration:         30 * time.Second,
			RequestTimeout:       10 * time.Second,
			AsyncResponseTimeout: 20 * time.Second,
			LockExtension:        30 * time.Second,
			MaxTasks:             10,
			PollBackoffMax:       30 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:     8,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Services: ServicesConfig{
			Timeout:         5 * time.Second,
			PolicyCacheSize: 1024,
			PolicyCacheTTL:  5 * time.Minute,
		},
		HTTP: HTTPConfig{
			MetricsAddr: ":8080",
			APIAddr:     ":8081",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults overlaid with CLAIMWORKER_*
// environment variables. Every failure is a *ConfigurationError.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, &ConfigurationError{Reason: "failed to load defaults", Err: err}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, &ConfigurationError{Reason: "failed to load environment", Err: err}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}); err != nil {
		return nil, &ConfigurationError{Reason: "failed to decode configuration", Err: err}
	}

	if cfg.Log.Env == "" {
		cfg.Log.Env = os.Getenv("APP_ENV")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnvKey maps CLAIMWORKER_ENGINE__BASE_URL to engine.base_url.
func transformEnvKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", "."), value
}

var validate = validator.New()

// Validate normalizes string fields and checks every constraint.
func (c *Config) Validate() error {
	c.Engine.BaseURL = strings.TrimSpace(c.Engine.BaseURL)
	c.Engine.WorkerID = strings.TrimSpace(c.Engine.WorkerID)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return &ConfigurationError{
				Field:  first.Namespace(),
				Reason: fmt.Sprintf("failed %q constraint (value %v)", first.Tag(), first.Value()),
				Err:    err,
			}
		}
		return &ConfigurationError{Reason: err.Error(), Err: err}
	}

	if c.Services.Timeout >= c.Engine.LockDuration {
		return &ConfigurationError{
			Field:  "Config.Services.Timeout",
			Reason: fmt.Sprintf("must be shorter than engine lock duration %s", c.Engine.LockDuration),
		}
	}
	return nil
}
