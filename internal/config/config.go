// Package config loads the server's static configuration: listen address,
// certificate material, identity table, and the server-wide bounds that
// the SecureChannel/Session/Subscription managers clamp client requests
// against. Grounded on dittofs's pkg/config viper wiring.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/open62541/open62541-sub008/internal/logger"
)

// Config is the top-level server configuration.
type Config struct {
	Listen    string          `mapstructure:"listen" validate:"required" yaml:"listen"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Identity  IdentityConfig  `mapstructure:"identity" yaml:"identity"`
	Limits    LimitsConfig    `mapstructure:"limits" yaml:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// DiscoveryConfig configures the GetEndpoints/FindServers discovery
// surface (SPEC_FULL.md §12).
type DiscoveryConfig struct {
	URL              string `mapstructure:"url" yaml:"url"`
	ApplicationName  string `mapstructure:"application_name" yaml:"application_name"`
}

// SecurityConfig names the certificate/private-key pair used to derive
// SecureChannel session keys (the SecurityPolicy crypto trait itself is
// out of scope; this just locates its material).
type SecurityConfig struct {
	CertificatePath string `mapstructure:"certificate" yaml:"certificate"`
	PrivateKeyPath  string `mapstructure:"private_key" yaml:"private_key"`
}

// IdentityConfig carries the static username/password table for
// ActivateSession's UserNameIdentityToken path, plus the optional JWT
// signing key for the bearer-token variant (SPEC_FULL.md §11).
type IdentityConfig struct {
	AllowAnonymous bool              `mapstructure:"allow_anonymous" yaml:"allow_anonymous"`
	Users          map[string]string `mapstructure:"users" yaml:"users"`
	JWTSigningKey  string            `mapstructure:"jwt_signing_key" yaml:"jwt_signing_key"`
}

// LimitsConfig names the server-wide bounds the Session/Subscription/
// MonitoredItem managers clamp client-requested values against.
type LimitsConfig struct {
	MinPublishingInterval   time.Duration `mapstructure:"min_publishing_interval" validate:"required,gt=0" yaml:"min_publishing_interval"`
	MaxPublishingInterval   time.Duration `mapstructure:"max_publishing_interval" validate:"required,gtfield=MinPublishingInterval" yaml:"max_publishing_interval"`
	MinQueueSize            uint32        `mapstructure:"min_queue_size" validate:"required,gt=0" yaml:"min_queue_size"`
	MaxQueueSize            uint32        `mapstructure:"max_queue_size" validate:"required,gtefield=MinQueueSize" yaml:"max_queue_size"`
	MaxContinuationPoints   int           `mapstructure:"max_continuation_points" validate:"required,gt=0" yaml:"max_continuation_points"`
	MaxMonitoredItemsPerSub int           `mapstructure:"max_monitored_items_per_subscription" validate:"required,gt=0" yaml:"max_monitored_items_per_subscription"`
	SessionTimeout          time.Duration `mapstructure:"session_timeout" validate:"required,gt=0" yaml:"session_timeout"`
}

// LoggingConfig mirrors internal/logger.Config with mapstructure tags for
// viper unmarshalling.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// Default returns a configuration usable as a local development default.
func Default() *Config {
	return &Config{
		Listen: "opc.tcp://0.0.0.0:4840",
		Discovery: DiscoveryConfig{
			URL:             "opc.tcp://0.0.0.0:4840",
			ApplicationName: "open62541-sub008 server",
		},
		Identity: IdentityConfig{AllowAnonymous: true},
		Limits: LimitsConfig{
			MinPublishingInterval:   50 * time.Millisecond,
			MaxPublishingInterval:   24 * time.Hour,
			MinQueueSize:            1,
			MaxQueueSize:            10000,
			MaxContinuationPoints:   10,
			MaxMonitoredItemsPerSub: 10000,
			SessionTimeout:          10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "INFO", Format: "text"},
	}
}

var validate = validator.New()

// Load reads configuration from the given file path (YAML), applies
// defaults for anything left unset, and validates the result. When a file
// is given, UASRV_-prefixed environment variables override the keys that
// file sets; keys absent from the file, and every key when configPath is
// empty, are not read from the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UASRV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshalling %s: %w", configPath, err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	logger.Info("configuration loaded", "listen", cfg.Listen, "path", configPath)
	return cfg, nil
}
