// Package config loads the service configuration through viper and validates
// it before any component is constructed.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"go-realtime-delivery/internal/infrastructure/logger"
)

// EnvPrefix prefixes every environment override, e.g. REALTIME_AUTH_JWT_SECRET.
const EnvPrefix = "REALTIME"

// HTTPConfig defines the HTTP server parameters
type HTTPConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0"`
	// ReadTimeout is the maximum duration for reading the entire request in seconds
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout bounds a whole response in seconds. Event streams live for
	// hours, so anything but 0 cuts every stream at that age.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the keep-alive idle timeout in seconds
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
	// ShutdownTimeout bounds graceful shutdown in seconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout_sec" json:"shutdown_timeout_sec" validate:"gte=1"`
}

// Addr returns the host:port listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenOn, c.Port)
}

// StreamConfig defines per-connection delivery parameters
type StreamConfig struct {
	// HeartbeatInterval is the heartbeat period in seconds
	HeartbeatInterval int `mapstructure:"heartbeat_interval_sec" json:"heartbeat_interval_sec" validate:"gte=1,lte=300"`
	// SendBuffer is the number of events buffered per connection
	SendBuffer int `mapstructure:"send_buffer" json:"send_buffer" validate:"gte=1,lte=4096"`
	// SendTimeout is how long a send waits on a full buffer, in milliseconds
	SendTimeout int `mapstructure:"send_timeout_ms" json:"send_timeout_ms" validate:"gte=1"`
	// DeliveryConcurrency caps concurrent sink writes per delivery call
	DeliveryConcurrency int `mapstructure:"delivery_concurrency" json:"delivery_concurrency" validate:"gte=1"`
}

// AuthConfig defines token verification parameters
type AuthConfig struct {
	// JWTSecret is the HS256 shared secret used by the session issuer
	JWTSecret string `mapstructure:"jwt_secret" json:"-" validate:"required,min=16"`
	// ServiceSecret signs the tokens backend services present to the delivery
	// API. It must differ from JWTSecret so a user token never passes as one.
	ServiceSecret string `mapstructure:"service_secret" json:"-" validate:"required,min=16,nefield=JWTSecret"`
	// Issuer is the expected "iss" claim; empty disables the check
	Issuer string `mapstructure:"issuer" json:"issuer"`
	// TokenQueryParam carries the token for clients that cannot set headers
	TokenQueryParam string `mapstructure:"token_query_param" json:"token_query_param" validate:"required"`
}

// Config is the complete service config
type Config struct {
	HTTP   HTTPConfig    `mapstructure:"http" json:"http"`
	Stream StreamConfig  `mapstructure:"stream" json:"stream"`
	Auth   AuthConfig    `mapstructure:"auth" json:"auth"`
	Log    logger.Config `mapstructure:"log" json:"log"`
}

// HeartbeatPeriod returns the configured heartbeat period.
func (c StreamConfig) HeartbeatPeriod() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

// SendWait returns how long a send may wait on a full buffer.
func (c StreamConfig) SendWait() time.Duration {
	return time.Duration(c.SendTimeout) * time.Millisecond
}

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues(v *viper.Viper) {
	v.SetDefault("http.listen_on", "0.0.0.0")
	v.SetDefault("http.listen_port", 8080)
	v.SetDefault("http.read_timeout_sec", 15)
	v.SetDefault("http.write_timeout_sec", 0)
	v.SetDefault("http.idle_timeout_sec", 60)
	v.SetDefault("http.shutdown_timeout_sec", 5)

	v.SetDefault("stream.heartbeat_interval_sec", 25)
	v.SetDefault("stream.send_buffer", 64)
	v.SetDefault("stream.send_timeout_ms", 2000)
	v.SetDefault("stream.delivery_concurrency", 16)

	v.SetDefault("auth.issuer", "recruiting-platform")
	v.SetDefault("auth.token_query_param", "token")

	def := logger.NewDefaultConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.format", def.Format)
	v.SetDefault("log.output", def.Output)
	v.SetDefault("log.max_size", def.MaxSize)
	v.SetDefault("log.max_backups", def.MaxBackups)
	v.SetDefault("log.max_age", def.MaxAge)
	v.SetDefault("log.compress", def.Compress)
}

// NewViper returns a viper instance with defaults and env overrides wired.
func NewViper() *viper.Viper {
	v := viper.New()
	InstallDefaultConfigValues(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// No default exists for the secrets, so AutomaticEnv alone would not
	// surface them through Unmarshal.
	_ = v.BindEnv("auth.jwt_secret")
	_ = v.BindEnv("auth.service_secret")
	return v
}

// Load reads the optional config file into v, unmarshals and validates it.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	return Parse(v)
}

// Parse unmarshals and validates whatever v currently holds.
func Parse(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.Log.MergeDefaultFields()
	return &cfg, nil
}
