package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                   = "SUPPORTSPARK"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDataDir              = "data"
	defaultLogLevel             = "info"
	defaultLogFormat            = "json"
	defaultCookieName           = "supportspark_session"
	defaultSessionTTLMinutes    = 7 * 24 * 60
	defaultUploadMaxBytes       = 5 << 20
	defaultAuthRatePerMinute    = 20
	defaultAllowedOrigins       = "*"
	defaultDemoEnabled          = true
	defaultShutdownGraceSeconds = 10
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DataDir              string
	LogLevel             string
	LogFormat            string
	SessionSigningSecret string
	SessionCookieName    string
	SessionTTL           time.Duration
	SecureCookies        bool
	UploadMaxBytes       int64
	AuthRatePerMinute    int
	AllowedOrigins       []string
	DemoEnabled          bool
	ShutdownGrace        time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.shutdown_grace_seconds", defaultShutdownGraceSeconds)
	configViper.SetDefault("data.dir", defaultDataDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("session.secure_cookie", false)
	configViper.SetDefault("uploads.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("ratelimit.auth_per_minute", defaultAuthRatePerMinute)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("demo.enabled", defaultDemoEnabled)
}

// LoadDotEnv populates the process environment from the given files.
// Missing files are skipped; variables already set are left untouched.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          strings.TrimSpace(configViper.GetString("http.address")),
		DataDir:              strings.TrimSpace(configViper.GetString("data.dir")),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    strings.TrimSpace(configViper.GetString("session.cookie_name")),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		SecureCookies:        configViper.GetBool("session.secure_cookie"),
		UploadMaxBytes:       configViper.GetInt64("uploads.max_bytes"),
		AuthRatePerMinute:    configViper.GetInt("ratelimit.auth_per_minute"),
		AllowedOrigins:       splitOrigins(configViper.GetString("cors.allowed_origins")),
		DemoEnabled:          configViper.GetBool("demo.enabled"),
		ShutdownGrace:        time.Duration(configViper.GetInt("http.shutdown_grace_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("http.shutdown_grace_seconds must be positive")
	}
	if c.AuthRatePerMinute <= 0 {
		return fmt.Errorf("ratelimit.auth_per_minute must be positive")
	}
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
