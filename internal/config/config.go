package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the whole service configuration
type Config struct {
	Listen      string `mapstructure:"listen" validate:"required"` // HTTP listen address
	ContextPath string `mapstructure:"context_path"`                // URL prefix of every route
	Debug       bool   `mapstructure:"debug"`

	// Lock and camera timing
	AutoReleaseDelay time.Duration `mapstructure:"auto_release_delay" validate:"gt=0"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	Cameras []CameraConfig `mapstructure:"cameras" validate:"required,min=1,dive"`
}

// CameraConfig describes one PTZ camera
type CameraConfig struct {
	ID       string `mapstructure:"id" validate:"required,excludesall=/?#"` // Used in URLs (/cams/<id>/...)
	URL      string `mapstructure:"url" validate:"required,http_url"`       // RCP+ base URL
	Username string `mapstructure:"username" validate:"required_with=Password"`
	Password string `mapstructure:"password" validate:"required_with=Username"`
	Auth     string `mapstructure:"auth" validate:"omitempty,oneof=basic digest"`
	RTSP     string `mapstructure:"rtsp" validate:"omitempty,url,startswith=rtsp"` // Optional live preview stream
}

// String masks the password
func (c CameraConfig) String() string {
	password := ""
	if c.Password != "" {
		password = "<hidden>"
	}
	return fmt.Sprintf("{id:%s url:%s username:%s password:%s auth:%s rtsp:%s}",
		c.ID, c.URL, c.Username, password, c.Auth, c.RTSP)
}

// Keys shared by flags, environment and config files
const (
	KeyListen           = "listen"
	KeyContextPath      = "context_path"
	KeyDebug            = "debug"
	KeyAutoReleaseDelay = "auto_release_delay"
	KeyRequestTimeout   = "request_timeout"
	KeyCameras          = "cameras"
)

// EnvPrefix prefixes environment overrides (e.g. PTZ_LISTEN)
const EnvPrefix = "PTZ"

var validate = validator.New(validator.WithRequiredStructEnabled())

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyListen, "[::1]:5000")
	v.SetDefault(KeyContextPath, "/")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyAutoReleaseDelay, 10*time.Second)
	v.SetDefault(KeyRequestTimeout, time.Second)
}

// Load reads the configuration from cfgFile (optional), PTZ_* environment
// variables and any flags already bound to v
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rcp-ptz")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ContextPath = NormalizeContextPath(cfg.ContextPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and camera id uniqueness
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id: %s", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}

// Camera returns the camera with the given id
func (c *Config) Camera(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

// NormalizeContextPath turns "", "/", "api" or "/api/" into "/" or "/api/"
func NormalizeContextPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}
