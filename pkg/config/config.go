package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/taforever/ircd-toxicity/pkg/infra/httpx"
	"github.com/taforever/ircd-toxicity/pkg/infra/logger"
	"github.com/taforever/ircd-toxicity/pkg/infra/prometheus"
	"github.com/taforever/ircd-toxicity/pkg/perspective"
)

type Config struct {
	Server      ServerConfig             `mapstructure:"server"`
	Metrics     prometheus.MetricsConfig `mapstructure:"metrics"`
	Log         logger.Config            `mapstructure:"log"`
	Perspective perspective.Config       `mapstructure:"perspective"`
	HTTP        HTTPConfig               `mapstructure:"http"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	AdminPort   int    `mapstructure:"admin_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// HTTPConfig tunes the pooled transport shared by every scoring call.
type HTTPConfig struct {
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	MaxIdleConnDuration time.Duration `mapstructure:"max_idle_conn_duration"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	InsecureSkipVerify  bool          `mapstructure:"insecure_skip_verify"`
	UserAgent           string        `mapstructure:"user_agent"`
}

// ModuleConfig is the subset the IRC server hands to the module from its own
// configuration block.
type ModuleConfig struct {
	Perspective perspective.Config `mapstructure:"perspective"`
	HTTP        HTTPConfig         `mapstructure:"http"`
	Log         logger.Config      `mapstructure:"log"`
}

// Options converts the settings into transport options. The transport's
// overall timeout follows the scoring timeout.
func (c HTTPConfig) Options(timeout time.Duration, maxBodySize int) []httpx.FastHTTPClientOption {
	opts := []httpx.FastHTTPClientOption{
		httpx.WithTimeout(timeout),
		httpx.WithMaxResponseBodySize(maxBodySize),
		httpx.WithInsecureSkipVerify(c.InsecureSkipVerify),
	}
	if c.MaxConnsPerHost > 0 {
		opts = append(opts, httpx.WithMaxConnsPerHost(c.MaxConnsPerHost))
	}
	if c.MaxIdleConnDuration > 0 {
		opts = append(opts, httpx.WithMaxIdleConnDuration(c.MaxIdleConnDuration))
	}
	if c.ReadTimeout > 0 {
		opts = append(opts, httpx.WithReadTimeout(c.ReadTimeout))
	}
	if c.WriteTimeout > 0 {
		opts = append(opts, httpx.WithWriteTimeout(c.WriteTimeout))
	}
	if c.UserAgent != "" {
		opts = append(opts, httpx.WithUserAgent(c.UserAgent))
	}
	return opts
}

func (c HTTPConfig) Validate() error {
	if c.MaxConnsPerHost < 0 {
		return errors.New("http.max_conns_per_host must not be negative")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.MaxIdleConnDuration < 0 {
		return errors.New("http durations must not be negative")
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Perspective.Validate(); err != nil {
		return err
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("server.admin_port out of range: %d", c.Server.AdminPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port out of range: %d", c.Server.MetricsPort)
	}
	return nil
}

// Load reads config.yaml from configPath, ./config or the working directory and
// overlays environment variables (perspective.timeout -> PERSPECTIVE_TIMEOUT).
// A missing file is not an error; defaults and the environment still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Perspective = cfg.Perspective.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// every key needs a default so AutomaticEnv can override it during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.admin_port", 8081)
	v.SetDefault("server.metrics_port", 9090)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.process_collector", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.buffer_size", 32*1024)

	v.SetDefault("perspective.endpoint", perspective.DefaultEndpoint)
	v.SetDefault("perspective.api_key_env", perspective.DefaultAPIKeyEnv)
	v.SetDefault("perspective.timeout", perspective.DefaultTimeout)
	v.SetDefault("perspective.max_response_bytes", perspective.DefaultMaxResponseBytes)
	v.SetDefault("perspective.languages", []string{})

	v.SetDefault("http.max_conns_per_host", httpx.DefaultMaxConnsPerHost)
	v.SetDefault("http.max_idle_conn_duration", httpx.DefaultMaxIdleConnDuration)
	v.SetDefault("http.read_timeout", time.Duration(0))
	v.SetDefault("http.write_timeout", time.Duration(0))
	v.SetDefault("http.insecure_skip_verify", false)
	v.SetDefault("http.user_agent", "")
}

// DecodeModuleConfig decodes the loosely typed settings block an IRC server
// passes to the module. Durations may be given as "2s" strings, numbers may
// arrive as strings, and unknown keys are rejected.
func DecodeModuleConfig(settings map[string]any) (ModuleConfig, error) {
	var cfg ModuleConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(settings); err != nil {
		return cfg, fmt.Errorf("invalid module settings: %w", err)
	}
	if err := cfg.Perspective.Validate(); err != nil {
		return cfg, err
	}
	if err := cfg.HTTP.Validate(); err != nil {
		return cfg, err
	}
	cfg.Perspective = cfg.Perspective.WithDefaults()
	return cfg, nil
}
