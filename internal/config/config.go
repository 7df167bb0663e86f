// Package config loads settings from an optional YAML file, a .env file and
// HPLINK_ environment variables.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nestauk/asf-core-data/internal/linkage"
)

// Config is the full application configuration
type Config struct {
	Linkage LinkageConfig `yaml:"linkage" mapstructure:"linkage"`
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Heating HeatingConfig `yaml:"heating" mapstructure:"heating"`
}

// LinkageConfig configures address matching.
type LinkageConfig struct {
	MatchingParameter float64 `yaml:"matching_parameter" mapstructure:"matching_parameter"`
	MaxTokenLength    int     `yaml:"max_token_length" mapstructure:"max_token_length"`
	Mode              string  `yaml:"mode" mapstructure:"mode"`
	Workers           int     `yaml:"workers" mapstructure:"workers"`
}

// DataConfig locates inputs and outputs.
type DataConfig struct {
	EPCPath    string `yaml:"epc_path" mapstructure:"epc_path"`
	MCSPath    string `yaml:"mcs_path" mapstructure:"mcs_path"`
	MCSSheet   string `yaml:"mcs_sheet" mapstructure:"mcs_sheet"`
	BatchRoot  string `yaml:"batch_root" mapstructure:"batch_root"`
	OutputPath string `yaml:"output_path" mapstructure:"output_path"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Host   string `yaml:"host" mapstructure:"host"`
	Port   int    `yaml:"port" mapstructure:"port"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HeatingConfig optionally replaces the built-in heating rules.
type HeatingConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// Load reads configuration from file and environment. An empty path looks
// for hplink.yaml in the working directory; a missing default file is fine.
func Load(path string) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hplink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("HPLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("linkage.matching_parameter", linkage.DefaultMatchingParameter)
	v.SetDefault("linkage.max_token_length", 8)
	v.SetDefault("linkage.mode", "best")
	v.SetDefault("linkage.workers", 1)
	v.SetDefault("data.epc_path", "")
	v.SetDefault("data.mcs_path", "")
	v.SetDefault("data.mcs_sheet", "")
	v.SetDefault("data.batch_root", "")
	v.SetDefault("data.output_path", "outputs")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "hplink.db")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("heating.rules_path", "")

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// LinkageSettings converts the linkage section for the engine
func (c *Config) LinkageSettings() (linkage.Config, error) {
	mode, err := linkage.ParseMode(c.Linkage.Mode)
	if err != nil {
		return linkage.Config{}, err
	}
	lc := linkage.Config{
		MatchingParameter: c.Linkage.MatchingParameter,
		MaxTokenLength:    c.Linkage.MaxTokenLength,
		Mode:              mode,
		Workers:           c.Linkage.Workers,
	}
	return lc, lc.Validate()
}

// Validate checks the settings every command depends on
func (c *Config) Validate() error {
	if _, err := c.LinkageSettings(); err != nil {
		return eris.Wrap(err, "config: linkage")
	}
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server port %d out of range", c.Server.Port)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
