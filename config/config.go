// Package config loads GroundDB's runtime configuration: an optional
// grounddb.yaml merged with GROUNDDB_* environment variables, in the
// teacher's internal/config style of env-to-flag binding.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "GROUNDDB"

// Config is the merged runtime configuration consumed by the cmd
// surface and any example server. The Store/View core never sees this
// type; it only ever takes an explicit data-dir argument.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

func defaults() Config {
	return Config{
		DataDir:  ".",
		Host:     "127.0.0.1",
		Port:     8080,
		LogLevel: "info",
	}
}

// Load merges, in increasing priority: built-in defaults, configFile (if
// it exists; pass "" to look for grounddb.yaml in the working
// directory), and GROUNDDB_DATA_DIR / GROUNDDB_HOST / GROUNDDB_PORT /
// GROUNDDB_LOG_LEVEL environment variables.
func Load(configFile string) (Config, error) {
	v := viper.New()
	d := defaults()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("log_level", d.LogLevel)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("grounddb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for _, key := range []string{"data_dir", "host", "port", "log_level"} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DataDir != "." {
		abs, err := filepath.Abs(cfg.DataDir)
		if err == nil {
			cfg.DataDir = abs
		}
	}
	return cfg, nil
}

// BindFlags overlays any explicitly-set cobra/pflag flag onto cfg,
// matching the teacher's CheckEnvironmentVariables pattern but in the
// opposite direction: a flag the user actually typed always wins over
// both the environment and the config file.
func BindFlags(cfg *Config, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		switch f.Name {
		case "data-dir":
			cfg.DataDir = f.Value.String()
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			fmt.Sscanf(f.Value.String(), "%d", &cfg.Port)
		case "log-level":
			cfg.LogLevel = f.Value.String()
		}
	})
}

