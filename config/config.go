// Package config loads the settings for applications built on faultline: where logs and crash dumps
// go, how logging is fanned out, and how faults are collected.
//
// Settings come from an optional YAML file, then FAULTLINE_* environment variables, then defaults.
// Nested keys map to environment variables by upper-casing and replacing "." with "_", so that
// log.level is set by FAULTLINE_LOG_LEVEL.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sharnoff/faultline/hostinfo"
	"github.com/sharnoff/faultline/sink"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables that override configuration values
const EnvPrefix = "FAULTLINE"

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Paths  PathsConfig  `mapstructure:"paths"`
	Log    LogConfig    `mapstructure:"log"`
	Blast  BlastConfig  `mapstructure:"blast"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Faults FaultsConfig `mapstructure:"faults"`
	Crash  CrashConfig  `mapstructure:"crash"`
}

type AppConfig struct {
	Name         string `mapstructure:"name"`
	Version      string `mapstructure:"version"`
	Organization string `mapstructure:"organization"`
}

// PathsConfig overrides the directories from hostinfo.DataDir. Empty means the default.
type PathsConfig struct {
	LogDir       string `mapstructure:"log_dir"`
	CrashDumpDir string `mapstructure:"crash_dump_dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"` // whether to also log to a file in the log directory
}

type BlastConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type QueueConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type FaultsConfig struct {
	// Backlog is how many undrained faults are kept. 0 and 1 both mean only the most recent.
	Backlog int `mapstructure:"backlog"`
}

type CrashConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RuntimeOutput bool `mapstructure:"runtime_output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "faultline")
	v.SetDefault("app.version", "")
	v.SetDefault("app.organization", "")
	v.SetDefault("paths.log_dir", "")
	v.SetDefault("paths.crash_dump_dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", true)
	v.SetDefault("blast.enabled", false)
	v.SetDefault("blast.addr", "127.0.0.1:9999")
	v.SetDefault("queue.poll_interval", sink.DefaultFilePollInterval)
	v.SetDefault("faults.backlog", 1)
	v.SetDefault("crash.enabled", true)
	v.SetDefault("crash.runtime_output", true)
}

// Load reads the configuration. If path is empty, only the environment and defaults are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "could not read config file %q", path)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.App.Name) == "":
		return errors.New("app.name must not be empty")
	case c.Faults.Backlog < 0:
		return errors.Errorf("faults.backlog must not be negative, got %d", c.Faults.Backlog)
	case c.Queue.PollInterval <= 0:
		return errors.Errorf("queue.poll_interval must be positive, got %s", c.Queue.PollInterval)
	case c.Blast.Enabled && c.Blast.Addr == "":
		return errors.New("blast.addr must be set when blast.enabled is")
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level
func (c *Config) LogLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log.level %q", c.Log.Level)
	}
	return level, nil
}

// Environment collects the host information for the configured application, with the log and
// crash dump directories replaced by any configured paths.
func (c *Config) Environment() *hostinfo.Info {
	info := hostinfo.Collect(c.App.Name, c.App.Version, c.App.Organization)
	if c.Paths.LogDir != "" {
		info.LogDir = c.Paths.LogDir
	}
	if c.Paths.CrashDumpDir != "" {
		info.CrashDir = c.Paths.CrashDumpDir
	}
	return info
}
