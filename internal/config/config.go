package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	// FrameRate is the target capture rate shared by every monitor.
	FrameRate int `mapstructure:"frame_rate" yaml:"frame_rate"`
	// RenderAdapter pins the renderer's adapter LUID ("HIGH:LOW" hex).
	// Empty means the first enumerated adapter.
	RenderAdapter string `mapstructure:"render_adapter" yaml:"render_adapter"`
	// Monitors restricts capture to these monitor ids. Empty captures all.
	Monitors []int `mapstructure:"monitors" yaml:"monitors"`
	Workers  int   `mapstructure:"workers" yaml:"workers"`

	StatusIntervalSeconds    int  `mapstructure:"status_interval_seconds" yaml:"status_interval_seconds"`
	ReinitializeOnAccessLost bool `mapstructure:"reinitialize_on_access_lost" yaml:"reinitialize_on_access_lost"`
	ReinitializeDelayMs      int  `mapstructure:"reinitialize_delay_ms" yaml:"reinitialize_delay_ms"`

	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		FrameRate:             60,
		Workers:               4,
		StatusIntervalSeconds: 10,
		ReinitializeDelayMs:   1000,
		LogFormat:             "text",
		LogLevel:              "info",
		LogMaxSizeMB:          50,
		LogMaxBackups:         3,
	}
}

// Load reads deskdupl.yaml (or cfgFile) and DESKDUPL_* environment
// variables over the defaults. A missing default config file is not an
// error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("deskdupl")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newViper registers every key with its default so environment overrides
// apply even when no config file sets the key.
func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DESKDUPL")
	v.AutomaticEnv()

	v.SetDefault("frame_rate", cfg.FrameRate)
	v.SetDefault("render_adapter", cfg.RenderAdapter)
	v.SetDefault("monitors", cfg.Monitors)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("status_interval_seconds", cfg.StatusIntervalSeconds)
	v.SetDefault("reinitialize_on_access_lost", cfg.ReinitializeOnAccessLost)
	v.SetDefault("reinitialize_delay_ms", cfg.ReinitializeDelayMs)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
	return v
}

// SaveTo writes cfg as YAML. An empty cfgFile writes to the platform config
// directory.
func SaveTo(cfg *Config, cfgFile string) (string, error) {
	v := newViper(cfg)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return "", err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "deskdupl.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return "", err
		}
	}

	for _, key := range v.AllKeys() {
		v.Set(key, v.Get(key))
	}
	v.SetConfigType("yaml")
	if err := v.WriteConfigAs(cfgPath); err != nil {
		return "", err
	}
	return cfgPath, os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "DeskDupl")
	case "darwin":
		return "/Library/Application Support/DeskDupl"
	default:
		return "/etc/deskdupl"
	}
}
