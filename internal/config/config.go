// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
}

// AuthConfig holds the platform credentials and the cookie store location.
type AuthConfig struct {
	Login      string `mapstructure:"login" yaml:"login"`
	Password   string `mapstructure:"password" yaml:"-"`
	CookieFile string `mapstructure:"cookie_file" yaml:"cookie_file"`
}

// BrowserConfig holds settings for the Chrome instance the run drives.
type BrowserConfig struct {
	// ExtensionPath points at the unpacked recommendation extension
	// (the directory containing manifest.json).
	ExtensionPath string `mapstructure:"extension_path" yaml:"extension_path"`
	// ProfilePath is the persistent user-data directory. Keeping it across
	// runs preserves cookies and the extension's own state.
	ProfilePath string   `mapstructure:"profile_path" yaml:"profile_path"`
	Headless    bool     `mapstructure:"headless" yaml:"headless"`
	Args        []string `mapstructure:"args" yaml:"args"`
}

// RunConfig holds settings for one batch of test attempts.
type RunConfig struct {
	TestURLs []string `mapstructure:"test_urls" yaml:"test_urls"`
	// TestMode pauses each attempt before final submission so the operator
	// can review the selected answers in the open browser.
	TestMode bool `mapstructure:"test_mode" yaml:"test_mode"`
	// WaitTimeout bounds every single wait for a UI element.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	// QuestionDelay is the minimum spacing enforced between question
	// interactions, to keep the interaction cadence plausible.
	QuestionDelay time.Duration `mapstructure:"question_delay" yaml:"question_delay"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Auth --
	v.SetDefault("auth.cookie_file", "./cookies.json")

	// -- Browser --
	v.SetDefault("browser.profile_path", "./chrome_profile")
	v.SetDefault("browser.headless", false)

	// -- Run --
	v.SetDefault("run.test_mode", false)
	v.SetDefault("run.wait_timeout", "10s")
	v.SetDefault("run.question_delay", "2s")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "quizpilot")
	v.SetDefault("logger.log_file", "quizpilot.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}

// NewFromViper creates a configuration instance from a viper object.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Run.TestURLs = normalizeURLList(cfg.Run.TestURLs)
	return &cfg, nil
}

// normalizeURLList tolerates a single comma-separated string, which is how the
// list arrives when sourced from an environment variable.
func normalizeURLList(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		for _, part := range strings.Split(u, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if c.Browser.ExtensionPath == "" {
		return fmt.Errorf("browser.extension_path is a required configuration field")
	}
	// Chrome does not load unpacked extensions in headless mode, and the
	// whole run depends on the extension's in-page UI.
	if c.Browser.Headless {
		return fmt.Errorf("browser.headless must be false: the recommendation extension cannot load in headless mode")
	}
	if c.Run.WaitTimeout <= 0 {
		return fmt.Errorf("run.wait_timeout must be a positive duration")
	}
	if c.Run.QuestionDelay < 0 {
		return fmt.Errorf("run.question_delay must not be negative")
	}
	return nil
}

// ValidateRun additionally checks the settings the batch runner needs.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Run.TestURLs) == 0 {
		return fmt.Errorf("run.test_urls is empty: nothing to attempt")
	}
	if c.Auth.Login == "" || c.Auth.Password == "" {
		return fmt.Errorf("auth.login and auth.password are required (set QUIZPILOT_AUTH_LOGIN / QUIZPILOT_AUTH_PASSWORD)")
	}
	return nil
}
