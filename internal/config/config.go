package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/genricoloni/slobbler/internal/domain"
	"github.com/genricoloni/slobbler/internal/rules"
	"github.com/kyokomi/emoji/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultMessageFormat = "{artist} - {title}"
	defaultAPIURL        = "https://slack.com/api"
	defaultTimeout       = 10 * time.Second
	defaultDebounce      = 500 * time.Millisecond
	envPrefix            = "SLOBBLER"
	appName              = "slobbler"
	redacted             = "<redacted>"
	keyDelimiter         = "::"
)

// ConfigError describes one invalid configuration value
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// SlackConfig holds the Slack credentials and endpoint
type SlackConfig struct {
	Token   string        `mapstructure:"token" yaml:"token"`
	UserID  string        `mapstructure:"user_id" yaml:"user_id"`
	APIURL  string        `mapstructure:"api_url" yaml:"api_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RuleConfig is a filter or exception as written in the config file
type RuleConfig struct {
	Field         string `mapstructure:"field" yaml:"field"`
	Partial       string `mapstructure:"partial" yaml:"partial"`
	Emoji         string `mapstructure:"emoji" yaml:"emoji,omitempty"`
	MessageFormat string `mapstructure:"message_format" yaml:"message_format,omitempty"`
}

// AppConfig holds application configuration
type AppConfig struct {
	Slack          SlackConfig       `mapstructure:"slack" yaml:"slack"`
	MessageFormat  string            `mapstructure:"message_format" yaml:"message_format"`
	PlayerEmojis   map[string]string `mapstructure:"player_emojis" yaml:"player_emojis,omitempty"`
	DefaultEmojis  []string          `mapstructure:"default_emojis" yaml:"default_emojis"`
	SetExpiration  bool              `mapstructure:"set_expiration" yaml:"set_expiration"`
	RequiredFields []string          `mapstructure:"required_fields" yaml:"required_fields"`
	Filters        []RuleConfig      `mapstructure:"filters" yaml:"filters,omitempty"`
	Exceptions     []RuleConfig      `mapstructure:"exceptions" yaml:"exceptions,omitempty"`
	Ignore         []string          `mapstructure:"ignore" yaml:"ignore,omitempty"`
	DryRun         bool              `mapstructure:"dry_run" yaml:"dry_run"`
	Verbose        bool              `mapstructure:"verbose" yaml:"verbose"`
	Debounce       time.Duration     `mapstructure:"debounce" yaml:"debounce"`
	ClearOnExit    bool              `mapstructure:"clear_on_exit" yaml:"clear_on_exit"`
	StateDir       string            `mapstructure:"state_dir" yaml:"state_dir"`

	// Path is the file the configuration was read from
	Path string `mapstructure:"-" yaml:"-"`

	settings rules.Settings
}

// Load reads, expands and validates the configuration file at path.
// Values can be overridden with SLOBBLER_* environment variables (SLOBBLER_SLACK_TOKEN).
func Load(path string) (*AppConfig, error) {
	// player_emojis keys are player names such as chromium.instance42,
	// so "." cannot be the key delimiter
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)

	v.SetConfigFile(expandPath(path))
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Field: "config", Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Field: "config", Reason: fmt.Sprintf("cannot decode %s: %v", path, err)}
	}
	cfg.Path = v.ConfigFileUsed()
	cfg.StateDir = expandPath(cfg.StateDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("slack::token", "")
	v.SetDefault("slack::user_id", "")
	v.SetDefault("slack::api_url", defaultAPIURL)
	v.SetDefault("slack::timeout", defaultTimeout)
	v.SetDefault("message_format", defaultMessageFormat)
	v.SetDefault("default_emojis", []string{":notes:"})
	v.SetDefault("set_expiration", false)
	v.SetDefault("required_fields", []string{string(domain.FieldArtist), string(domain.FieldTitle)})
	v.SetDefault("dry_run", false)
	v.SetDefault("verbose", false)
	v.SetDefault("debounce", defaultDebounce)
	v.SetDefault("clear_on_exit", true)
	v.SetDefault("state_dir", defaultStateDir())
}

// Validate checks every value and reports all problems at once.
// On success the rule settings become available through RuleSettings.
func (c *AppConfig) Validate() error {
	var errs error
	add := func(field, format string, args ...any) {
		errs = multierr.Append(errs, &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if !c.DryRun {
		if strings.TrimSpace(c.Slack.Token) == "" {
			add("slack.token", "required unless dry_run is set")
		}
		if strings.TrimSpace(c.Slack.UserID) == "" {
			add("slack.user_id", "required unless dry_run is set")
		}
	}
	if u, err := url.Parse(c.Slack.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("slack.api_url", "must be an http(s) URL, got %q", c.Slack.APIURL)
	}
	if c.Slack.Timeout <= 0 {
		add("slack.timeout", "must be positive, got %s", c.Slack.Timeout)
	}

	if strings.TrimSpace(c.MessageFormat) == "" {
		add("message_format", "must not be empty")
	}
	if c.Debounce < 0 {
		add("debounce", "must not be negative, got %s", c.Debounce)
	}

	if len(c.DefaultEmojis) == 0 {
		add("default_emojis", "at least one emoji is required")
	}
	for i, e := range c.DefaultEmojis {
		if !isShortcode(e) {
			add(fmt.Sprintf("default_emojis[%d]", i), "%q is not an emoji shortcode like :notes:", e)
		}
	}
	playerEmojis := make(map[string]string, len(c.PlayerEmojis))
	for name, e := range c.PlayerEmojis {
		if !isShortcode(e) {
			add("player_emojis."+name, "%q is not an emoji shortcode like :notes:", e)
		}
		playerEmojis[strings.ToLower(name)] = e
	}

	required := make([]domain.Field, 0, len(c.RequiredFields))
	for i, name := range c.RequiredFields {
		f, err := domain.ParseField(name)
		if err != nil {
			add(fmt.Sprintf("required_fields[%d]", i), "%v", err)
			continue
		}
		required = append(required, f)
	}

	filters := make([]rules.Rule, 0, len(c.Filters))
	for i, rc := range c.Filters {
		r, err := rc.toRule(fmt.Sprintf("filters[%d]", i))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		filters = append(filters, r)
	}
	exceptions := make([]rules.Rule, 0, len(c.Exceptions))
	for i, rc := range c.Exceptions {
		r, err := rc.toRule(fmt.Sprintf("exceptions[%d]", i))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		exceptions = append(exceptions, r)
	}

	for i, s := range c.Ignore {
		if strings.TrimSpace(s) == "" {
			add(fmt.Sprintf("ignore[%d]", i), "must not be empty")
		}
	}

	if errs != nil {
		return errs
	}

	c.settings = rules.Settings{
		MessageFormat:  c.MessageFormat,
		PlayerEmojis:   playerEmojis,
		DefaultEmojis:  c.DefaultEmojis,
		SetExpiration:  c.SetExpiration,
		RequiredFields: required,
		Filters:        filters,
		Exceptions:     exceptions,
	}
	return nil
}

func (rc RuleConfig) toRule(prefix string) (rules.Rule, error) {
	var errs error
	f, err := domain.ParseField(rc.Field)
	if err != nil {
		errs = multierr.Append(errs, &ConfigError{Field: prefix + ".field", Reason: err.Error()})
	}
	if strings.TrimSpace(rc.Partial) == "" {
		errs = multierr.Append(errs, &ConfigError{Field: prefix + ".partial", Reason: "must not be empty"})
	}
	if rc.Emoji != "" && !isShortcode(rc.Emoji) {
		errs = multierr.Append(errs, &ConfigError{
			Field:  prefix + ".emoji",
			Reason: fmt.Sprintf("%q is not an emoji shortcode like :notes:", rc.Emoji),
		})
	}
	if errs != nil {
		return rules.Rule{}, errs
	}
	return rules.Rule{Field: f, Partial: rc.Partial, Emoji: rc.Emoji, MessageFormat: rc.MessageFormat}, nil
}

// RuleSettings returns the validated rule engine settings
func (c *AppConfig) RuleSettings() rules.Settings {
	return c.settings
}

// CustomEmojis lists configured shortcodes that are not standard emoji.
// They are valid in Slack if the workspace defines them.
func (c *AppConfig) CustomEmojis() []string {
	var custom []string
	check := func(code string) {
		if code != "" && !IsKnownEmoji(code) {
			custom = append(custom, code)
		}
	}
	for _, e := range c.DefaultEmojis {
		check(e)
	}
	for _, e := range c.PlayerEmojis {
		check(e)
	}
	for _, r := range c.Exceptions {
		check(r.Emoji)
	}
	return custom
}

// LogSummary writes the effective configuration to the log
func (c *AppConfig) LogSummary(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.String("path", c.Path),
		zap.Bool("dryRun", c.DryRun),
		zap.String("messageFormat", c.MessageFormat),
		zap.Int("filters", len(c.Filters)),
		zap.Int("exceptions", len(c.Exceptions)),
		zap.Strings("ignore", c.Ignore),
		zap.Duration("debounce", c.Debounce),
		zap.String("stateDir", c.StateDir))

	for _, code := range c.CustomEmojis() {
		logger.Debug("Emoji is not a standard shortcode, assuming a workspace custom emoji",
			zap.String("emoji", code))
	}
}

// Dump writes the configuration as YAML with the token redacted
func (c *AppConfig) Dump(w io.Writer) error {
	out := *c
	if out.Slack.Token != "" {
		out.Slack.Token = redacted
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// GetDebounce returns the quiet period before evaluating player state
func (c *AppConfig) GetDebounce() time.Duration {
	return c.Debounce
}

// GetClearOnExit reports whether our status is cleared on shutdown
func (c *AppConfig) GetClearOnExit() bool {
	return c.ClearOnExit
}

// IsKnownEmoji reports whether code is a standard emoji shortcode
func IsKnownEmoji(code string) bool {
	return strings.TrimSpace(emoji.Sprint(code)) != code
}

// isShortcode accepts :name: where name has no whitespace or colons
func isShortcode(s string) bool {
	if len(s) < 3 || s[0] != ':' || s[len(s)-1] != ':' {
		return false
	}
	name := s[1 : len(s)-1]
	return !strings.ContainsAny(name, ": \t\n")
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", appName)
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}
