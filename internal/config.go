package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Dictionary backends.
const (
	BackendFlat   = "flat"
	BackendSQLite = "sqlite"
	BackendBoth   = "both"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Notes      NotesConfig       `yaml:"notes"`
	Rules      RulesConfig       `yaml:"rules"`
	Links      LinksConfig       `yaml:"links"`
	Dictionary DictionaryConfig  `yaml:"dictionary"`
	Suggest    SuggestConfig     `yaml:"suggest"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Notes.Validate(); err != nil {
		return fmt.Errorf("notes: %w", err)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if err := c.Links.Validate(); err != nil {
		return fmt.Errorf("links: %w", err)
	}
	if err := c.Dictionary.Validate(); err != nil {
		return fmt.Errorf("dictionary: %w", err)
	}
	if err := c.Suggest.Validate(); err != nil {
		return fmt.Errorf("suggest: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// NotesConfig locates the note collection.
type NotesConfig struct {
	Path       string   `yaml:"path"`
	Extensions []string `yaml:"extensions"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Extensions, validation.Each(validation.Required)),
	)
}

// RulesConfig locates the keyword→folder rule file.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the rules configuration.
func (c *RulesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// LinksConfig sets the base directory for relative rule folders.
type LinksConfig struct {
	Root string `yaml:"root"`
}

// Validate validates the links configuration.
func (c *LinksConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// DictionaryConfig selects and configures the dictionary backend.
type DictionaryConfig struct {
	Backend     string        `yaml:"backend"`
	FlatPath    string        `yaml:"flat_path"`
	SQLitePath  string        `yaml:"sqlite_path"`
	BackupDir   string        `yaml:"backup_dir"`
	BusyRetries int           `yaml:"busy_retries"`
	BusyDelay   time.Duration `yaml:"busy_delay"`
}

// UsesFlat reports whether the flat file is written.
func (c *DictionaryConfig) UsesFlat() bool {
	return c.Backend == BackendFlat || c.Backend == BackendBoth
}

// UsesSQLite reports whether the relational store is used.
func (c *DictionaryConfig) UsesSQLite() bool {
	return c.Backend == BackendSQLite || c.Backend == BackendBoth
}

// Validate validates the dictionary configuration.
func (c *DictionaryConfig) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendFlat, BackendSQLite, BackendBoth)),
		validation.Field(&c.FlatPath, validation.When(c.UsesFlat(), validation.Required)),
		validation.Field(&c.SQLitePath, validation.When(c.UsesSQLite(), validation.Required)),
		validation.Field(&c.BusyRetries, validation.Min(0), validation.Max(20)),
		validation.Field(&c.BusyDelay, validation.Min(time.Duration(0))),
	)
}

// SuggestConfig configures the external inference endpoint. An empty
// endpoint disables suggestions.
type SuggestConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Token             string        `yaml:"token"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	MaxOutputTokens   int           `yaml:"max_output_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	DefaultConfidence float64       `yaml:"default_confidence"`
	Concurrency       int           `yaml:"concurrency"`
}

// Enabled reports whether an endpoint is configured.
func (c *SuggestConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Validate validates the suggestion configuration.
func (c *SuggestConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, is.URL),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.MaxOutputTokens, validation.When(c.Enabled(), validation.Required, validation.Min(1))),
		validation.Field(&c.Timeout, validation.When(c.Enabled(), validation.Required)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.DefaultConfidence, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Concurrency, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Notes: NotesConfig{
			Path:       "./notes",
			Extensions: []string{".md", ".txt"},
		},
		Rules: RulesConfig{
			Path: "./rules.txt",
		},
		Links: LinksConfig{
			Root: "./keywords",
		},
		Dictionary: DictionaryConfig{
			Backend:     BackendBoth,
			FlatPath:    "./dictionary.yaml",
			SQLitePath:  "./slipbox.db",
			BackupDir:   "./backups",
			BusyRetries: 5,
			BusyDelay:   50 * time.Millisecond,
		},
		Suggest: SuggestConfig{
			Temperature:       0.2,
			MaxOutputTokens:   256,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			DefaultConfidence: 0.95,
			Concurrency:       2,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
