package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Platform modes.
const (
	PlatformModeSupabase = "supabase"
	PlatformModeLocal    = "local"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Platform PlatformConfig    `yaml:"platform"`
	Local    LocalConfig       `yaml:"local"`
	Tabs     TabsConfig        `yaml:"tabs"`
	View     ViewConfig        `yaml:"view"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Platform.Validate(); err != nil {
		return err
	}
	if c.Platform.Mode == PlatformModeLocal {
		if err := c.Local.Validate(); err != nil {
			return fmt.Errorf("local: %w", err)
		}
	}
	return c.Tabs.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// DevMode drops the Secure attribute from the tab cookie so the app
	// works over plain http on localhost.
	DevMode bool `yaml:"dev_mode"`
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

// PlatformConfig selects the backend platform.
//
// Mode is one of:
//   - "supabase" (default): a hosted project; URL and AnonKey are required.
//   - "local": an embedded SQLite platform configured by LocalConfig.
type PlatformConfig struct {
	Mode    string        `yaml:"mode"`
	URL     string        `yaml:"url"`
	AnonKey string        `yaml:"anon_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the platform configuration.
func (c *PlatformConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = PlatformModeSupabase
	}
	supabase := c.Mode == PlatformModeSupabase
	err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(PlatformModeSupabase, PlatformModeLocal)),
		validation.Field(&c.URL, validation.When(supabase, validation.Required, is.URL)),
		validation.Field(&c.AnonKey, validation.When(supabase, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	return nil
}

// LocalConfig configures the embedded platform.
type LocalConfig struct {
	SQLitePath      string        `yaml:"sqlite_path"`
	JWTSecret       string        `yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// Validate validates the local platform configuration.
func (c *LocalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SQLitePath, validation.Required),
		validation.Field(&c.JWTSecret, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.AccessTokenTTL, validation.Min(time.Second)),
		validation.Field(&c.RefreshTokenTTL, validation.Min(time.Minute)),
	)
}

// TabsConfig controls how long idle browser tabs are kept.
type TabsConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Validate validates the tabs configuration.
func (c *TabsConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.IdleTimeout, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.CleanupInterval, validation.Required, validation.Min(time.Second)),
	)
	if err != nil {
		return fmt.Errorf("tabs: %w", err)
	}
	return nil
}

// ViewConfig holds page rendering configuration.
type ViewConfig struct {
	// TemplatesDir, when set, loads templates from disk and reloads them on
	// change. Empty uses the templates built into the binary.
	TemplatesDir string `yaml:"templates_dir"`
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
		Platform: PlatformConfig{
			Mode:    PlatformModeSupabase,
			Timeout: 10 * time.Second,
		},
		Local: LocalConfig{
			SQLitePath:      "./catnip.db",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 30 * 24 * time.Hour,
		},
		Tabs: TabsConfig{
			IdleTimeout:     30 * time.Minute,
			CleanupInterval: time.Minute,
		},
	}
}
