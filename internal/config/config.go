package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"timetable/internal/fsutil"
)

// Period maps one hour index (1-based, by position in Config.Periods) to a
// wall-clock slot. Used by the calendar export.
type Period struct {
	Start string `yaml:"start" json:"start"` // HH:MM
	End   string `yaml:"end" json:"end"`     // HH:MM
}

// SessionConfig controls login tokens.
type SessionConfig struct {
	// Secret signs session tokens. When empty a random secret is generated at
	// startup, which invalidates sessions on every restart.
	Secret   string `yaml:"secret" json:"-"`
	TTLHours int    `yaml:"ttl_hours" json:"ttl_hours"`
}

// CSRFConfig enables gorilla/csrf protection on state-changing requests when
// Key is set (32 bytes; shorter keys are rejected by Normalize).
type CSRFConfig struct {
	Key            string   `yaml:"key" json:"-"`
	Secure         bool     `yaml:"secure" json:"secure"`
	TrustedOrigins []string `yaml:"trusted_origins" json:"trusted_origins"`
}

// AdminSeed describes the account created when the user directory is empty.
type AdminSeed struct {
	Abbreviation string `yaml:"abbreviation" json:"abbreviation"`
	Name         string `yaml:"name" json:"name"`
	Password     string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// BasePath prefixes every route, e.g. "/reservation" for subdirectory hosting.
	BasePath string `yaml:"base_path" json:"base_path"`

	// DataDir holds one JSON document per timetable.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// UsersDir holds one JSON document per account.
	UsersDir string `yaml:"users_dir" json:"users_dir"`

	// StaticDir, if set, is served at <base_path>/app.
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// Timezone is the IANA zone used for "today" and for calendar export.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Periods gives the wall-clock slot of each lesson hour.
	Periods []Period `yaml:"periods" json:"periods"`

	// CORSOrigins lists allowed origins; "*" allows all.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	Session SessionConfig `yaml:"session" json:"session"`
	CSRF    CSRFConfig    `yaml:"csrf" json:"csrf"`
	Admin   AdminSeed     `yaml:"admin" json:"admin"`

	// BcryptCost is the password hashing cost for new accounts.
	BcryptCost int `yaml:"bcrypt_cost" json:"bcrypt_cost"`
}

const (
	defaultListen     = "0.0.0.0:3000"
	defaultDataDir    = "data/timetables"
	defaultUsersDir   = "data/Users"
	defaultTimezone   = "Local"
	defaultTTLHours   = 12
	defaultBcryptCost = 12
	minBcryptCost     = 4
	maxBcryptCost     = 31
)

// DefaultPeriods is a school day of eight 45 minute lessons.
func DefaultPeriods() []Period {
	return []Period{
		{Start: "08:00", End: "08:45"},
		{Start: "08:55", End: "09:40"},
		{Start: "09:50", End: "10:35"},
		{Start: "10:55", End: "11:40"},
		{Start: "11:50", End: "12:35"},
		{Start: "13:20", End: "14:05"},
		{Start: "14:15", End: "15:00"},
		{Start: "15:10", End: "15:55"},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		BasePath:    "",
		DataDir:     defaultDataDir,
		UsersDir:    defaultUsersDir,
		Timezone:    defaultTimezone,
		LogLevel:    "info",
		Periods:     DefaultPeriods(),
		CORSOrigins: []string{"*"},
		Session:     SessionConfig{TTLHours: defaultTTLHours},
		Admin:       AdminSeed{Abbreviation: "admin", Name: "Administrator"},
		BcryptCost:  defaultBcryptCost,
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	c.BasePath = normalizeBasePath(c.BasePath)
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.UsersDir == "" {
		c.UsersDir = defaultUsersDir
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Periods == nil {
		c.Periods = DefaultPeriods()
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{"*"}
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = defaultTTLHours
	}
	if c.CSRF.Key != "" && len(c.CSRF.Key) != 32 {
		// gorilla/csrf requires a 32 byte key; anything else disables protection.
		c.CSRF.Key = ""
	}
	if c.Admin.Abbreviation == "" {
		c.Admin.Abbreviation = "admin"
	}
	if c.Admin.Name == "" {
		c.Admin.Name = "Administrator"
	}
	if c.BcryptCost < minBcryptCost || c.BcryptCost > maxBcryptCost {
		c.BcryptCost = defaultBcryptCost
	}
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SessionTTL returns the session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides (see ApplyEnv) are applied in both cases but are never
// written back to disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Environment variables recognized by ApplyEnv.
const (
	EnvConfigPath    = "TIMETABLE_CONFIG"
	EnvListen        = "TIMETABLE_LISTEN"
	EnvDataDir       = "TIMETABLE_DATA_DIR"
	EnvUsersDir      = "TIMETABLE_USERS_DIR"
	EnvSessionSecret = "TIMETABLE_SESSION_SECRET"
	EnvAdminPassword = "TIMETABLE_ADMIN_PASSWORD"
	EnvLogLevel      = "TIMETABLE_LOG_LEVEL"
)

// ApplyEnv overrides selected fields from TIMETABLE_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvUsersDir); v != "" {
		c.UsersDir = v
	}
	if v := os.Getenv(EnvSessionSecret); v != "" {
		c.Session.Secret = v
	}
	if v := os.Getenv(EnvAdminPassword); v != "" {
		c.Admin.Password = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(path, data, 0o600, ".timetable-config-*.tmp")
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
