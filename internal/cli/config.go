package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
)

// Backend kinds accepted by the CLI.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config represents the stillsuit configuration from stillsuit.yaml.
type Config struct {
	// Top-level convenience fields
	Model string `mapstructure:"model"`

	// Backend selection and connection settings
	Backend BackendConfig `mapstructure:"backend"`

	// Per-command configuration
	Run    RunConfig     `mapstructure:"run"`
	Load   LoadCmdConfig `mapstructure:"load"`
	Doctor DoctorConfig  `mapstructure:"doctor"`
}

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	// Kind is memory, postgres or sqlite.
	Kind string `mapstructure:"kind"`

	// Path is the database file for the sqlite backend.
	Path string `mapstructure:"path"`

	// Database holds the postgres connection settings.
	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig holds postgres connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RunConfig holds run command settings.
type RunConfig struct {
	Roles   []string `mapstructure:"roles"`
	Data    string   `mapstructure:"data"`
	Profile bool     `mapstructure:"profile"`
}

// LoadCmdConfig holds load command settings.
type LoadCmdConfig struct {
	Data string `mapstructure:"data"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("STILLSUIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	// Top-level defaults
	v.SetDefault("model", "stillsuit-model.yaml")

	// Backend defaults
	v.SetDefault("backend.kind", BackendMemory)
	v.SetDefault("backend.path", "stillsuit.db")
	v.SetDefault("backend.database.url", "")
	v.SetDefault("backend.database.host", "")
	v.SetDefault("backend.database.port", 5432)
	v.SetDefault("backend.database.name", "")
	v.SetDefault("backend.database.user", "")
	v.SetDefault("backend.database.password", "")
	v.SetDefault("backend.database.sslmode", "prefer")

	// Run defaults
	v.SetDefault("run.roles", []string{})
	v.SetDefault("run.data", "")
	v.SetDefault("run.profile", false)

	// Load defaults
	v.SetDefault("load.data", "")

	// Doctor defaults
	v.SetDefault("doctor.verbose", false)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for stillsuit.yaml or stillsuit.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Auto-discovery: walk up to .git or maxWalkDepth
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		// Try stillsuit.yaml then stillsuit.yml
		for _, name := range []string{"stillsuit.yaml", "stillsuit.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		// Move up
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// DSN returns the postgres connection string.
// If backend.database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Backend.Database

	if db.URL != "" {
		return db.URL, nil
	}

	// Build DSN from discrete fields
	if db.Host == "" {
		return "", fmt.Errorf("backend.database.host is required when backend.database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("backend.database.name is required when backend.database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("backend.database.user is required when backend.database.url is not set")
	}

	// Build postgres:// URL
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// ResolvedModel returns the effective model path, with the flag value
// taking precedence over the config file.
func (c *Config) ResolvedModel(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return c.Model
}
