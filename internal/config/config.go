package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// DefaultPath is used when neither CONFIG_PATH nor --config is given.
const DefaultPath = "configs/nuka-dispatch.json"

// Config is the top-level configuration structure.
type Config struct {
	Server           ServerConfig       `json:"server"`
	Orchestrator     OrchestratorConfig `json:"orchestrator"`
	Database         DatabaseConfig     `json:"database"`
	WorkflowsFile    string             `json:"workflows_file"`
	CapabilitiesFile string             `json:"capabilities_file"`
	MigrationsDir    string             `json:"migrations_dir"`
	Workers          []WorkerConfig     `json:"workers"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type OrchestratorConfig struct {
	PoolSize       int      `json:"pool_size"`
	ExecuteTimeout Duration `json:"execute_timeout"`
	Retention      Duration `json:"retention"`
	PruneInterval  Duration `json:"prune_interval"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// WorkerConfig declares a worker instantiated from a template at startup.
type WorkerConfig struct {
	Template       string            `json:"template"`
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	OrganizationID string            `json:"organization_id"`
	WorkflowID     string            `json:"workflow_id"`
	PhaseID        string            `json:"phase_id"`
	Capabilities   []string          `json:"capabilities"`
	MaxConcurrent  int               `json:"max_concurrent"`
	Config         map[string]string `json:"config,omitempty"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a JSON config after env substitution and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Orchestrator.PoolSize <= 0 {
		c.Orchestrator.PoolSize = 10
	}
	if c.Orchestrator.Retention > 0 && c.Orchestrator.PruneInterval == 0 {
		c.Orchestrator.PruneInterval = Duration(10 * time.Minute)
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = "migrations"
	}
}

// Validate reports the first structural problem in c.
func (c *Config) Validate() error {
	if c.Orchestrator.ExecuteTimeout < 0 || c.Orchestrator.Retention < 0 || c.Orchestrator.PruneInterval < 0 {
		return fmt.Errorf("orchestrator: durations must not be negative")
	}
	seen := make(map[string]bool)
	for i, w := range c.Workers {
		if w.Template == "" {
			return fmt.Errorf("workers[%d]: template is required", i)
		}
		if w.OrganizationID == "" {
			return fmt.Errorf("workers[%d]: organization_id is required", i)
		}
		if w.ID != "" {
			if seen[w.ID] {
				return fmt.Errorf("workers[%d]: duplicate id %q", i, w.ID)
			}
			seen[w.ID] = true
		}
	}
	return nil
}
