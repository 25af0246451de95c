// Package config loads the single structured configuration object the
// supervisor and every agent process read at startup: a YAML file with
// environment-variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bobain/overseer/pkg/role"
)

// Config is the full set of options recognized by the system.
type Config struct {
	WorkBranch          string                 `yaml:"work_branch"`
	StatusDir           string                 `yaml:"status_dir"`
	MessageDir          string                 `yaml:"message_dir"`
	RegistryDir         string                 `yaml:"registry_dir"`
	WorkStorePath       string                 `yaml:"work_store_path"`
	SpecStorePath       string                 `yaml:"spec_store_path"`
	RecordsPath         string                 `yaml:"records_path"`
	RoadmapPath         string                 `yaml:"roadmap_path"`
	ListenAddr          string                 `yaml:"listen_addr"`

	// WorkMode selects where code_developer finds its next unit of
	// work: "roadmap" walks the planned roadmap items directly,
	// "workstore" claims ordered units from the work store. One mode
	// per deployment; the two must not be mixed.
	WorkMode       string `yaml:"work_mode"`
	PriorityNumber int    `yaml:"priority_number"`
	TickIntervalSeconds map[role.Role]int      `yaml:"tick_interval"`
	MaxRestartsPerAgent int                    `yaml:"max_restarts_per_agent"`
	RestartBackoffBase  int                    `yaml:"restart_backoff_base"`
	StaleHeartbeat      int                    `yaml:"stale_heartbeat"`
	ShutdownGrace       int                    `yaml:"shutdown_grace"`
	MaxRetriesPerItem   int                    `yaml:"max_retries_per_item"`
	EnableRoles         []role.Role            `yaml:"enable_roles"`
	TestCommand         []string               `yaml:"test_command"`
	LLM                 LLMConfig              `yaml:"llm"`
}

// LLMConfig configures the default Anthropic-backed LLMClient.
type LLMConfig struct {
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		WorkBranch:          "main",
		StatusDir:           "./.overseer/status",
		MessageDir:          "./.overseer/messages",
		RegistryDir:         "./.overseer/registry",
		WorkStorePath:       "./.overseer/work.db",
		SpecStorePath:       "./.overseer/specs.db",
		RecordsPath:         "./.overseer/records.db",
		RoadmapPath:         "./ROADMAP.md",
		ListenAddr:          ":9464",
		WorkMode:            WorkModeRoadmap,
		PriorityNumber:      1,
		TickIntervalSeconds: defaultTickIntervals(),
		MaxRestartsPerAgent: 5,
		RestartBackoffBase:  10,
		StaleHeartbeat:      300,
		ShutdownGrace:       30,
		MaxRetriesPerItem:   3,
		EnableRoles:         append([]role.Role(nil), role.Agents...),
		TestCommand:         []string{"go", "test", "./..."},
		LLM: LLMConfig{
			Model:          "claude-sonnet-4-5",
			APIKeyEnv:      "ANTHROPIC_API_KEY",
			TimeoutSeconds: 600,
		},
	}
}

func defaultTickIntervals() map[role.Role]int {
	m := make(map[role.Role]int, len(role.Agents))
	for _, r := range role.Agents {
		m[r] = role.DefaultTickInterval(r)
	}
	return m
}

// Load reads the YAML file at path over the defaults, then applies any
// OVERSEER_-prefixed environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OVERSEER_WORK_BRANCH"); v != "" {
		cfg.WorkBranch = v
	}
	if v := os.Getenv("OVERSEER_STATUS_DIR"); v != "" {
		cfg.StatusDir = v
	}
	if v := os.Getenv("OVERSEER_MESSAGE_DIR"); v != "" {
		cfg.MessageDir = v
	}
	if v := os.Getenv("OVERSEER_MAX_RESTARTS_PER_AGENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRestartsPerAgent = n
		}
	}
	if v := os.Getenv("OVERSEER_STALE_HEARTBEAT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StaleHeartbeat = n
		}
	}
}

// Validate checks the configuration invariants the supervisor and agents
// depend on before they start doing work.
func (c Config) Validate() error {
	if c.WorkBranch == "" {
		return fmt.Errorf("config: work_branch is required")
	}
	if c.StatusDir == "" || c.MessageDir == "" {
		return fmt.Errorf("config: status_dir and message_dir are required")
	}
	for _, r := range c.EnableRoles {
		if !role.Valid(r) || r == role.Supervisor {
			return fmt.Errorf("config: enable_roles contains invalid role %q", r)
		}
	}
	if c.WorkMode != WorkModeRoadmap && c.WorkMode != WorkModeWorkStore {
		return fmt.Errorf("config: work_mode must be %q or %q, got %q", WorkModeRoadmap, WorkModeWorkStore, c.WorkMode)
	}
	return nil
}

// Work modes for code_developer's "next work" source.
const (
	WorkModeRoadmap   = "roadmap"
	WorkModeWorkStore = "workstore"
)

// TickInterval returns the configured tick interval for r, falling back
// to the role's default if unset.
func (c Config) TickInterval(r role.Role) time.Duration {
	if secs, ok := c.TickIntervalSeconds[r]; ok {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(role.DefaultTickInterval(r)) * time.Second
}

// StaleHeartbeatDuration returns StaleHeartbeat as a time.Duration.
func (c Config) StaleHeartbeatDuration() time.Duration {
	return time.Duration(c.StaleHeartbeat) * time.Second
}

// ShutdownGraceDuration returns ShutdownGrace as a time.Duration.
func (c Config) ShutdownGraceDuration() time.Duration {
	return time.Duration(c.ShutdownGrace) * time.Second
}

// RestartBackoffBaseDuration returns RestartBackoffBase as a time.Duration.
func (c Config) RestartBackoffBaseDuration() time.Duration {
	return time.Duration(c.RestartBackoffBase) * time.Second
}
