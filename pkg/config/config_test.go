package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobain/overseer/pkg/role"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "main", cfg.WorkBranch)
	assert.Equal(t, WorkModeRoadmap, cfg.WorkMode)
	assert.Len(t, cfg.EnableRoles, 6)
	assert.Equal(t, 300*time.Second, cfg.StaleHeartbeatDuration())
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
work_branch: develop
max_restarts_per_agent: 2
restart_backoff_base: 5
work_mode: workstore
priority_number: 4
tick_interval:
  architect: 60
enable_roles: [architect, code_developer]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "develop", cfg.WorkBranch)
	assert.Equal(t, 2, cfg.MaxRestartsPerAgent)
	assert.Equal(t, 5*time.Second, cfg.RestartBackoffBaseDuration())
	assert.Equal(t, WorkModeWorkStore, cfg.WorkMode)
	assert.Equal(t, 4, cfg.PriorityNumber)
	assert.Equal(t, []role.Role{role.Architect, role.CodeDeveloper}, cfg.EnableRoles)

	// Explicit override wins; unset roles keep their defaults.
	assert.Equal(t, time.Minute, cfg.TickInterval(role.Architect))
	assert.Equal(t, time.Duration(role.DefaultTickInterval(role.CodeSearcher))*time.Second, cfg.TickInterval(role.CodeSearcher))

	// Fields the file doesn't mention keep their defaults.
	assert.Equal(t, ":9464", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.MaxRetriesPerItem)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("work_branch: develop\n"), 0o644))

	t.Setenv("OVERSEER_WORK_BRANCH", "hotfix")
	t.Setenv("OVERSEER_STALE_HEARTBEAT", "120")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hotfix", cfg.WorkBranch)
	assert.Equal(t, 120, cfg.StaleHeartbeat)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty work branch", func(c *Config) { c.WorkBranch = "" }},
		{"missing status dir", func(c *Config) { c.StatusDir = "" }},
		{"supervisor in enable_roles", func(c *Config) { c.EnableRoles = []role.Role{role.Supervisor} }},
		{"unknown role", func(c *Config) { c.EnableRoles = []role.Role{"intern"} }},
		{"bad work mode", func(c *Config) { c.WorkMode = "psychic" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
