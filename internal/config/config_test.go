package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 8*time.Second, cfg.Model.ClassifyTimeout.Std())
	assert.Equal(t, 5*time.Minute, cfg.Planner.PlanTTL.Std())
	assert.Equal(t, "assist.classify", cfg.NATS.ClassifySubject)
	assert.Empty(t, cfg.Tenants)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "9090"
  env: production
model:
  name: llama3.1:8b
  classify_timeout: 3s
planner:
  plan_ttl: 10m
  phase: 3
tenants:
  - id: clinic-a
    name: Duyu İşitme Merkezi
    status: ACTIVE
    api_keys:
      - key_id: abc123
        secret_hash: $2a$10$xxxxxxxxxxxxxxxxxxxxxx
    users:
      - id: u1
        permissions: [party:read, party:write]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "llama3.1:8b", cfg.Model.Name)
	assert.Equal(t, 3*time.Second, cfg.Model.ClassifyTimeout.Std())
	assert.Equal(t, 10*time.Minute, cfg.Planner.PlanTTL.Std())
	assert.Equal(t, 3, cfg.Planner.Phase)

	require.Len(t, cfg.Tenants, 1)
	tenant := cfg.Tenants[0]
	assert.Equal(t, "clinic-a", tenant.ID)
	assert.Equal(t, "ACTIVE", tenant.Status)
	require.Len(t, tenant.Users, 1)
	assert.Equal(t, []string{"party:read", "party:write"}, tenant.Users[0].Permissions)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("OLLAMA_MODEL", "mistral:7b")
	t.Setenv("PLAN_TTL", "2m")
	t.Setenv("NATS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "mistral:7b", cfg.Model.Name)
	assert.Equal(t, 2*time.Minute, cfg.Planner.PlanTTL.Std())
	assert.True(t, cfg.NATS.Enabled)
}

func TestLoadBadDurationFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  classify_timeout: soon\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
