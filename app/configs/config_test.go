package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr, err := NewManager(path)
	require.NoError(t, err)

	cfg := mgr.Get()
	assert.Equal(t, 24, cfg.Task.TTLHours)
	assert.Equal(t, 3, cfg.Task.MaxQuestionRounds)
	assert.Equal(t, 60, cfg.Session.TTLMinutes)
	assert.Equal(t, 10, cfg.Session.HistoryWindow)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Classify.SingleMatchPriority)
}

func TestConfigFilePersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := NewManager(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "expected config file written")
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": 9999}}`), 0644))

	mgr, err := NewManager(path)
	require.NoError(t, err)

	cfg := mgr.Get()
	assert.Equal(t, 9999, cfg.Server.Port, "explicit value kept")
	assert.Equal(t, 4, cfg.Queue.Workers, "defaults filled around explicit values")
}

func TestEnvOverridesAndSecretStripping(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	t.Setenv("PEERAGENT_LLM_PROVIDER", "anthropic")

	path := filepath.Join(t.TempDir(), "config.json")
	mgr, err := NewManager(path)
	require.NoError(t, err)

	cfg := mgr.Get()
	assert.Equal(t, "sk-test-123", cfg.LLM.OpenAIAPIKey)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-test-123", "secrets must not be persisted")
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr, err := NewManager(path)
	require.NoError(t, err)

	_, err = mgr.Update(func(cfg *Config) {
		cfg.Server.Port = 9000
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk Config
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 9000, onDisk.Server.Port)
}
