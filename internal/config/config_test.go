package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "secret: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Secret)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "memory", cfg.IdempotencyStore)
	assert.Equal(t, "none", cfg.Notify.Type)
	assert.Equal(t, 25, cfg.Email.Port)
	assert.Equal(t, []string{"consultant", "inspector"}, cfg.ApproverRoles("Equipment"))
	require.NotNil(t, cfg.Storage.SQLite)
	assert.Equal(t, getConfigPath()+"/./data/storage.db", cfg.Storage.SQLite.Path)
	assert.Same(t, cfg, Cfg)
}

func TestLoadConfigFileOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
secret: s
storage:
  local:
    path: ":memory:"
workflow:
  chains:
    material: [inspector]
email:
  host: smtp.example.com
  port: 587
`))
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Storage.SQLite.Path)
	assert.Equal(t, []string{"inspector"}, cfg.ApproverRoles("material"))
	assert.Equal(t, "smtp.example.com", cfg.Email.Host)
	assert.Equal(t, 587, cfg.Email.Port)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("LISTEN", ":9999")
	t.Setenv("NOTIFY_TYPE", "email")

	cfg, err := LoadConfig(writeConfig(t, "secret: s\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "email", cfg.Notify.Type)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{TokenTTL: 60, IdempotencyStore: "memory", Notify: NotifyConfig{Type: "none"}}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.IdempotencyStore = "redis"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Notify.Type = "sns"
	assert.Error(t, cfg.Validate())
	cfg.Notify.SNS.TopicArn = "arn:aws:sns:eu-north-1:123456789012:decisions"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.TokenTTL = 0
	assert.Error(t, cfg.Validate())
}

func TestApproverRolesUnknownType(t *testing.T) {
	cfg := Config{}
	assert.Nil(t, cfg.ApproverRoles("equipment"))
}
