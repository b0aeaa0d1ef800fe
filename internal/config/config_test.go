package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Ledger.Issuers = []string{"0xissuer"}
	return cfg
}

func TestDefaultsValidateWithIssuers(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trading"
	cfg.LogLevel = "verbose"
	cfg.Postgres.Port = 0
	cfg.Ledger.Issuers = nil
	cfg.Server.Port = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "postgres: port")
	assert.Contains(t, err.Error(), "at least one issuer")
	assert.Contains(t, err.Error(), "server: port")
}

func TestValidateAnchorRequiresChain(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	cfg.Archive.Anchor = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anchor requires chain.enabled")

	cfg.Chain.Enabled = true
	cfg.Chain.RPCURL = "https://rpc.example.org"
	cfg.Chain.AnchorAddress = "0xAnchor"
	cfg.Chain.PrivateKey = "deadbeef"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[ledger]
issuers = ["0xissuer"]
maturity_poll = "30s"

[server]
port = 9000

[server.api_keys]
"issuer-key" = "0xissuer"
`), 0o600))

	t.Setenv("BONDD_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("BONDD_SERVER_API_KEYS", "ops-key=0xops")
	t.Setenv("BONDD_LEDGER_LOCK_TTL", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Ledger.MaturityPoll.Duration)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTTL.Duration)
	// Env map override replaces the file-provided keys.
	assert.Equal(t, map[string]string{"ops-key": "0xops"}, cfg.Server.APIKeys)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost", cfg.Postgres.Host)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Chain.PrivateKey = "deadbeef"
	cfg.Server.APIKeys = map[string]string{"real-key": "0xcaller"}

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Chain.PrivateKey)
	assert.NotContains(t, red.Server.APIKeys, "real-key")

	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
