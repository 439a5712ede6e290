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
	c, err := LoadDefault()
	require.NoError(t, err)

	assert.Equal(t, "wss://gateway.discord.gg/?v=9&encoding=json", c.Gateway.URL)
	assert.Equal(t, 253, c.Gateway.Capabilities)
	assert.Equal(t, 4*time.Second, c.Gateway.BackoffBase())
	assert.Equal(t, 2*time.Second, c.Gateway.BackoffStep())
	assert.Equal(t, 60*time.Second, c.Gateway.AttemptTimeout())
	assert.Equal(t, 100, c.State.MessageLimit)
	assert.Equal(t, "gw_state_token", c.Persist.TokenKey())
	assert.False(t, c.Isolated)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatgw.yaml")
	yml := `
gateway:
  url: ws://127.0.0.1:9000/gateway
  backoff_base_ms: 10
state:
  message_limit: 25
isolated: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("CHATGW_STATE_MESSAGE_LIMIT", "40")
	t.Setenv("CHATGW_API_ENDPOINT", "http://127.0.0.1:9000/api")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:9000/gateway", c.Gateway.URL)
	assert.Equal(t, 10*time.Millisecond, c.Gateway.BackoffBase())
	assert.Equal(t, 2*time.Second, c.Gateway.BackoffStep()) // default kept
	assert.Equal(t, 40, c.State.MessageLimit)                 // env wins over file
	assert.Equal(t, "http://127.0.0.1:9000/api", c.API.Endpoint)
	assert.True(t, c.Isolated)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
