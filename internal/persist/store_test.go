package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTripsThroughDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	_, ok := s.Get("gw_state_token")
	assert.False(t, ok)

	require.NoError(t, s.Set("gw_state_token", "secret"))

	reopened, err := Open(path)
	require.NoError(t, err)
	v, ok := reopened.Get("gw_state_token")
	require.True(t, ok)
	assert.Equal(t, "secret", v)

	require.NoError(t, reopened.Delete("gw_state_token"))
	again, err := Open(path)
	require.NoError(t, err)
	_, ok = again.Get("gw_state_token")
	assert.False(t, ok)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file left behind")
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s := Memory()
	require.NoError(t, s.Set("k", "v"))
	v, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	require.NoError(t, s.Delete("missing"))
}
