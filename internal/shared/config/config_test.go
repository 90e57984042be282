package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint64(DefaultMaxCapacity), cfg.Compression.MaxCapacity)
	assert.Equal(t, uint16(DefaultBlockedStreams), cfg.Compression.BlockedStreams)
	assert.True(t, cfg.Compression.Huffman)
	assert.Equal(t, DefaultRelayAddress, cfg.Relay.Address)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"compression:\n"+
			"  max_capacity: 220\n"+
			"  blocked_streams: 2\n"+
			"  huffman: false\n"+
			"log_level: debug\n",
	), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(220), cfg.Compression.MaxCapacity)
	assert.Equal(t, uint16(2), cfg.Compression.BlockedStreams)
	assert.False(t, cfg.Compression.Huffman)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultRelayAddress, cfg.Relay.Address)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seep.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
