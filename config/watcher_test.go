package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "basilisk.toml")
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nworkers = 1\n"), 0644))

	watcher, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer watcher.Stop()

	reloaded := make(chan *Config, 1)
	watcher.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	watcher.Start()

	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nworkers = 3\n"), 0644))

	select {
	case cfg := <-reloaded:
		require.NotNil(t, cfg)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback not invoked")
	}
}

func TestConfigWatcherIgnoresOwnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "basilisk.toml")
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nworkers = 1\n"), 0644))

	watcher, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer watcher.Stop()

	reloaded := make(chan *Config, 1)
	watcher.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	watcher.Start()

	watcher.MarkOwnWrite()
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nworkers = 2\n"), 0644))

	select {
	case <-reloaded:
		t.Fatal("own write should not trigger reload")
	case <-time.After(time.Second):
	}
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/home/x/.basilisk/basilisk.toml.back1"))
	assert.True(t, isBackupFile("config.toml.back2"))
	assert.False(t, isBackupFile("/home/x/.basilisk/basilisk.toml"))
	assert.False(t, isBackupFile("config.toml"))
}

func TestWatcherMissingFile(t *testing.T) {
	_, err := NewConfigWatcher(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
