package config

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv(t *testing.T) {
	t.Setenv("WORKTRACK_API_KEY", "secret")
	t.Setenv("WORKTRACK_TASK_STORE", "sqlite")
	t.Setenv("WORKTRACK_WATCH_EXTERNAL_CHANGES", "true")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "secret", env.APIKey)
	assert.Equal(t, "3100", env.HTTPPort)
	assert.Equal(t, "sqlite", env.TaskStore)
	assert.True(t, env.WatchExternalChanges)
	assert.False(t, env.VAPIDEnv.Configured())
}

func TestLoadEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing api key", env: map[string]string{}},
		{name: "unknown task store", env: map[string]string{"WORKTRACK_API_KEY": "k", "WORKTRACK_TASK_STORE": "mongo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WORKTRACK_API_KEY", "")
			require.NoError(t, os.Unsetenv("WORKTRACK_API_KEY"))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadCLIEnv(t *testing.T) {
	t.Setenv("WORKTRACK_API_KEY", "")
	require.NoError(t, os.Unsetenv("WORKTRACK_API_KEY"))
	t.Setenv("WORKTRACK_STORAGE_BASE_DIR", "/tmp/wt")

	storageEnv, err := LoadStorageEnv()
	require.NoError(t, err)
	assert.Equal(t, "local", storageEnv.Type)
	assert.Equal(t, "/tmp/wt", storageEnv.BaseDir)

	taskEnv, err := LoadTaskStoreEnv()
	require.NoError(t, err)
	assert.Equal(t, "yaml", taskEnv.TaskStore)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "info", want: slog.LevelInfo},
		{level: "WARN", want: slog.LevelWarn},
		{level: "bogus", want: slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			e := &BaseEnv{LogLevel: tt.level}
			assert.Equal(t, tt.want, e.SlogLevel())
		})
	}
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()

	s, local, err := (&StorageEnv{Type: "local", BaseDir: dir}).OpenStorage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.Equal(t, local, s)

	_, _, err = (&StorageEnv{Type: "s3"}).OpenStorage(context.Background())
	assert.Error(t, err)

	_, _, err = (&StorageEnv{Type: "ftp"}).OpenStorage(context.Background())
	assert.Error(t, err)
}
