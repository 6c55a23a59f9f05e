package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/statesync/errors"
)

// isolate points HOME and the working directory at fresh temp dirs and
// clears the cached config so nothing on the host leaks into a test.
func isolate(t *testing.T) (home, project string) {
	t.Helper()
	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)

	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(project))

	oldSystem := SystemConfigPath
	SystemConfigPath = filepath.Join(t.TempDir(), "missing.toml")

	Reset()
	t.Cleanup(func() {
		_ = os.Chdir(oldWd)
		SystemConfigPath = oldSystem
		Reset()
	})
	return home, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, DefaultWriteResyncThresholdMS, cfg.Sync.WriteResyncThresholdMS)
	assert.Equal(t, DefaultFullStateDebounceMS, cfg.Sync.FullStateDebounceMS)
	assert.Equal(t, 8*time.Second, cfg.Sync.WriteResyncThreshold())
	assert.Equal(t, time.Second, cfg.Sync.FullStateDebounce())
	assert.Zero(t, cfg.Sync.HeartbeatInterval())
	assert.Equal(t, DefaultServerAddress, cfg.Server.Address)
	assert.Contains(t, cfg.Server.AllowedOrigins, "http://localhost")
	assert.False(t, cfg.Log.JSON)

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero threshold", func(c *Config) { c.Sync.WriteResyncThresholdMS = 0 }, true},
		{"negative debounce", func(c *Config) { c.Sync.FullStateDebounceMS = -1 }, true},
		{"debounce not below threshold", func(c *Config) { c.Sync.FullStateDebounceMS = c.Sync.WriteResyncThresholdMS }, true},
		{"zero heartbeat follows threshold", func(c *Config) { c.Sync.HeartbeatIntervalMS = 0 }, false},
		{"negative heartbeat", func(c *Config) { c.Sync.HeartbeatIntervalMS = -5 }, true},
		{"unlimited inbound rate", func(c *Config) { c.Sync.MaxInboundPerSecond = 0; c.Sync.InboundBurst = 0 }, false},
		{"negative inbound rate", func(c *Config) { c.Sync.MaxInboundPerSecond = -1 }, true},
		{"rate without burst", func(c *Config) { c.Sync.InboundBurst = 0 }, true},
		{"peer without url", func(c *Config) { c.Sync.Peers = map[string]string{"phone": ""} }, true},
		{"peer with url", func(c *Config) { c.Sync.Peers = map[string]string{"phone": "http://phone.local:8797"} }, false},
		{"address without port", func(c *Config) { c.Server.Address = "localhost" }, true},
		{"watch without file", func(c *Config) { c.Server.WatchStateFile = true }, true},
		{"watch with file", func(c *Config) { c.Server.WatchStateFile = true; c.Server.StateFile = "state.json" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidConfigurationError(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(home, ".statesync", "am.toml"), `
[sync]
name = "from-user"
full_state_debounce_ms = 500
`)
	writeFile(t, filepath.Join(project, "am.toml"), `
[sync]
name = "from-project"
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-project", cfg.Sync.Name)
	assert.Equal(t, 500, cfg.Sync.FullStateDebounceMS, "user keys not set by the project survive")
	assert.Equal(t, DefaultWriteResyncThresholdMS, cfg.Sync.WriteResyncThresholdMS)

	assert.Equal(t, SourceProject, ConfigSources["sync.name"].Source)
	assert.Equal(t, SourceUser, ConfigSources["sync.full_state_debounce_ms"].Source)
}

func TestLoad_ProjectConfigFoundUpward(t *testing.T) {
	_, project := isolate(t)
	writeFile(t, filepath.Join(project, "am.toml"), `
[server]
address = "0.0.0.0:9000"
`)
	nested := filepath.Join(project, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.Chdir(nested))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	_, project := isolate(t)
	writeFile(t, filepath.Join(project, "am.toml"), `
[sync]
name = "from-project"
`)
	t.Setenv("STATESYNC_SYNC_NAME", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Sync.Name)

	introspection, err := GetConfigIntrospection()
	require.NoError(t, err)
	setting, ok := introspection.Lookup("sync.name")
	require.True(t, ok)
	assert.Equal(t, SourceEnvironment, setting.Source)
	assert.Equal(t, "STATESYNC_SYNC_NAME", setting.SourcePath)

	setting, ok = introspection.Lookup("server.address")
	require.True(t, ok)
	assert.Equal(t, SourceDefault, setting.Source)
}

func TestLoad_Cached(t *testing.T) {
	isolate(t)

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)
	assert.Same(t, first, second)

	Reset()
	third, err := Load()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestGetHelpers(t *testing.T) {
	isolate(t)

	assert.Equal(t, DefaultServerAddress, GetString("server.address"))
	assert.Equal(t, DefaultWriteResyncThresholdMS, GetInt("sync.write_resync_threshold_ms"))
	assert.Equal(t, DefaultMaxInboundPerSecond, GetFloat64("sync.max_inbound_per_second"))
	assert.False(t, GetBool("log.json"))
	assert.NotNil(t, Get("server.allowed_origins"))
}

func TestSave_RoundTripAndBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "am.toml")

	cfg := DefaultConfig()
	cfg.Sync.Name = "laptop"
	cfg.Sync.Peers = map[string]string{"phone": "http://phone.local:8797"}
	require.NoError(t, Save(path, cfg))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "laptop", loaded.Sync.Name)
	assert.Equal(t, "http://phone.local:8797", loaded.Sync.Peers["phone"])

	for i := 0; i < 4; i++ {
		cfg.Sync.InboundBurst = 200 + i
		require.NoError(t, Save(path, cfg))
	}

	assert.FileExists(t, path+".back1")
	assert.FileExists(t, path+".back2")
	assert.FileExists(t, path+".back3")
	assert.NoFileExists(t, path+".back4")

	newest, err := LoadFromFile(path + ".back1")
	require.NoError(t, err)
	assert.Equal(t, 202, newest.Sync.InboundBurst)
}

func TestSave_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	cfg := DefaultConfig()
	cfg.Sync.WriteResyncThresholdMS = 0

	assert.Error(t, Save(path, cfg))
	assert.NoFileExists(t, path)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")

	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "existing config must not be overwritten")
	require.NoError(t, WriteDefault(path, true))
	assert.FileExists(t, path+".back1")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultServerAddress, cfg.Server.Address)
}
