package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(afero.NewMemMapFs(), "/etc/boiding/server.yaml")
	require.NoError(t, err)
	require.Equal(t, ":8000", c.HTTPAddr)
	require.Equal(t, ":3435", c.SocketAddr)
	require.Equal(t, 100*time.Millisecond, c.Tick())
	require.Equal(t, 5*time.Second, c.HeartbeatInterval())
	require.Equal(t, 0.01, c.Spawn.MaxSpeed)
	require.False(t, c.Brain.ApplyIntent)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "server.yaml", []byte(`
http_addr: ":9000"
tick_ms: 40
spawn:
  max_speed: 0.02
  command_count: 3
brain:
  apply_intent: true
`), 0o644))

	c, err := Load(fsys, "server.yaml")
	require.NoError(t, err)
	require.Equal(t, ":9000", c.HTTPAddr)
	require.Equal(t, 40*time.Millisecond, c.Tick())
	require.Equal(t, 0.02, c.Spawn.MaxSpeed)
	require.Equal(t, 3, c.Spawn.CommandCount)
	require.Equal(t, 10, c.Spawn.CommandBurst)
	require.True(t, c.Brain.ApplyIntent)
}

func TestLoad_BadYAML(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "server.yaml", []byte("tick_ms: [nope"), 0o644))
	_, err := Load(fsys, "server.yaml")
	require.ErrorContains(t, err, "server.yaml")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BOIDING_ADDRESS", "127.0.0.1:7000")
	t.Setenv("BOIDING_TICK_MS", "250")
	t.Setenv("BOIDING_HEARTBEAT_SECONDS", "2")
	t.Setenv("BOIDING_DISABLE_DB", "true")

	c, err := Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", c.HTTPAddr)
	require.Equal(t, 250*time.Millisecond, c.Tick())
	require.Equal(t, 2*time.Second, c.HeartbeatInterval())
	require.True(t, c.DisableDB)
}

func TestApplyEnv_RejectsGarbage(t *testing.T) {
	c := Defaults()
	err := c.applyEnv(func(k string) (string, bool) {
		if k == "BOIDING_TICK_MS" {
			return "fast", true
		}
		return "", false
	})
	require.ErrorContains(t, err, "BOIDING_TICK_MS")
}

func TestValidate(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.Validate())

	c.SocketAddr = c.HTTPAddr
	require.Error(t, c.Validate())

	c = Defaults()
	c.TickMs = -1
	require.Error(t, c.Validate())
}
