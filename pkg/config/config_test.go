package config_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hive13/doorctl/pkg/config"
	"github.com/hive13/doorctl/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
intweb:
  url: https://intweb.example.org/api/access
  device: frontdoor
  item: back_door
  timeout: 5s
  retry:
    max_attempts: 4
    backoff:
      initial: 100ms
      max: 1s
      multiplier: 2
reader:
  command: /usr/local/bin/rfid_listener
  args: ["-d", "/dev/ttyUSB0"]
door:
  pin: /sys/class/gpio/gpio17/value
  hold_time: 3s
http:
  listen: ":8080"
discovery:
  enabled: true
log:
  level: debug
state:
  path: /var/lib/doorctl/state.json
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{
		config.EnvDeviceKey, config.EnvDeviceKeyFile, config.EnvURL,
		config.EnvDevice, config.EnvItem, config.EnvListen,
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvDeviceKey, "k3y")

	cfg, err := config.Load(writeFile(t, "doorctl.yaml", sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://intweb.example.org/api/access", cfg.Intweb.URL)
	assert.Equal(t, "frontdoor", cfg.Intweb.Device)
	assert.Equal(t, "back_door", cfg.Intweb.Item)
	assert.Equal(t, 5*time.Second, cfg.Intweb.Timeout)
	assert.Equal(t, 4, cfg.Intweb.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Intweb.Retry.Backoff.Initial)
	assert.Equal(t, []string{"-d", "/dev/ttyUSB0"}, cfg.Reader.Args)
	assert.Equal(t, 3*time.Second, cfg.Door.HoldTime)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, "k3y", string(cfg.Intweb.Key))

	// Unset sections keep their defaults.
	assert.Equal(t, config.Default().Controller, cfg.Controller)
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultItem, cfg.Intweb.Item)
	assert.Error(t, cfg.Validate())
}

func TestLoad_Missing(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvURL, "http://localhost:9000/api/access")
	t.Setenv(config.EnvDevice, "testdoor")
	t.Setenv(config.EnvItem, "annex")
	t.Setenv(config.EnvListen, "127.0.0.1:9090")
	t.Setenv(config.EnvDeviceKey, "envkey")

	cfg, err := config.Load(writeFile(t, "doorctl.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/api/access", cfg.Intweb.URL)
	assert.Equal(t, "testdoor", cfg.Intweb.Device)
	assert.Equal(t, "annex", cfg.Intweb.Item)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Listen)
}

func TestLoad_InlineKeyRejected(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "doorctl.yaml", "intweb:\n  device_key: hunter2\n")

	_, err := config.Load(path)
	assert.ErrorIs(t, err, config.ErrInlineKey)
}

func TestResolveKey(t *testing.T) {
	t.Run("key file", func(t *testing.T) {
		clearEnv(t)
		keyFile := writeFile(t, "device.key", "  filekey\n")
		path := writeFile(t, "doorctl.yaml", sampleYAML+"\n")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		cfg.Intweb.KeyFile = keyFile
		require.NoError(t, cfg.ResolveKey())
		assert.Equal(t, "filekey", string(cfg.Intweb.Key))
	})

	t.Run("env key file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(config.EnvDeviceKeyFile, writeFile(t, "device.key", "envfilekey"))

		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, "envfilekey", string(cfg.Intweb.Key))
	})

	t.Run("env wins over file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(config.EnvDeviceKey, "envkey")
		t.Setenv(config.EnvDeviceKeyFile, writeFile(t, "device.key", "filekey"))

		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, "envkey", string(cfg.Intweb.Key))
	})

	t.Run("empty key file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(config.EnvDeviceKeyFile, writeFile(t, "device.key", "\n"))

		_, err := config.Load("")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.Intweb.URL = "http://intweb/api/access"
		cfg.Intweb.Device = "frontdoor"
		cfg.Intweb.Key = config.Secret("k")
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no url", func(c *config.Config) { c.Intweb.URL = "" }},
		{"no device", func(c *config.Config) { c.Intweb.Device = "" }},
		{"no item", func(c *config.Config) { c.Intweb.Item = "" }},
		{"no key", func(c *config.Config) { c.Intweb.Key = nil }},
		{"inline key", func(c *config.Config) { c.Intweb.InlineKey = "x" }},
		{"zero timeout", func(c *config.Config) { c.Intweb.Timeout = 0 }},
		{"zero attempts", func(c *config.Config) { c.Intweb.Retry.MaxAttempts = 0 }},
		{"bad checksum", func(c *config.Config) { c.Intweb.Checksum = "md5" }},
		{"bad format", func(c *config.Config) { c.Reader.Format = "morse" }},
		{"zero hold", func(c *config.Config) { c.Door.HoldTime = 0 }},
		{"zero workers", func(c *config.Config) { c.Controller.Workers = 0 }},
		{"negative request timeout", func(c *config.Config) { c.Controller.RequestTimeout = -time.Second }},
		{"bad level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"discovery without http", func(c *config.Config) { c.Discovery.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIdentity(t *testing.T) {
	cfg := config.Default()
	cfg.Intweb.Device = "frontdoor"
	cfg.Intweb.Key = config.Secret("k")

	id, err := cfg.Identity()
	require.NoError(t, err)
	assert.Equal(t, "frontdoor", id.Name())
}

func TestSecret_NeverPrinted(t *testing.T) {
	cfg := config.Default()
	cfg.Intweb.Key = config.Secret("hunter2")

	for _, s := range []string{
		fmt.Sprint(cfg.Intweb.Key),
		fmt.Sprintf("%v", cfg),
		fmt.Sprintf("%+v", cfg.Intweb),
		fmt.Sprintf("%#v", cfg.Intweb.Key),
	} {
		assert.NotContains(t, s, "hunter2")
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("config", "key", cfg.Intweb.Key)
	assert.NotContains(t, buf.String(), "hunter2")

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	assert.Equal(t, "", config.Secret(nil).String())
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := config.ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := config.ParseLevel("verbose")
	assert.Error(t, err)
}

func TestRequestTimeout(t *testing.T) {
	t.Run("derived from retry budget", func(t *testing.T) {
		cfg := config.Default()
		budget := cfg.Intweb.Retry.Budget(cfg.Intweb.Timeout)

		assert.Equal(t, budget, cfg.RequestTimeout())
		assert.Greater(t, budget, time.Duration(cfg.Intweb.Retry.MaxAttempts)*cfg.Intweb.Timeout)
		assert.Greater(t, cfg.HTTPWriteTimeout(), cfg.RequestTimeout(),
			"a reply can still be written after the request times out")
	})

	t.Run("explicit", func(t *testing.T) {
		cfg := config.Default()
		cfg.Controller.RequestTimeout = 10 * time.Second
		cfg.HTTP.WriteTimeout = time.Minute

		assert.Equal(t, 10*time.Second, cfg.RequestTimeout())
		assert.Equal(t, time.Minute, cfg.HTTPWriteTimeout())
	})

	t.Run("short write timeout is raised", func(t *testing.T) {
		cfg := config.Default()
		cfg.Controller.RequestTimeout = 30 * time.Second
		cfg.HTTP.WriteTimeout = time.Second

		assert.Greater(t, cfg.HTTPWriteTimeout(), 30*time.Second)
	})
}
