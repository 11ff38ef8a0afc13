package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-org/relink/logging"
	"github.com/risa-org/relink/transport"
)

const sample = `
url = "wss://rt.example.com/connection/websocket"
tls_skip_verify = true
mode = "persistent"
backend = "gorilla"
handshake_timeout = "3s"
write_timeout = "750ms"
read_limit = 65536
subprotocols = ["centrifuge-protobuf"]
metrics_addr = ":9464"

[headers]
Authorization = "Bearer token"

[log]
level = "debug"
timestamp = false
json = true
`

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relink.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "wss://rt.example.com/connection/websocket", cfg.URL)
	assert.True(t, cfg.TLSSkipVerify)
	assert.Equal(t, ModePersistent, cfg.Mode)
	assert.Equal(t, BackendGorilla, cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.WriteTimeout)
	assert.Equal(t, int64(65536), cfg.ReadLimit)
	assert.Equal(t, []string{"centrifuge-protobuf"}, cfg.Subprotocols)
	assert.Equal(t, ":9464", cfg.MetricsAddr)
	assert.Equal(t, "Bearer token", cfg.Headers["Authorization"])
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `url = "ws://localhost:8000/connection"`))
	require.NoError(t, err)

	assert.Equal(t, ModeReinstantiating, cfg.Mode)
	assert.Equal(t, BackendNhooyr, cfg.Backend)
	assert.Equal(t, defaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, defaultWriteTimeout, cfg.WriteTimeout)
	assert.False(t, cfg.TLSSkipVerify)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvURL, "ws://override:9000/ws")
	t.Setenv(EnvTLSSkipVerify, "true")
	t.Setenv(EnvMode, "PERSISTENT")
	t.Setenv(EnvBackend, "gorilla")

	cfg, err := Load(writeConfig(t, `url = "ws://localhost:8000/connection"`))
	require.NoError(t, err)

	assert.Equal(t, "ws://override:9000/ws", cfg.URL)
	assert.True(t, cfg.TLSSkipVerify)
	assert.Equal(t, ModePersistent, cfg.Mode)
	assert.Equal(t, BackendGorilla, cfg.Backend)
}

func TestLoadFromEnvOnly(t *testing.T) {
	t.Setenv(EnvURL, "ws://env-only/ws")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ws://env-only/ws", cfg.URL)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "config load failed")

	_, err = Load(writeConfig(t, `url = `))
	assert.ErrorContains(t, err, "config parse failed")

	t.Setenv(EnvTLSSkipVerify, "maybe")
	_, err = Load(writeConfig(t, `url = "ws://localhost"`))
	assert.ErrorContains(t, err, EnvTLSSkipVerify)
}

func TestValidate(t *testing.T) {
	base := Config{URL: "ws://localhost", Mode: ModeReinstantiating, Backend: BackendNhooyr}
	require.NoError(t, Validate(base))

	cases := map[string]func(c *Config){
		"missing url": func(c *Config) { c.URL = "" },
		"bad scheme":  func(c *Config) { c.URL = "ftp://localhost" },
		"bad mode":    func(c *Config) { c.Mode = "sticky" },
		"bad backend": func(c *Config) { c.Backend = "quic" },
		"negative":    func(c *Config) { c.ReadLimit = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, Validate(c))
		})
	}
}

func TestEndpoint(t *testing.T) {
	cfg, err := Parse(sample)
	require.NoError(t, err)

	ep := cfg.Endpoint()
	assert.Equal(t, cfg.URL, ep.URL)
	assert.True(t, ep.TLSSkipVerify)
	assert.Equal(t, "Bearer token", ep.Header.Get("Authorization"))
	assert.Equal(t, 3*time.Second, ep.HandshakeTimeout)
	assert.Equal(t, 750*time.Millisecond, ep.WriteTimeout)
	assert.Equal(t, int64(65536), ep.ReadLimit)
}

func TestBuild(t *testing.T) {
	cfg, err := Parse(`url = "ws://localhost:8000"`)
	require.NoError(t, err)

	tr, err := Build(cfg)
	require.NoError(t, err)
	assert.IsType(t, &transport.Reinstantiating{}, tr)

	cfg.Mode = ModePersistent
	cfg.Backend = BackendGorilla
	tr, err = Build(cfg)
	require.NoError(t, err)
	assert.IsType(t, &transport.Persistent{}, tr)

	cfg.Backend = "quic"
	_, err = Build(cfg)
	assert.Error(t, err)
}

func TestLogging(t *testing.T) {
	cfg, err := Parse(sample)
	require.NoError(t, err)

	lc := cfg.Logging(logging.ProfileRuntime)
	assert.Equal(t, zerolog.DebugLevel, lc.Level)
	assert.False(t, lc.Timestamp)
	assert.True(t, lc.JSON)
}
