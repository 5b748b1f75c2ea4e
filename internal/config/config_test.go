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
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "hyperfeed.db", c.DatabaseDSN)
	assert.Equal(t, "sql", c.ArchiveDSN)
	assert.Equal(t, 10, c.RenderLimit)
	assert.Equal(t, 30*time.Second, c.FetchTimeout)
	assert.Equal(t, MinPollInterval, c.PollInterval)
	assert.Equal(t, 24*time.Hour, c.TokenTTL)
	assert.Equal(t, "us-east-1", c.S3.Region)
	assert.False(t, c.Scrap)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, ":8080", c.Addr)
}

func TestLoad_JSONOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	body := `{"addr":":9999","archive_dsn":"memory","render_limit":25,"scrap":true,
	"fetch_timeout":"5s","poll_interval":"1h","s3":{"region":"eu-west-1"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", c.Addr)
	assert.Equal(t, "memory", c.ArchiveDSN)
	assert.Equal(t, 25, c.RenderLimit)
	assert.True(t, c.Scrap)
	assert.Equal(t, 5*time.Second, c.FetchTimeout)
	assert.Equal(t, time.Hour, c.PollInterval)
	assert.Equal(t, "eu-west-1", c.S3.Region)
	// untouched fields keep their defaults
	assert.Equal(t, "hyperfeed.db", c.DatabaseDSN)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "database_dsn: postgres://localhost/feeds\njwt_secret: s3cr3t\ntoken_ttl: 2h\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/feeds", c.DatabaseDSN)
	assert.Equal(t, "s3cr3t", c.JWTSecret)
	assert.Equal(t, 2*time.Hour, c.TokenTTL)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"addr":":1"}`), 0o644))
	t.Setenv("HYPERFEED_ADDR", ":2")
	t.Setenv("HYPERFEED_RENDER_LIMIT", "3")
	t.Setenv("HYPERFEED_SCRAP", "true")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":2", c.Addr)
	assert.Equal(t, 3, c.RenderLimit)
	assert.True(t, c.Scrap)
}

func TestLoad_PollIntervalFloor(t *testing.T) {
	t.Setenv("HYPERFEED_POLL_INTERVAL", "1m")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, MinPollInterval, c.PollInterval)
}

func TestEnvHelpersFallBackOnInvalidValue(t *testing.T) {
	t.Setenv("HYPERFEED_TEST_INT", "x")
	t.Setenv("HYPERFEED_TEST_BOOL", "maybe")
	t.Setenv("HYPERFEED_TEST_DURATION", "soon")

	assert.Equal(t, 7, intEnv("HYPERFEED_TEST_INT", 7))
	assert.True(t, boolEnv("HYPERFEED_TEST_BOOL", true))
	assert.Equal(t, time.Second, durationEnv("HYPERFEED_TEST_DURATION", time.Second))
}

func TestDuration_AcceptsNanoseconds(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte("1000000000")))
	assert.Equal(t, time.Second, d.Duration)

	require.Error(t, d.UnmarshalJSON([]byte(`"later"`)))
}
