package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "trellis", cfg.AppName)
	assert.Equal(t, 3004, cfg.Port)
	assert.Equal(t, 4, cfg.Match.WorkerCount)
	assert.Equal(t, 200*time.Millisecond, cfg.Match.BatchBackoff)
	assert.Equal(t, 15*time.Minute, cfg.Match.RunLockTTL)
	assert.Equal(t, "marine", cfg.Match.PrefixDomains["MREQ"])
	assert.Equal(t, "storage", cfg.Match.ProductDomains["edge"])
	assert.Equal(t, []string{"customFields.*", "summary", "description"}, cfg.Match.CandidateFields)
	assert.Equal(t, 30, cfg.Rollup.WindowDays)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		path := writeFile(t, `
port = 9000
log_level = "debug"

[match]
worker_count = 8
batch_backoff = "1s"

[kafka]
enabled = true
compression = "zstd"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 8, cfg.Match.WorkerCount)
		assert.Equal(t, time.Second, cfg.Match.BatchBackoff)
		assert.True(t, cfg.Kafka.Enabled)
		assert.Equal(t, "zstd", cfg.Kafka.Compression)
		assert.Equal(t, 100, cfg.Match.LinkBatchSize)
	})

	t.Run("env wins over file", func(t *testing.T) {
		path := writeFile(t, "port = 9000\n")
		t.Setenv("TRELLIS_PORT", "9100")
		t.Setenv("TRELLIS_MATCH__WORKER_COUNT", "6")
		t.Setenv("TRELLIS_DB__HOST", "db.internal")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Port)
		assert.Equal(t, 6, cfg.Match.WorkerCount)
		assert.Equal(t, "db.internal", cfg.Database.Host)
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		require.NoError(t, err)
		assert.Equal(t, 3004, cfg.Port)
	})
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{name: "log level", contents: `log_level = "loud"`, wantErr: "invalid configuration"},
		{name: "worker count", contents: "[match]\nworker_count = 0\n", wantErr: "invalid configuration"},
		{name: "compression", contents: "[kafka]\ncompression = \"brotli\"\n", wantErr: "invalid configuration"},
		{name: "otel protocol", contents: "[otel]\nprotocol = \"udp\"\n", wantErr: "invalid configuration"},
		{name: "bad toml", contents: "port = ", wantErr: "error loading config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.contents))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: "5432", UserName: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
