package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, FormatJSONL, cfg.ExportFormat)
	assert.True(t, cfg.ExportArchive)
	assert.Equal(t, 20*time.Millisecond, cfg.GetReplayInterval())
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Defaults(), cfg); diff != "" {
		t.Errorf("Load(\"\") mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "weccap.json", `{
  "listen": ":9090",
  "export_format": "csv",
  "export_archive": false
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := Defaults()
	want.Listen = ":9090"
	want.ExportFormat = FormatCSV
	want.ExportArchive = false
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "weccap.yaml", `
backend_url: ws://rig.local:3001/events
replay_interval: 5ms
queue_size: 64
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://rig.local:3001/events", cfg.BackendURL)
	assert.Equal(t, 5*time.Millisecond, cfg.GetReplayInterval())
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, ":8080", cfg.Listen, "fields absent from the file keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "weccap.json", `{"listen": ":9090"}`)
	t.Setenv("WECCAP_LISTEN", ":7070")
	t.Setenv("WECCAP_EXPORT_ARCHIVE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.False(t, cfg.ExportArchive)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "weccap.toml", "listen = 1", "extension"},
		{"bad json", "weccap.json", "{", "parse config JSON"},
		{"bad yaml", "weccap.yaml", "listen: [", "parse config YAML"},
		{"format", "weccap.json", `{"export_format":"xml"}`, "export_format"},
		{"interval", "weccap.json", `{"replay_interval":"soon"}`, "replay_interval"},
		{"negative interval", "weccap.json", `{"replay_interval":"-1s"}`, "replay_interval"},
		{"queue", "weccap.json", `{"queue_size":0}`, "queue_size"},
		{"no source", "weccap.json", `{"backend_url":"","replay_file":""}`, "backend_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "stat"))
}

func TestLoad_TooLarge(t *testing.T) {
	body := `{"listen":":8080","pad":"` + strings.Repeat("x", maxFileSize) + `"}`
	_, err := Load(writeFile(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
