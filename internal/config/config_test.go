package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, float64(15), cfg.Capture.DefaultFPS)
	assert.Equal(t, 640, cfg.Capture.DefaultWidth)
	assert.Equal(t, 480, cfg.Capture.DefaultHeight)
	assert.Equal(t, 10, cfg.Capture.BufferSize)
	assert.Equal(t, 0.5, cfg.Events.MinConfidence)
	assert.Equal(t, []string{"person"}, cfg.Events.AllowedClasses)
	assert.Equal(t, 30, cfg.Events.CooldownSeconds)
	assert.Equal(t, 5, cfg.Events.ClipLeadingSeconds)
	assert.Equal(t, 30, cfg.Events.ClipTrailingSeconds)
	assert.Equal(t, 20, cfg.Events.ClipFPS)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEServers)
	assert.Equal(t, "images", cfg.Storage.ImgSubdir)
	assert.Equal(t, "videos", cfg.Storage.VideoSubdir)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  addr: \":9000\"\ncapture:\n  default_fps: 10\nevents:\n  cooldown_seconds: 5\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, float64(10), cfg.Capture.DefaultFPS)
	assert.Equal(t, 5, cfg.Events.CooldownSeconds)
	// untouched keys keep defaults
	assert.Equal(t, 10, cfg.Capture.BufferSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("NATS_URL", "nats://mq:4222")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, "nats://mq:4222", cfg.NATS.URL)
}

func TestDSN(t *testing.T) {
	db := DBConfig{Host: "h", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", db.DSN())
}
