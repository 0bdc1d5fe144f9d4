package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidation(t *testing.T) {
	cfg := Default()
	assert.NoError(t, validate.Struct(cfg))
}

func TestLoadWithoutPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Listen, cfg.Listen)
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
listen: "opc.tcp://0.0.0.0:4841"
limits:
  min_publishing_interval: 100ms
  max_publishing_interval: 1h
  min_queue_size: 1
  max_queue_size: 100
  max_continuation_points: 5
  max_monitored_items_per_subscription: 100
  session_timeout: 5m
logging:
  level: DEBUG
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "opc.tcp://0.0.0.0:4841", cfg.Listen)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadRejectsInvertedPublishingIntervalBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
listen: "opc.tcp://0.0.0.0:4841"
limits:
  min_publishing_interval: 1h
  max_publishing_interval: 100ms
  min_queue_size: 1
  max_queue_size: 100
  max_continuation_points: 5
  max_monitored_items_per_subscription: 100
  session_timeout: 5m
logging:
  level: INFO
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
