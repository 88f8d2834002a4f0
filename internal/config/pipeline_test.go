package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyPipelineConfig_Defaults(t *testing.T) {
	cfg := EmptyPipelineConfig()

	assert.Equal(t, 60, cfg.GetFrameHistory())
	assert.Equal(t, 20, cfg.GetImageHistory())
	assert.Equal(t, 60, cfg.GetQuadHistory())
	assert.Equal(t, 24, cfg.GetImagePoolSize())
	assert.False(t, cfg.GetImagePoolGrowable())
	assert.Equal(t, 1.5, cfg.GetImagePoolGrowth())
	assert.Equal(t, time.Second, cfg.GetPollTimeout())
	assert.Equal(t, 50*time.Millisecond, cfg.GetPendingFrameTimeout())
	assert.Equal(t, 64, cfg.GetMaxPendingFrames())
	assert.Equal(t, 256, cfg.GetListenerQueueSize())
	assert.False(t, cfg.GetAutoRestart())
	assert.Equal(t, 3, cfg.GetMaxRestarts())
	assert.Equal(t, 500*time.Millisecond, cfg.GetRestartDelay())
	assert.Equal(t, []string{"images"}, cfg.GetPolicies())
	assert.Equal(t, "", cfg.GetJournalPath())
}

func TestPipelineConfig_PoolSizeFollowsImageHistory(t *testing.T) {
	cfg := &PipelineConfig{ImageHistory: ptrInt(10)}
	assert.Equal(t, 14, cfg.GetImagePoolSize())

	cfg.ImagePoolSize = ptrInt(3)
	assert.Equal(t, 3, cfg.GetImagePoolSize())
}

func TestLoad_PartialConfig(t *testing.T) {
	path := writeConfig(t, "partial.json", `{
		"frame_history": 5,
		"pending_frame_timeout": "20ms",
		"auto_restart": true,
		"policies": ["images", "raw_images"]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.GetFrameHistory())
	assert.Equal(t, 20*time.Millisecond, cfg.GetPendingFrameTimeout())
	assert.True(t, cfg.GetAutoRestart())
	assert.Equal(t, []string{"images", "raw_images"}, cfg.GetPolicies())
	// untouched fields keep defaults
	assert.Equal(t, time.Second, cfg.GetPollTimeout())
}

func TestLoad_DefaultsFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.GetFrameHistory())
	assert.Equal(t, 24, cfg.GetImagePoolSize())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{"frame_history":`, "failed to parse"},
		{"zero history", "zero.json", `{"frame_history": 0}`, "frame_history must be at least 1"},
		{"bad duration", "dur.json", `{"poll_timeout": "soon"}`, "invalid poll_timeout"},
		{"negative duration", "neg.json", `{"pending_frame_timeout": "-5ms"}`, "must be non-negative"},
		{"growth too small", "growth.json", `{"image_pool_growth": 1.0}`, "image_pool_growth"},
		{"negative restarts", "restarts.json", `{"max_restarts": -1}`, "max_restarts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := Load(path)
			require.Error(t, err)
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestPipelineConfig_InvalidDurationFallsBack(t *testing.T) {
	cfg := &PipelineConfig{PollTimeout: ptrString("garbage"), AutoRestart: ptrBool(true)}
	assert.Equal(t, time.Second, cfg.GetPollTimeout())
	assert.True(t, cfg.GetAutoRestart())
}

func TestLoad_SourceSection(t *testing.T) {
	path := writeConfig(t, "src.json", `{"source": {"kind": "serial", "path": "/dev/ttyACM0", "baud_rate": 115200, "parity": "E"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	src := cfg.GetSource()
	assert.Equal(t, "serial", src.Kind)
	assert.Equal(t, "/dev/ttyACM0", src.Path)
	assert.Equal(t, 115200, src.BaudRate)
	assert.Equal(t, "E", src.Parity)

	assert.Equal(t, SourceConfig{}, EmptyPipelineConfig().GetSource())

	for _, body := range []string{
		`{"source": {"kind": "usb"}}`,
		`{"source": {"baud_rate": -1}}`,
		`{"source": {"frame_rate": -5}}`,
	} {
		_, err := Load(writeConfig(t, "bad.json", body))
		assert.Error(t, err, body)
	}
}
