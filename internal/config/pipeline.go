package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig is the root configuration for the frame-assembly runtime.
// Every field is optional; the Get* accessors supply defaults for anything
// the JSON omits, so partial configs are safe.
type PipelineConfig struct {
	// History sizes
	FrameHistory *int `json:"frame_history,omitempty"`
	ImageHistory *int `json:"image_history,omitempty"`
	QuadHistory  *int `json:"quad_history,omitempty"`

	// Image pool
	ImagePoolSize     *int     `json:"image_pool_size,omitempty"`
	ImagePoolGrowable *bool    `json:"image_pool_growable,omitempty"`
	ImagePoolGrowth   *float64 `json:"image_pool_growth,omitempty"`

	// Dispatch loop
	PollTimeout         *string `json:"poll_timeout,omitempty"`          // duration string like "1s"
	PendingFrameTimeout *string `json:"pending_frame_timeout,omitempty"` // duration string like "50ms"
	MaxPendingFrames    *int    `json:"max_pending_frames,omitempty"`
	ListenerQueueSize   *int    `json:"listener_queue_size,omitempty"`

	// Recovery
	AutoRestart  *bool   `json:"auto_restart,omitempty"`
	MaxRestarts  *int    `json:"max_restarts,omitempty"`
	RestartDelay *string `json:"restart_delay,omitempty"`

	// Policies requested at startup, by name (see tracking.ParsePolicies)
	Policies []string `json:"policies,omitempty"`

	// Diagnostics journal; empty disables it
	JournalPath *string `json:"journal_path,omitempty"`

	// Tracking source selection
	Source *SourceConfig `json:"source,omitempty"`
}

// SourceConfig selects and configures the driver source. Zero values mean
// "use the source's default".
type SourceConfig struct {
	Kind      string  `json:"kind,omitempty"` // synthetic, serial or disabled
	Path      string  `json:"path,omitempty"` // serial device path
	BaudRate  int     `json:"baud_rate,omitempty"`
	DataBits  int     `json:"data_bits,omitempty"`
	StopBits  int     `json:"stop_bits,omitempty"`
	Parity    string  `json:"parity,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"` // synthetic only
	Seed      int64   `json:"seed,omitempty"`       // synthetic only
	Reorder   bool    `json:"reorder,omitempty"`    // synthetic only
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// Load reads a PipelineConfig from a JSON file. The file must have a .json
// extension and be at most 1MB.
func Load(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set values are in range and durations parse.
func (c *PipelineConfig) Validate() error {
	for name, v := range map[string]*int{
		"frame_history":       c.FrameHistory,
		"image_history":       c.ImageHistory,
		"quad_history":        c.QuadHistory,
		"image_pool_size":     c.ImagePoolSize,
		"max_pending_frames":  c.MaxPendingFrames,
		"listener_queue_size": c.ListenerQueueSize,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	if c.MaxRestarts != nil && *c.MaxRestarts < 0 {
		return fmt.Errorf("max_restarts must be non-negative, got %d", *c.MaxRestarts)
	}

	if c.ImagePoolGrowth != nil && *c.ImagePoolGrowth <= 1 {
		return fmt.Errorf("image_pool_growth must be greater than 1, got %f", *c.ImagePoolGrowth)
	}

	for name, v := range map[string]*string{
		"poll_timeout":          c.PollTimeout,
		"pending_frame_timeout": c.PendingFrameTimeout,
		"restart_delay":         c.RestartDelay,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if src := c.Source; src != nil {
		switch src.Kind {
		case "", "synthetic", "serial", "disabled":
		default:
			return fmt.Errorf("unknown source kind %q", src.Kind)
		}
		if src.BaudRate < 0 {
			return fmt.Errorf("source.baud_rate must be non-negative, got %d", src.BaudRate)
		}
		if src.FrameRate < 0 {
			return fmt.Errorf("source.frame_rate must be non-negative, got %f", src.FrameRate)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetFrameHistory returns the frame_history value or the default.
func (c *PipelineConfig) GetFrameHistory() int { return intOr(c.FrameHistory, 60) }

// GetImageHistory returns the image_history value or the default.
func (c *PipelineConfig) GetImageHistory() int { return intOr(c.ImageHistory, 20) }

// GetQuadHistory returns the quad_history value or the default.
func (c *PipelineConfig) GetQuadHistory() int { return intOr(c.QuadHistory, 60) }

// GetImagePoolSize returns the image_pool_size value or the default, which
// leaves headroom over the image history for buffers still being filled.
func (c *PipelineConfig) GetImagePoolSize() int {
	return intOr(c.ImagePoolSize, c.GetImageHistory()+4)
}

// GetImagePoolGrowable returns the image_pool_growable value or the default.
func (c *PipelineConfig) GetImagePoolGrowable() bool {
	if c.ImagePoolGrowable == nil {
		return false
	}
	return *c.ImagePoolGrowable
}

// GetImagePoolGrowth returns the image_pool_growth value or the default.
func (c *PipelineConfig) GetImagePoolGrowth() float64 {
	if c.ImagePoolGrowth == nil {
		return 1.5
	}
	return *c.ImagePoolGrowth
}

// GetPollTimeout returns the poll_timeout value or the default.
func (c *PipelineConfig) GetPollTimeout() time.Duration {
	return durationOr(c.PollTimeout, 1000*time.Millisecond)
}

// GetPendingFrameTimeout returns the pending_frame_timeout value or the default.
func (c *PipelineConfig) GetPendingFrameTimeout() time.Duration {
	return durationOr(c.PendingFrameTimeout, 50*time.Millisecond)
}

// GetMaxPendingFrames returns the max_pending_frames value or the default.
func (c *PipelineConfig) GetMaxPendingFrames() int { return intOr(c.MaxPendingFrames, 64) }

// GetListenerQueueSize returns the listener_queue_size value or the default.
func (c *PipelineConfig) GetListenerQueueSize() int { return intOr(c.ListenerQueueSize, 256) }

// GetAutoRestart returns the auto_restart value or the default.
func (c *PipelineConfig) GetAutoRestart() bool {
	if c.AutoRestart == nil {
		return false
	}
	return *c.AutoRestart
}

// GetMaxRestarts returns the max_restarts value or the default.
func (c *PipelineConfig) GetMaxRestarts() int { return intOr(c.MaxRestarts, 3) }

// GetRestartDelay returns the restart_delay value or the default.
func (c *PipelineConfig) GetRestartDelay() time.Duration {
	return durationOr(c.RestartDelay, 500*time.Millisecond)
}

// GetPolicies returns the requested startup policies or the default set.
func (c *PipelineConfig) GetPolicies() []string {
	if c.Policies == nil {
		return []string{"images"}
	}
	return c.Policies
}

// GetJournalPath returns the journal_path value or "" when disabled.
func (c *PipelineConfig) GetJournalPath() string {
	if c.JournalPath == nil {
		return ""
	}
	return *c.JournalPath
}

// GetSource returns the source section, or a zero SourceConfig when unset.
func (c *PipelineConfig) GetSource() SourceConfig {
	if c.Source == nil {
		return SourceConfig{}
	}
	return *c.Source
}
