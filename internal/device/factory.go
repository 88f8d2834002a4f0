package device

import (
	"fmt"

	"github.com/banshee-data/motionframe/internal/timeutil"
	"github.com/banshee-data/motionframe/internal/tracking"
)

// Source kinds accepted by New.
const (
	KindSynthetic = "synthetic"
	KindSerial    = "serial"
	KindDisabled  = "disabled"
)

// Options selects and configures a source.
type Options struct {
	Kind string

	// Serial bridge
	Path   string
	Serial SerialOptions

	// Synthetic generator
	FrameRate float64
	Seed      int64
	Reorder   bool

	Clock timeutil.Clock
}

// New builds the source opts describes.
func New(opts Options) (tracking.Source, error) {
	switch opts.Kind {
	case KindSynthetic, "":
		s := NewSyntheticSource(opts.Clock, opts.Seed)
		if opts.FrameRate > 0 {
			s.FrameRate = opts.FrameRate
		}
		s.Reorder = opts.Reorder
		return s, nil
	case KindSerial:
		if opts.Path == "" {
			return nil, fmt.Errorf("serial source needs a port path")
		}
		if _, err := opts.Serial.Normalize(); err != nil {
			return nil, err
		}
		return NewSerialSource(opts.Path, opts.Serial, nil, opts.Clock), nil
	case KindDisabled:
		return NewDisabledSource(opts.Clock), nil
	default:
		return nil, fmt.Errorf("unknown source %q: expected %s, %s or %s", opts.Kind, KindSynthetic, KindSerial, KindDisabled)
	}
}
