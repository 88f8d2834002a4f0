package framecodec

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/motionframe/internal/tracking"
)

// ErrEmptyMessage is returned when a message carries no event or request.
var ErrEmptyMessage = errors.New("framecodec: empty message")

// PolicyRequest asks a bridge to change its policy flags.
type PolicyRequest struct {
	Set, Clear tracking.Policy
}

// Message is one unit on a bridge stream. Exactly one of Event and Policy
// is set. Pixels accompany an ImageCompleteEvent and carry the image data
// the bridge captured for the buffer named by its Handle.
type Message struct {
	Event  tracking.Event
	Pixels []byte
	Policy *PolicyRequest
}

// Envelope field numbers. Events use their EventType value.
const (
	msgPixels protowire.Number = 100
	msgPolicy protowire.Number = 101
)

// EncodeMessage serialises m.
func EncodeMessage(m Message) ([]byte, error) {
	var e encoder
	switch {
	case m.Policy != nil:
		e.message(msgPolicy, func(e *encoder) {
			e.uint64(1, uint64(m.Policy.Set))
			e.uint64(2, uint64(m.Policy.Clear))
		})
	case m.Event != nil:
		if err := appendEvent(&e, m.Event); err != nil {
			return nil, err
		}
		e.bytes(msgPixels, m.Pixels)
	default:
		return nil, ErrEmptyMessage
	}
	return e.b, nil
}

func appendEvent(e *encoder, ev tracking.Event) error {
	num := protowire.Number(tracking.TypeOf(ev))
	switch v := ev.(type) {
	case tracking.ConnectionEvent:
		e.message(num, func(e *encoder) { e.uint64(1, uint64(v.Flags)) })
	case tracking.ConnectionLostEvent:
		e.message(num, func(e *encoder) { e.uint64(1, uint64(v.Flags)) })
	case tracking.DeviceEvent:
		e.message(num, func(e *encoder) { appendDevice(e, v.Device) })
	case tracking.DeviceLostEvent:
		e.message(num, func(e *encoder) { appendDevice(e, v.Device) })
	case tracking.DeviceFailureEvent:
		e.message(num, func(e *encoder) {
			e.uint64(1, uint64(v.Status))
			e.string(2, v.Path)
		})
	case tracking.TrackingEvent:
		e.message(num, func(e *encoder) {
			e.int64(1, v.FrameID)
			e.int64(2, v.Timestamp)
			appendTracking(e, 3, 4, 5, v.Hands, v.Fingers, v.Tools)
		})
	case tracking.ImageRequestEvent:
		e.message(num, func(e *encoder) {
			e.int64(1, v.FrameID)
			e.uint64(2, uint64(v.Type))
			e.uint64(3, uint64(v.Format))
			e.int64(4, int64(v.Width))
			e.int64(5, int64(v.Height))
			e.int64(6, int64(v.BytesPerPixel))
		})
	case tracking.ImageCompleteEvent:
		e.message(num, func(e *encoder) {
			e.int64(1, int64(v.Handle))
			e.int64(2, v.FrameID)
			e.int64(3, v.SequenceID)
			e.sint32(4, v.Side)
			e.uint64(5, uint64(v.Perspective))
			e.float32(6, v.RayOffsetX)
			e.float32(7, v.RayOffsetY)
			e.float32(8, v.RayScaleX)
			e.float32(9, v.RayScaleY)
			e.uint64(10, v.DistortionVersion)
			e.floats(11, v.DistortionMatrix)
		})
	case tracking.TrackedQuadEvent:
		e.message(num, func(e *encoder) {
			e.int64(1, v.FrameID)
			e.int64(2, v.Timestamp)
			e.float32(3, v.Width)
			e.float32(4, v.Height)
			e.uint64(5, uint64(v.Resolution))
			e.bool(6, v.Visible)
			e.vector(7, v.Position)
			e.floats(8, v.Rotation[:])
		})
	case tracking.LogEvent:
		e.message(num, func(e *encoder) {
			e.uint64(1, uint64(v.Severity))
			e.int64(2, v.Timestamp)
			e.string(3, v.Message)
		})
	case tracking.PolicyEvent:
		e.message(num, func(e *encoder) { e.uint64(1, uint64(v.Flags)) })
	case tracking.ConfigChangeEvent:
		e.message(num, func(e *encoder) {
			e.uint64(1, uint64(v.RequestID))
			e.bool(2, v.Status)
		})
	case tracking.ConfigResponseEvent:
		var err error
		e.message(num, func(e *encoder) {
			e.uint64(1, uint64(v.RequestID))
			e.string(2, v.Key)
			err = appendConfigValue(e, v.Value)
		})
		return err
	case tracking.UnknownEvent:
		e.message(num, func(e *encoder) { e.uint64(1, uint64(v.Tag)) })
	default:
		return fmt.Errorf("framecodec: unsupported event %T", ev)
	}
	return nil
}

// Config values are a small union on the wire.
func appendConfigValue(e *encoder, v any) error {
	switch x := v.(type) {
	case nil:
	case bool:
		e.message(3, func(e *encoder) { e.bool(1, x) })
	case int64:
		e.message(4, func(e *encoder) { e.int64(1, x) })
	case int:
		e.message(4, func(e *encoder) { e.int64(1, int64(x)) })
	case float64:
		e.message(5, func(e *encoder) { e.float64(1, x) })
	case string:
		e.message(6, func(e *encoder) { e.string(1, x) })
	default:
		return fmt.Errorf("framecodec: unsupported config value %T", v)
	}
	return nil
}

func configValueFrom(m fields) (any, error) {
	for num := protowire.Number(3); num <= 6; num++ {
		inner, err := m.message(num)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			continue
		}
		switch num {
		case 3:
			return inner.bool(1), nil
		case 4:
			return inner.int64(1), nil
		case 5:
			return inner.float64(1), nil
		default:
			return inner.string(1), nil
		}
	}
	return nil, nil
}

func appendDevice(e *encoder, d tracking.DeviceInfo) {
	e.uint64(1, uint64(d.ID))
	e.string(2, d.SerialNumber)
	e.string(3, d.Product)
	e.uint64(4, uint64(d.Status))
	e.bool(5, d.Streaming)
}

func deviceFrom(m fields) tracking.DeviceInfo {
	return tracking.DeviceInfo{
		ID:           m.uint32(1),
		SerialNumber: m.string(2),
		Product:      m.string(3),
		Status:       m.uint32(4),
		Streaming:    m.bool(5),
	}
}

// DecodeMessage parses a message written by EncodeMessage. An event field
// with a tag this package does not know decodes to UnknownEvent so the
// dispatch loop can log and discard it.
func DecodeMessage(b []byte) (Message, error) {
	m, err := parse(b)
	if err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	if p, err := m.message(msgPolicy); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	} else if p != nil {
		return Message{Policy: &PolicyRequest{
			Set:   tracking.Policy(p.uint64(1)),
			Clear: tracking.Policy(p.uint64(2)),
		}}, nil
	}

	for _, num := range slices.Sorted(maps.Keys(m)) {
		if num == msgPixels || m[num][0].typ != protowire.BytesType {
			continue
		}
		inner, err := m.message(num)
		if err != nil {
			return Message{}, fmt.Errorf("decode message: %w", err)
		}
		ev, err := eventFrom(tracking.EventType(num), inner)
		if err != nil {
			return Message{}, fmt.Errorf("decode %v event: %w", tracking.EventType(num), err)
		}
		return Message{Event: ev, Pixels: m.bytes(msgPixels)}, nil
	}
	return Message{}, ErrEmptyMessage
}

func eventFrom(t tracking.EventType, m fields) (tracking.Event, error) {
	switch t {
	case tracking.EventConnection:
		return tracking.ConnectionEvent{Flags: m.uint32(1)}, nil
	case tracking.EventConnectionLost:
		return tracking.ConnectionLostEvent{Flags: m.uint32(1)}, nil
	case tracking.EventDevice:
		return tracking.DeviceEvent{Device: deviceFrom(m)}, nil
	case tracking.EventDeviceLost:
		return tracking.DeviceLostEvent{Device: deviceFrom(m)}, nil
	case tracking.EventDeviceFailure:
		return tracking.DeviceFailureEvent{Status: m.uint32(1), Path: m.string(2)}, nil
	case tracking.EventTracking:
		hands, fingers, tools, err := trackingFrom(m, 3, 4, 5)
		if err != nil {
			return nil, err
		}
		return tracking.TrackingEvent{
			FrameID:   m.int64(1),
			Timestamp: m.int64(2),
			Hands:     hands,
			Fingers:   fingers,
			Tools:     tools,
		}, nil
	case tracking.EventImageRequest:
		return tracking.ImageRequestEvent{
			FrameID:       m.int64(1),
			Type:          tracking.ImageType(m.uint64(2)),
			Format:        tracking.ImageFormat(m.uint64(3)),
			Width:         m.int(4),
			Height:        m.int(5),
			BytesPerPixel: m.int(6),
		}, nil
	case tracking.EventImageComplete:
		matrix, err := m.floats(11)
		if err != nil {
			return nil, err
		}
		return tracking.ImageCompleteEvent{
			Handle:            m.int(1),
			FrameID:           m.int64(2),
			SequenceID:        m.int64(3),
			Side:              m.sint32(4),
			Perspective:       tracking.Perspective(m.uint64(5)),
			RayOffsetX:        m.float32(6),
			RayOffsetY:        m.float32(7),
			RayScaleX:         m.float32(8),
			RayScaleY:         m.float32(9),
			DistortionVersion: m.uint64(10),
			DistortionMatrix:  matrix,
		}, nil
	case tracking.EventTrackedQuad:
		pos, err := m.vector(7)
		if err != nil {
			return nil, err
		}
		rot, err := m.floats(8)
		if err != nil {
			return nil, err
		}
		q := tracking.TrackedQuadEvent{
			FrameID:    m.int64(1),
			Timestamp:  m.int64(2),
			Width:      m.float32(3),
			Height:     m.float32(4),
			Resolution: m.uint32(5),
			Visible:    m.bool(6),
			Position:   pos,
		}
		copy(q.Rotation[:], rot)
		return q, nil
	case tracking.EventLog:
		return tracking.LogEvent{
			Severity:  tracking.Severity(m.uint64(1)),
			Timestamp: m.int64(2),
			Message:   m.string(3),
		}, nil
	case tracking.EventPolicy:
		return tracking.PolicyEvent{Flags: tracking.Policy(m.uint64(1))}, nil
	case tracking.EventConfigChange:
		return tracking.ConfigChangeEvent{RequestID: m.uint32(1), Status: m.bool(2)}, nil
	case tracking.EventConfigResponse:
		value, err := configValueFrom(m)
		if err != nil {
			return nil, err
		}
		return tracking.ConfigResponseEvent{RequestID: m.uint32(1), Key: m.string(2), Value: value}, nil
	case tracking.EventUnknown:
		return tracking.UnknownEvent{Tag: m.uint32(1)}, nil
	default:
		return tracking.UnknownEvent{Tag: uint32(t)}, nil
	}
}
