package framecodec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/motionframe/internal/tracking"
)

// Frame field numbers.
const (
	frameID        protowire.Number = 1
	frameTimestamp protowire.Number = 2
	frameValid     protowire.Number = 3
	frameHands     protowire.Number = 4
	frameFingers   protowire.Number = 5
	frameTools     protowire.Number = 6
	frameImages    protowire.Number = 7
	frameRawImages protowire.Number = 8
	frameQuad      protowire.Number = 9
)

// EncodeFrame serialises f, including image pixels and distortion grids.
func EncodeFrame(f tracking.Frame) []byte {
	var e encoder
	appendFrame(&e, f)
	return e.b
}

func appendFrame(e *encoder, f tracking.Frame) {
	e.int64(frameID, f.ID)
	e.int64(frameTimestamp, f.Timestamp)
	e.bool(frameValid, f.IsValid)
	appendTracking(e, frameHands, frameFingers, frameTools, f.Hands, f.Fingers, f.Tools)
	for _, img := range f.Images {
		e.message(frameImages, func(e *encoder) { appendImage(e, img) })
	}
	for _, img := range f.RawImages {
		e.message(frameRawImages, func(e *encoder) { appendImage(e, img) })
	}
	e.message(frameQuad, func(e *encoder) { appendQuad(e, f.TrackedQuad) })
}

// DecodeFrame parses a frame written by EncodeFrame. The result shares no
// memory with b.
func DecodeFrame(b []byte) (tracking.Frame, error) {
	m, err := parse(b)
	if err != nil {
		return tracking.InvalidFrame(), fmt.Errorf("decode frame: %w", err)
	}
	f, err := frameFrom(m)
	if err != nil {
		return tracking.InvalidFrame(), fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func frameFrom(m fields) (tracking.Frame, error) {
	f := tracking.Frame{
		ID:        m.int64(frameID),
		Timestamp: m.int64(frameTimestamp),
		IsValid:   m.bool(frameValid),
	}
	var err error
	if f.Hands, f.Fingers, f.Tools, err = trackingFrom(m, frameHands, frameFingers, frameTools); err != nil {
		return f, err
	}
	if f.Images, err = imagesFrom(m, frameImages); err != nil {
		return f, err
	}
	if f.RawImages, err = imagesFrom(m, frameRawImages); err != nil {
		return f, err
	}
	q, err := m.message(frameQuad)
	if err != nil {
		return f, err
	}
	if q != nil {
		if f.TrackedQuad, err = quadFrom(q); err != nil {
			return f, err
		}
	}
	return f, nil
}

func appendTracking(e *encoder, handsNum, fingersNum, toolsNum protowire.Number, hands []tracking.Hand, fingers []tracking.Finger, tools []tracking.Tool) {
	for _, h := range hands {
		e.message(handsNum, func(e *encoder) {
			e.sint32(1, h.ID)
			e.int64(2, h.FrameID)
			e.int64(3, h.Timestamp)
			e.bool(4, h.IsLeft)
			e.float32(5, h.Confidence)
			e.vector(6, h.Palm)
		})
	}
	for _, fg := range fingers {
		e.message(fingersNum, func(e *encoder) {
			e.sint32(1, fg.ID)
			e.sint32(2, fg.HandID)
			e.sint32(3, fg.Type)
			e.vector(4, fg.Tip)
		})
	}
	for _, t := range tools {
		e.message(toolsNum, func(e *encoder) {
			e.sint32(1, t.ID)
			e.vector(2, t.Tip)
			e.float32(3, t.Length)
		})
	}
}

func trackingFrom(m fields, handsNum, fingersNum, toolsNum protowire.Number) ([]tracking.Hand, []tracking.Finger, []tracking.Tool, error) {
	var (
		hands   []tracking.Hand
		fingers []tracking.Finger
		tools   []tracking.Tool
	)

	hs, err := m.messages(handsNum)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, h := range hs {
		palm, err := h.vector(6)
		if err != nil {
			return nil, nil, nil, err
		}
		hands = append(hands, tracking.Hand{
			ID:         h.sint32(1),
			FrameID:    h.int64(2),
			Timestamp:  h.int64(3),
			IsLeft:     h.bool(4),
			Confidence: h.float32(5),
			Palm:       palm,
		})
	}

	fs, err := m.messages(fingersNum)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, fg := range fs {
		tip, err := fg.vector(4)
		if err != nil {
			return nil, nil, nil, err
		}
		fingers = append(fingers, tracking.Finger{
			ID:     fg.sint32(1),
			HandID: fg.sint32(2),
			Type:   fg.sint32(3),
			Tip:    tip,
		})
	}

	ts, err := m.messages(toolsNum)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, t := range ts {
		tip, err := t.vector(2)
		if err != nil {
			return nil, nil, nil, err
		}
		tools = append(tools, tracking.Tool{ID: t.sint32(1), Tip: tip, Length: t.float32(3)})
	}
	return hands, fingers, tools, nil
}

func appendImage(e *encoder, img tracking.Image) {
	e.int64(1, img.ID)
	e.int64(2, img.SequenceID)
	e.sint32(3, img.Side)
	e.bool(4, img.IsValid)
	e.uint64(5, uint64(img.Type))
	e.uint64(6, uint64(img.Format))
	e.uint64(7, uint64(img.Perspective))
	e.int64(8, int64(img.Width))
	e.int64(9, int64(img.Height))
	e.int64(10, int64(img.BytesPerPixel))
	e.bytes(11, img.Data)
	e.float32(12, img.RayOffsetX)
	e.float32(13, img.RayOffsetY)
	e.float32(14, img.RayScaleX)
	e.float32(15, img.RayScaleY)
	if d := img.Distortion; d != nil {
		e.message(16, func(e *encoder) {
			e.uint64(1, d.Version)
			e.int64(2, int64(d.Width))
			e.int64(3, int64(d.Height))
			e.floats(4, d.Data)
		})
	}
}

func imagesFrom(m fields, num protowire.Number) ([]tracking.Image, error) {
	msgs, err := m.messages(num)
	if err != nil {
		return nil, err
	}
	var out []tracking.Image
	for _, im := range msgs {
		img := tracking.Image{
			ID:            im.int64(1),
			SequenceID:    im.int64(2),
			Side:          im.sint32(3),
			IsValid:       im.bool(4),
			Type:          tracking.ImageType(im.uint64(5)),
			Format:        tracking.ImageFormat(im.uint64(6)),
			Perspective:   tracking.Perspective(im.uint64(7)),
			Width:         im.int(8),
			Height:        im.int(9),
			BytesPerPixel: im.int(10),
			Data:          im.bytes(11),
			RayOffsetX:    im.float32(12),
			RayOffsetY:    im.float32(13),
			RayScaleX:     im.float32(14),
			RayScaleY:     im.float32(15),
		}
		d, err := im.message(16)
		if err != nil {
			return nil, err
		}
		if d != nil {
			data, err := d.floats(4)
			if err != nil {
				return nil, err
			}
			img.Distortion = &tracking.DistortionData{
				Version: d.uint64(1),
				Width:   d.int(2),
				Height:  d.int(3),
				Data:    data,
			}
		}
		out = append(out, img)
	}
	return out, nil
}

func appendQuad(e *encoder, q tracking.TrackedQuad) {
	e.int64(1, q.ID)
	e.int64(2, q.Timestamp)
	e.bool(3, q.IsValid)
	e.float32(4, q.Width)
	e.float32(5, q.Height)
	e.uint64(6, uint64(q.Resolution))
	e.bool(7, q.Visible)
	e.vector(8, q.Position)
	e.floats(9, q.Rotation[:])
}

func quadFrom(m fields) (tracking.TrackedQuad, error) {
	pos, err := m.vector(8)
	if err != nil {
		return tracking.InvalidQuad(), err
	}
	rot, err := m.floats(9)
	if err != nil {
		return tracking.InvalidQuad(), err
	}
	q := tracking.TrackedQuad{
		ID:         m.int64(1),
		Timestamp:  m.int64(2),
		IsValid:    m.bool(3),
		Width:      m.float32(4),
		Height:     m.float32(5),
		Resolution: m.uint32(6),
		Visible:    m.bool(7),
		Position:   pos,
	}
	copy(q.Rotation[:], rot)
	return q, nil
}
