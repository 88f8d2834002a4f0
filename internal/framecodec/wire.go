// Package framecodec encodes frames and driver events in protobuf wire
// format without generated code, and frames them on byte streams with a
// varint length prefix.
package framecodec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/motionframe/internal/tracking"
)

// encoder appends fields to a message. Zero scalars are omitted, as proto3
// does for implicit presence.
type encoder struct {
	b []byte
}

func (e *encoder) uint64(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) int64(num protowire.Number, v int64) { e.uint64(num, uint64(v)) }

// sint32 is zigzag encoded so small negative values stay short.
func (e *encoder) sint32(num protowire.Number, v int32) {
	e.uint64(num, protowire.EncodeZigZag(int64(v)))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.uint64(num, 1)
	}
}

func (e *encoder) float32(num protowire.Number, v float32) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed32Type)
	e.b = protowire.AppendFixed32(e.b, math.Float32bits(v))
}

func (e *encoder) float64(num protowire.Number, v float64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed64Type)
	e.b = protowire.AppendFixed64(e.b, math.Float64bits(v))
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, v)
}

// floats writes a packed repeated fixed32 field.
func (e *encoder) floats(num protowire.Number, v []float32) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendVarint(e.b, uint64(4*len(v)))
	for _, f := range v {
		e.b = protowire.AppendFixed32(e.b, math.Float32bits(f))
	}
}

// message writes a nested message. It is always emitted, even when empty,
// so repeated elements keep their count.
func (e *encoder) message(num protowire.Number, fn func(*encoder)) {
	var inner encoder
	fn(&inner)
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, inner.b)
}

func (e *encoder) vector(num protowire.Number, v tracking.Vector) {
	if v == (tracking.Vector{}) {
		return
	}
	e.message(num, func(e *encoder) {
		e.float32(1, v.X)
		e.float32(2, v.Y)
		e.float32(3, v.Z)
	})
}

type rawField struct {
	typ protowire.Type
	val uint64 // varint and fixed values
	buf []byte // length-delimited values, aliasing the input
}

// fields is a parsed message: every occurrence of each field number, in
// wire order.
type fields map[protowire.Number][]rawField

func parse(b []byte) (fields, error) {
	f := make(fields)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		rf := rawField{typ: typ}
		switch typ {
		case protowire.VarintType:
			rf.val, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			rf.val = uint64(v)
		case protowire.Fixed64Type:
			rf.val, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			rf.buf, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		f[num] = append(f[num], rf)
	}
	return f, nil
}

// last returns the final occurrence of num with the wanted wire type.
// Later occurrences win, matching protobuf merge semantics for scalars.
func (f fields) last(num protowire.Number, typ protowire.Type) (rawField, bool) {
	all := f[num]
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].typ == typ {
			return all[i], true
		}
	}
	return rawField{}, false
}

func (f fields) uint64(num protowire.Number) uint64 {
	rf, _ := f.last(num, protowire.VarintType)
	return rf.val
}

func (f fields) int64(num protowire.Number) int64   { return int64(f.uint64(num)) }
func (f fields) uint32(num protowire.Number) uint32 { return uint32(f.uint64(num)) }
func (f fields) int(num protowire.Number) int       { return int(f.int64(num)) }
func (f fields) bool(num protowire.Number) bool     { return f.uint64(num) != 0 }

func (f fields) sint32(num protowire.Number) int32 {
	return int32(protowire.DecodeZigZag(f.uint64(num)))
}

func (f fields) float32(num protowire.Number) float32 {
	rf, _ := f.last(num, protowire.Fixed32Type)
	return math.Float32frombits(uint32(rf.val))
}

func (f fields) float64(num protowire.Number) float64 {
	rf, _ := f.last(num, protowire.Fixed64Type)
	return math.Float64frombits(rf.val)
}

// bytes returns a copy so decoded values never alias the input buffer.
func (f fields) bytes(num protowire.Number) []byte {
	rf, ok := f.last(num, protowire.BytesType)
	if !ok {
		return nil
	}
	return append([]byte(nil), rf.buf...)
}

func (f fields) string(num protowire.Number) string {
	rf, _ := f.last(num, protowire.BytesType)
	return string(rf.buf)
}

// messages returns every nested message under num, in order.
func (f fields) messages(num protowire.Number) ([]fields, error) {
	var out []fields
	for _, rf := range f[num] {
		if rf.typ != protowire.BytesType {
			continue
		}
		m, err := parse(rf.buf)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", num, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// message returns the last nested message under num, or nil.
func (f fields) message(num protowire.Number) (fields, error) {
	rf, ok := f.last(num, protowire.BytesType)
	if !ok {
		return nil, nil
	}
	m, err := parse(rf.buf)
	if err != nil {
		return nil, fmt.Errorf("field %d: %w", num, err)
	}
	return m, nil
}

// floats decodes a packed repeated fixed32 field.
func (f fields) floats(num protowire.Number) ([]float32, error) {
	rf, ok := f.last(num, protowire.BytesType)
	if !ok {
		return nil, nil
	}
	if len(rf.buf)%4 != 0 {
		return nil, fmt.Errorf("field %d: packed floats length %d", num, len(rf.buf))
	}
	out := make([]float32, len(rf.buf)/4)
	b := rf.buf
	for i := range out {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		out[i] = math.Float32frombits(v)
		b = b[n:]
	}
	return out, nil
}

func (f fields) vector(num protowire.Number) (tracking.Vector, error) {
	m, err := f.message(num)
	if err != nil || m == nil {
		return tracking.Vector{}, err
	}
	return tracking.Vector{X: m.float32(1), Y: m.float32(2), Z: m.float32(3)}, nil
}
