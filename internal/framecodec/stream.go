package framecodec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxMessageSize bounds a single delimited message. A raw stereo image at
// 640x480x2 bytes fits with room for metadata.
const MaxMessageSize = 4 << 20

// ErrMessageTooLarge is returned when a length prefix exceeds the limit.
var ErrMessageTooLarge = errors.New("framecodec: message too large")

// WriteDelimited writes msg to w preceded by its varint length.
func WriteDelimited(w io.Writer, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	buf := protowire.AppendVarint(make([]byte, 0, len(msg)+binary.MaxVarintLen64), uint64(len(msg)))
	buf = append(buf, msg...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Reader reads varint-delimited messages from a byte stream.
type Reader struct {
	r   *bufio.Reader
	max int
}

// NewReader wraps r. A limit of zero or less means MaxMessageSize.
func NewReader(r io.Reader, limit int) *Reader {
	if limit <= 0 {
		limit = MaxMessageSize
	}
	return &Reader{r: bufio.NewReader(r), max: limit}
}

// Next returns the next message. It returns io.EOF only at a clean message
// boundary; a stream cut mid-message yields io.ErrUnexpectedEOF.
func (r *Reader) Next() ([]byte, error) {
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.max) {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r.r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}
