// Package wire implements the binary protocol: the fixed 8-byte frame
// header (C1) and the tagged payload encoding (C2). Both are hand-rolled
// here rather than pulled from a third-party codec, since the wire format
// itself is the part of this system that must not be delegated.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion is the only frame version this codec accepts.
const ProtocolVersion uint32 = 1

// ErrProtocolVersion is returned by ReadFrame when the header's version
// field does not match ProtocolVersion. Callers must close the connection.
var ErrProtocolVersion = errors.New("wire: unsupported protocol version")

const headerLen = 8 // 4-byte version + 4-byte length

// WriteFrame writes a single frame containing body as one contiguous
// Write call: version || length || body.
func WriteFrame(w io.Writer, body []byte) error {
	buf := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], ProtocolVersion)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[headerLen:], body)

	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("wire: short write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// ReadFrame reads exactly one frame and returns its body. A version
// mismatch is reported before the body is read so the caller can close
// the connection without draining unknown-length data.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("wire: read header: %w", err)
	}

	version := binary.BigEndian.Uint32(hdr[0:4])
	if version != ProtocolVersion {
		return nil, ErrProtocolVersion
	}

	length := binary.BigEndian.Uint32(hdr[4:8])
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("wire: read body: %w", err)
		}
	}
	return body, nil
}
