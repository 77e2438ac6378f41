package sccp

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Wire framing constants.
const (
	// MaxPacket is the largest message a phone or the controller may send,
	// header included.
	MaxPacket = 1000

	// headerSize is length(4) + reserved(4) + type(4).
	headerSize = 12

	// minLength is the smallest legal value of the length field: the
	// 4-byte type with an empty payload.
	minLength = 4
)

// Explicit little-endian byte helpers. Some phone payloads are not
// naturally aligned, so loads and stores go byte at a time; nothing here
// depends on host order.

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// TraceFunc observes one frame crossing the wire. dir is "rx" or "tx".
// The payload slice must not be retained.
type TraceFunc func(dir string, msgType uint32, payload []byte)

var trace atomic.Pointer[TraceFunc]

// SetTrace installs a frame observer for packet debugging, or removes it
// when fn is nil. Safe to call while sessions are running.
func SetTrace(fn TraceFunc) {
	if fn == nil {
		trace.Store(nil)
		return
	}
	trace.Store(&fn)
}

func traceFrame(dir string, msgType uint32, payload []byte) {
	if fn := trace.Load(); fn != nil {
		(*fn)(dir, msgType, payload)
	}
}

// ReadFrame reads one framed message from r and returns its type and
// payload. The payload slice is freshly allocated and owned by the caller.
//
// Errors: io.EOF with no bytes read maps to ErrClosed; a length field
// below 4 is ErrProtocol; a length field above MaxPacket-8 is
// ErrFrameTooLarge. Timeouts from deadline-carrying readers pass through
// unchanged so the session watchdog can distinguish them.
func ReadFrame(r io.Reader) (msgType uint32, payload []byte, err error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, nil, ErrClosed
		}
		if err == io.ErrUnexpectedEOF {
			return 0, nil, fmt.Errorf("%w: truncated header", ErrProtocol)
		}
		return 0, nil, err
	}

	length := getU32(hdr[0:4])
	// hdr[4:8] is the reserved word; ignored on receive, zero on send.
	msgType = getU32(hdr[8:12])

	if length < minLength {
		return 0, nil, fmt.Errorf("%w: length %d below minimum %d", ErrProtocol, length, minLength)
	}
	if length > MaxPacket-8 {
		return 0, nil, fmt.Errorf("%w: length %d", ErrFrameTooLarge, length)
	}

	payloadLen := int(length) - minLength
	if payloadLen == 0 {
		traceFrame("rx", msgType, nil)
		return msgType, nil, nil
	}

	payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated payload: %v", ErrProtocol, err)
	}
	traceFrame("rx", msgType, payload)
	return msgType, payload, nil
}

// WriteFrame writes one framed message to w. The caller serialises
// concurrent writers; WriteFrame itself performs a single Write call so a
// frame is never interleaved with another.
func WriteFrame(w io.Writer, msgType uint32, payload []byte) error {
	if len(payload) > MaxPacket-headerSize {
		return fmt.Errorf("%w: payload %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, headerSize+len(payload))
	putU32(buf[0:4], uint32(minLength+len(payload)))
	putU32(buf[4:8], 0)
	putU32(buf[8:12], msgType)
	copy(buf[headerSize:], payload)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short write (%d of %d bytes)", ErrProtocol, n, len(buf))
	}
	traceFrame("tx", msgType, payload)
	return nil
}

// ReadMessage reads and parses one message. Unknown message types come
// back as *UnknownMessage rather than an error so the handler can log and
// ignore them the way the phones expect.
func ReadMessage(r io.Reader) (Message, error) {
	msgType, payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Parse(msgType, payload)
}

// WriteMessage marshals and writes one message.
func WriteMessage(w io.Writer, m Message) error {
	return WriteFrame(w, m.TypeID(), m.payload())
}
