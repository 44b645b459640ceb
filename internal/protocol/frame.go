// Package protocol implements the framed request/response wire format spoken
// by the transaction-build server.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Kind is the one-byte frame tag.
type Kind byte

const (
	KindSimple Kind = '+'
	KindError  Kind = '-'
	KindBulk   Kind = '$'
	KindArray  Kind = '*'
	KindNull   Kind = '_'
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindError:
		return "error"
	case KindBulk:
		return "bulk"
	case KindArray:
		return "array"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("kind(%#x)", byte(k))
	}
}

// Frame is one protocol value.
type Frame struct {
	Kind  Kind
	Str   string
	Bulk  []byte
	Array []Frame
}

func Simple(s string) Frame { return Frame{Kind: KindSimple, Str: s} }

func Error(s string) Frame { return Frame{Kind: KindError, Str: s} }

func Bulk(b []byte) Frame { return Frame{Kind: KindBulk, Bulk: b} }

func Array(fs ...Frame) Frame { return Frame{Kind: KindArray, Array: fs} }

func Null() Frame { return Frame{Kind: KindNull} }

// Limits bound what a decoder accepts.
type Limits struct {
	MaxBulk   int
	MaxArray  int
	MaxSimple int
	MaxDepth  int
}

// DefaultLimits are used when a zero Limits is supplied.
var DefaultLimits = Limits{
	MaxBulk:   16 << 20,
	MaxArray:  1024,
	MaxSimple: 64 << 10,
	MaxDepth:  8,
}

func (l Limits) orDefault() Limits {
	if l == (Limits{}) {
		return DefaultLimits
	}
	return l
}

// ProtocolError is a malformed or oversize frame. The connection that produced
// it cannot be resynchronized and must be closed.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol: " + e.Reason
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// IsProtocolError reports whether err is a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// AppendFrame appends the encoding of f to dst.
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	switch f.Kind {
	case KindSimple, KindError:
		if strings.ContainsAny(f.Str, "\r\n") {
			return dst, protocolErrorf("%s payload contains CR or LF", f.Kind)
		}
		dst = append(dst, byte(f.Kind))
		dst = append(dst, f.Str...)
		return append(dst, '\r', '\n'), nil
	case KindBulk:
		dst = append(dst, byte(f.Kind))
		dst = binary.AppendUvarint(dst, uint64(len(f.Bulk)))
		return append(dst, f.Bulk...), nil
	case KindArray:
		dst = append(dst, byte(f.Kind))
		dst = binary.AppendUvarint(dst, uint64(len(f.Array)))
		for _, e := range f.Array {
			var err error
			if dst, err = AppendFrame(dst, e); err != nil {
				return dst, err
			}
		}
		return dst, nil
	case KindNull:
		return append(dst, byte(f.Kind)), nil
	default:
		return dst, protocolErrorf("unknown frame kind %#x", byte(f.Kind))
	}
}

// Encode returns the encoding of f.
func Encode(f Frame) ([]byte, error) {
	return AppendFrame(nil, f)
}

// WriteFrame encodes f and writes it in one call.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

var errIncomplete = errors.New("incomplete frame")

// parse decodes one frame from the head of buf and returns the number of bytes used.
func parse(buf []byte, l Limits, depth int) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, errIncomplete
	}
	if depth > l.MaxDepth {
		return Frame{}, 0, protocolErrorf("nesting deeper than %d", l.MaxDepth)
	}
	kind := Kind(buf[0])
	switch kind {
	case KindSimple, KindError:
		return parseLine(buf, kind, l)
	case KindBulk:
		size, n, err := parseLength(buf[1:], uint64(l.MaxBulk), "bulk length")
		if err != nil {
			return Frame{}, 0, err
		}
		end := 1 + n + int(size)
		if len(buf) < end {
			return Frame{}, 0, errIncomplete
		}
		payload := make([]byte, size)
		copy(payload, buf[1+n:end])
		return Bulk(payload), end, nil
	case KindArray:
		count, n, err := parseLength(buf[1:], uint64(l.MaxArray), "array length")
		if err != nil {
			return Frame{}, 0, err
		}
		pos := 1 + n
		elems := make([]Frame, 0, count)
		for i := uint64(0); i < count; i++ {
			e, used, err := parse(buf[pos:], l, depth+1)
			if err != nil {
				return Frame{}, 0, err
			}
			elems = append(elems, e)
			pos += used
		}
		return Array(elems...), pos, nil
	case KindNull:
		return Null(), 1, nil
	default:
		return Frame{}, 0, protocolErrorf("unknown frame tag %#x", buf[0])
	}
}

func parseLine(buf []byte, kind Kind, l Limits) (Frame, int, error) {
	for i := 1; i < len(buf); i++ {
		if i-1 > l.MaxSimple {
			return Frame{}, 0, protocolErrorf("%s payload longer than %d bytes", kind, l.MaxSimple)
		}
		switch buf[i] {
		case '\n':
			return Frame{}, 0, protocolErrorf("%s payload contains bare LF", kind)
		case '\r':
			if i+1 == len(buf) {
				return Frame{}, 0, errIncomplete
			}
			if buf[i+1] != '\n' {
				return Frame{}, 0, protocolErrorf("%s payload contains bare CR", kind)
			}
			payload := buf[1:i]
			if !utf8.Valid(payload) {
				return Frame{}, 0, protocolErrorf("%s payload is not UTF-8", kind)
			}
			return Frame{Kind: kind, Str: string(payload)}, i + 2, nil
		}
	}
	if len(buf)-1 > l.MaxSimple {
		return Frame{}, 0, protocolErrorf("%s payload longer than %d bytes", kind, l.MaxSimple)
	}
	return Frame{}, 0, errIncomplete
}

// parseLength reads a canonical unsigned LEB128 varint bounded by limit.
func parseLength(buf []byte, limit uint64, what string) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	switch {
	case n == 0:
		if len(buf) >= binary.MaxVarintLen64 {
			return 0, 0, protocolErrorf("malformed %s", what)
		}
		return 0, 0, errIncomplete
	case n < 0:
		return 0, 0, protocolErrorf("malformed %s", what)
	}
	if n != len(binary.AppendUvarint(nil, v)) {
		return 0, 0, protocolErrorf("non-canonical %s", what)
	}
	if v > limit {
		return 0, 0, protocolErrorf("%s %d exceeds limit %d", what, v, limit)
	}
	return v, n, nil
}
