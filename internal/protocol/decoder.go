package protocol

import (
	"errors"
	"io"
)

const readChunk = 4096

// Decoder reads frames from a stream, buffering partial reads until a whole
// frame is available.
type Decoder struct {
	r       io.Reader
	limits  Limits
	buf     []byte
	chunk   []byte
	pending error
}

// NewDecoder returns a decoder over r. A zero Limits selects DefaultLimits.
func NewDecoder(r io.Reader, limits Limits) *Decoder {
	return &Decoder{r: r, limits: limits.orDefault(), chunk: make([]byte, readChunk)}
}

// Buffered returns the number of bytes read but not yet decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Decode returns the next frame. A read error such as a deadline leaves
// buffered bytes in place so the call can be retried. io.EOF is returned only
// at a frame boundary; a stream ending mid-frame yields a *ProtocolError.
func (d *Decoder) Decode() (Frame, error) {
	for {
		f, n, err := parse(d.buf, d.limits, 0)
		if err == nil {
			d.buf = d.buf[n:]
			if len(d.buf) == 0 {
				d.buf = nil
			}
			return f, nil
		}
		if !errors.Is(err, errIncomplete) {
			return Frame{}, err
		}
		if d.pending != nil {
			rerr := d.pending
			d.pending = nil
			return Frame{}, d.readFailure(rerr)
		}

		read, rerr := d.r.Read(d.chunk)
		d.buf = append(d.buf, d.chunk[:read]...)
		if rerr != nil {
			if read > 0 {
				d.pending = rerr
				continue
			}
			return Frame{}, d.readFailure(rerr)
		}
	}
}

func (d *Decoder) readFailure(err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	if len(d.buf) == 0 {
		return io.EOF
	}
	return protocolErrorf("stream closed inside a frame (%d bytes buffered)", len(d.buf))
}
