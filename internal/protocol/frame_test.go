package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  []byte
	}{
		{name: "simple", frame: Simple("OK"), want: []byte("+OK\r\n")},
		{name: "error", frame: Error("CONFLICT held"), want: []byte("-CONFLICT held\r\n")},
		{name: "bulk", frame: Bulk([]byte("abc")), want: []byte("$\x03abc")},
		{name: "empty bulk", frame: Bulk(nil), want: []byte("$\x00")},
		{name: "null", frame: Null(), want: []byte("_")},
		{
			name:  "array",
			frame: Array(Simple("BuildStdTx"), Bulk([]byte("{}"))),
			want:  []byte("*\x02+BuildStdTx\r\n$\x02{}"),
		},
		{name: "long bulk length", frame: Bulk(make([]byte, 300)), want: append([]byte{'$', 0xac, 0x02}, make([]byte, 300)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.frame)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Encode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeRejectsLineBreaks(t *testing.T) {
	for _, f := range []Frame{Simple("a\r\nb"), Error("x\n"), Array(Simple("ok"), Simple("bad\r"))} {
		_, err := Encode(f)
		require.Error(t, err)
		assert.True(t, IsProtocolError(err))
	}
	_, err := Encode(Frame{Kind: '?'})
	assert.True(t, IsProtocolError(err))
}

func TestRoundTrip(t *testing.T) {
	frames := []Frame{
		Simple(""),
		Simple("héllo"),
		Error("VALIDATION missing operation"),
		Bulk([]byte{0, 1, 2, '\r', '\n'}),
		Null(),
		Array(),
		Array(Simple("FinalizeStdTx"), Bulk([]byte(`{"request_id":"r"}`)), Null(), Array(Bulk(nil))),
		Bulk(bytes.Repeat([]byte{'x'}, 70_000)),
	}
	for _, f := range frames {
		encoded, err := Encode(f)
		require.NoError(t, err)

		got, err := NewDecoder(bytes.NewReader(encoded), Limits{}).Decode()
		require.NoError(t, err)
		if diff := cmp.Diff(f, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("Decode() mismatch (-want +got):\n%s", diff)
		}
		reencoded, err := Encode(got)
		require.NoError(t, err)
		assert.Equal(t, encoded, reencoded)
	}
}

func TestDecoderPartialReads(t *testing.T) {
	var stream []byte
	want := []Frame{
		Array(Simple("BuildStdTx"), Bulk([]byte(`{"customer_id":"c"}`))),
		Simple("OK"),
		Bulk(bytes.Repeat([]byte{7}, 5000)),
	}
	for _, f := range want {
		b, err := Encode(f)
		require.NoError(t, err)
		stream = append(stream, b...)
	}

	dec := NewDecoder(iotest.OneByteReader(bytes.NewReader(stream)), Limits{})
	var got []Frame
	for {
		f, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, f)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, dec.Buffered())
}

func TestDecoderDataWithEOF(t *testing.T) {
	dec := NewDecoder(iotest.DataErrReader(strings.NewReader("+OK\r\n")), Limits{})
	f, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, Simple("OK"), f)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderTimeoutKeepsBuffer(t *testing.T) {
	r := &scriptedReader{steps: []readStep{
		{data: "*\x02+Bu"},
		{err: errTimeout},
		{data: "ild\r\n$\x00"},
	}}
	dec := NewDecoder(r, Limits{})

	_, err := dec.Decode()
	require.ErrorIs(t, err, errTimeout)
	assert.Equal(t, len("*\x02+Bu"), dec.Buffered())

	f, err := dec.Decode()
	require.NoError(t, err)
	if diff := cmp.Diff(Array(Simple("Build"), Bulk(nil)), f, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

var errTimeout = errors.New("i/o timeout")

type readStep struct {
	data string
	err  error
}

type scriptedReader struct {
	steps []readStep
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.steps) == 0 {
		return 0, io.EOF
	}
	s := r.steps[0]
	r.steps = r.steps[1:]
	if s.err != nil {
		return 0, s.err
	}
	return copy(p, s.data), nil
}

func TestDecodeErrors(t *testing.T) {
	small := Limits{MaxBulk: 4, MaxArray: 2, MaxSimple: 8, MaxDepth: 2}
	tests := []struct {
		name   string
		input  string
		limits Limits
	}{
		{name: "unknown tag", input: "!x"},
		{name: "truncated bulk", input: "$\x05ab"},
		{name: "truncated simple", input: "+OK"},
		{name: "truncated array", input: "*\x02+a\r\n"},
		{name: "bare lf", input: "+a\nb\r\n"},
		{name: "bare cr", input: "-a\rb\r\n"},
		{name: "invalid utf8", input: "+\xff\r\n"},
		{name: "varint overflow", input: "$\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\x01"},
		{name: "non canonical varint", input: "$\x80\x00"},
		{name: "oversize bulk", input: "$\x05abcde", limits: small},
		{name: "oversize array", input: "*\x03___", limits: small},
		{name: "oversize simple", input: "+123456789\r\n", limits: small},
		{name: "too deep", input: "*\x01*\x01*\x01_", limits: small},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.input), tt.limits).Decode()
			require.Error(t, err)
			assert.True(t, IsProtocolError(err), "got %T: %v", err, err)
		})
	}
}

func TestDecodeCleanEOF(t *testing.T) {
	_, err := NewDecoder(strings.NewReader(""), Limits{}).Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOversizeRejectedBeforePayload(t *testing.T) {
	// length prefix alone must trip the limit; the payload never arrives
	r := &scriptedReader{steps: []readStep{{data: "$\x80\x80\x80\x10"}, {err: errTimeout}}}
	_, err := NewDecoder(r, Limits{}).Decode()
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}
