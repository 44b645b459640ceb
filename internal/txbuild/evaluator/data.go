package evaluator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// Data is the structured value type shared by datums, redeemers and the
// script context.
type Data interface {
	isData()
}

// Constr is a tagged constructor application.
type Constr struct {
	Index  uint64
	Fields []Data
}

// DataMap is an ordered association list.
type DataMap []DataPair

type DataPair struct {
	Key   Data
	Value Data
}

type DataList []Data

type DataInt struct {
	Value *big.Int
}

type DataBytes []byte

func (Constr) isData()    {}
func (DataMap) isData()   {}
func (DataList) isData()  {}
func (DataInt) isData()   {}
func (DataBytes) isData() {}

// Int is shorthand for a small integer datum.
func Int(v int64) DataInt {
	return DataInt{Value: big.NewInt(v)}
}

const (
	majorUint  = 0
	majorNint  = 1
	majorBytes = 2
	majorArray = 4
	majorMap   = 5
	majorTag   = 6

	indefinite = 31
	breakByte  = 0xff

	maxDataDepth   = 128
	dataBytesChunk = 64
)

var errTruncated = errors.New("truncated data")

// DecodeData parses one CBOR encoded datum; trailing bytes are an error.
func DecodeData(b []byte) (Data, error) {
	d, rest, err := decodeData(b, 0)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode data: %d trailing bytes", len(rest))
	}
	return d, nil
}

func decodeData(b []byte, depth int) (Data, []byte, error) {
	if depth > maxDataDepth {
		return nil, nil, fmt.Errorf("nesting deeper than %d", maxDataDepth)
	}
	if len(b) == 0 {
		return nil, nil, errTruncated
	}
	switch b[0] >> 5 {
	case majorUint, majorNint:
		return decodeInt(b)
	case majorBytes:
		var bs []byte
		rest, err := decMode.UnmarshalFirst(b, &bs)
		if err != nil {
			return nil, nil, err
		}
		return DataBytes(bs), rest, nil
	case majorArray:
		items, rest, err := decodeItems(b, depth)
		if err != nil {
			return nil, nil, err
		}
		return DataList(items), rest, nil
	case majorMap:
		return decodeMap(b, depth)
	case majorTag:
		return decodeTagged(b, depth)
	default:
		return nil, nil, fmt.Errorf("unexpected major type %d", b[0]>>5)
	}
}

func decodeInt(b []byte) (Data, []byte, error) {
	var n big.Int
	rest, err := decMode.UnmarshalFirst(b, &n)
	if err != nil {
		return nil, nil, err
	}
	return DataInt{Value: &n}, rest, nil
}

// decodeItems reads a definite or indefinite array.
func decodeItems(b []byte, depth int) ([]Data, []byte, error) {
	n, indef, rest, err := readHeader(b)
	if err != nil {
		return nil, nil, err
	}
	var items []Data
	for i := uint64(0); indef || i < n; i++ {
		if indef {
			if len(rest) == 0 {
				return nil, nil, errTruncated
			}
			if rest[0] == breakByte {
				return items, rest[1:], nil
			}
		}
		var d Data
		if d, rest, err = decodeData(rest, depth+1); err != nil {
			return nil, nil, err
		}
		items = append(items, d)
	}
	return items, rest, nil
}

func decodeMap(b []byte, depth int) (Data, []byte, error) {
	n, indef, rest, err := readHeader(b)
	if err != nil {
		return nil, nil, err
	}
	m := DataMap{}
	for i := uint64(0); indef || i < n; i++ {
		if indef {
			if len(rest) == 0 {
				return nil, nil, errTruncated
			}
			if rest[0] == breakByte {
				return m, rest[1:], nil
			}
		}
		var p DataPair
		if p.Key, rest, err = decodeData(rest, depth+1); err != nil {
			return nil, nil, err
		}
		if p.Value, rest, err = decodeData(rest, depth+1); err != nil {
			return nil, nil, err
		}
		m = append(m, p)
	}
	return m, rest, nil
}

func decodeTagged(b []byte, depth int) (Data, []byte, error) {
	tag, _, rest, err := readHeader(b)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case tag == 2 || tag == 3:
		return decodeInt(b)
	case tag >= 121 && tag <= 127:
		fields, rest, err := decodeItems(rest, depth+1)
		return Constr{Index: tag - 121, Fields: fields}, rest, err
	case tag >= 1280 && tag <= 1400:
		fields, rest, err := decodeItems(rest, depth+1)
		return Constr{Index: tag - 1280 + 7, Fields: fields}, rest, err
	case tag == 102:
		n, _, inner, err := readHeader(rest)
		if err != nil {
			return nil, nil, err
		}
		if n != 2 || rest[0]>>5 != majorArray {
			return nil, nil, errors.New("general constructor must be a pair")
		}
		var idx uint64
		if inner, err = decMode.UnmarshalFirst(inner, &idx); err != nil {
			return nil, nil, err
		}
		fields, rest, err := decodeItems(inner, depth+1)
		return Constr{Index: idx, Fields: fields}, rest, err
	default:
		return nil, nil, fmt.Errorf("unexpected tag %d", tag)
	}
}

// readHeader returns the argument of the leading CBOR head and the bytes after it.
func readHeader(b []byte) (arg uint64, indef bool, rest []byte, err error) {
	if len(b) == 0 {
		return 0, false, nil, errTruncated
	}
	info := b[0] & 0x1f
	switch {
	case info < 24:
		return uint64(info), false, b[1:], nil
	case info == indefinite:
		return 0, true, b[1:], nil
	case info > 27:
		return 0, false, nil, fmt.Errorf("reserved additional info %d", info)
	}
	size := 1 << (info - 24)
	if len(b) < 1+size {
		return 0, false, nil, errTruncated
	}
	var buf [8]byte
	copy(buf[8-size:], b[1:1+size])
	return binary.BigEndian.Uint64(buf[:]), false, b[1+size:], nil
}

// EncodeData serializes d the way the ledger hashes datums: non-empty lists
// and constructor fields are indefinite, byte strings over 64 bytes are chunked.
func EncodeData(d Data) ([]byte, error) {
	return appendData(nil, d)
}

func appendData(dst []byte, d Data) ([]byte, error) {
	switch v := d.(type) {
	case DataInt:
		if v.Value == nil {
			return append(dst, 0x00), nil
		}
		b, err := encMode.Marshal(v.Value)
		if err != nil {
			return nil, err
		}
		return append(dst, b...), nil
	case DataBytes:
		if len(v) <= dataBytesChunk {
			dst = appendHeader(dst, majorBytes, uint64(len(v)))
			return append(dst, v...), nil
		}
		dst = append(dst, majorBytes<<5|indefinite)
		for rest := []byte(v); len(rest) > 0; {
			n := min(len(rest), dataBytesChunk)
			dst = appendHeader(dst, majorBytes, uint64(n))
			dst = append(dst, rest[:n]...)
			rest = rest[n:]
		}
		return append(dst, breakByte), nil
	case DataList:
		return appendList(dst, v)
	case DataMap:
		dst = appendHeader(dst, majorMap, uint64(len(v)))
		var err error
		for _, p := range v {
			if dst, err = appendData(dst, p.Key); err != nil {
				return nil, err
			}
			if dst, err = appendData(dst, p.Value); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case Constr:
		switch {
		case v.Index < 7:
			dst = appendHeader(dst, majorTag, 121+v.Index)
		case v.Index < 128:
			dst = appendHeader(dst, majorTag, 1280+v.Index-7)
		default:
			dst = appendHeader(dst, majorTag, 102)
			dst = appendHeader(dst, majorArray, 2)
			dst = appendHeader(dst, majorUint, v.Index)
		}
		return appendList(dst, v.Fields)
	default:
		return nil, fmt.Errorf("unknown data %T", d)
	}
}

func appendList(dst []byte, items []Data) ([]byte, error) {
	if len(items) == 0 {
		return append(dst, majorArray<<5), nil
	}
	dst = append(dst, majorArray<<5|indefinite)
	var err error
	for _, it := range items {
		if dst, err = appendData(dst, it); err != nil {
			return nil, err
		}
	}
	return append(dst, breakByte), nil
}

func appendHeader(dst []byte, major byte, n uint64) []byte {
	m := major << 5
	switch {
	case n < 24:
		return append(dst, m|byte(n))
	case n <= 0xff:
		return append(dst, m|24, byte(n))
	case n <= 0xffff:
		return binary.BigEndian.AppendUint16(append(dst, m|25), uint16(n))
	case n <= 0xffffffff:
		return binary.BigEndian.AppendUint32(append(dst, m|26), uint32(n))
	default:
		return binary.BigEndian.AppendUint64(append(dst, m|27), n)
	}
}

// EqualData compares two datums by their canonical encoding.
func EqualData(a, b Data) bool {
	ea, err := EncodeData(a)
	if err != nil {
		return false
	}
	eb, err := EncodeData(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// dataSize is the memory measure of a datum: four units per node plus payload words.
func dataSize(d Data) uint64 {
	switch v := d.(type) {
	case DataInt:
		return 4 + intSize(v.Value)
	case DataBytes:
		return 4 + bytesSize(v)
	case DataList:
		n := uint64(4)
		for _, e := range v {
			n += dataSize(e)
		}
		return n
	case DataMap:
		n := uint64(4)
		for _, p := range v {
			n += dataSize(p.Key) + dataSize(p.Value)
		}
		return n
	case Constr:
		n := uint64(4)
		for _, e := range v.Fields {
			n += dataSize(e)
		}
		return n
	default:
		return 4
	}
}
