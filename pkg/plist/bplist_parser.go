package plist

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

const (
	bplistHeaderSize  = 8
	bplistTrailerSize = 32
)

// bplist object markers (high nibble)
const (
	bpTagSingleton = 0x0
	bpTagInteger   = 0x1
	bpTagReal      = 0x2
	bpTagDate      = 0x3
	bpTagData      = 0x4
	bpTagASCII     = 0x5
	bpTagUTF16     = 0x6
	bpTagUID       = 0x8
	bpTagArray     = 0xA
	bpTagDict      = 0xD
)

type bplistTrailer struct {
	OffsetIntSize     uint8
	ObjectRefSize     uint8
	NumObjects        uint64
	TopObject         uint64
	OffsetTableOffset uint64
}

type bplistParser struct {
	data    []byte
	trailer bplistTrailer
	offsets []uint64
	objects []any
	decoded []bool
	active  []bool
}

func parseBinary(data []byte) (any, error) {
	p := &bplistParser{data: data}
	if err := p.readTrailer(); err != nil {
		return nil, err
	}
	if err := p.readOffsetTable(); err != nil {
		return nil, err
	}
	p.objects = make([]any, p.trailer.NumObjects)
	p.decoded = make([]bool, p.trailer.NumObjects)
	p.active = make([]bool, p.trailer.NumObjects)
	return p.object(p.trailer.TopObject)
}

func (p *bplistParser) fail(offset uint64, format string, args ...any) error {
	return &DecodeError{Format: BinaryFormat, Offset: int64(offset), Reason: fmt.Sprintf(format, args...)}
}

func (p *bplistParser) readTrailer() error {
	if len(p.data) < bplistHeaderSize+bplistTrailerSize {
		return p.fail(0, "file too short (%d bytes)", len(p.data))
	}
	if string(p.data[:len(binaryMagic)]) != binaryMagic {
		return p.fail(0, "missing bplist header")
	}
	t := p.data[len(p.data)-bplistTrailerSize:]
	p.trailer = bplistTrailer{
		OffsetIntSize:     t[6],
		ObjectRefSize:     t[7],
		NumObjects:        binary.BigEndian.Uint64(t[8:]),
		TopObject:         binary.BigEndian.Uint64(t[16:]),
		OffsetTableOffset: binary.BigEndian.Uint64(t[24:]),
	}
	tr := p.trailer
	trailerStart := uint64(len(p.data) - bplistTrailerSize)
	switch {
	case tr.OffsetIntSize == 0 || tr.OffsetIntSize > 8:
		return p.fail(trailerStart, "invalid offset int size %d", tr.OffsetIntSize)
	case tr.ObjectRefSize == 0 || tr.ObjectRefSize > 8:
		return p.fail(trailerStart, "invalid object ref size %d", tr.ObjectRefSize)
	case tr.NumObjects == 0:
		return p.fail(trailerStart, "no objects")
	case tr.TopObject >= tr.NumObjects:
		return p.fail(trailerStart, "top object %d out of range (%d objects)", tr.TopObject, tr.NumObjects)
	case tr.OffsetTableOffset < bplistHeaderSize || tr.OffsetTableOffset >= trailerStart:
		return p.fail(trailerStart, "offset table offset %#x out of range", tr.OffsetTableOffset)
	}
	// the offset table has to fit between its start and the trailer
	if tr.NumObjects > (trailerStart-tr.OffsetTableOffset)/uint64(tr.OffsetIntSize) {
		return p.fail(tr.OffsetTableOffset, "offset table truncated (%d objects)", tr.NumObjects)
	}
	return nil
}

func (p *bplistParser) readOffsetTable() error {
	tr := p.trailer
	p.offsets = make([]uint64, tr.NumObjects)
	for i := range p.offsets {
		at := tr.OffsetTableOffset + uint64(i)*uint64(tr.OffsetIntSize)
		off := readSizedUint(p.data[at:at+uint64(tr.OffsetIntSize)])
		if off < bplistHeaderSize || off >= tr.OffsetTableOffset {
			return p.fail(at, "object %d offset %#x out of range", i, off)
		}
		p.offsets[i] = off
	}
	return nil
}

// readSizedUint reads a big-endian unsigned integer of len(b) bytes
func readSizedUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// bytesAt returns n bytes at off, bounded by the offset table
func (p *bplistParser) bytesAt(off, n uint64) ([]byte, error) {
	end := off + n
	if end < off || end > p.trailer.OffsetTableOffset {
		return nil, p.fail(off, "object data truncated (need %d bytes)", n)
	}
	return p.data[off:end], nil
}

func (p *bplistParser) object(ref uint64) (any, error) {
	if ref >= p.trailer.NumObjects {
		return nil, p.fail(0, "object reference %d out of range", ref)
	}
	if p.decoded[ref] {
		// shared references decode to independent copies
		return Clone(p.objects[ref]), nil
	}
	if p.active[ref] {
		return nil, p.fail(p.offsets[ref], "cyclic reference to object %d", ref)
	}
	p.active[ref] = true
	v, err := p.parseObject(p.offsets[ref])
	p.active[ref] = false
	if err != nil {
		return nil, err
	}
	p.objects[ref] = v
	p.decoded[ref] = true
	return v, nil
}

func (p *bplistParser) parseObject(off uint64) (any, error) {
	marker := p.data[off]
	tag, info := marker>>4, marker&0x0F

	switch tag {
	case bpTagSingleton:
		switch info {
		case 0x0, 0xF: // null, fill
			return nil, nil
		case 0x8:
			return false, nil
		case 0x9:
			return true, nil
		}
		return nil, p.fail(off, "unknown singleton marker %#02x", marker)
	case bpTagInteger:
		v, _, err := p.parseInteger(off)
		return v, err
	case bpTagReal:
		return p.parseReal(off, info)
	case bpTagDate:
		b, err := p.bytesAt(off+1, 8)
		if err != nil {
			return nil, err
		}
		return appleTime(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case bpTagData:
		n, start, err := p.parseCount(off, info)
		if err != nil {
			return nil, err
		}
		b, err := p.bytesAt(start, n)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case bpTagASCII:
		n, start, err := p.parseCount(off, info)
		if err != nil {
			return nil, err
		}
		b, err := p.bytesAt(start, n)
		if err != nil {
			return nil, err
		}
		return latin1(b), nil
	case bpTagUTF16:
		n, start, err := p.parseCount(off, info)
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt64/2 {
			return nil, p.fail(off, "invalid utf-16 string length %d", n)
		}
		b, err := p.bytesAt(start, n*2)
		if err != nil {
			return nil, p.fail(off, "invalid utf-16 string length %d", n)
		}
		units := make([]uint16, n)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(b[i*2:])
		}
		return string(utf16.Decode(units)), nil
	case bpTagUID:
		b, err := p.bytesAt(off+1, uint64(info)+1)
		if err != nil {
			return nil, err
		}
		return UID(readSizedUint(b)), nil
	case bpTagArray:
		return p.parseArray(off, info)
	case bpTagDict:
		return p.parseDict(off, info)
	}

	return nil, p.fail(off, "unknown object type %#x (marker %#02x)", tag, marker)
}

// parseInteger decodes the integer object at off and returns the value and
// the offset just past it
func (p *bplistParser) parseInteger(off uint64) (any, uint64, error) {
	info := p.data[off] & 0x0F
	if info > 4 {
		return nil, 0, p.fail(off, "unsupported integer size %d", 1<<info)
	}
	size := uint64(1) << info
	b, err := p.bytesAt(off+1, size)
	if err != nil {
		return nil, 0, err
	}
	next := off + 1 + size
	switch size {
	case 1, 2, 4:
		return int64(readSizedUint(b)), next, nil
	case 8:
		hi := uint64(binary.BigEndian.Uint32(b[0:4]))
		lo := uint64(binary.BigEndian.Uint32(b[4:8]))
		return int64(hi<<32 | lo), next, nil
	default: // 16 bytes, only the low 64 bits carry a value
		u := binary.BigEndian.Uint64(b[8:16])
		if u > math.MaxInt64 {
			return u, next, nil
		}
		return int64(u), next, nil
	}
}

func (p *bplistParser) parseReal(off uint64, info byte) (any, error) {
	switch info {
	case 2:
		b, err := p.bytesAt(off+1, 4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 3:
		b, err := p.bytesAt(off+1, 8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	}
	return nil, p.fail(off, "unsupported real size %d", 1<<info)
}

// parseCount returns the inline or out-of-line (0xF) element count of the
// object at off along with the offset of its payload
func (p *bplistParser) parseCount(off uint64, info byte) (uint64, uint64, error) {
	if info != 0xF {
		return uint64(info), off + 1, nil
	}
	lenOff := off + 1
	if lenOff >= p.trailer.OffsetTableOffset {
		return 0, 0, p.fail(off, "length marker truncated")
	}
	if p.data[lenOff]>>4 != bpTagInteger {
		return 0, 0, p.fail(lenOff, "invalid length marker %#02x", p.data[lenOff])
	}
	v, next, err := p.parseInteger(lenOff)
	if err != nil {
		return 0, 0, err
	}
	n, ok := v.(int64)
	if !ok || n < 0 {
		return 0, 0, p.fail(lenOff, "invalid length %v", v)
	}
	return uint64(n), next, nil
}

func (p *bplistParser) refs(start, n uint64) ([]uint64, error) {
	size := uint64(p.trailer.ObjectRefSize)
	if n > p.trailer.OffsetTableOffset/size {
		return nil, p.fail(start, "reference list truncated (%d refs)", n)
	}
	b, err := p.bytesAt(start, n*size)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = readSizedUint(b[uint64(i)*size : uint64(i+1)*size])
	}
	return out, nil
}

func (p *bplistParser) parseArray(off uint64, info byte) (any, error) {
	n, start, err := p.parseCount(off, info)
	if err != nil {
		return nil, err
	}
	refs, err := p.refs(start, n)
	if err != nil {
		return nil, err
	}
	arr := make([]any, 0, len(refs))
	for _, ref := range refs {
		v, err := p.object(ref)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

func (p *bplistParser) parseDict(off uint64, info byte) (any, error) {
	n, start, err := p.parseCount(off, info)
	if err != nil {
		return nil, err
	}
	refs, err := p.refs(start, n*2)
	if err != nil {
		return nil, err
	}
	dict := NewDict()
	for i := uint64(0); i < n; i++ {
		k, err := p.object(refs[i])
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, p.fail(off, "dictionary key %d is %T, expected string", i, k)
		}
		v, err := p.object(refs[n+i])
		if err != nil {
			return nil, err
		}
		dict.Set(key, v)
	}
	return dict, nil
}

// latin1 maps every byte to the code point of the same value
func latin1(b []byte) string {
	for _, c := range b {
		if c >= 0x80 {
			runes := make([]rune, len(b))
			for i, c := range b {
				runes[i] = rune(c)
			}
			return string(runes)
		}
	}
	return string(b)
}
