package plist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// bpNode is one object of the graph being written, with the canonical key
// used to de-duplicate structurally equal objects
type bpNode struct {
	value    any
	key      string
	children []*bpNode // arrays: items, dicts: key0 val0 key1 val1 ...
}

type bplistGenerator struct {
	objects []*bpNode
	index   map[string]uint64
}

func buildBinary(v any) ([]byte, error) {
	nv, err := normalize(v)
	if err != nil {
		return nil, err
	}
	root := newBPNode(nv)

	g := &bplistGenerator{index: make(map[string]uint64)}
	g.collect(root)

	refSize := minIntSize(uint64(len(g.objects)))

	var buf bytes.Buffer
	buf.WriteString("bplist00")
	offsets := make([]uint64, len(g.objects))
	for i, obj := range g.objects {
		offsets[i] = uint64(buf.Len())
		if err := g.writeObject(&buf, obj, refSize); err != nil {
			return nil, err
		}
	}

	offsetTableOffset := uint64(buf.Len())
	offsetIntSize := minIntSize(offsetTableOffset)
	for _, off := range offsets {
		buf.Write(sizedUint(off, offsetIntSize))
	}

	var trailer [bplistTrailerSize]byte
	trailer[6] = byte(offsetIntSize)
	trailer[7] = byte(refSize)
	binary.BigEndian.PutUint64(trailer[8:], uint64(len(g.objects)))
	binary.BigEndian.PutUint64(trailer[16:], 0) // root is always collected first
	binary.BigEndian.PutUint64(trailer[24:], offsetTableOffset)
	buf.Write(trailer[:])

	return buf.Bytes(), nil
}

func newBPNode(v any) *bpNode {
	n := &bpNode{value: v}
	switch t := v.(type) {
	case []any:
		var sb strings.Builder
		sb.WriteString("a[")
		for _, item := range t {
			c := newBPNode(item)
			n.children = append(n.children, c)
			sb.WriteString(c.key)
			sb.WriteByte(',')
		}
		sb.WriteByte(']')
		n.key = sb.String()
	case *Dict:
		var sb strings.Builder
		sb.WriteString("d{")
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			k, val := newBPNode(pair.Key), newBPNode(pair.Value)
			n.children = append(n.children, k, val)
			sb.WriteString(k.key)
			sb.WriteByte(':')
			sb.WriteString(val.key)
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
		n.key = sb.String()
	default:
		n.key = scalarKey(v)
	}
	return n
}

// scalarKey is a type tagged serialization of a leaf value
func scalarKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "n"
	case bool:
		return "b" + strconv.FormatBool(t)
	case int64:
		return "i" + strconv.FormatInt(t, 10)
	case uint64:
		return "i" + strconv.FormatUint(t, 10)
	case float64:
		return "r" + strconv.FormatUint(math.Float64bits(t), 16)
	case string:
		return strconv.Quote(t)
	case []byte:
		return "x" + fmt.Sprintf("%x", t)
	case time.Time:
		return "t" + strconv.FormatInt(t.UnixNano(), 10)
	case UID:
		return "u" + strconv.FormatUint(uint64(t), 10)
	}
	return fmt.Sprintf("?%T", v)
}

// collect assigns object indices in depth first pre-order, dict keys before
// their values
func (g *bplistGenerator) collect(n *bpNode) uint64 {
	if idx, ok := g.index[n.key]; ok {
		return idx
	}
	idx := uint64(len(g.objects))
	g.index[n.key] = idx
	g.objects = append(g.objects, n)
	for _, c := range n.children {
		g.collect(c)
	}
	return idx
}

func (g *bplistGenerator) ref(n *bpNode) uint64 {
	return g.index[n.key]
}

func (g *bplistGenerator) writeObject(buf *bytes.Buffer, n *bpNode, refSize int) error {
	switch t := n.value.(type) {
	case nil:
		buf.WriteByte(0x00)
	case bool:
		if t {
			buf.WriteByte(0x09)
		} else {
			buf.WriteByte(0x08)
		}
	case int64:
		writeBPInt(buf, t)
	case uint64:
		buf.WriteByte(0x14)
		var b [16]byte
		binary.BigEndian.PutUint64(b[8:], t)
		buf.Write(b[:])
	case float64:
		buf.WriteByte(0x23)
		binary.Write(buf, binary.BigEndian, math.Float64bits(t))
	case time.Time:
		buf.WriteByte(0x33)
		binary.Write(buf, binary.BigEndian, math.Float64bits(appleSeconds(t)))
	case []byte:
		writeBPHeader(buf, bpTagData, len(t))
		buf.Write(t)
	case string:
		writeBPString(buf, t)
	case UID:
		b := sizedUint(uint64(t), uidSize(uint64(t)))
		buf.WriteByte(bpTagUID<<4 | byte(len(b)-1))
		buf.Write(b)
	case []any:
		writeBPHeader(buf, bpTagArray, len(n.children))
		for _, c := range n.children {
			buf.Write(sizedUint(g.ref(c), refSize))
		}
	case *Dict:
		count := len(n.children) / 2
		writeBPHeader(buf, bpTagDict, count)
		for i := 0; i < count; i++ {
			buf.Write(sizedUint(g.ref(n.children[2*i]), refSize))
		}
		for i := 0; i < count; i++ {
			buf.Write(sizedUint(g.ref(n.children[2*i+1]), refSize))
		}
	default:
		return &EncodeError{Value: n.value}
	}
	return nil
}

func writeBPInt(buf *bytes.Buffer, i int64) {
	switch {
	case i >= 0 && i < 1<<8:
		buf.WriteByte(0x10)
		buf.WriteByte(byte(i))
	case i >= 0 && i < 1<<16:
		buf.WriteByte(0x11)
		binary.Write(buf, binary.BigEndian, uint16(i))
	case i >= 0 && i < 1<<32:
		buf.WriteByte(0x12)
		binary.Write(buf, binary.BigEndian, uint32(i))
	default:
		// negatives are 8 byte two's complement
		buf.WriteByte(0x13)
		binary.Write(buf, binary.BigEndian, uint64(i))
	}
}

// writeBPHeader writes a marker with an inline count, or 0xF followed by an
// integer object when count does not fit in the low nibble
func writeBPHeader(buf *bytes.Buffer, tag byte, count int) {
	if count < 15 {
		buf.WriteByte(tag<<4 | byte(count))
		return
	}
	buf.WriteByte(tag<<4 | 0x0F)
	switch {
	case count < 1<<8:
		buf.WriteByte(0x10)
		buf.WriteByte(byte(count))
	case count < 1<<16:
		buf.WriteByte(0x11)
		binary.Write(buf, binary.BigEndian, uint16(count))
	default:
		buf.WriteByte(0x12)
		binary.Write(buf, binary.BigEndian, uint32(count))
	}
}

func writeBPString(buf *bytes.Buffer, s string) {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			ascii = false
			break
		}
	}
	if ascii {
		writeBPHeader(buf, bpTagASCII, len(s))
		buf.WriteString(s)
		return
	}
	units := utf16.Encode([]rune(s))
	writeBPHeader(buf, bpTagUTF16, len(units))
	for _, u := range units {
		binary.Write(buf, binary.BigEndian, u)
	}
}

// minIntSize is the smallest of 1, 2 or 4 bytes able to hold values below n
func minIntSize(n uint64) int {
	switch {
	case n < 1<<8:
		return 1
	case n < 1<<16:
		return 2
	default:
		return 4
	}
}

func uidSize(u uint64) int {
	switch {
	case u < 1<<8:
		return 1
	case u < 1<<16:
		return 2
	case u < 1<<32:
		return 4
	default:
		return 8
	}
}

func sizedUint(v uint64, size int) []byte {
	b := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
