// Package plist parses and builds Apple property lists in both the binary
// (bplist00) and the XML representation.
//
// Decoded values use the following Go types:
//
//	nil         <- null (binary only)
//	bool        <- <true/>, <false/>
//	int64       <- <integer> (uint64 for 128-bit values above math.MaxInt64)
//	float64     <- <real>
//	string      <- <string>, <key>
//	[]byte      <- <data>
//	time.Time   <- <date> (UTC)
//	UID         <- CF$UID (binary only)
//	[]any       <- <array>
//	*Dict       <- <dict> (insertion ordered)
package plist

import (
	"bytes"
	"fmt"
	"math"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Format is a property list serialization format
type Format int

const (
	// XMLFormat is the textual XML property list format
	XMLFormat Format = iota
	// BinaryFormat is the bplist00 format
	BinaryFormat
)

func (f Format) String() string {
	switch f {
	case XMLFormat:
		return "xml"
	case BinaryFormat:
		return "binary"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat returns the Format named by s ("xml" or "binary")
func ParseFormat(s string) (Format, error) {
	switch s {
	case "xml", "":
		return XMLFormat, nil
	case "binary", "bplist":
		return BinaryFormat, nil
	}
	return XMLFormat, fmt.Errorf("unknown plist format: %s", s)
}

const (
	binaryMagic = "bplist"
	xmlHeader   = `<?xml version="1.0" encoding="UTF-8"?>`
	xmlDoctype  = `<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">`
)

// appleEpoch is the reference date of plist <date> values
var appleEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// appleTime converts seconds since appleEpoch to a UTC time
func appleTime(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(appleEpoch.Unix()+int64(whole), int64(math.Round(frac*1e9))).UTC()
}

func appleSeconds(t time.Time) float64 {
	return float64(t.Unix()-appleEpoch.Unix()) + float64(t.Nanosecond())/1e9
}

// Dict is an insertion ordered plist dictionary
type Dict = orderedmap.OrderedMap[string, any]

// NewDict returns an empty Dict
func NewDict() *Dict {
	return orderedmap.New[string, any]()
}

// DictOf builds a Dict from alternating key/value arguments, e.g.
// DictOf("guid", guid, "why", "signIn")
func DictOf(kv ...any) *Dict {
	d := NewDict()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("plist: DictOf key %v is not a string", kv[i]))
		}
		d.Set(key, kv[i+1])
	}
	return d
}

// UID is a keyed archiver object reference
type UID uint64

// BuildOptions controls Build
type BuildOptions struct {
	// Format selects XML (default) or binary output
	Format Format
	// Compact disables XML indentation and newlines
	Compact bool
	// Indent is the XML indentation unit (default two spaces)
	Indent string
}

// IsBinary reports whether data starts with the binary plist marker
func IsBinary(data []byte) bool {
	return bytes.HasPrefix(data, []byte(binaryMagic))
}

// Parse decodes a binary or XML property list. The format is detected from
// the leading "bplist" marker.
func Parse(data []byte) (any, error) {
	if IsBinary(data) {
		return parseBinary(data)
	}
	return parseXML(data)
}

// Build encodes v as a property list
func Build(v any, opts BuildOptions) ([]byte, error) {
	switch opts.Format {
	case BinaryFormat:
		return buildBinary(v)
	case XMLFormat:
		return buildXML(v, opts)
	default:
		return nil, fmt.Errorf("plist: unknown format: %s", opts.Format)
	}
}

// MarshalBinary encodes v as a bplist00 property list
func MarshalBinary(v any) ([]byte, error) {
	return Build(v, BuildOptions{Format: BinaryFormat})
}

// ParseDict decodes data and asserts the top level object is a dictionary
func ParseDict(data []byte) (*Dict, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	d, ok := v.(*Dict)
	if !ok {
		return nil, &DecodeError{Reason: fmt.Sprintf("top level object is %T, expected dict", v)}
	}
	return d, nil
}

// ToNative converts v into plain Go maps and slices (map[string]any instead
// of *Dict) so it can be fed to reflection based decoders.
func ToNative(v any) any {
	switch t := v.(type) {
	case *Dict:
		m := make(map[string]any, t.Len())
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			m[pair.Key] = ToNative(pair.Value)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToNative(item)
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of a decoded value
func Clone(v any) any {
	switch t := v.(type) {
	case *Dict:
		d := orderedmap.New[string, any](orderedmap.WithCapacity[string, any](t.Len()))
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			d.Set(pair.Key, Clone(pair.Value))
		}
		return d
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// String returns d[key] when it holds a string
func String(d *Dict, key string) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether key is present in d
func Has(d *Dict, key string) bool {
	if d == nil {
		return false
	}
	_, ok := d.Get(key)
	return ok
}
