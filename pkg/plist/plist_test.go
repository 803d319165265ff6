package plist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	gplist "github.com/blacktop/go-plist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDict() *Dict {
	return DictOf(
		"name", "WeChat",
		"id", int64(414478124),
		"negative", int64(-42),
		"big", int64(1<<40),
		"ratio", 3.25,
		"ok", true,
		"no", false,
		"blob", []byte{0x00, 0x01, 0x02, 0xfe, 0xff},
		"unicode", "微信 ✓",
		"long", strings.Repeat("x", 40),
		"list", []any{"a", int64(1), "a", DictOf("k", "v")},
		"nested", DictOf("inner", []any{int64(300), int64(70000)}),
	)
}

func keys(d *Dict) []string {
	var out []string
	for pair := d.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func trailer(data []byte) bplistTrailer {
	t := data[len(data)-bplistTrailerSize:]
	return bplistTrailer{
		OffsetIntSize:     t[6],
		ObjectRefSize:     t[7],
		NumObjects:        binary.BigEndian.Uint64(t[8:]),
		TopObject:         binary.BigEndian.Uint64(t[16:]),
		OffsetTableOffset: binary.BigEndian.Uint64(t[24:]),
	}
}

func TestBuildBinarySingleKeyDict(t *testing.T) {
	data, err := Build(DictOf("a", 1), BuildOptions{Format: BinaryFormat})
	require.NoError(t, err)

	want := []byte("bplist00")
	want = append(want,
		0xd1, 0x01, 0x02, // dict {ref1: ref2}
		0x51, 'a', // "a"
		0x10, 0x01, // 1
		0x08, 0x0b, 0x0d, // offset table
	)
	tr := make([]byte, bplistTrailerSize)
	tr[6], tr[7] = 1, 1
	binary.BigEndian.PutUint64(tr[8:], 3)
	binary.BigEndian.PutUint64(tr[24:], 15)
	want = append(want, tr...)
	assert.Equal(t, want, data)

	v, err := Parse(data)
	require.NoError(t, err)
	d, ok := v.(*Dict)
	require.True(t, ok)
	got, _ := d.Get("a")
	assert.Equal(t, int64(1), got, "integer 1, not real")
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts BuildOptions
	}{
		{"binary", BuildOptions{Format: BinaryFormat}},
		{"xml", BuildOptions{Format: XMLFormat}},
		{"xml compact", BuildOptions{Format: XMLFormat, Compact: true}},
		{"xml tabs", BuildOptions{Format: XMLFormat, Indent: "\t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := sampleDict()
			data, err := Build(want, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.opts.Format == BinaryFormat, IsBinary(data))

			got, err := ParseDict(data)
			require.NoError(t, err)
			assert.Equal(t, keys(want), keys(got))
			assert.Equal(t, ToNative(want), ToNative(got))
		})
	}
}

func TestRoundTripDate(t *testing.T) {
	when := time.Date(2024, time.March, 9, 17, 4, 5, 0, time.UTC)
	for _, format := range []Format{BinaryFormat, XMLFormat} {
		data, err := Build(DictOf("when", when), BuildOptions{Format: format})
		require.NoError(t, err)
		d, err := ParseDict(data)
		require.NoError(t, err)
		v, _ := d.Get("when")
		got, ok := v.(time.Time)
		require.True(t, ok, format.String())
		assert.True(t, when.Equal(got), "%s: %s != %s", format, when, got)
	}
}

func TestBinaryDeduplication(t *testing.T) {
	data, err := MarshalBinary(DictOf("a", "x", "b", "x"))
	require.NoError(t, err)
	// dict, "a", "x", "b"
	assert.EqualValues(t, 4, trailer(data).NumObjects)

	// keys and values share one string table
	data, err = MarshalBinary(DictOf("x", "x"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, trailer(data).NumObjects)

	data, err = MarshalBinary([]any{[]any{"q"}, []any{"q"}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, trailer(data).NumObjects)
}

func TestBinarySharedObjectsDoNotAlias(t *testing.T) {
	data, err := MarshalBinary(DictOf("x", []any{"q"}, "y", []any{"q"}))
	require.NoError(t, err)

	d, err := ParseDict(data)
	require.NoError(t, err)
	x, _ := d.Get("x")
	y, _ := d.Get("y")
	x.([]any)[0] = "changed"
	assert.Equal(t, []any{"q"}, y)
}

func TestBinaryRefSize(t *testing.T) {
	arr := make([]any, 300)
	for i := range arr {
		arr[i] = int64(i * 1000)
	}
	data, err := MarshalBinary(arr)
	require.NoError(t, err)

	tr := trailer(data)
	assert.EqualValues(t, 2, tr.ObjectRefSize)
	assert.EqualValues(t, 301, tr.NumObjects)
	assert.EqualValues(t, 2, tr.OffsetIntSize)

	v, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, arr, v)
}

func TestNumberClassification(t *testing.T) {
	data, err := MarshalBinary([]any{2.0, 2.5, uint8(7), -1})
	require.NoError(t, err)
	v, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), 2.5, int64(7), int64(-1)}, v)

	xml, err := Build([]any{2.0, 2.5}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(xml), "<integer>2</integer>")
	assert.Contains(t, string(xml), "<real>2.5</real>")
}

func TestParseBinaryUIDAndWideInts(t *testing.T) {
	// [UID(5), 16 byte int, 4 byte real]
	body := []byte{
		0xa3, 0x01, 0x02, 0x03,
		0x80, 0x05,
		0x14, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x22, 0x3f, 0xc0, 0x00, 0x00,
	}
	data := append([]byte("bplist00"), body...)
	tableAt := len(data)
	data = append(data, 8, 12, 14, 31)
	tr := make([]byte, bplistTrailerSize)
	tr[6], tr[7] = 1, 1
	binary.BigEndian.PutUint64(tr[8:], 4)
	binary.BigEndian.PutUint64(tr[24:], uint64(tableAt))
	data = append(data, tr...)

	v, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []any{UID(5), uint64(1<<64 - 1), 1.5}, v)
}

func bplistWith(objects [][]byte) []byte {
	data := []byte("bplist00")
	var offsets []byte
	for _, obj := range objects {
		offsets = append(offsets, byte(len(data)))
		data = append(data, obj...)
	}
	tableAt := len(data)
	data = append(data, offsets...)
	tr := make([]byte, bplistTrailerSize)
	tr[6], tr[7] = 1, 1
	binary.BigEndian.PutUint64(tr[8:], uint64(len(objects)))
	binary.BigEndian.PutUint64(tr[24:], uint64(tableAt))
	return append(data, tr...)
}

func TestParseBinaryErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("bplist00")},
		{"unknown tag", bplistWith([][]byte{{0x70}})},
		{"cycle", bplistWith([][]byte{{0xa1, 0x00}})},
		{"non string key", bplistWith([][]byte{{0xd1, 0x01, 0x01}, {0x10, 0x05}})},
		{"bad int size", bplistWith([][]byte{{0x15, 0, 0}})},
		{"truncated string", bplistWith([][]byte{{0x5e, 'a'}})},
		{"truncated utf16", bplistWith([][]byte{{0x63, 0x00, 'a'}})},
		{"ref out of range", bplistWith([][]byte{{0xa1, 0x07}})},
		{
			"offset table out of range",
			func() []byte {
				d := bplistWith([][]byte{{0x09}})
				binary.BigEndian.PutUint64(d[len(d)-8:], 0xffff)
				return d
			}(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			var derr *DecodeError
			assert.True(t, errors.As(err, &derr), "got %T", err)
			assert.Equal(t, BinaryFormat, derr.Format)
			assert.Equal(t, "DecodeError", derr.Name())
		})
	}
}

func TestBuildXML(t *testing.T) {
	data, err := Build(DictOf(
		"name", "a&b",
		"n", 3,
		"skip", nil,
		"data", []byte("hello"),
	), BuildOptions{})
	require.NoError(t, err)

	want := xmlHeader + "\n" + xmlDoctype + "\n" +
		`<plist version="1.0">
  <dict>
    <key>name</key>
    <string>a&amp;b</string>
    <key>n</key>
    <integer>3</integer>
    <key>data</key>
    <data>
      aGVsbG8=
    </data>
  </dict>
</plist>
`
	assert.Equal(t, want, string(data))
}

func TestBuildXMLWrapsData(t *testing.T) {
	blob := bytes.Repeat([]byte{0xab}, 120)
	data, err := Build(blob, BuildOptions{})
	require.NoError(t, err)

	s := string(data)
	body := s[strings.Index(s, "<data>")+len("<data>") : strings.Index(s, "</data>")]
	lines := strings.Fields(body)
	require.Len(t, lines, 3)
	assert.Len(t, lines[0], base64LineWidth)
	assert.Len(t, lines[1], base64LineWidth)
	assert.Len(t, lines[2], 24)

	v, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, blob, v)
}

func TestParseXML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    any
		wantErr bool
	}{
		{
			name:  "string keeps whitespace",
			input: `<plist version="1.0"><string>  padded </string></plist>`,
			want:  "  padded ",
		},
		{
			name:  "integer",
			input: "<plist><integer> 42 </integer></plist>",
			want:  int64(42),
		},
		{
			name:  "integer leading zero is decimal",
			input: "<plist><integer>010</integer></plist>",
			want:  int64(10),
		},
		{
			name:  "negative integer",
			input: "<plist><integer>-7</integer></plist>",
			want:  int64(-7),
		},
		{
			name:  "integer above int64",
			input: "<plist><integer>18446744073709551615</integer></plist>",
			want:  uint64(18446744073709551615),
		},
		{
			name:    "hex integer",
			input:   "<plist><integer>0x10</integer></plist>",
			wantErr: true,
		},
		{
			name:    "integer with underscore",
			input:   "<plist><integer>1_000</integer></plist>",
			wantErr: true,
		},
		{
			name:  "several children",
			input: "<plist><true/><false/><real>1.5</real></plist>",
			want:  []any{true, false, 1.5},
		},
		{
			name:  "unknown tag",
			input: "<plist><array><mystery>x</mystery><string>y</string></array></plist>",
			want:  []any{nil, "y"},
		},
		{
			name:  "empty",
			input: "<plist></plist>",
			want:  nil,
		},
		{
			name:    "no plist root",
			input:   "<dict><key>a</key><string>b</string></dict>",
			wantErr: true,
		},
		{
			name:    "value in key position",
			input:   "<plist><dict><string>a</string><string>b</string></dict></plist>",
			wantErr: true,
		},
		{
			name:    "malformed",
			input:   "<plist><dict></array></plist>",
			wantErr: true,
		},
		{
			name:    "bad integer",
			input:   "<plist><integer>abc</integer></plist>",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			if tt.wantErr {
				var derr *DecodeError
				require.Error(t, err)
				assert.True(t, errors.As(err, &derr))
				assert.Equal(t, XMLFormat, derr.Format)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseXMLDict(t *testing.T) {
	input := xmlHeader + xmlDoctype + `
<plist version="1.0">
<dict>
	<key>songList</key>
	<array>
		<dict>
			<key>songId</key>
			<integer>414478124</integer>
			<key>sinf</key>
			<data>
			aGVs
			bG8=
			</data>
		</dict>
	</array>
	<key>jingleDocType</key>
	<string>purchaseSuccess</string>
</dict>
</plist>`
	d, err := ParseDict([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"songList", "jingleDocType"}, keys(d))
	assert.Equal(t, map[string]any{
		"songList": []any{map[string]any{
			"songId": int64(414478124),
			"sinf":   []byte("hello"),
		}},
		"jingleDocType": "purchaseSuccess",
	}, ToNative(d))
}

func TestBinaryReadableByGoPlist(t *testing.T) {
	for _, format := range []Format{BinaryFormat, XMLFormat} {
		data, err := Build(DictOf(
			"appleId", "user@example.com",
			"attempt", 4,
			"createSession", "true",
			"rmp", 0,
			"tags", []any{"a", "b", "a"},
			"unicode", "日本語",
		), BuildOptions{Format: format})
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, gplist.NewDecoder(bytes.NewReader(data)).Decode(&out), format.String())
		assert.Equal(t, "user@example.com", out["appleId"])
		assert.EqualValues(t, 4, out["attempt"])
		assert.EqualValues(t, 0, out["rmp"])
		assert.Equal(t, []any{"a", "b", "a"}, out["tags"])
		assert.Equal(t, "日本語", out["unicode"])
	}
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := MarshalBinary(DictOf("ch", make(chan int)))
	var eerr *EncodeError
	require.Error(t, err)
	assert.True(t, errors.As(err, &eerr))
}

func TestNativeMapsAreSorted(t *testing.T) {
	data, err := Build(map[string]any{"b": 1, "a": 2}, BuildOptions{Compact: true})
	require.NoError(t, err)
	s := string(data)
	assert.Less(t, strings.Index(s, "<key>a</key>"), strings.Index(s, "<key>b</key>"))
}

func TestClone(t *testing.T) {
	orig := DictOf("list", []any{"x"}, "blob", []byte{1})
	cp := Clone(orig).(*Dict)
	l, _ := cp.Get("list")
	l.([]any)[0] = "y"
	b, _ := cp.Get("blob")
	b.([]byte)[0] = 9
	assert.Equal(t, map[string]any{"list": []any{"x"}, "blob": []byte{1}}, ToNative(orig))
}
