package plist

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"
)

const base64LineWidth = 68

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

type xmlGenerator struct {
	sb      strings.Builder
	indent  string
	newline string
}

func buildXML(v any, opts BuildOptions) ([]byte, error) {
	nv, err := normalize(v)
	if err != nil {
		return nil, err
	}

	g := &xmlGenerator{indent: opts.Indent, newline: "\n"}
	if g.indent == "" {
		g.indent = "  "
	}
	if opts.Compact {
		g.indent, g.newline = "", ""
	}

	g.line(0, xmlHeader)
	g.line(0, xmlDoctype)
	g.line(0, `<plist version="1.0">`)
	if err := g.value(nv, 1); err != nil {
		return nil, err
	}
	g.line(0, "</plist>")

	return []byte(g.sb.String()), nil
}

func (g *xmlGenerator) line(level int, s string) {
	g.sb.WriteString(strings.Repeat(g.indent, level))
	g.sb.WriteString(s)
	g.sb.WriteString(g.newline)
}

func (g *xmlGenerator) value(v any, level int) error {
	switch t := v.(type) {
	case nil:
		// not representable in XML, dropped
	case bool:
		if t {
			g.line(level, "<true/>")
		} else {
			g.line(level, "<false/>")
		}
	case int64:
		g.line(level, "<integer>"+strconv.FormatInt(t, 10)+"</integer>")
	case uint64:
		g.line(level, "<integer>"+strconv.FormatUint(t, 10)+"</integer>")
	case float64:
		g.line(level, "<real>"+formatReal(t)+"</real>")
	case string:
		g.line(level, "<string>"+xmlEscaper.Replace(t)+"</string>")
	case time.Time:
		g.line(level, "<date>"+t.UTC().Format("2006-01-02T15:04:05Z")+"</date>")
	case []byte:
		g.line(level, "<data>")
		enc := base64.StdEncoding.EncodeToString(t)
		for len(enc) > base64LineWidth {
			g.line(level+1, enc[:base64LineWidth])
			enc = enc[base64LineWidth:]
		}
		if len(enc) > 0 {
			g.line(level+1, enc)
		}
		g.line(level, "</data>")
	case UID:
		// keyed archiver convention
		g.line(level, "<dict>")
		g.line(level+1, "<key>CF$UID</key>")
		g.line(level+1, "<integer>"+strconv.FormatUint(uint64(t), 10)+"</integer>")
		g.line(level, "</dict>")
	case []any:
		g.line(level, "<array>")
		for _, item := range t {
			if err := g.value(item, level+1); err != nil {
				return err
			}
		}
		g.line(level, "</array>")
	case *Dict:
		g.line(level, "<dict>")
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value == nil {
				continue
			}
			g.line(level+1, "<key>"+xmlEscaper.Replace(pair.Key)+"</key>")
			if err := g.value(pair.Value, level+1); err != nil {
				return err
			}
		}
		g.line(level, "</dict>")
	default:
		return &EncodeError{Value: v}
	}
	return nil
}

func formatReal(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "+infinity"
	case math.IsInf(f, -1):
		return "-infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
