package plist

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
)

func parseXML(data []byte) (any, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: XMLFormat, Reason: err.Error()}
	}

	var root *xmlquery.Node
	for _, n := range elements(doc) {
		root = n
		break
	}
	if root == nil || root.Data != "plist" {
		return nil, &DecodeError{Format: XMLFormat, Reason: "missing <plist> root element"}
	}

	children := elements(root)
	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return xmlValue(children[0])
	}
	// several top level values decode as an array
	arr := make([]any, 0, len(children))
	for _, c := range children {
		v, err := xmlValue(c)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

// elements returns the element children of n, skipping text, comments and
// directives
func elements(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func xmlFail(format string, args ...any) error {
	return &DecodeError{Format: XMLFormat, Reason: fmt.Sprintf(format, args...)}
}

func xmlValue(n *xmlquery.Node) (any, error) {
	switch n.Data {
	case "dict":
		return xmlDict(n)
	case "array":
		children := elements(n)
		arr := make([]any, 0, len(children))
		for _, c := range children {
			v, err := xmlValue(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case "string", "key":
		return n.InnerText(), nil
	case "integer":
		text := strings.TrimSpace(n.InnerText())
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(text, 10, 64); err == nil {
			return u, nil
		}
		return nil, xmlFail("invalid integer %q", text)
	case "real":
		text := strings.TrimSpace(n.InnerText())
		switch strings.ToLower(text) {
		case "nan":
			return math.NaN(), nil
		case "+infinity", "infinity", "inf":
			return math.Inf(1), nil
		case "-infinity", "-inf":
			return math.Inf(-1), nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, xmlFail("invalid real %q", text)
		}
		return f, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "date":
		text := strings.TrimSpace(n.InnerText())
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return nil, xmlFail("invalid date %q", text)
		}
		return t.UTC(), nil
	case "data":
		text := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', '\n', '\r':
				return -1
			}
			return r
		}, n.InnerText())
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, xmlFail("invalid base64 data: %v", err)
		}
		return b, nil
	}
	return nil, nil
}

func xmlDict(n *xmlquery.Node) (*Dict, error) {
	children := elements(n)
	dict := NewDict()
	for i := 0; i < len(children); i += 2 {
		k := children[i]
		if k.Data != "key" {
			return nil, xmlFail("expected <key> in <dict>, found <%s>", k.Data)
		}
		if i+1 >= len(children) {
			return nil, xmlFail("missing value for key %q", k.InnerText())
		}
		v, err := xmlValue(children[i+1])
		if err != nil {
			return nil, err
		}
		dict.Set(k.InnerText(), v)
	}
	return dict, nil
}
