package xdf

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// node is a generic element. Names and attribute keys are lower-cased since
// definition files in the wild disagree on case.
type node struct {
	name     string
	attrs    map[string]string
	text     string
	children []*node
}

// decodeTree reads the whole document into a node tree. The decoder runs in
// non-strict mode so stray ampersands and unquoted attributes survive.
func decodeTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel

	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedStructure, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: strings.ToLower(t.Name.Local), attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.attrs[strings.ToLower(a.Name.Local)] = strings.TrimSpace(a.Value)
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: document has no root element", ErrMalformedStructure)
	}
	trimText(root)
	return root, nil
}

func trimText(n *node) {
	n.text = strings.TrimSpace(n.text)
	for _, c := range n.children {
		trimText(c)
	}
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) all(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// field looks a value up as an attribute first, then as child element text,
// trying each name in turn.
func (n *node) field(names ...string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, name := range names {
		if v, ok := n.attrs[name]; ok {
			return v, true
		}
	}
	for _, name := range names {
		if c := n.child(name); c != nil {
			return c.text, true
		}
	}
	return "", false
}

func (n *node) str(names ...string) string {
	v, _ := n.field(names...)
	return v
}

// parseInt accepts decimal and 0x-prefixed hex, with an optional sign.
func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else {
		s = strings.TrimPrefix(s, "+")
	}
	var v uint64
	var err error
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	if neg {
		return -int64(v), nil
	}
	return int64(v), nil
}

func parseUint(s string) (uint64, error) {
	v, err := parseInt(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %d", v)
	}
	return uint64(v), nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err := parseInt(s)
		return float64(v), err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	v, err := parseInt(s)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %q", s)
	}
	return v != 0, nil
}

// normalizeID makes hex identifiers comparable: "0x00aB" and "0xAB" match.
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 2 && (id[:2] == "0x" || id[:2] == "0X") {
		if v, err := strconv.ParseUint(id[2:], 16, 64); err == nil {
			return fmt.Sprintf("0x%X", v)
		}
	}
	return id
}
