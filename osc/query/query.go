// Package query implements the OSC-query introspection tree: path lookup
// over nodes, indexed arrays and methods, argument checking against a
// method's declared signature and JSON descriptions for remote clients.
package query

import (
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"

	"chimaera/osc"
)

// Kind distinguishes the three item types of the tree.
type Kind uint8

const (
	KindNode Kind = iota
	KindArray
	KindMethod
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindArray:
		return "array"
	case KindMethod:
		return "method"
	}
	return "unknown"
}

// Mode marks an argument readable, writable or both.
type Mode uint8

const (
	ModeR  Mode = 1
	ModeW  Mode = 2
	ModeRW      = ModeR | ModeW
)

// IndexPlaceholder is substituted with the element index in array paths.
const IndexPlaceholder = "%i"

// Value is a constraint value; the field in use follows the argument type.
type Value struct {
	I int32
	F float32
	S string
}

// Range constrains numeric arguments to [Min, Max]. Step is only
// published in descriptions. For strings Max.I is the maximum length.
type Range struct {
	Min, Max, Step Value
}

// Argument is one declared argument of a method.
type Argument struct {
	Type        osc.Type
	Description string
	Mode        Mode
	Range       *Range
	Values      []Value
}

// Call is passed to a method handler. Handlers report read results with
// Reply.
type Call struct {
	Item   *Item
	Path   string
	Index  int // array index crossed on the way, -1 if none
	Format string
	Args   *osc.Reader

	format string
	values []any
}

// Reply sets the values appended to the success response.
func (c *Call) Reply(format string, values ...any) {
	c.format = format
	c.values = values
}

// Handler executes a method.
type Handler func(c *Call) error

// Item is one node of the query tree. Path is the item's own segment:
// nodes and arrays end in '/', array paths contain IndexPlaceholder and
// method paths are plain names.
type Item struct {
	Path        string
	Description string
	Kind        Kind
	Children    []*Item
	Count       int // array elements
	Handler     Handler
	Args        []Argument
}

// Node returns a node item.
func Node(path, desc string, children ...*Item) *Item {
	return &Item{Path: path, Description: desc, Kind: KindNode, Children: children}
}

// Array returns an array item with count elements sharing children.
func Array(path, desc string, count int, children ...*Item) *Item {
	return &Item{Path: path, Description: desc, Kind: KindArray, Count: count, Children: children}
}

// Method returns a method item.
func Method(path, desc string, h Handler, args ...Argument) *Item {
	return &Item{Path: path, Description: desc, Kind: KindMethod, Handler: h, Args: args}
}

// Find resolves path against the tree below root, whose own Path is the
// leading "/". It returns the matching item and the index of the last
// array crossed, or nil when nothing matches. Index -1 means no array was
// crossed.
func Find(root *Item, path string) (*Item, int) {
	rest, ok := strings.CutPrefix(path, root.Path)
	if !ok {
		if path+"/" == root.Path {
			return root, -1
		}
		return nil, -1
	}
	return find(root, rest, -1)
}

func find(item *Item, rest string, index int) (*Item, int) {
	if rest == "" {
		return item, index
	}
	for _, child := range item.Children {
		switch child.Kind {
		case KindMethod:
			if rest == child.Path {
				return child, index
			}
		case KindNode:
			if tail, ok := strings.CutPrefix(rest, child.Path); ok {
				if it, idx := find(child, tail, index); it != nil {
					return it, idx
				}
			} else if rest+"/" == child.Path {
				return child, index
			}
		case KindArray:
			n, tail, ok := matchIndex(child.Path, rest)
			if !ok || n >= child.Count {
				continue
			}
			if tail == "" || tail == "/" {
				return child, n
			}
			if it, idx := find(child, tail, n); it != nil {
				return it, idx
			}
		}
	}
	return nil, index
}

// matchIndex matches rest against an array path template such as "%i/",
// returning the index and the remainder behind the template.
func matchIndex(tmpl, rest string) (int, string, bool) {
	pre, post, ok := strings.Cut(tmpl, IndexPlaceholder)
	if !ok {
		return 0, "", false
	}
	rest, ok = strings.CutPrefix(rest, pre)
	if !ok {
		return 0, "", false
	}
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(rest[:digits])
	if err != nil {
		return 0, "", false
	}
	rest = rest[digits:]
	if tail, ok := strings.CutPrefix(rest, post); ok {
		return n, tail, true
	}
	if rest+"/" == post {
		return n, "", true
	}
	return 0, "", false
}

// Check reports whether a call of method item with format (no leading ',')
// and the argument bytes args is acceptable: either no arguments at all, or
// exactly one per writable argument with matching type, range and
// enumeration. args must come from a packet that passed osc.CheckPacket.
func Check(item *Item, format string, args []byte) bool {
	if item == nil || item.Kind != KindMethod {
		return false
	}
	if format == "" {
		return true
	}
	r := osc.NewReader(args)
	i := 0
	for _, arg := range item.Args {
		if arg.Mode&ModeW == 0 {
			continue
		}
		if i >= len(format) {
			return false
		}
		if !checkArg(&arg, osc.Type(format[i]), r) {
			return false
		}
		i++
	}
	return i == len(format)
}

func checkArg(arg *Argument, t osc.Type, r *osc.Reader) bool {
	switch arg.Type {
	case osc.True, osc.False:
		return t == osc.True || t == osc.False
	}
	if t != arg.Type {
		return false
	}
	switch t {
	case osc.Int32:
		v := r.GetInt32()
		if arg.Range != nil && !inRange(v, arg.Range.Min.I, arg.Range.Max.I) {
			return false
		}
		return enumerated(arg.Values, func(e Value) bool { return e.I == v })
	case osc.Float:
		v := r.GetFloat()
		if arg.Range != nil && !inRange(v, arg.Range.Min.F, arg.Range.Max.F) {
			return false
		}
		return enumerated(arg.Values, func(e Value) bool { return e.F == v })
	case osc.String, osc.Symbol:
		v := r.GetString()
		if arg.Range != nil && arg.Range.Max.I > 0 && len(v) > int(arg.Range.Max.I) {
			return false
		}
		return enumerated(arg.Values, func(e Value) bool { return e.S == v })
	default:
		r.SkipValue(t)
		return true
	}
}

func inRange[T constraints.Integer | constraints.Float](v, lo, hi T) bool {
	return v >= lo && v <= hi
}

func enumerated(values []Value, match func(Value) bool) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if match(v) {
			return true
		}
	}
	return false
}
