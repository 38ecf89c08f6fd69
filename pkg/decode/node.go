package decode

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// Kind is the JSON type of a Node.
type Kind int

const (
	KindInvalid Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	return [...]string{"invalid", "null", "bool", "number", "string", "array", "object"}[k]
}

// Node is a parsed JSON value. The zero Node is invalid and must not be
// converted.
type Node struct {
	kind  Kind
	value any
	raw   string
}

func newNode(v any, raw string) Node {
	n := Node{value: v, raw: raw}
	switch v.(type) {
	case nil:
		n.kind = KindNull
	case bool:
		n.kind = KindBool
	case json.Number, float64, int64:
		n.kind = KindNumber
	case string:
		n.kind = KindString
	case []any:
		n.kind = KindArray
	case map[string]any:
		n.kind = KindObject
	}
	return n
}

// Kind returns the JSON type of the node.
func (n Node) Kind() Kind {
	return n.kind
}

// IsZero reports whether n is the invalid zero Node.
func (n Node) IsZero() bool {
	return n.kind == KindInvalid
}

// Raw returns the JSON text of the node. For the root this is the exact
// input; for children it is re-encoded.
func (n Node) Raw() string {
	if n.raw != "" || n.kind == KindInvalid {
		return n.raw
	}
	out, err := api.MarshalToString(n.value)
	if err != nil {
		return ""
	}
	return out
}

// Get returns the member key of an object node.
func (n Node) Get(key string) (Node, bool) {
	obj, ok := n.value.(map[string]any)
	if !ok {
		return Node{}, false
	}
	v, ok := obj[key]
	if !ok {
		return Node{}, false
	}
	return newNode(v, ""), true
}

// Lookup follows a dotted path of object keys, e.g. "data.serverTime".
func (n Node) Lookup(path string) (Node, bool) {
	cur := n
	for _, key := range strings.Split(path, ".") {
		next, ok := cur.Get(key)
		if !ok {
			return Node{}, false
		}
		cur = next
	}
	return cur, true
}

// Index returns element i of an array node.
func (n Node) Index(i int) (Node, bool) {
	arr, ok := n.value.([]any)
	if !ok || i < 0 || i >= len(arr) {
		return Node{}, false
	}
	return newNode(arr[i], ""), true
}

// Len returns the number of elements or members, 0 for scalars.
func (n Node) Len() int {
	switch v := n.value.(type) {
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	}
	return 0
}

// Keys returns the sorted member names of an object node.
func (n Node) Keys() []string {
	obj, ok := n.value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Text returns the value of a string node.
func (n Node) Text() (string, bool) {
	s, ok := n.value.(string)
	return s, ok
}

// Bool returns the value of a bool node.
func (n Node) Bool() (bool, bool) {
	b, ok := n.value.(bool)
	return b, ok
}

// Int64 returns the value of an integral number node. Numeric strings are
// accepted since many APIs quote large integers.
func (n Node) Int64() (int64, bool) {
	switch v := n.value.(type) {
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case float64:
		return int64(v), v == float64(int64(v))
	case int64:
		return v, true
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Float64 returns the value of a number node or numeric string.
func (n Node) Float64() (float64, bool) {
	switch v := n.value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
