package config

import (
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindObject
	// KindOther holds scalars the plain value model cannot express
	// (timestamps, binary, unknown tags).
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "other"
	}
}

// Value is a read-only node of a configuration tree. Object keys keep
// the order in which they appear in the source document.
type Value struct {
	kind   Kind
	scalar any
	items  []Value
	keys   []string
	fields map[string]Value
	tag    string
}

func NullValue() Value            { return Value{kind: KindNull} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, scalar: b} }
func IntValue(i int64) Value      { return Value{kind: KindInt, scalar: i} }
func FloatValue(f float64) Value  { return Value{kind: KindFloat, scalar: f} }
func StringValue(s string) Value  { return Value{kind: KindString, scalar: s} }
func ListValue(items ...Value) Value {
	return Value{kind: KindList, items: append([]Value{}, items...)}
}

// OtherValue wraps a scalar of a type outside the plain value model.
// tag names the source type (for example "!!timestamp").
func OtherValue(tag string, raw any) Value {
	return Value{kind: KindOther, scalar: raw, tag: tag}
}

func (v Value) Kind() Kind { return v.kind }

// Tag is the source type name of a KindOther value.
func (v Value) Tag() string { return v.tag }

func (v Value) Raw() any { return v.scalar }

func (v Value) Bool() (bool, bool) {
	b, ok := v.scalar.(bool)
	return b, ok && v.kind == KindBool
}

func (v Value) Int() (int64, bool) {
	i, ok := v.scalar.(int64)
	return i, ok && v.kind == KindInt
}

func (v Value) Float() (float64, bool) {
	f, ok := v.scalar.(float64)
	return f, ok && v.kind == KindFloat
}

func (v Value) Str() (string, bool) {
	s, ok := v.scalar.(string)
	return s, ok && v.kind == KindString
}

// Items returns a copy of the elements of a list value.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return append([]Value{}, v.items...)
}

// Keys returns the keys of an object value in document order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return append([]string{}, v.keys...)
}

func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.fields[key]
	return f, ok
}

// ObjectBuilder assembles an object value while keeping key order.
// Setting an existing key replaces the value but keeps its position.
type ObjectBuilder struct {
	keys   []string
	fields map[string]Value
}

func NewObjectBuilder() *ObjectBuilder {
	return &ObjectBuilder{fields: map[string]Value{}}
}

func (b *ObjectBuilder) Set(key string, v Value) *ObjectBuilder {
	if _, ok := b.fields[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.fields[key] = v
	return b
}

func (b *ObjectBuilder) Build() Value {
	fields := make(map[string]Value, len(b.fields))
	for k, v := range b.fields {
		fields[k] = v
	}
	return Value{kind: KindObject, keys: append([]string{}, b.keys...), fields: fields}
}

// Tree is a parsed configuration document addressed by dotted paths.
type Tree struct {
	root Value
}

func NewTree(root Value) *Tree {
	if root.kind != KindObject {
		root = NewObjectBuilder().Build()
	}
	return &Tree{root: root}
}

func (t *Tree) Root() Value { return t.root }

func (t *Tree) Get(path string) (Value, bool) {
	current := t.root
	for _, part := range SplitPath(path) {
		next, ok := current.Field(part)
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return current, true
}

func (t *Tree) HasPath(path string) bool {
	v, ok := t.Get(path)
	return ok && v.kind != KindNull
}

// Keys lists the immediate children of the object at path.
func (t *Tree) Keys(path string) ([]string, error) {
	v, ok := t.Get(path)
	if !ok {
		return nil, errors.Errorf("missing path %q", path)
	}
	if v.kind != KindObject {
		return nil, errors.Errorf("path %q is %s, not an object", path, v.kind)
	}
	return v.Keys(), nil
}

// JoinPath joins path segments with dots, skipping empty segments.
func JoinPath(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}

func SplitPath(path string) []string {
	raw := strings.Split(path, ".")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
