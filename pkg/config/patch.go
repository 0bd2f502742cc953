package config

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Assignment sets the value at a dotted path.
type Assignment struct {
	Path  string
	Value Value
}

// Patch is a set of command-line overrides applied over a loaded tree.
// Unsets run first, then assignments in order.
type Patch struct {
	Set   []Assignment
	Unset []string
}

func (p Patch) Empty() bool { return len(p.Set) == 0 && len(p.Unset) == 0 }

// ParseAssignment parses "path=value". The value is read as a YAML flow
// scalar, so "3" is an int, "true" a bool and "[1, 2]" a list.
func ParseAssignment(s string) (Assignment, error) {
	path, raw, ok := strings.Cut(s, "=")
	path = strings.TrimSpace(path)
	if !ok || path == "" {
		return Assignment{}, errors.Errorf("override %q must look like path=value", s)
	}
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &n); err != nil {
		return Assignment{}, errors.Wrapf(err, "parse override %q", s)
	}
	if n.Kind == 0 || len(n.Content) == 0 {
		return Assignment{Path: path, Value: StringValue("")}, nil
	}
	v, err := (&yamlDecoder{expanding: map[*yaml.Node]bool{}}).value(n.Content[0])
	if err != nil {
		return Assignment{}, errors.Wrapf(err, "parse override %q", s)
	}
	return Assignment{Path: path, Value: v}, nil
}

// Apply returns a new tree with the patch applied. Setting a path creates
// missing objects along the way; unsetting a missing path is a no-op.
func (p Patch) Apply(t *Tree) (*Tree, error) {
	root := t.Root()
	var err error
	for _, path := range p.Unset {
		parts := SplitPath(path)
		if len(parts) == 0 {
			return nil, errors.New("empty dotted key")
		}
		root, err = unsetPath(root, parts, path)
		if err != nil {
			return nil, err
		}
	}
	for _, a := range p.Set {
		parts := SplitPath(a.Path)
		if len(parts) == 0 {
			return nil, errors.New("empty dotted key")
		}
		root, err = setPath(root, parts, a.Value, a.Path)
		if err != nil {
			return nil, err
		}
	}
	return NewTree(root), nil
}

func setPath(obj Value, parts []string, v Value, full string) (Value, error) {
	b := rebuild(obj)
	if len(parts) == 1 {
		return b.Set(parts[0], v).Build(), nil
	}
	child, ok := obj.Field(parts[0])
	switch {
	case !ok || child.kind == KindNull:
		child = NewObjectBuilder().Build()
	case child.kind != KindObject:
		return Value{}, errors.Errorf("cannot set %q: path segment %q is not an object", full, parts[0])
	}
	next, err := setPath(child, parts[1:], v, full)
	if err != nil {
		return Value{}, err
	}
	return b.Set(parts[0], next).Build(), nil
}

func unsetPath(obj Value, parts []string, full string) (Value, error) {
	child, ok := obj.Field(parts[0])
	if !ok {
		return obj, nil
	}
	if len(parts) == 1 {
		b := NewObjectBuilder()
		for _, k := range obj.keys {
			if k != parts[0] {
				b.Set(k, obj.fields[k])
			}
		}
		return b.Build(), nil
	}
	if child.kind != KindObject {
		return Value{}, errors.Errorf("cannot unset %q: path segment %q is not an object", full, parts[0])
	}
	next, err := unsetPath(child, parts[1:], full)
	if err != nil {
		return Value{}, err
	}
	return rebuild(obj).Set(parts[0], next).Build(), nil
}

func rebuild(obj Value) *ObjectBuilder {
	b := NewObjectBuilder()
	for _, k := range obj.keys {
		b.Set(k, obj.fields[k])
	}
	return b
}

// PatchedSource applies a patch to every tree its inner source loads.
type PatchedSource struct {
	Source Source
	Patch  Patch
}

func (s PatchedSource) Load() (*Tree, error) {
	t, err := s.Source.Load()
	if err != nil {
		return nil, err
	}
	if s.Patch.Empty() {
		return t, nil
	}
	return s.Patch.Apply(t)
}
