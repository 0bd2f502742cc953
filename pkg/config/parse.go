package config

import (
	"bytes"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath guesses the document format from a file extension,
// defaulting to YAML.
func FormatFromPath(path string) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

type ParseOptions struct {
	// LookupEnv resolves ${VAR} references in string values. Nil disables
	// substitution.
	LookupEnv func(string) (string, bool)
}

func Parse(data []byte, format Format, opts ParseOptions) (*Tree, error) {
	var (
		root Value
		err  error
	)
	switch format {
	case FormatYAML, "":
		root, err = parseYAML(data)
	case FormatTOML:
		root, err = parseTOML(data)
	default:
		return nil, errors.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if opts.LookupEnv != nil {
		root, err = substitute(root, opts.LookupEnv)
		if err != nil {
			return nil, err
		}
	}
	return NewTree(root), nil
}

// maxYAMLNodes caps the number of nodes produced while expanding aliases.
const maxYAMLNodes = 100_000

func parseYAML(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewObjectBuilder().Build(), nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Value{}, errors.Wrap(err, "parse config yaml")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return NewObjectBuilder().Build(), nil
	}
	d := &yamlDecoder{expanding: map[*yaml.Node]bool{}}
	root, err := d.value(doc.Content[0])
	if err != nil {
		return Value{}, err
	}
	if root.Kind() != KindObject && root.Kind() != KindNull {
		return Value{}, errors.Errorf("config document root must be a mapping, got %s", root.Kind())
	}
	return root, nil
}

type yamlDecoder struct {
	// expanding holds the anchors whose alias is being expanded.
	expanding map[*yaml.Node]bool
	nodes     int
}

func (d *yamlDecoder) value(n *yaml.Node) (Value, error) {
	d.nodes++
	if d.nodes > maxYAMLNodes {
		return Value{}, errors.Errorf("line %d: document expands to more than %d nodes", n.Line, maxYAMLNodes)
	}

	switch n.Kind {
	case yaml.AliasNode:
		if d.expanding[n.Alias] {
			return Value{}, errors.Errorf("line %d: recursive alias *%s", n.Line, n.Value)
		}
		d.expanding[n.Alias] = true
		defer delete(d.expanding, n.Alias)
		return d.value(n.Alias)
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return NullValue(), nil
		}
		return d.value(n.Content[0])
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := d.value(c)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return ListValue(items...), nil
	case yaml.MappingNode:
		return d.mapping(n)
	case yaml.ScalarNode:
		return fromYAMLScalar(n)
	default:
		return Value{}, errors.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
	}
}

// mapping keeps document key order. Explicit keys win over merged ones
// wherever the merge key appears, and earlier merge sources win over later
// ones. Repeating an explicit key is an error.
func (d *yamlDecoder) mapping(n *yaml.Node) (Value, error) {
	explicit := map[string]bool{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if k.ShortTag() == "!!merge" {
			continue
		}
		if explicit[k.Value] {
			return Value{}, errors.Errorf("line %d: duplicate key %q", k.Line, k.Value)
		}
		explicit[k.Value] = true
	}

	b := NewObjectBuilder()
	merged := map[string]bool{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, vn := n.Content[i], n.Content[i+1]
		if k.ShortTag() == "!!merge" {
			if err := d.merge(b, vn, explicit, merged); err != nil {
				return Value{}, err
			}
			continue
		}
		v, err := d.value(vn)
		if err != nil {
			return Value{}, err
		}
		b.Set(k.Value, v)
	}
	return b.Build(), nil
}

func (d *yamlDecoder) merge(b *ObjectBuilder, n *yaml.Node, explicit, merged map[string]bool) error {
	sources := []*yaml.Node{n}
	if n.Kind == yaml.SequenceNode {
		sources = n.Content
	}
	for _, src := range sources {
		v, err := d.value(src)
		if err != nil {
			return err
		}
		if v.Kind() != KindObject {
			return errors.Errorf("line %d: merge key requires a mapping", src.Line)
		}
		for _, k := range v.Keys() {
			if explicit[k] || merged[k] {
				continue
			}
			merged[k] = true
			f, _ := v.Field(k)
			b.Set(k, f)
		}
	}
	return nil
}

func fromYAMLScalar(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return NullValue(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, errors.Wrapf(err, "line %d", n.Line)
		}
		return BoolValue(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			// out of int64 range: keep the literal, the consumer decides
			return OtherValue("!!int", n.Value), nil
		}
		return IntValue(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, errors.Wrapf(err, "line %d", n.Line)
		}
		return FloatValue(f), nil
	case "!!str":
		return StringValue(n.Value), nil
	default:
		return OtherValue(n.ShortTag(), n.Value), nil
	}
}

func parseTOML(data []byte) (Value, error) {
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Value{}, errors.Wrap(err, "parse config toml")
	}

	// MetaData.Keys lists every key in document order; collect the child
	// order of each table from it.
	order := map[string][]string{}
	seen := map[string]struct{}{}
	for _, key := range md.Keys() {
		if len(key) == 0 {
			continue
		}
		full := strings.Join(key, "\x00")
		if _, ok := seen[full]; ok {
			continue
		}
		seen[full] = struct{}{}
		parent := strings.Join(key[:len(key)-1], "\x00")
		order[parent] = append(order[parent], key[len(key)-1])
	}
	return fromTOMLValue(raw, "", order)
}

func fromTOMLValue(v any, path string, order map[string][]string) (Value, error) {
	switch t := v.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(t), nil
	case int64:
		return IntValue(t), nil
	case float64:
		return FloatValue(t), nil
	case string:
		return StringValue(t), nil
	case map[string]any:
		b := NewObjectBuilder()
		for _, k := range orderedKeys(t, order[path]) {
			child, err := fromTOMLValue(t[k], joinKey(path, k), order)
			if err != nil {
				return Value{}, err
			}
			b.Set(k, child)
		}
		return b.Build(), nil
	case []map[string]any:
		// MetaData.Keys lists the keys of every table in an array of tables
		// under the array's own path.
		items := make([]Value, 0, len(t))
		for _, m := range t {
			child, err := fromTOMLValue(m, path, order)
			if err != nil {
				return Value{}, err
			}
			items = append(items, child)
		}
		return ListValue(items...), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, e := range t {
			child, err := fromTOMLValue(e, path, order)
			if err != nil {
				return Value{}, err
			}
			items = append(items, child)
		}
		return ListValue(items...), nil
	default:
		return OtherValue("toml", t), nil
	}
}

func orderedKeys(m map[string]any, hint []string) []string {
	out := make([]string, 0, len(m))
	used := map[string]struct{}{}
	for _, k := range hint {
		if _, ok := m[k]; !ok {
			continue
		}
		if _, ok := used[k]; ok {
			continue
		}
		used[k] = struct{}{}
		out = append(out, k)
	}
	var rest []string
	for k := range m {
		if _, ok := used[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "\x00" + key
}

func substitute(v Value, lookup func(string) (string, bool)) (Value, error) {
	out, _, err := substituteValue(v, lookup)
	return out, err
}

// substituteValue reports present=false for a string that is exactly one
// unset ${?VAR}. Such a field is left out of its object and such an element
// out of its list.
func substituteValue(v Value, lookup func(string) (string, bool)) (Value, bool, error) {
	switch v.Kind() {
	case KindString:
		s, _ := v.Str()
		if name, ok := soleOptional(s); ok {
			if _, set := lookup(name); !set {
				return Value{}, false, nil
			}
		}
		out, err := expand(s, lookup)
		if err != nil {
			return Value{}, false, err
		}
		return StringValue(out), true, nil
	case KindList:
		items := v.Items()
		out := make([]Value, 0, len(items))
		for _, item := range items {
			e, present, err := substituteValue(item, lookup)
			if err != nil {
				return Value{}, false, err
			}
			if present {
				out = append(out, e)
			}
		}
		return ListValue(out...), true, nil
	case KindObject:
		b := NewObjectBuilder()
		for _, k := range v.Keys() {
			f, _ := v.Field(k)
			e, present, err := substituteValue(f, lookup)
			if err != nil {
				return Value{}, false, err
			}
			if present {
				b.Set(k, e)
			}
		}
		return b.Build(), true, nil
	default:
		return v, true, nil
	}
}

func soleOptional(s string) (string, bool) {
	if !strings.HasPrefix(s, "${?") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	name := s[3 : len(s)-1]
	if name == "" || strings.ContainsAny(name, "${}") {
		return "", false
	}
	return name, true
}

// expand replaces ${VAR} and ${?VAR}. Inside a longer string the optional
// form expands to the empty string when VAR is unset; the required form is
// an error. A lone '$' is kept as is.
func expand(s string, lookup func(string) (string, bool)) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	var out strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			out.WriteString(s)
			return out.String(), nil
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			return "", errors.Errorf("unterminated substitution in %q", s)
		}
		out.WriteString(s[:i])
		name := s[i+2 : i+j]
		optional := strings.HasPrefix(name, "?")
		name = strings.TrimPrefix(name, "?")
		if name == "" {
			return "", errors.Errorf("empty substitution in %q", s)
		}
		if val, ok := lookup(name); ok {
			out.WriteString(val)
		} else if !optional {
			return "", errors.Errorf("unresolved substitution ${%s}", name)
		}
		s = s[i+j+1:]
	}
}
