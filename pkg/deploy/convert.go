package deploy

import (
	"math"
	"strconv"

	"github.com/go-go-golems/bootctl/pkg/config"
	"github.com/pkg/errors"
)

// ToPlain converts a configuration value into the plain representation
// handed to units: nil, bool, int64, float64, string, []any and
// map[string]any. Values outside that model are rejected.
func ToPlain(v config.Value) (any, error) {
	return toPlain(v, "")
}

func toPlain(v config.Value, path string) (any, error) {
	switch v.Kind() {
	case config.KindNull:
		return nil, nil
	case config.KindBool:
		b, _ := v.Bool()
		return b, nil
	case config.KindInt:
		i, _ := v.Int()
		return i, nil
	case config.KindFloat:
		f, _ := v.Float()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, errors.Errorf("%s: non-finite number %v", displayPath(path), f)
		}
		return f, nil
	case config.KindString:
		s, _ := v.Str()
		return s, nil
	case config.KindList:
		items := v.Items()
		out := make([]any, 0, len(items))
		for i, item := range items {
			p, err := toPlain(item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case config.KindObject:
		out := make(map[string]any, len(v.Keys()))
		for _, k := range v.Keys() {
			f, _ := v.Field(k)
			p, err := toPlain(f, config.JoinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	default:
		return nil, errors.Errorf("%s: unsupported value type %s", displayPath(path), v.Tag())
	}
}

func displayPath(p string) string {
	if p == "" {
		return "<root>"
	}
	return p
}
