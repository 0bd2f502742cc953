package deploy

import (
	"math"
	"strings"
	"time"

	"github.com/go-go-golems/bootctl/pkg/config"
)

const (
	KeyName                   = "name"
	KeyConfiguration          = "configuration"
	KeyInstances              = "instances"
	KeyExtraClasspath         = "extraClasspath"
	KeyHighAvailability       = "highAvailability"
	KeyIsolatedClasses        = "isolatedClasses"
	KeyIsolationGroup         = "isolationGroup"
	KeyMaxWorkerExecutionTime = "maxWorkerExecutionTime"
	KeyWorker                 = "worker"
	KeyWorkerPoolName         = "workerPoolName"
	KeyWorkerPoolSize         = "workerPoolSize"
)

// Resolve reads every entry under basePath and returns one spec per entry
// in document order. The first bad entry fails the whole resolution.
func Resolve(tree *config.Tree, basePath string) ([]Spec, error) {
	if tree == nil {
		return nil, &ConfigError{Reason: "missing configuration tree"}
	}
	if basePath == "" {
		basePath = DefaultBasePath
	}
	base, ok := tree.Get(basePath)
	if !ok || base.Kind() == config.KindNull {
		return nil, &ConfigError{Reason: "missing unit list at " + basePath}
	}
	if base.Kind() != config.KindObject {
		return nil, &ConfigError{Reason: "unit list at " + basePath + " must be an object, got " + base.Kind().String()}
	}

	keys := base.Keys()
	specs := make([]Spec, 0, len(keys))
	for _, key := range keys {
		entry, _ := base.Field(key)
		spec, err := resolveEntry(key, entry)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func resolveEntry(key string, entry config.Value) (Spec, error) {
	if entry.Kind() != config.KindObject {
		return Spec{}, &ConfigError{Entry: key, Reason: "entry must be an object, got " + entry.Kind().String()}
	}
	r := entryReader{entry: key, v: entry}

	name, ok, err := r.str(KeyName)
	if err != nil {
		return Spec{}, err
	}
	if !ok || strings.TrimSpace(name) == "" {
		return Spec{}, fieldError(key, KeyName, "required")
	}

	opts := DefaultOptions()
	if opts.Config, err = r.configuration(); err != nil {
		return Spec{}, err
	}
	if opts.Instances, err = r.positiveInt(KeyInstances, DefaultInstances); err != nil {
		return Spec{}, err
	}
	if opts.ExtraClasspath, err = r.strings(KeyExtraClasspath); err != nil {
		return Spec{}, err
	}
	if opts.HighAvailability, err = r.boolean(KeyHighAvailability); err != nil {
		return Spec{}, err
	}
	if opts.IsolatedClasses, err = r.strings(KeyIsolatedClasses); err != nil {
		return Spec{}, err
	}
	if opts.IsolationGroup, _, err = r.str(KeyIsolationGroup); err != nil {
		return Spec{}, err
	}
	maxExec, err := r.positiveInt64(KeyMaxWorkerExecutionTime, math.MaxInt64)
	if err != nil {
		return Spec{}, err
	}
	opts.MaxWorkerExecutionTime = time.Duration(maxExec)
	if opts.Worker, err = r.boolean(KeyWorker); err != nil {
		return Spec{}, err
	}
	if opts.WorkerPoolName, _, err = r.str(KeyWorkerPoolName); err != nil {
		return Spec{}, err
	}
	if opts.WorkerPoolSize, err = r.positiveInt(KeyWorkerPoolSize, DefaultWorkerPoolSize); err != nil {
		return Spec{}, err
	}

	return Spec{Entry: key, Name: name, Options: opts}, nil
}

// entryReader extracts typed fields of one entry. A field set to null is
// treated as absent.
type entryReader struct {
	entry string
	v     config.Value
}

func (r entryReader) field(key string) (config.Value, bool) {
	f, ok := r.v.Field(key)
	if !ok || f.Kind() == config.KindNull {
		return config.Value{}, false
	}
	return f, true
}

func (r entryReader) str(key string) (string, bool, error) {
	f, ok := r.field(key)
	if !ok {
		return "", false, nil
	}
	s, ok := f.Str()
	if !ok {
		return "", false, fieldError(r.entry, key, "expected string, got %s", f.Kind())
	}
	return s, true, nil
}

func (r entryReader) boolean(key string) (bool, error) {
	f, ok := r.field(key)
	if !ok {
		return false, nil
	}
	b, ok := f.Bool()
	if !ok {
		return false, fieldError(r.entry, key, "expected boolean, got %s", f.Kind())
	}
	return b, nil
}

func (r entryReader) positiveInt64(key string, def int64) (int64, error) {
	f, ok := r.field(key)
	if !ok {
		return def, nil
	}
	n, ok := f.Int()
	if !ok {
		return 0, fieldError(r.entry, key, "expected integer, got %s", f.Kind())
	}
	if n < 1 {
		return 0, fieldError(r.entry, key, "must be >= 1, got %d", n)
	}
	return n, nil
}

func (r entryReader) positiveInt(key string, def int) (int, error) {
	n, err := r.positiveInt64(key, int64(def))
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 {
		return 0, fieldError(r.entry, key, "out of range: %d", n)
	}
	return int(n), nil
}

func (r entryReader) strings(key string) ([]string, error) {
	f, ok := r.field(key)
	if !ok {
		return nil, nil
	}
	if f.Kind() != config.KindList {
		return nil, fieldError(r.entry, key, "expected list of strings, got %s", f.Kind())
	}
	items := f.Items()
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.Str()
		if !ok {
			return nil, fieldError(r.entry, key, "element %d: expected string, got %s", i, item.Kind())
		}
		out = append(out, s)
	}
	return out, nil
}

func (r entryReader) configuration() (map[string]any, error) {
	f, ok := r.field(KeyConfiguration)
	if !ok {
		return map[string]any{}, nil
	}
	if f.Kind() != config.KindObject {
		return nil, fieldError(r.entry, KeyConfiguration, "expected object, got %s", f.Kind())
	}
	plain, err := ToPlain(f)
	if err != nil {
		return nil, &ConfigError{Entry: r.entry, Field: KeyConfiguration, Err: err}
	}
	return plain.(map[string]any), nil
}
