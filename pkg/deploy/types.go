package deploy

import (
	"math"
	"time"
)

const DefaultBasePath = "boot.units"

const (
	DefaultInstances              = 1
	DefaultWorkerPoolSize         = 1
	DefaultMaxWorkerExecutionTime = time.Duration(math.MaxInt64)
)

// Spec is the resolved deployment of one unit. Specs are values: copy
// them freely, and use Clone before handing the same spec to code that
// might mutate its maps or slices.
type Spec struct {
	// Entry is the key the spec was resolved from.
	Entry   string  `json:"entry"`
	Name    string  `json:"name"`
	Options Options `json:"options"`
}

type Options struct {
	Config                 map[string]any `json:"config"`
	Instances              int            `json:"instances"`
	ExtraClasspath         []string       `json:"extra_classpath,omitempty"`
	HighAvailability       bool           `json:"ha"`
	IsolatedClasses        []string       `json:"isolated_classes,omitempty"`
	IsolationGroup         string         `json:"isolation_group,omitempty"`
	MaxWorkerExecutionTime time.Duration  `json:"max_worker_execution_time"`
	Worker                 bool           `json:"worker"`
	WorkerPoolName         string         `json:"worker_pool_name,omitempty"`
	WorkerPoolSize         int            `json:"worker_pool_size"`
}

// DefaultOptions returns the options used for every absent field.
func DefaultOptions() Options {
	return Options{
		Config:                 map[string]any{},
		Instances:              DefaultInstances,
		MaxWorkerExecutionTime: DefaultMaxWorkerExecutionTime,
		WorkerPoolSize:         DefaultWorkerPoolSize,
	}
}

// UnlimitedWorkerTime reports whether worker execution is unbounded.
func (o Options) UnlimitedWorkerTime() bool {
	return o.MaxWorkerExecutionTime == DefaultMaxWorkerExecutionTime
}

func (s Spec) Clone() Spec {
	out := s
	out.Options.Config = CloneConfig(s.Options.Config)
	out.Options.ExtraClasspath = cloneStrings(s.Options.ExtraClasspath)
	out.Options.IsolatedClasses = cloneStrings(s.Options.IsolatedClasses)
	return out
}

// CloneConfig deep-copies a plain configuration map.
func CloneConfig(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneConfig(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneAny(t[i])
		}
		return out
	default:
		return v
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
