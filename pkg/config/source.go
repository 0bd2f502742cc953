package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	DefaultResource     = "application.yaml"
	AlternativeResource = "alternative.yaml"
	// ResourceEnvVar selects a resource by name when no --resource flag
	// is given. Only the CLI reads it.
	ResourceEnvVar = "BOOTCTL_CONFIG_RESOURCE"
	ResourceDir    = "conf"
)

// Source produces a configuration tree. Boot takes one explicitly instead
// of reaching for process-wide state.
type Source interface {
	Load() (*Tree, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (*Tree, error)

func (f SourceFunc) Load() (*Tree, error) { return f() }

// StaticSource serves an already parsed tree.
func StaticSource(t *Tree) Source {
	return SourceFunc(func() (*Tree, error) { return t, nil })
}

type FileSource struct {
	Path string
	// Format overrides the format guessed from the file extension.
	Format Format
	// EnvFile is an optional dotenv file consulted for ${VAR} substitution
	// when the process environment does not set the variable.
	EnvFile string
	// NoSubstitution leaves ${VAR} references untouched.
	NoSubstitution bool
}

func (s FileSource) Load() (*Tree, error) {
	if s.Path == "" {
		return nil, errors.New("missing config path")
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	format := s.Format
	if format == "" {
		format = FormatFromPath(s.Path)
	}
	opts := ParseOptions{}
	if !s.NoSubstitution {
		lookup, err := envLookup(s.EnvFile)
		if err != nil {
			return nil, err
		}
		opts.LookupEnv = lookup
	}
	t, err := Parse(b, format, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", s.Path)
	}
	return t, nil
}

func envLookup(envFile string) (func(string) (string, bool), error) {
	if envFile == "" {
		return os.LookupEnv, nil
	}
	vars, err := godotenv.Read(envFile)
	if err != nil {
		return nil, errors.Wrap(err, "read env file")
	}
	return func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := vars[name]
		return v, ok
	}, nil
}

// ResourcePath locates a named resource under <root>/conf, falling back to
// <root> itself when the conf directory does not hold it.
func ResourcePath(root, resource string) string {
	if resource == "" {
		resource = DefaultResource
	}
	if filepath.IsAbs(resource) {
		return resource
	}
	p := filepath.Join(root, ResourceDir, resource)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(root, resource)
}
