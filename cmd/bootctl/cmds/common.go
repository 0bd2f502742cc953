package cmds

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/bootctl/pkg/config"
	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	RepoRoot string
	Config   string
	BasePath string
	EnvFile  string
	Format   config.Format
	Timeout  time.Duration
	Patch    config.Patch
}

func AddRootFlags(root *cobra.Command) {
	addRootFlags(root)
}

func addRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("repo-root", "", "Repository root (defaults to current directory)")
	root.PersistentFlags().String("config", "", "Path to the config file (overrides --resource)")
	root.PersistentFlags().String("resource", "", "Config resource name under <repo-root>/conf (default application.yaml, env "+config.ResourceEnvVar+")")
	root.PersistentFlags().String("base-path", deploy.DefaultBasePath, "Dotted path of the unit list in the config")
	root.PersistentFlags().String("env-file", "", "Dotenv file used for ${VAR} substitution")
	root.PersistentFlags().String("format", "", "Config format: yaml or toml (defaults to the file extension)")
	root.PersistentFlags().Duration("timeout", 0, "Deadline for launching all units (0 means none)")
	root.PersistentFlags().StringArray("set", nil, "Override a config value (path=value, repeatable)")
	root.PersistentFlags().StringArray("unset", nil, "Remove a config path (repeatable)")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	flags := cmd.Root().PersistentFlags()

	repoRoot, err := flags.GetString("repo-root")
	if err != nil {
		return rootOptions{}, err
	}
	if repoRoot == "" {
		repoRoot, err = os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
	}
	repoRoot, err = filepath.Abs(repoRoot)
	if err != nil {
		return rootOptions{}, err
	}

	cfgPath, err := flags.GetString("config")
	if err != nil {
		return rootOptions{}, err
	}
	if cfgPath == "" {
		resource, err := flags.GetString("resource")
		if err != nil {
			return rootOptions{}, err
		}
		if resource == "" {
			resource = os.Getenv(config.ResourceEnvVar)
		}
		cfgPath = config.ResourcePath(repoRoot, resource)
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(repoRoot, cfgPath)
	}

	basePath, err := flags.GetString("base-path")
	if err != nil {
		return rootOptions{}, err
	}
	envFile, err := flags.GetString("env-file")
	if err != nil {
		return rootOptions{}, err
	}
	if envFile != "" && !filepath.IsAbs(envFile) {
		envFile = filepath.Join(repoRoot, envFile)
	}

	format, err := flags.GetString("format")
	if err != nil {
		return rootOptions{}, err
	}
	switch config.Format(format) {
	case "", config.FormatYAML, config.FormatTOML:
	default:
		return rootOptions{}, errors.Errorf("unsupported --format %q (yaml or toml)", format)
	}

	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if timeout < 0 {
		return rootOptions{}, errors.New("timeout must be >= 0")
	}

	sets, err := flags.GetStringArray("set")
	if err != nil {
		return rootOptions{}, err
	}
	unsets, err := flags.GetStringArray("unset")
	if err != nil {
		return rootOptions{}, err
	}
	p := config.Patch{Unset: unsets}
	for _, s := range sets {
		a, err := config.ParseAssignment(s)
		if err != nil {
			return rootOptions{}, err
		}
		p.Set = append(p.Set, a)
	}

	return rootOptions{
		RepoRoot: repoRoot,
		Config:   cfgPath,
		BasePath: basePath,
		EnvFile:  envFile,
		Format:   config.Format(format),
		Timeout:  timeout,
		Patch:    p,
	}, nil
}

func (o rootOptions) source() config.Source {
	return config.PatchedSource{
		Source: config.FileSource{Path: o.Config, Format: o.Format, EnvFile: o.EnvFile},
		Patch:  o.Patch,
	}
}
