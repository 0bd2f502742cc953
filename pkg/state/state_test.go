package state

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRemove(t *testing.T) {
	root := t.TempDir()

	_, err := Load(root)
	require.Error(t, err)

	st := &State{
		PID:       os.Getpid(),
		RepoRoot:  root,
		BasePath:  "boot.units",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Deployments: []DeploymentRecord{
			{ID: "d1", Entry: "foo", Name: "announce:foo", Instances: 2, Config: map[string]any{"a": "b"}},
		},
	}
	require.NoError(t, Save(root, st))
	require.FileExists(t, filepath.Join(root, ".bootctl", "state.json"))

	got, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, st, got)

	require.NoError(t, Remove(root))
	require.NoError(t, Remove(root))
	require.Error(t, Save(root, nil))
}

func TestProcessAlive(t *testing.T) {
	require.True(t, ProcessAlive(os.Getpid()))
	require.False(t, ProcessAlive(0))
	require.False(t, ProcessAlive(-1))

	cmd := exec.Command("bash", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	require.False(t, ProcessAlive(cmd.Process.Pid))
}

func TestSanitizeConfig(t *testing.T) {
	in := map[string]any{
		"host":     "db",
		"password": "hunter2",
		"nested": map[string]any{
			"apiToken": "abc",
			"list":     []any{map[string]any{"secret": 1, "plain": 2}},
		},
	}
	out := SanitizeConfig(in)
	require.Equal(t, map[string]any{
		"host":     "db",
		"password": "[REDACTED]",
		"nested": map[string]any{
			"apiToken": "[REDACTED]",
			"list":     []any{map[string]any{"secret": "[REDACTED]", "plain": 2}},
		},
	}, out)
	require.Equal(t, "hunter2", in["password"])
	require.Nil(t, SanitizeConfig(nil))

	require.Equal(t, map[string]string{"DB_PASSWORD": "[REDACTED]", "PORT": "1"},
		SanitizeEnv(map[string]string{"DB_PASSWORD": "x", "PORT": "1"}))
}

func TestTailLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "log")
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("line ")
		b.WriteString(strings.Repeat("x", i%3))
		b.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(p, []byte(b.String()), 0o644))

	lines, err := TailLines(p, 3, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"line xx", "line ", "line x"}, lines)

	lines, err = TailLines(p, 100, 10)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	lines, err = TailLines(empty, 3, 0)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestExitInfoRoundTrip(t *testing.T) {
	root := t.TempDir()
	code := 3
	p := ExitInfoPath(root, "dep", 1)
	require.Equal(t, filepath.Join(root, ".bootctl", "logs", "dep-1.exit.json"), p)

	require.NoError(t, WriteExitInfo(p, ExitInfo{Unit: "exec:x", PID: 42, ExitCode: &code}))
	info, err := ReadExitInfo(p)
	require.NoError(t, err)
	require.Equal(t, 3, *info.ExitCode)
	require.Equal(t, 42, info.PID)
}
