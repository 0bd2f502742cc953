package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	StateDirName  = ".bootctl"
	StateFilename = "state.json"
	LogsDirName   = "logs"
)

// State is the record a running boot leaves behind for status queries.
type State struct {
	PID         int                `json:"pid"`
	RepoRoot    string             `json:"repo_root"`
	ConfigPath  string             `json:"config_path,omitempty"`
	BasePath    string             `json:"base_path"`
	CreatedAt   time.Time          `json:"created_at"`
	Deployments []DeploymentRecord `json:"deployments"`
}

type DeploymentRecord struct {
	ID         string         `json:"id"`
	Entry      string         `json:"entry"`
	Name       string         `json:"name"`
	Instances  int            `json:"instances"`
	Worker     bool           `json:"worker"`
	WorkerPool string         `json:"worker_pool,omitempty"`
	HA         bool           `json:"ha,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	PIDs       []int          `json:"pids,omitempty"`
	DeployedAt time.Time      `json:"deployed_at"`
}

func StatePath(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName, StateFilename)
}

func LogsDir(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName, LogsDirName)
}

// InstanceLogBase is the path prefix of every log file of one process
// instance; suffixes are .stdout.log, .stderr.log and .exit.json.
func InstanceLogBase(repoRoot, deploymentID string, instance int) string {
	return filepath.Join(LogsDir(repoRoot), deploymentID+"-"+strconv.Itoa(instance))
}

func ExitInfoPath(repoRoot, deploymentID string, instance int) string {
	return InstanceLogBase(repoRoot, deploymentID, instance) + ".exit.json"
}

func Load(repoRoot string) (*State, error) {
	b, err := os.ReadFile(StatePath(repoRoot))
	if err != nil {
		return nil, errors.Wrap(err, "read state")
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "parse state json")
	}
	return &s, nil
}

func Save(repoRoot string, s *State) error {
	if s == nil {
		return errors.New("nil state")
	}
	if err := os.MkdirAll(filepath.Dir(StatePath(repoRoot)), 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	if err := os.WriteFile(StatePath(repoRoot), b, 0o644); err != nil {
		return errors.Wrap(err, "write state")
	}
	return nil
}

func Remove(repoRoot string) error {
	if err := os.Remove(StatePath(repoRoot)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "remove state")
	}
	return nil
}

// ProcessAlive reports whether pid names a live, non-zombie process.
func ProcessAlive(pid int) bool {
	if pid <= 0 || isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || stderrors.Is(err, syscall.EPERM)
}

func isZombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// pid (comm) state ...
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	fields := bytes.Fields(b[i+1:])
	return len(fields) > 0 && len(fields[0]) > 0 && fields[0][0] == 'Z'
}
