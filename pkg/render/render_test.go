package render

import (
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/go-go-golems/bootctl/pkg/state"
	"github.com/stretchr/testify/require"
)

func TestPlanTable(t *testing.T) {
	worker := deploy.DefaultOptions()
	worker.Worker = true
	worker.WorkerPoolName = "io"
	worker.WorkerPoolSize = 4
	worker.MaxWorkerExecutionTime = 2 * time.Second
	worker.Config = map[string]any{"b": 1, "a": 2}

	out := PlanTable([]deploy.Spec{
		{Entry: "foo", Name: "announce:foo", Options: deploy.DefaultOptions()},
		{Entry: "bar", Name: "js:units/bar.js", Options: worker},
	})
	require.Contains(t, out, "Boot plan (2 units)")
	require.Contains(t, out, "announce:foo")
	require.Contains(t, out, "event-loop")
	require.Contains(t, out, "worker io/4 max 2s")
	require.Contains(t, out, "a,b")
	require.Less(t, strings.Index(out, "foo"), strings.Index(out, "bar"))
}

func TestPlanTableEmpty(t *testing.T) {
	require.Contains(t, PlanTable(nil), "(no units)")
}

func TestStatusTable(t *testing.T) {
	st := &state.State{
		PID:       10,
		CreatedAt: time.Now(),
		Deployments: []state.DeploymentRecord{
			{ID: "d1", Entry: "p", Name: "exec:bash", Instances: 2, PIDs: []int{100, 101}},
		},
	}
	out := StatusTable(st, true, func(pid int) bool { return pid == 100 })
	require.Contains(t, out, "alive")
	require.Contains(t, out, "100,101!")
	require.Contains(t, out, IconError)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 3))
	require.Equal(t, "ab…", truncate("abcdef", 3))
	require.Equal(t, "éé…", truncate("éééé", 3))
}
