package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/go-go-golems/bootctl/pkg/state"
)

// PlanTable renders resolved specs in resolution order.
func PlanTable(specs []deploy.Spec) string {
	t := NewTable(fmt.Sprintf("Boot plan (%d units)", len(specs)), []Column{
		{Header: "ENTRY", Width: 16},
		{Header: "UNIT", Width: 28},
		{Header: "INST", Width: 6},
		{Header: "MODE", Width: 24},
		{Header: "CONFIG", Width: 30},
	})
	rows := make([]Row, 0, len(specs))
	for _, s := range specs {
		icon := IconPending
		if s.Options.Worker {
			icon = IconWorker
		}
		rows = append(rows, Row{Icon: icon, Cells: []string{
			s.Entry,
			s.Name,
			strconv.Itoa(s.Options.Instances),
			mode(s.Options),
			configKeys(s.Options.Config),
		}})
	}
	return t.WithRows(rows).Render()
}

func mode(o deploy.Options) string {
	var parts []string
	if o.Worker {
		pool := o.WorkerPoolName
		if pool == "" {
			pool = "default"
		}
		parts = append(parts, fmt.Sprintf("worker %s/%d", pool, o.WorkerPoolSize))
		if !o.UnlimitedWorkerTime() {
			parts = append(parts, "max "+o.MaxWorkerExecutionTime.String())
		}
	} else {
		parts = append(parts, "event-loop")
	}
	if o.HighAvailability {
		parts = append(parts, "ha")
	}
	if o.IsolationGroup != "" {
		parts = append(parts, "iso "+o.IsolationGroup)
	}
	return strings.Join(parts, " ")
}

func configKeys(cfg map[string]any) string {
	if len(cfg) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// StatusTable renders a boot record. alive reports liveness per pid.
func StatusTable(st *state.State, bootAlive bool, alive func(pid int) bool) string {
	title := fmt.Sprintf("Boot pid %d (%s) since %s", st.PID, liveness(bootAlive), st.CreatedAt.Format(time.RFC3339))
	t := NewTable(title, []Column{
		{Header: "ENTRY", Width: 16},
		{Header: "UNIT", Width: 28},
		{Header: "DEPLOYMENT", Width: 38},
		{Header: "INST", Width: 6},
		{Header: "PIDS", Width: 24},
	})
	rows := make([]Row, 0, len(st.Deployments))
	for _, d := range st.Deployments {
		icon := IconSuccess
		if !bootAlive {
			icon = IconError
		}
		pids := make([]string, 0, len(d.PIDs))
		for _, pid := range d.PIDs {
			if alive(pid) {
				pids = append(pids, strconv.Itoa(pid))
				continue
			}
			icon = IconError
			pids = append(pids, strconv.Itoa(pid)+"!")
		}
		pidCell := "-"
		if len(pids) > 0 {
			pidCell = strings.Join(pids, ",")
		}
		rows = append(rows, Row{Icon: icon, Cells: []string{d.Entry, d.Name, d.ID, strconv.Itoa(d.Instances), pidCell}})
	}
	return t.WithRows(rows).Render()
}

func liveness(alive bool) string {
	if alive {
		return "alive"
	}
	return "dead"
}
