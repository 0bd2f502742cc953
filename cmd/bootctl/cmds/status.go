package cmds

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-go-golems/bootctl/pkg/proc"
	"github.com/go-go-golems/bootctl/pkg/render"
	"github.com/go-go-golems/bootctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var output string
	var tailLines int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running boot and its deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.RepoRoot)
			if err != nil {
				return err
			}
			bootAlive := state.ProcessAlive(st.PID)

			if output == "table" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.StatusTable(st, bootAlive, state.ProcessAlive))
				return nil
			}
			if output != "json" {
				return errors.Errorf("unsupported --output %q (json or table)", output)
			}

			type process struct {
				Instance int             `json:"instance"`
				PID      int             `json:"pid"`
				Alive    bool            `json:"alive"`
				Stats    *proc.Stats     `json:"stats,omitempty"`
				Exit     *state.ExitInfo `json:"exit,omitempty"`
			}
			type deployment struct {
				state.DeploymentRecord
				Processes []process `json:"processes,omitempty"`
			}
			sampler := proc.NewSampler()
			deployments := make([]deployment, 0, len(st.Deployments))
			for _, d := range st.Deployments {
				out := deployment{DeploymentRecord: d}
				for i, pid := range d.PIDs {
					p := process{Instance: i, PID: pid, Alive: state.ProcessAlive(pid)}
					if p.Alive {
						if stats, err := sampler.Read(pid); err == nil {
							p.Stats = stats
						}
					} else {
						p.Exit = readExit(opts.RepoRoot, d.ID, i, tailLines)
					}
					out.Processes = append(out.Processes, p)
				}
				deployments = append(deployments, out)
			}

			b, err := json.MarshalIndent(map[string]any{
				"pid":         st.PID,
				"alive":       bootAlive,
				"config":      st.ConfigPath,
				"created_at":  st.CreatedAt,
				"deployments": deployments,
			}, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal status")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json or table")
	cmd.Flags().IntVar(&tailLines, "tail-lines", 25, "How many stderr lines to include for exited processes")
	return cmd
}

func readExit(repoRoot, deploymentID string, instance, tailLines int) *state.ExitInfo {
	path := state.ExitInfoPath(repoRoot, deploymentID, instance)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	info, err := state.ReadExitInfo(path)
	if err != nil {
		return nil
	}
	if tailLines > 0 && len(info.StderrTail) > tailLines {
		info.StderrTail = info.StderrTail[len(info.StderrTail)-tailLines:]
	}
	return info
}
