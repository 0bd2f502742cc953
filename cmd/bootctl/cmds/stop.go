package cmds

import (
	"context"
	"os"
	"time"

	"github.com/go-go-golems/bootctl/pkg/state"
	"github.com/go-go-golems/bootctl/pkg/supervise"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running boot and any process units it left behind",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.RepoRoot)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					log.Info().Msg("no boot record; nothing to stop")
					return nil
				}
				return err
			}
			return stopFromState(cmd.Context(), opts.RepoRoot, st, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "shutdown-timeout", 3*time.Second, "Grace period before processes are killed")
	return cmd
}

// stopFromState signals the boot process, which undeploys its units, then
// kills any process unit still alive.
func stopFromState(ctx context.Context, repoRoot string, st *state.State, timeout time.Duration) error {
	if st.PID != os.Getpid() && state.ProcessAlive(st.PID) {
		log.Info().Int("pid", st.PID).Msg("stopping boot")
		if err := supervise.TerminatePID(ctx, st.PID, 2*timeout+5*time.Second, false); err != nil {
			return errors.Wrap(err, "stop boot")
		}
	}

	var lastErr error
	for _, d := range st.Deployments {
		for _, pid := range d.PIDs {
			if !state.ProcessAlive(pid) {
				continue
			}
			log.Info().Str("unit", d.Name).Int("pid", pid).Msg("stopping process unit")
			if err := supervise.TerminatePID(ctx, pid, timeout, true); err != nil {
				lastErr = err
			}
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return state.Remove(repoRoot)
}
