package cmds

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/bootctl/pkg/boot"
	"github.com/go-go-golems/bootctl/pkg/bus"
	"github.com/go-go-golems/bootctl/pkg/host"
	"github.com/go-go-golems/bootctl/pkg/jsunit"
	"github.com/go-go-golems/bootctl/pkg/launch"
	"github.com/go-go-golems/bootctl/pkg/state"
	"github.com/go-go-golems/bootctl/pkg/supervise"
	"github.com/go-go-golems/bootctl/pkg/units"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBootCmd() *cobra.Command {
	var exitAfterLaunch bool
	var force bool
	var jsTimeout time.Duration
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Deploy every configured unit and keep them running until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			if st, err := state.Load(opts.RepoRoot); err == nil && state.ProcessAlive(st.PID) {
				if !force {
					return errors.Errorf("boot already running (pid %d); run bootctl stop first or use --force", st.PID)
				}
				log.Info().Int("pid", st.PID).Msg("existing boot found; stopping first (--force)")
				if err := stopFromState(cmd.Context(), opts.RepoRoot, st, shutdownTimeout); err != nil {
					return err
				}
			}

			sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stopSignals()
			ctx, cancel := context.WithCancel(sigCtx)
			defer cancel()

			b, err := bus.NewInMemoryBus()
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()
			bus.LogLaunchEvents(b)

			reg := host.NewRegistry()
			units.Register(reg)
			jsunit.Register(reg, jsunit.Options{BaseDir: opts.RepoRoot, HookTimeout: jsTimeout})
			supervise.New(supervise.Options{RepoRoot: opts.RepoRoot, ShutdownTimeout: shutdownTimeout}).Register(reg)

			h := host.New(host.Options{Registry: reg, Publisher: b, StopTimeout: shutdownTimeout})
			closeHost := func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 2*shutdownTimeout+5*time.Second)
				defer cancel()
				if err := h.Close(closeCtx); err != nil {
					log.Warn().Err(err).Msg("close host")
				}
			}

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				err := b.Run(egCtx)
				if stderrors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			eg.Go(func() error {
				defer cancel()

				select {
				case <-b.Router.Running():
				case <-egCtx.Done():
					return nil
				}

				// Launches are not tied to egCtx: a failed boot returns early while
				// the remaining launches run to completion on the closed host.
				launchCtx, cancelLaunch := launchContext(sigCtx, opts.Timeout)
				res, err := boot.Run(launchCtx, boot.Options{
					Source:   opts.source(),
					BasePath: opts.BasePath,
					Launcher: h,
					Observer: &bus.Observer{Bus: b},
				})
				if err != nil {
					closeHost()
					return err
				}
				cancelLaunch()

				st := bootRecord(opts, h)
				if err := state.Save(opts.RepoRoot, st); err != nil {
					closeHost()
					return err
				}
				if err := printResult(cmd, res); err != nil {
					return err
				}
				log.Info().Int("units", len(res.Deployments)).Msg("boot complete")

				if exitAfterLaunch {
					// Process units keep running in their own process groups;
					// bootctl stop finds them through the boot record.
					return nil
				}

				<-egCtx.Done()
				log.Info().Msg("shutting down")
				closeHost()
				return state.Remove(opts.RepoRoot)
			})

			return eg.Wait()
		},
	}

	cmd.Flags().BoolVar(&exitAfterLaunch, "exit-after-launch", false, "Exit once every unit is deployed instead of waiting for a signal")
	cmd.Flags().BoolVar(&force, "force", false, "Stop a running boot first")
	cmd.Flags().DurationVar(&jsTimeout, "js-timeout", 5*time.Second, "Timeout for each js unit start/stop hook")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 3*time.Second, "Grace period before process units are killed")
	return cmd
}

// launchContext bounds the launch phase only when a deadline was asked for.
func launchContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}

func bootRecord(opts rootOptions, h *host.Host) *state.State {
	st := &state.State{
		PID:        os.Getpid(),
		RepoRoot:   opts.RepoRoot,
		ConfigPath: opts.Config,
		BasePath:   opts.BasePath,
		CreatedAt:  time.Now(),
	}
	for _, d := range h.Deployments() {
		st.Deployments = append(st.Deployments, state.DeploymentRecord{
			ID:         d.ID,
			Entry:      d.Entry,
			Name:       d.Name,
			Instances:  d.Instances,
			Worker:     d.Worker,
			WorkerPool: d.WorkerPool,
			HA:         d.HA,
			Config:     state.SanitizeConfig(d.Config),
			PIDs:       d.PIDs,
			DeployedAt: d.DeployedAt,
		})
	}
	return st
}

func printResult(cmd *cobra.Command, res launch.Result) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
