package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/bootctl/pkg/boot"
	"github.com/go-go-golems/bootctl/pkg/render"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Resolve the configured units without deploying them",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			specs, err := boot.Plan(opts.source(), opts.BasePath)
			if err != nil {
				return err
			}
			log.Debug().Str("config", opts.Config).Int("units", len(specs)).Msg("plan resolved")

			switch output {
			case "table":
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.PlanTable(specs))
			case "json":
				b, err := json.MarshalIndent(map[string]any{"config": opts.Config, "units": specs}, "", "  ")
				if err != nil {
					return errors.Wrap(err, "marshal plan")
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			default:
				return errors.Errorf("unsupported --output %q (json or table)", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json or table")
	return cmd
}
