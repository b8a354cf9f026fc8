package taskworker

import (
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/async"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/constants"
	kwlog "github.com/keyward/keyward/internal/log"
)

func Cmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task-worker",
		Short: "Keyward Task Worker",
		Long:  "Keyward Task Worker - a background service processing rotation, counter, usage and prune tasks.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadConfig(
				commoncfg.WithEnvOverride(constants.APIName),
			)
			if err != nil {
				return oops.In("main").Wrapf(err, "failed to load the config")
			}

			err = commoncfg.UpdateConfigVersion(&cfg.BaseConfig, buildInfo)
			if err != nil {
				return oops.In("main").Wrapf(err, "Failed to update the version configuration")
			}

			err = logger.InitAsDefault(cfg.Logger, cfg.Application)
			if err != nil {
				return oops.In("main").Wrapf(err, "Failed to initialise the logger")
			}

			worker, err := async.New(cfg)
			if err != nil {
				return oops.In("main").Wrapf(err, "failed to create the worker")
			}

			err = worker.RunWorker(ctx)
			if err != nil {
				return oops.In("main").Wrapf(err, "failed to start the worker")
			}

			<-ctx.Done()

			err = worker.Shutdown(ctx)
			if err != nil {
				return oops.In("main").Wrapf(err, "%s", async.ErrClientShutdown.Error())
			}

			kwlog.Info(ctx, "shutting down worker")

			return nil
		},
	}

	return cmd
}
