package taskscheduler

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
		Use:   "task-scheduler",
		Short: "Keyward Task Scheduler",
		Long:  "Keyward Task Scheduler - enqueues the cron-driven sweep tasks (rotation resume, generation prune) on their configured schedules.",
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

			scheduler, err := async.New(cfg)
			if err != nil {
				return oops.In("main").Wrapf(err, "failed to create the scheduler")
			}

			kwlog.Info(ctx, "starting task scheduler")

			err = scheduler.RunScheduler()
			if err != nil {
				return oops.In("main").Wrapf(err, "failed to run the scheduler")
			}

			return nil
		},
	}

	return cmd
}
