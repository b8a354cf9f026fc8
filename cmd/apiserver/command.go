package apiserver

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/status"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/constants"
	"github.com/keyward/keyward/internal/daemon"
	"github.com/keyward/keyward/internal/db/dsn"
	"github.com/keyward/keyward/internal/log"
)

const (
	healthStatusTimeout = 5 * time.Second
	postgresDriverName  = "pgx"
)

// run starts the status server and the crypto API daemon, then blocks until
// the context is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	err := logger.InitAsDefault(cfg.Logger, cfg.Application)
	if err != nil {
		return oops.In("main").Wrapf(err, "Failed to initialise the logger")
	}

	log.Debug(ctx, "Starting the application", slog.Any("config", cfg))

	startStatusServer(ctx, cfg)

	s, err := daemon.NewServer(ctx, cfg)
	if err != nil {
		return oops.In("main").Wrapf(err, "creating api server")
	}

	err = s.Start(ctx)
	if err != nil {
		return oops.In("main").Wrapf(err, "starting api server")
	}

	<-ctx.Done()

	err = s.Close(ctx)
	if err != nil {
		return oops.In("main").Wrapf(err, "closing server")
	}

	return nil
}

func startStatusServer(ctx context.Context, cfg *config.Config) {
	liveness := status.WithLiveness(
		health.NewHandler(
			health.NewChecker(health.WithDisabledAutostart()),
		),
	)

	healthOptions := []health.Option{
		health.WithDisabledAutostart(),
		health.WithTimeout(healthStatusTimeout),
		health.WithStatusListener(func(ctx context.Context, state health.State) {
			log.Info(ctx, "readiness status changed", slog.String("status", string(state.Status)))
		}),
	}

	dsnFromConfig, err := dsn.FromDBConfig(cfg.Database)
	if err != nil {
		log.Error(ctx, "Could not load DSN from database config", err)
	} else {
		healthOptions = append(healthOptions,
			health.WithDatabaseChecker(postgresDriverName, dsnFromConfig),
		)
	}

	readiness := status.WithReadiness(
		health.NewHandler(
			health.NewChecker(healthOptions...),
		),
	)

	go func() {
		err := status.Start(ctx, &cfg.BaseConfig, liveness, readiness)
		if err != nil {
			log.Error(ctx, "Failure on the status server", err)

			_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		}
	}()
}

func loadConfig(buildInfo string) (*config.Config, error) {
	cfg, err := config.LoadConfig(
		commoncfg.WithEnvOverride(constants.APIName),
	)
	if err != nil {
		return nil, err
	}

	err = commoncfg.UpdateConfigVersion(&cfg.BaseConfig, buildInfo)
	if err != nil {
		return nil, oops.In("main").Wrapf(err, "Failed to update the version configuration")
	}

	return cfg, nil
}

func Cmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api-server",
		Short: "Keyward API Server",
		Long:  "Keyward API Server serves the tenant-facing crypto endpoints: encrypt, decrypt, rewrap, hash, hmac and random.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(buildInfo)
			if err != nil {
				return oops.In("main").Wrapf(err, "failed to load config")
			}

			err = run(cmd.Context(), cfg)
			if err != nil {
				return oops.In("main").Wrapf(err, "failed to run the api server")
			}

			return nil
		},
	}

	return cmd
}
