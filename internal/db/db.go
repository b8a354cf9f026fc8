package db

import (
	"context"

	"github.com/samber/oops"

	multitenancy "github.com/bartventer/gorm-multitenancy/v8"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/log"
)

const DBLogDomain = "db"

// StartDB starts the DB connection and migrates the shared models.
func StartDB(
	ctx context.Context,
	cfg *config.Config,
) (*multitenancy.DB, error) {
	log.Info(ctx, "Starting DB connection")

	dbCon, err := StartDBConnection(ctx, cfg.Database, cfg.DatabaseReplicas)
	if err != nil {
		return nil, oops.In(DBLogDomain).Wrapf(err, "failed to initialize DB Connection")
	}

	err = dbCon.MigrateSharedModels(ctx)
	if err != nil {
		return nil, oops.In(DBLogDomain).Wrapf(err, "failed to migrate shared models")
	}

	return dbCon, nil
}
