package sql

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	multitenancy "github.com/bartventer/gorm-multitenancy/v8"

	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	"github.com/keyward/keyward/internal/repo/violations"
	"github.com/keyward/keyward/utils/base62"
	kwcontext "github.com/keyward/keyward/utils/context"
)

const PublicSchema = "public"

var (
	ErrUnsupportedOrderDirective = errors.New("unsupported order directive")
	ErrMigratingTenantModels     = errors.New("failed migrating tenant models")
)

// ResourceRepository represents the repository for managing Resource data.
type ResourceRepository struct {
	db *multitenancy.DB
}

// NewRepository creates and returns a new instance of ResourceRepository.
func NewRepository(db *multitenancy.DB) *ResourceRepository {
	return &ResourceRepository{
		db: db,
	}
}

// WithTenant runs GORM actions for a specific tenant. Shared models route to
// the public schema; tenant models route to the schema bound to the request
// context by the auth layer.
func (r *ResourceRepository) WithTenant(
	ctx context.Context,
	resource repo.Resource,
	fn func(tx *multitenancy.DB) error,
) error {
	var schemaName string

	if resource.IsSharedModel() {
		schemaName = PublicSchema
	} else {
		tenant, err := kwcontext.ExtractTenantID(ctx)
		if err != nil {
			return errs.Wrap(repo.ErrWithTenant, err)
		}

		var existingTenant model.Tenant

		err = r.db.Where(string(repo.IDField)+" = ?", tenant).First(&existingTenant).Error

		switch {
		case err == nil && existingTenant.SchemaName != "":
			schemaName = existingTenant.SchemaName
		case err == nil || errors.Is(err, gorm.ErrRecordNotFound):
			// Tenants without a pinned schema route to the dedicated
			// binding derived from the tenant id.
			schemaName, err = base62.EncodeSchemaNameBase62(tenant)
			if err != nil {
				return errs.Wrap(repo.ErrWithTenant, err)
			}
		default:
			return errs.Wrap(repo.ErrWithTenant, err)
		}
	}

	var err error

	txErr := r.db.WithTenant(
		ctx, schemaName, func(tx *multitenancy.DB) error {
			err = fn(tx)
			return err
		},
	)
	if txErr != nil && err == nil {
		return errs.Wrap(repo.ErrTransaction, txErr)
	}

	return err
}

// Create adds meta information and stores a Resource.
func (r *ResourceRepository) Create(ctx context.Context, resource repo.Resource) error {
	return r.WithTenant(
		ctx, resource, func(tx *multitenancy.DB) error {
			err := tx.WithContext(ctx).Create(resource).Error
			if err != nil {
				log.Error(ctx, "error creating resource", err)

				if errors.Is(err, gorm.ErrDuplicatedKey) || violations.IsUniqueConstraint(err) {
					return errs.Wrap(repo.ErrUniqueConstraint, err)
				}

				return errs.Wrap(repo.ErrCreateResource, err)
			}

			return nil
		},
	)
}

// List retrieves records matching the query into result, returning the total
// count before pagination.
func (r *ResourceRepository) List(
	ctx context.Context,
	resource repo.Resource,
	result any,
	query repo.Query,
) (int, error) {
	var count int64

	err := r.WithTenant(
		ctx, resource, func(tx *multitenancy.DB) error {
			db, err := applyQuery(tx.WithContext(ctx).Model(resource), query)
			if err != nil {
				return err
			}

			db = db.Count(&count)
			if db.Error != nil {
				return db.Error
			}

			db, err = applyOrder(db, query)
			if err != nil {
				return err
			}

			res := applyPagination(db, query).Find(result)
			if res.Error != nil {
				return errs.Wrap(repo.ErrGetResource, res.Error)
			}

			return nil
		},
	)
	if err != nil {
		return 0, err
	}

	return int(count), nil
}

// Delete removes matching Resources.
//
// It returns true if a record was deleted,
// false if there was no record to delete,
// and error if the deletion failed.
func (r *ResourceRepository) Delete(
	ctx context.Context,
	resource repo.Resource,
	query repo.Query,
) (bool, error) {
	var result *gorm.DB

	err := r.WithTenant(
		ctx, resource, func(tx *multitenancy.DB) error {
			db, err := applyQuery(tx.WithContext(ctx).Model(resource), query)
			if err != nil {
				return err
			}

			result = db.Delete(resource)
			if result.Error != nil {
				log.Error(ctx, "error deleting resource", result.Error)
				return errs.Wrap(repo.ErrDeleteResource, result.Error)
			}

			return nil
		},
	)
	if err != nil {
		return false, err
	}

	return result.RowsAffected > 0, nil
}

// First fills the given Resource with data, if found. The populated fields
// of the Resource act as query data alongside the explicit conditions.
func (r *ResourceRepository) First(
	ctx context.Context,
	resource repo.Resource,
	query repo.Query,
) (bool, error) {
	var res *gorm.DB

	err := r.WithTenant(
		ctx, resource, func(tx *multitenancy.DB) error {
			db, err := applyQuery(tx.WithContext(ctx).Model(resource), query)
			if err != nil {
				return err
			}

			res = db.First(resource)
			if res.Error != nil {
				if errors.Is(res.Error, gorm.ErrRecordNotFound) {
					return errs.Wrap(repo.ErrNotFound, res.Error)
				}

				log.Error(ctx, "error finding the resource", res.Error)

				return errs.Wrap(repo.ErrGetResource, res.Error)
			}

			return nil
		},
	)
	if err != nil {
		return false, err
	}

	return res.RowsAffected > 0, nil
}

// Patch updates the resource with the primary key (plus query conditions) as
// the where clause.
func (r *ResourceRepository) Patch(
	ctx context.Context,
	resource repo.Resource,
	query repo.Query,
) (bool, error) {
	var res *gorm.DB

	err := r.WithTenant(
		ctx, resource, func(tx *multitenancy.DB) error {
			db, err := applyQuery(tx.WithContext(ctx).Model(resource), query)
			if err != nil {
				return err
			}

			res = applyUpdateQuery(db.Clauses(clause.Returning{}), query).Updates(resource)

			err = res.Error
			if err != nil {
				log.Error(ctx, "error updating resource", err)

				if errors.Is(err, gorm.ErrRecordNotFound) {
					return errs.Wrap(repo.ErrNotFound, err)
				}

				if violations.IsUniqueConstraint(err) ||
					errors.Is(err, gorm.ErrDuplicatedKey) {
					return errs.Wrap(repo.ErrUniqueConstraint, err)
				}

				return err
			}

			return nil
		},
	)
	if err != nil {
		return false, errs.Wrap(repo.ErrUpdateResource, err)
	}

	return res.RowsAffected > 0, nil
}

// Count returns the number of records matching the query.
func (r *ResourceRepository) Count(
	ctx context.Context,
	resource repo.Resource,
	query repo.Query,
) (int, error) {
	var count int64

	err := r.WithTenant(
		ctx, resource, func(tx *multitenancy.DB) error {
			db, err := applyQuery(tx.WithContext(ctx).Model(resource), query)
			if err != nil {
				return err
			}

			db = db.Count(&count)
			if db.Error != nil {
				return errs.Wrap(repo.ErrGetResource, db.Error)
			}

			return nil
		},
	)
	if err != nil {
		return 0, err
	}

	return int(count), nil
}

// Transaction wraps a function inside a database transaction.
// If txFunc returns no error the transaction is committed,
// otherwise it is rolled back.
func (r *ResourceRepository) Transaction(ctx context.Context, txFunc repo.TransactionFunc) error {
	err := r.db.Transaction(
		func(db *multitenancy.DB) error {
			return txFunc(ctx, NewRepository(db))
		},
	)
	if err != nil {
		return errs.Wrap(repo.ErrTransaction, err)
	}

	return nil
}

// Migrate creates or updates the tenant models in the named schema.
func (r *ResourceRepository) Migrate(ctx context.Context, schemaName string) error {
	err := r.db.MigrateTenantModels(ctx, schemaName)
	if err != nil {
		return errs.Wrap(ErrMigratingTenantModels, err)
	}

	return nil
}

func applyQuery(db *gorm.DB, query repo.Query) (*gorm.DB, error) {
	for _, cond := range query.Conditions {
		switch cond.Op {
		case repo.Equal, repo.NotEqual, repo.GreaterThan, repo.LessThan:
			db = db.Where(string(cond.Field)+" "+string(cond.Op)+" ?", cond.Value)
		default:
			return nil, errs.Wrapf(repo.ErrGetResource, "unsupported comparison "+string(cond.Op))
		}
	}

	for _, assoc := range query.Preloads {
		db = db.Preload(assoc)
	}

	return db, nil
}

func applyOrder(db *gorm.DB, query repo.Query) (*gorm.DB, error) {
	for _, order := range query.Orders {
		switch order.Direction {
		case repo.Desc, repo.Asc:
			db = db.Order(string(order.Field) + " " + string(order.Direction))
		default:
			return nil, ErrUnsupportedOrderDirective
		}
	}

	return db, nil
}

func applyUpdateQuery(db *gorm.DB, query repo.Query) *gorm.DB {
	if len(query.UpdateFields) > 0 {
		fields := make([]string, 0, len(query.UpdateFields))
		for _, f := range query.UpdateFields {
			fields = append(fields, string(f))
		}

		db = db.Select(strings.Join(fields, ","))
	}

	return db
}

func applyPagination(db *gorm.DB, query repo.Query) *gorm.DB {
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}

	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	return db
}
