package sql

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"

	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{DryRun: true})
	require.NoError(t, err)

	return db
}

func TestApplyQueryBuildsConditions(t *testing.T) {
	id := uuid.New()

	q := repo.NewQuery().
		Where(repo.KeyringIDField, id).
		WhereOp(repo.StepField, repo.NotEqual, model.StepDone)

	db, err := applyQuery(dryRunDB(t).Model(&model.RotationWorkflow{}), *q)
	require.NoError(t, err)

	tx := db.Find(&[]model.RotationWorkflow{})
	require.NoError(t, tx.Error)

	sql := tx.Statement.SQL.String()
	assert.Contains(t, sql, "keyring_id = ?")
	assert.Contains(t, sql, "step != ?")
	assert.Contains(t, tx.Statement.Vars, id)
}

func TestApplyQueryRejectsUnknownComparison(t *testing.T) {
	q := repo.Query{Conditions: []repo.Condition{
		{Field: repo.NameField, Op: "LIKE", Value: "acme%"},
	}}

	_, err := applyQuery(dryRunDB(t).Model(&model.Tenant{}), q)
	assert.ErrorIs(t, err, repo.ErrGetResource)
}

func TestApplyQueryStatementsDeleteAndFirst(t *testing.T) {
	id := uuid.New()

	db, err := applyQuery(
		dryRunDB(t).Model(&model.DataKey{}),
		*repo.NewQuery().Where(repo.IDField, id))
	require.NoError(t, err)

	res := db.Delete(&model.DataKey{})
	require.NoError(t, res.Error)
	assert.Contains(t, res.Statement.SQL.String(), "DELETE FROM")
	assert.Contains(t, res.Statement.SQL.String(), "id = ?")

	db, err = applyQuery(
		dryRunDB(t).Model(&model.DataKey{}),
		*repo.NewQuery().Where(repo.IDField, id))
	require.NoError(t, err)

	res = db.First(&model.DataKey{})
	require.NoError(t, res.Error)
	assert.Contains(t, res.Statement.SQL.String(), "SELECT")
	assert.Contains(t, res.Statement.SQL.String(), "id = ?")
}

func TestApplyOrderAndPagination(t *testing.T) {
	q := repo.NewQuery().
		Order(repo.CreatedField, repo.Desc).
		SetLimit(5).
		SetOffset(10)

	db, err := applyOrder(dryRunDB(t).Model(&model.DataKey{}), *q)
	require.NoError(t, err)

	tx := applyPagination(db, *q).Find(&[]model.DataKey{})
	require.NoError(t, tx.Error)

	sql := tx.Statement.SQL.String()
	assert.Contains(t, sql, "ORDER BY created_at desc")
	assert.Contains(t, sql, "LIMIT")

	_, err = applyOrder(dryRunDB(t), repo.Query{
		Orders: []repo.OrderField{{Field: repo.CreatedField, Direction: "sideways"}},
	})
	assert.ErrorIs(t, err, ErrUnsupportedOrderDirective)
}
