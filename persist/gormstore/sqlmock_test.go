package gormstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
	"github.com/simpleframeworks/jobstore/persist/gormstore"
	"github.com/simpleframeworks/testc"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testSetupMock is a postgres flavoured store on a mocked connection
func testSetupMock(test *testing.T) (*gormstore.Store, sqlmock.Sqlmock) {
	con, mock, err := sqlmock.New()
	require.NoError(test, err)
	test.Cleanup(func() { con.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: con}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(test, err)

	return gormstore.New(db), mock
}

func TestMockInsertConflict(test *testing.T) {
	t := testc.New(test)
	store, mock := testSetupMock(test)

	t.Given("a database where the lock row already exists")
	mock.ExpectQuery(`INSERT INTO "jobstore_locks" (.+) ON CONFLICT DO NOTHING RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	t.When("the lock is inserted")
	err := store.Insert(context.Background(), testLock(models.LockTriggerAccess, "a"))

	t.Then("a single statement reports the conflict")
	t.ErrorIs(err, persist.ErrDuplicateKey)
	t.NoError(mock.ExpectationsWereMet())
}

func TestMockInsert(test *testing.T) {
	t := testc.New(test)
	store, mock := testSetupMock(test)

	mock.ExpectQuery(`INSERT INTO "jobstore_locks" (.+) ON CONFLICT DO NOTHING RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	lock := testLock(models.LockStateAccess, "a")
	t.NoError(store.Insert(context.Background(), lock))
	t.EqualValues(7, lock.ID)
	t.NoError(mock.ExpectationsWereMet())
}

func TestMockConditionalUpdate(test *testing.T) {
	t := testc.New(test)
	store, mock := testSetupMock(test)

	t.Given("a trigger that another instance already moved on")
	mock.ExpectExec(`UPDATE "jobstore_triggers" SET (.+) WHERE id = \$\d+ AND state = \$\d+`).
		WithArgs(sqlmock.AnyArg(), "ACQUIRED", int64(3), "WAITING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	t.When("it is updated on the condition of its old state")
	n, err := store.Update(context.Background(), &models.Trigger{}, []persist.Cond{
		persist.Eq("id", int64(3)),
		persist.Eq("state", "WAITING"),
	}, map[string]interface{}{
		"state":          "ACQUIRED",
		"next_fire_time": time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	t.Then("no row matched")
	t.NoError(err)
	t.EqualValues(0, n)
	t.NoError(mock.ExpectationsWereMet())
}

func TestMockFailure(test *testing.T) {
	t := testc.New(test)
	store, mock := testSetupMock(test)

	failed := errors.New("connection reset")
	mock.ExpectExec(`DELETE FROM "jobstore_locks" WHERE instance_id = \$1`).
		WithArgs("dead").
		WillReturnError(failed)

	_, err := store.Delete(context.Background(), &models.Lock{}, []persist.Cond{persist.Eq("instance_id", "dead")})
	t.ErrorIs(err, failed)
	t.NoError(mock.ExpectationsWereMet())
}
