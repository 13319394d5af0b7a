package strata

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/pool"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

type Person struct {
	schema.Base
	Name string `db:"name"`
	Age  int    `db:"age"`
}

// newTestClient builds a sqlite-dialect client over a mocked driver, with
// the people table marked as already ensured.
func newTestClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	return newTestClientOpts(t, pool.Options{MaxPool: 2, AutoCommit: true})
}

func newTestClientOpts(t *testing.T, popts pool.Options) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	d, err := dialect.ForKind(dialect.SQLite)
	require.NoError(t, err)
	p, err := pool.New("sqlite:test.db", func(string) (*sql.DB, error) { return db, nil }, popts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	log := slog.Default()
	stats := newStats(log, 0)
	s := newSQLStore("sqlite:test.db", d, p, log, stats)
	s.ensured["people"] = struct{}{}
	return &Client{
		url:    "sqlite:test.db",
		kind:   dialect.SQLite,
		store:  s,
		codecs: codec.NewRegistry(),
		log:    log,
		stats:  stats,
	}, mock
}

func newPeople(t *testing.T) (*Repository[Person], sqlmock.Sqlmock) {
	t.Helper()
	c, mock := newTestClient(t)
	repo, err := NewRepository[Person](c)
	require.NoError(t, err)
	return repo, mock
}

func TestSaveAssignsID(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT MAX(id) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec("INSERT OR REPLACE INTO `people` (`id`, `name`, `age`) VALUES (?, ?, ?)").
		WithArgs(int64(1), "ada", int64(36)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	p := &Person{Name: "ada", Age: 36}
	require.NoError(t, repo.Save(context.Background(), p))
	assert.Equal(t, int64(1), p.GetID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExistingUpserts(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectExec("INSERT OR REPLACE INTO `people` (`id`, `name`, `age`) VALUES (?, ?, ?)").
		WithArgs(int64(7), "ada", int64(37)).
		WillReturnResult(sqlmock.NewResult(7, 1))

	p := &Person{Name: "ada", Age: 37}
	p.SetID(7)
	require.NoError(t, repo.Save(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePartialUpdate(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectExec("UPDATE `people` SET `name` = ? WHERE id = 7").
		WithArgs("grace").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &Person{Name: "grace"}
	p.SetID(7)
	require.NoError(t, repo.Save(context.Background(), p, "name"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePartialUpdateMissingRow(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectExec("UPDATE `people` SET `name` = ? WHERE id = 7").
		WithArgs("grace").
		WillReturnResult(sqlmock.NewResult(0, 0))

	p := &Person{Name: "grace"}
	p.SetID(7)
	err := repo.Save(context.Background(), p, "name")
	assert.True(t, IsNotFound(err))
}

func TestSaveAllBatch(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT MAX(id) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(10)))
	mock.ExpectExec("INSERT OR REPLACE INTO `people` (`id`, `name`, `age`) VALUES (?, ?, ?), (?, ?, ?)").
		WithArgs(int64(11), "a", int64(1), int64(12), "b", int64(2)).
		WillReturnResult(sqlmock.NewResult(12, 2))

	ms := []*Person{{Name: "a", Age: 1}, {Name: "b", Age: 2}}
	require.NoError(t, repo.SaveAll(context.Background(), ms))
	assert.Equal(t, int64(11), ms[0].GetID())
	assert.Equal(t, int64(12), ms[1].GetID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT id, `name`, `age` FROM `people` WHERE id = 7 LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(7), "ada", int64(36)))

	p, err := repo.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.GetID())
	assert.Equal(t, "ada", p.Name)
	assert.Equal(t, 36, p.Age)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT id, `name`, `age` FROM `people` WHERE id = 7 LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}))

	_, err := repo.Get(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, int64(7), nfe.ID())
}

func TestOnly(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT id, `name`, `age` FROM `people` WHERE `name` = 'ada' LIMIT 2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(1), "ada", int64(36)).
			AddRow(int64(2), "ada", int64(40)))

	spec := repo.Query().WhereExpr(query.Eq("name", "ada"))
	_, err := repo.Only(context.Background(), spec)
	assert.True(t, IsNotSingular(err))

	// The caller's specification keeps its own windowing.
	assert.Equal(t, -1, spec.GetLimit())
}

func TestAllReleasesConnection(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT id, `name`, `age` FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(1), "a", int64(1)).
			AddRow(int64(2), "b", int64(2)))

	ms, err := repo.All(context.Background(), repo.Query())
	require.NoError(t, err)
	require.Len(t, ms, 2)

	busy, _ := repo.client.store.(*sqlStore).pool.Stats()
	assert.Equal(t, 0, busy)
}

func TestFindCursor(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT id, `name`, `age` FROM `people` ORDER BY `age` ASC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(1), "a", int64(1)).
			AddRow(int64(2), "b", int64(2)))

	cur, err := repo.Find(context.Background(), repo.Query().OrderBy("age"))
	require.NoError(t, err)

	var names []string
	for cur.Next(context.Background()) {
		names = append(names, cur.Value().Name)
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())
	assert.Equal(t, []string{"a", "b"}, names)

	// Close is idempotent.
	require.NoError(t, cur.Close())
}

func TestCount(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT COUNT(*) FROM `people` WHERE `age` > 18").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := repo.Count(context.Background(), repo.Query().WhereExpr(query.Gt("age", 18)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCountIgnoresWindowing(t *testing.T) {
	repo, mock := newPeople(t)
	// Limit/offset and ordering have no meaning for aggregates.
	mock.ExpectQuery("SELECT COUNT(*) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	n, err := repo.Count(context.Background(), repo.Query().Limit(1).Offset(2).OrderBy("age"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestExist(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT COUNT(*) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	ok, err := repo.Exist(context.Background(), repo.Query())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAggregates(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT MIN(`age`) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(int64(3)))
	mock.ExpectQuery("SELECT MAX(`age`) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(90)))
	mock.ExpectQuery("SELECT AVG(`age`) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(float64(36.5)))
	mock.ExpectQuery("SELECT SUM(`age`) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(120)))

	ctx := context.Background()
	v, err := repo.Min(ctx, repo.Query(), "age")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = repo.Max(ctx, repo.Query(), "age")
	require.NoError(t, err)
	assert.Equal(t, int64(90), v)

	avg, err := repo.Avg(ctx, repo.Query(), "age")
	require.NoError(t, err)
	assert.Equal(t, 36.5, avg)

	v, err = repo.Sum(ctx, repo.Query(), "age")
	require.NoError(t, err)
	assert.Equal(t, int64(120), v)
}

func TestAggregateEmpty(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT MIN(`age`) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))

	v, err := repo.Min(context.Background(), repo.Query(), "age")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDistinct(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT DISTINCT `name` FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b"))

	vs, err := repo.Distinct(context.Background(), repo.Query(), "name")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, vs)
}

func TestDeleteByID(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectExec("DELETE FROM `people` WHERE id = 7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.DeleteByID(context.Background(), 7))

	mock.ExpectExec("DELETE FROM `people` WHERE id = 8").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.DeleteByID(context.Background(), 8)
	assert.True(t, IsNotFound(err))
}

func TestUpdateSetNullsColumns(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectExec("UPDATE `people` SET `name` = ? WHERE `age` > 90").
		WithArgs(nil).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.UpdateSet(context.Background(),
		repo.Query().WhereExpr(query.Gt("age", 90)),
		map[string]any{"name": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTransactCommit(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR REPLACE INTO `people` (`id`, `name`, `age`) VALUES (?, ?, ?)").
		WithArgs(int64(7), "ada", int64(36)).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	p := &Person{Name: "ada", Age: 36}
	p.SetID(7)
	err := repo.Transact(context.Background(), func(ctx context.Context) error {
		return repo.Save(ctx, p)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactRollback(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := repo.Transact(context.Background(), func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactNestedJoins(t *testing.T) {
	repo, mock := newPeople(t)
	// A nested Transact must not open a second transaction.
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `people` WHERE id = 7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Transact(context.Background(), func(ctx context.Context) error {
		return repo.Transact(ctx, func(ctx context.Context) error {
			return repo.DeleteByID(ctx, 7)
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestore(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT id, `name`, `age` FROM `people` WHERE id = 7 LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(7), "ada", int64(36)))

	p := &Person{Name: "stale", Age: 1}
	p.SetID(7)
	require.NoError(t, repo.Restore(context.Background(), p))
	assert.Equal(t, "ada", p.Name)
	assert.Equal(t, 36, p.Age)
}

func TestRestorePartial(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT id, `name`, `age` FROM `people` WHERE id = 7 LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(7), "ada", int64(36)))

	// Only the requested property is re-read; the rest keeps its
	// in-memory value.
	p := &Person{Name: "stale", Age: 99}
	p.SetID(7)
	require.NoError(t, repo.Restore(context.Background(), p, "name"))
	assert.Equal(t, "ada", p.Name)
	assert.Equal(t, 99, p.Age)

	err := repo.Restore(context.Background(), p, "nope")
	assert.Error(t, err)
}

func TestEnsureCreatesAndMigrates(t *testing.T) {
	c, mock := newTestClient(t)
	// Forget the pre-ensured marker to exercise the DDL path.
	delete(c.store.(*sqlStore).ensured, "people")
	repo, err := NewRepository[Person](c)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `people` (id INTEGER PRIMARY KEY, `name` TEXT, `age` INTEGER)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("PRAGMA table_info(`people`)").
		WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow(0, "id", "INTEGER", 1, nil, 1).
			AddRow(1, "name", "TEXT", 0, nil, 0))
	// The age column is missing and gets added; nothing is ever dropped.
	mock.ExpectExec("ALTER TABLE `people` ADD COLUMN `age` INTEGER").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT(*) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	_, err = repo.Count(context.Background(), repo.Query())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Ensure is idempotent: the second operation skips the DDL.
	mock.ExpectQuery("SELECT COUNT(*) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	_, err = repo.Count(context.Background(), repo.Query())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoCommitDisabled(t *testing.T) {
	c, mock := newTestClientOpts(t, pool.Options{MaxPool: 2, AutoCommit: false})
	repo, err := NewRepository[Person](c)
	require.NoError(t, err)

	// Outside a transaction every command is refused.
	_, err = repo.Count(context.Background(), repo.Query())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autoCommit is disabled")

	// Inside an explicit transaction commands run normally.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT(*) FROM `people`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectCommit()
	err = repo.Transact(context.Background(), func(ctx context.Context) error {
		_, err := repo.Count(ctx, repo.Query())
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMultiKeySortOrdering(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectQuery("SELECT id, `name`, `age` FROM `people` ORDER BY `name` ASC, `age` DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(3), "ada", int64(40)).
			AddRow(int64(1), "ada", int64(36)).
			AddRow(int64(5), "bob", int64(50)).
			AddRow(int64(2), "bob", int64(20)).
			AddRow(int64(4), "eve", int64(30)))

	ms, err := repo.All(context.Background(), repo.Query().OrderBy("name").OrderByDesc("age"))
	require.NoError(t, err)
	require.Len(t, ms, 5)

	type key struct {
		name string
		age  int
	}
	var got []key
	for _, m := range ms {
		got = append(got, key{m.Name, m.Age})
	}
	assert.Equal(t, []key{
		{"ada", 40}, {"ada", 36}, {"bob", 50}, {"bob", 20}, {"eve", 30},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackendErrorClassification(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectExec("DELETE FROM `people` WHERE id = 7").
		WillReturnError(errors.New("disk I/O error"))

	err := repo.DeleteByID(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "person", be.Label)
	assert.Equal(t, "delete", be.Op)
}

func TestConstraintErrorClassification(t *testing.T) {
	repo, mock := newPeople(t)
	mock.ExpectExec("INSERT OR REPLACE INTO `people` (`id`, `name`, `age`) VALUES (?, ?, ?)").
		WithArgs(int64(7), "ada", int64(36)).
		WillReturnError(errors.New("UNIQUE constraint failed: people.name"))

	p := &Person{Name: "ada", Age: 36}
	p.SetID(7)
	err := repo.Save(context.Background(), p)
	assert.True(t, IsConstraintError(err))
}
