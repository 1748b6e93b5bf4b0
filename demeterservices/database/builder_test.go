package database_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lunagic/demeter/demeterservices/cache"
	"github.com/lunagic/demeter/demeterservices/database"
	"gotest.tools/v3/assert"
)

type AuthorID int64
type ReviewID int64

type Author struct {
	ID   AuthorID `db:"id,primaryKey,autoIncrement"`
	Name string   `db:"name"`
}

func (e Author) TableStructure() database.Table {
	return database.Table{}
}

type Review struct {
	ID        ReviewID `db:"id,primaryKey,autoIncrement"`
	AuthorID  AuthorID `db:"author_id,foreignKey=authors.id"`
	Title     string   `db:"title"`
	Rating    int      `db:"rating"`
	Published bool     `db:"published"`
}

func (e Review) TableStructure() database.Table {
	return database.Table{}
}

type builderFixture struct {
	service    *database.Service
	reviewRepo *database.Repository[ReviewID, Review]
	authorRepo *database.Repository[AuthorID, Author]
	statements *[]string
}

func setupBuilderFixture(t *testing.T, configFuncs ...database.ServiceConfigFunc) builderFixture {
	t.Helper()

	dbPath := fmt.Sprintf("%s/database.sqlite", t.TempDir())

	statements := &[]string{}
	configFuncs = append(configFuncs,
		database.WithConnection("replica", database.NewDriverSQLite(dbPath)),
		database.WithPreRunFunc(func(ctx context.Context, statement string, args []any) error {
			*statements = append(*statements, statement)
			return nil
		}),
	)

	service, err := database.New(database.NewDriverSQLite(dbPath), configFuncs...)
	assert.NilError(t, err)

	_, err = service.AutoMigrate(context.Background(), []database.Entity{
		Author{},
		Review{},
	})
	assert.NilError(t, err)

	authorRepo, err := database.NewRepository[AuthorID, Author](service)
	assert.NilError(t, err)

	reviewRepo, err := database.NewRepository[ReviewID, Review](service)
	assert.NilError(t, err)

	authorID, err := authorRepo.Insert(context.Background(), Author{Name: "pat"})
	assert.NilError(t, err)

	for rating := 1; rating <= 5; rating++ {
		_, err := reviewRepo.Insert(context.Background(), Review{
			AuthorID:  authorID,
			Title:     fmt.Sprintf("review %d", rating),
			Rating:    rating,
			Published: rating%2 == 0,
		})
		assert.NilError(t, err)
	}

	return builderFixture{
		service:    service,
		reviewRepo: &reviewRepo,
		authorRepo: &authorRepo,
		statements: statements,
	}
}

func (fixture builderFixture) lastStatement() string {
	statements := *fixture.statements
	return statements[len(statements)-1]
}

func TestBuilderFilterAndExclude(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	{ // Filter narrows immediately
		rows, err := repo.Query().
			Filter(database.GreaterThanOrEqual(&repo.T.Rating, 2)).
			All(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 4)
	}

	{ // Exclude removes matching rows immediately
		count, err := repo.Query().
			Exclude(database.Equal(&repo.T.Rating, 3)).
			Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, count, int64(4))
	}

	{ // Multiple predicates in one Exclude only drop rows matching all of them
		count, err := repo.Query().
			Exclude(
				database.Equal(&repo.T.Rating, 2),
				database.Equal(&repo.T.Published, true),
			).
			Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, count, int64(4))
	}
}

func TestBuilderPendingChannels(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	{ // Accumulated AndWhere calls match a single Filter with both predicates
		accumulated, err := repo.Query().
			AndWhere(database.GreaterThanOrEqual(&repo.T.Rating, 2)).
			AndWhere(database.LessThanOrEqual(&repo.T.Rating, 4)).
			Count(context.Background())
		assert.NilError(t, err)

		direct, err := repo.Query().
			Filter(
				database.GreaterThanOrEqual(&repo.T.Rating, 2),
				database.LessThanOrEqual(&repo.T.Rating, 4),
			).
			Count(context.Background())
		assert.NilError(t, err)

		assert.Equal(t, accumulated, int64(3))
		assert.Equal(t, accumulated, direct)
	}

	{ // OrExclude drops the union of the accumulated predicates
		rows, err := repo.Query().
			OrExclude(database.Equal(&repo.T.Rating, 1)).
			OrExclude(database.Equal(&repo.T.Rating, 5)).
			All(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 3)
		for _, row := range rows {
			assert.Assert(t, row.Rating != 1 && row.Rating != 5)
		}
	}

	{ // OrWhere requires any of the grouped predicates
		count, err := repo.Query().
			OrWhere(
				database.Equal(&repo.T.Rating, 1),
				database.Equal(&repo.T.Rating, 5),
			).
			Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, count, int64(2))
	}

	{ // An untouched builder matches everything
		count, err := repo.Query().Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, count, int64(5))
	}

	{ // Immediate narrowing combines with the pending conjunction channel
		// Ratings 3, 4, 5 pass the filter; of those only 4 is published.
		count, err := repo.Query().
			Filter(database.GreaterThanOrEqual(&repo.T.Rating, 3)).
			AndWhere(database.Equal(&repo.T.Published, true)).
			Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, count, int64(1))
	}

	{ // Mixed exclusion predicates still drop the union
		// Ratings 1 and 2 fall to the first predicate, 4 to the second.
		rows, err := repo.Query().
			OrExclude(database.LessThanOrEqual(&repo.T.Rating, 2)).
			OrExclude(database.Equal(&repo.T.Published, true)).
			All(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 2)
		for _, row := range rows {
			assert.Assert(t, row.Rating == 3 || row.Rating == 5)
		}
	}
}

func TestBuilderResolveOrder(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	// The exclusion channel is folded in after the conjunction channel even
	// when it was populated first.
	rows, err := repo.Query().
		OrExclude(database.Equal(&repo.T.Rating, 5)).
		AndWhere(database.GreaterThanOrEqual(&repo.T.Rating, 2)).
		All(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(rows), 3)

	captured := fixture.lastStatement()
	filterIndex := strings.Index(captured, ">=")
	excludeIndex := strings.Index(captured, "NOT (")
	assert.Assert(t, filterIndex > 0)
	assert.Assert(t, excludeIndex > filterIndex)
}

func TestBuilderResolveCompounds(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	builder := repo.Query().AndWhere(database.GreaterThanOrEqual(&repo.T.Rating, 4))

	first, err := builder.Count(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, first, int64(2))

	// A second terminal call re-applies the pending channel on top of the
	// already folded query.
	second, err := builder.Count(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, second, int64(2))
	assert.Equal(t, strings.Count(fixture.lastStatement(), ">="), 2)
}

func TestBuilderOrderingAndLimits(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	{ // A later OrderBy replaces the earlier one
		row, err := repo.Query().
			OrderBy(database.Ascending(&repo.T.Rating)).
			OrderBy(database.Descending(&repo.T.Rating)).
			First(context.Background())
		assert.NilError(t, err)
		assert.Assert(t, row != nil)
		assert.Equal(t, row.Rating, 5)
	}

	{ // Last reverses the current ordering
		row, err := repo.Query().
			OrderBy(database.Descending(&repo.T.Rating)).
			Last(context.Background())
		assert.NilError(t, err)
		assert.Assert(t, row != nil)
		assert.Equal(t, row.Rating, 1)
	}

	{ // Last without an ordering falls back to primary key descending
		row, err := repo.Query().Last(context.Background())
		assert.NilError(t, err)
		assert.Assert(t, row != nil)
		assert.Equal(t, row.Rating, 5)
	}

	{ // Limit and offset
		rows, err := repo.Query().
			OrderBy(database.Ascending(&repo.T.Rating)).
			Limit(2, 1).
			All(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 2)
		assert.Equal(t, rows[0].Rating, 2)
	}
}

func TestBuilderEmptyResults(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	nothing := database.GreaterThan(&repo.T.Rating, 100)

	{ // First on no matches is nil without an error
		row, err := repo.Query().Filter(nothing).First(context.Background())
		assert.NilError(t, err)
		assert.Assert(t, row == nil)
	}

	{ // Count on no matches is zero
		count, err := repo.Query().Filter(nothing).Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, count, int64(0))
	}

	{ // Exists on no matches is false
		exists, err := repo.Query().Filter(nothing).Exists(context.Background())
		assert.NilError(t, err)
		assert.Assert(t, !exists)
	}

	{ // GetOne on no matches is nil without an error
		row, err := repo.Query().GetOne(context.Background(), nothing)
		assert.NilError(t, err)
		assert.Assert(t, row == nil)
	}
}

func TestBuilderProjections(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	{ // Values projects only the requested columns
		rows, err := repo.Query().
			Filter(database.Equal(&repo.T.Rating, 4)).
			Values(context.Background(), &repo.T.Title, &repo.T.Rating)
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 1)
		assert.Equal(t, rows[0]["title"], "review 4")
		assert.Equal(t, rows[0]["rating"], int64(4))
	}

	{ // Distinct collapses duplicate projections
		rows, err := repo.Query().
			Distinct().
			Values(context.Background(), &repo.T.Published)
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 2)
	}

	{ // Annotations group and aggregate
		rows, err := repo.Query().
			Annotate(database.CountOf(&repo.T.ID, "count")).
			GroupBy(&repo.T.Published).
			Values(context.Background(), &repo.T.Published)
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 2)
		for _, row := range rows {
			count, ok := row["count"].(int64)
			assert.Assert(t, ok)
			assert.Assert(t, count == 2 || count == 3)
		}
	}

	{ // In expands to one placeholder per value
		count, err := repo.Query().
			Filter(database.In(&repo.T.Rating, 1, 3, 5)).
			Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, count, int64(3))
	}
}

func TestBuilderRelations(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	{ // SelectRelated joins without changing row membership
		rows, err := repo.Query().
			SelectRelated(&repo.T.AuthorID).
			All(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 5)
		assert.Assert(t, strings.Contains(fixture.lastStatement(), "LEFT JOIN"))
	}

	{ // SelectRelated on a plain column surfaces at the terminal
		_, err := repo.Query().
			SelectRelated(&repo.T.Rating).
			All(context.Background())
		assert.ErrorIs(t, err, database.ErrUnknownColumn)
	}

	{ // PrefetchRelated is carried through resolution untouched
		query, err := repo.Query().PrefetchRelated("author").Resolve()
		assert.NilError(t, err)
		assert.DeepEqual(t, query.Prefetch, []string{"author"})
	}
}

func TestBuilderConnections(t *testing.T) {
	t.Parallel()

	fixture := setupBuilderFixture(t)
	repo := fixture.reviewRepo

	{ // Using routes to a registered connection
		count, err := repo.Query().Using("replica").Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, count, int64(5))
	}

	{ // Unknown connections surface at the terminal
		_, err := repo.Query().Using("nope").Count(context.Background())
		assert.ErrorIs(t, err, database.ErrUnknownConnection)
	}
}

func TestQueryCache(t *testing.T) {
	t.Parallel()

	cacheDriver, err := cache.NewDriverMemory()
	assert.NilError(t, err)

	fixture := setupBuilderFixture(t, database.WithQueryCache(cacheDriver, time.Minute))
	repo := fixture.reviewRepo

	filter := database.GreaterThanOrEqual(&repo.T.Rating, 3)

	first, err := repo.Query().Filter(filter).Count(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, first, int64(3))

	executed := len(*fixture.statements)

	{ // A repeat of the same count is served from the cache
		second, err := repo.Query().Filter(filter).Count(context.Background())
		assert.NilError(t, err)
		assert.Equal(t, second, first)
		assert.Equal(t, len(*fixture.statements), executed)
	}

	{ // A different predicate misses the cache
		_, err := repo.Query().Filter(database.Equal(&repo.T.Rating, 1)).Count(context.Background())
		assert.NilError(t, err)
		assert.Assert(t, len(*fixture.statements) > executed)
	}

	{ // Projections skip the cache so column types never depend on cache state
		cold, err := repo.Query().Values(context.Background(), &repo.T.Rating)
		assert.NilError(t, err)
		assert.Equal(t, len(cold), 5)

		executed := len(*fixture.statements)
		warm, err := repo.Query().Values(context.Background(), &repo.T.Rating)
		assert.NilError(t, err)
		assert.Assert(t, len(*fixture.statements) > executed)

		_, coldIsInt := cold[0]["rating"].(int64)
		_, warmIsInt := warm[0]["rating"].(int64)
		assert.Assert(t, coldIsInt)
		assert.Assert(t, warmIsInt)
	}
}

type untagged struct{}

func (e untagged) TableStructure() database.Table {
	return database.Table{}
}

func TestNewRepositoryConfiguration(t *testing.T) {
	t.Parallel()

	{ // A nil service is rejected
		_, err := database.NewRepository[ReviewID, Review](nil)
		assert.ErrorIs(t, err, database.ErrConfiguration)
	}

	{ // An entity without tagged columns is rejected
		dbPath := fmt.Sprintf("%s/database.sqlite", t.TempDir())
		service, err := database.New(database.NewDriverSQLite(dbPath))
		assert.NilError(t, err)

		_, err = database.NewRepository[int64, untagged](service)
		assert.ErrorIs(t, err, database.ErrConfiguration)
	}
}
