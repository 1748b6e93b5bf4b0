package database

import (
	"context"
	"fmt"
	"reflect"

	"github.com/lunagic/demeter/demeterservices/cache"
	"github.com/lunagic/demeter/demeterservices/database/internal/utils"
)

// Builder composes one logical query through chained calls. Narrowing calls
// (Filter, Exclude, OrderBy, ...) apply to the carried query immediately,
// while the two combination channels (AndWhere and friends, OrExclude)
// accumulate until Resolve folds them in: the conjunction channel first, then
// the negated disjunction channel. That order is fixed.
//
// A builder describes exactly one query: build it up, resolve it (directly or
// through a terminal call) once, and discard it. Resolving again re-applies
// the pending channels on top of the already folded query. A builder is not
// safe for concurrent use.
type Builder[ID ~int64, T Entity] struct {
	service        *Service
	query          Query
	pendingFilter  []OperatorOfEvaluation
	pendingExclude []OperatorOfEvaluation
	fieldTags      map[uintptr]utils.DBTag
	primaryKey     string
	err            error
}

func pointerKey(column any) uintptr {
	return uintptr(reflect.ValueOf(column).UnsafePointer())
}

// fail latches the first chain error; terminals surface it instead of
// executing anything.
func (builder *Builder[ID, T]) fail(err error) {
	if builder.err == nil {
		builder.err = err
	}
}

func (builder *Builder[ID, T]) applyWhere(where OperatorOfLogic) {
	if builder.query.Where == nil {
		builder.query.Where = where
	} else {
		builder.query.Where = And(builder.query.Where, where)
	}
}

// Filter narrows the carried query to rows matching all given predicates.
func (builder *Builder[ID, T]) Filter(operators ...OperatorOfEvaluation) *Builder[ID, T] {
	if len(operators) > 0 {
		builder.applyWhere(And(operators...))
	}

	return builder
}

// Exclude removes rows matching all given predicates from the carried query.
func (builder *Builder[ID, T]) Exclude(operators ...OperatorOfEvaluation) *Builder[ID, T] {
	if len(operators) > 0 {
		builder.applyWhere(And(Not(And(operators...))))
	}

	return builder
}

// AndWhere conjoins the predicate into the pending conjunction channel. The
// channel starts out empty (matches everything) and is not applied until
// Resolve.
func (builder *Builder[ID, T]) AndWhere(operator OperatorOfEvaluation) *Builder[ID, T] {
	builder.pendingFilter = append(builder.pendingFilter, operator)

	return builder
}

// OrWhere groups the given predicates into a single disjunction and conjoins
// that group into the pending conjunction channel: "(A OR B) AND whatever
// else was already required".
func (builder *Builder[ID, T]) OrWhere(operators ...OperatorOfEvaluation) *Builder[ID, T] {
	if len(operators) > 0 {
		builder.pendingFilter = append(builder.pendingFilter, Or(operators...))
	}

	return builder
}

// OrExclude disjoins the predicate into the pending exclusion channel: rows
// matching any accumulated predicate are removed at Resolve. The channel
// starts out empty (excludes nothing).
func (builder *Builder[ID, T]) OrExclude(operator OperatorOfEvaluation) *Builder[ID, T] {
	builder.pendingExclude = append(builder.pendingExclude, operator)

	return builder
}

// SelectRelated eagerly joins the target table of foreignKey tagged fields.
// A pure fetch hint: it never changes which rows come back.
func (builder *Builder[ID, T]) SelectRelated(columns ...any) *Builder[ID, T] {
	quote := builder.service.driver.quoteIdentifier

	for _, column := range columns {
		tag, found := builder.fieldTags[pointerKey(column)]
		if !found || tag.ForeignKeyTargetTable == "" {
			builder.fail(fmt.Errorf("%w: SelectRelated needs a foreignKey tagged field", ErrUnknownColumn))
			continue
		}

		builder.query.Joins = append(builder.query.Joins, fmt.Sprintf(
			"LEFT JOIN %s ON %s.%s = %s.%s",
			quote(tag.ForeignKeyTargetTable),
			quote(builder.query.From),
			quote(tag.Column),
			quote(tag.ForeignKeyTargetTable),
			quote(tag.ForeignKeyTargetColumn),
		))
	}

	return builder
}

// PrefetchRelated records relation names to load in follow-up queries. The
// names are carried through to the resolved query untouched for the caller
// to act on.
func (builder *Builder[ID, T]) PrefetchRelated(relations ...string) *Builder[ID, T] {
	builder.query.Prefetch = append(builder.query.Prefetch, relations...)

	return builder
}

// OrderBy sets the ordering keys. A later call replaces the whole ordering,
// it never appends.
func (builder *Builder[ID, T]) OrderBy(terms ...OrderTerm) *Builder[ID, T] {
	builder.query.OrderBy = terms

	return builder
}

// Distinct deduplicates the result, optionally on a subset of columns where
// the driver supports that (plain DISTINCT everywhere else).
func (builder *Builder[ID, T]) Distinct(columns ...any) *Builder[ID, T] {
	builder.query.Distinct = true
	builder.query.DistinctOn = columns

	return builder
}

// Annotate attaches computed aggregate columns to each row. Row membership is
// unchanged. For All and the single-row terminals the alias must match a
// readOnly tagged field on the entity so the value has somewhere to land;
// Values has no such requirement.
func (builder *Builder[ID, T]) Annotate(annotations ...Annotation) *Builder[ID, T] {
	builder.query.Annotations = append(builder.query.Annotations, annotations...)

	return builder
}

func (builder *Builder[ID, T]) GroupBy(columns ...any) *Builder[ID, T] {
	builder.query.GroupBy = columns

	return builder
}

// Using routes the whole chain to a connection registered on the service via
// WithConnection.
func (builder *Builder[ID, T]) Using(connection string) *Builder[ID, T] {
	builder.query.Connection = connection

	return builder
}

func (builder *Builder[ID, T]) Limit(count int, offset int) *Builder[ID, T] {
	builder.query.Limit.Count = count
	builder.query.Limit.Offset = offset

	return builder
}

// Resolve folds the pending channels into the carried query and returns it:
// the conjunction channel is applied first, the negated exclusion channel
// second, always in that order regardless of call order on the chain.
func (builder *Builder[ID, T]) Resolve() (Query, error) {
	if builder.err != nil {
		return Query{}, builder.err
	}

	if len(builder.pendingFilter) > 0 {
		builder.applyWhere(And(builder.pendingFilter...))
	}

	if len(builder.pendingExclude) > 0 {
		builder.applyWhere(And(Not(Or(builder.pendingExclude...))))
	}

	return builder.query, nil
}

// All resolves the chain and materializes every matching row.
func (builder *Builder[ID, T]) All(ctx context.Context) ([]T, error) {
	query, err := builder.Resolve()
	if err != nil {
		return nil, err
	}

	return builder.selectRows(ctx, query)
}

// First resolves the chain and returns the first row under the current
// ordering, or nil when nothing matches.
func (builder *Builder[ID, T]) First(ctx context.Context) (*T, error) {
	query, err := builder.Resolve()
	if err != nil {
		return nil, err
	}

	return builder.selectOne(ctx, query)
}

// Last is First under the reversed ordering (primary key descending when no
// ordering was set).
func (builder *Builder[ID, T]) Last(ctx context.Context) (*T, error) {
	query, err := builder.Resolve()
	if err != nil {
		return nil, err
	}

	if len(query.OrderBy) == 0 {
		query.OrderBy = []OrderTerm{{Column: builder.primaryKey, Descending: true}}
	} else {
		reversed := []OrderTerm{}
		for _, term := range query.OrderBy {
			term.Descending = !term.Descending
			reversed = append(reversed, term)
		}
		query.OrderBy = reversed
	}

	return builder.selectOne(ctx, query)
}

// GetOne narrows by the given predicates and returns the single match, or
// nil when nothing matches.
func (builder *Builder[ID, T]) GetOne(ctx context.Context, operators ...OperatorOfEvaluation) (*T, error) {
	return builder.Filter(operators...).First(ctx)
}

// Count resolves the chain and returns the number of matching rows.
func (builder *Builder[ID, T]) Count(ctx context.Context) (int64, error) {
	query, err := builder.Resolve()
	if err != nil {
		return 0, err
	}

	query.countOnly = true

	statement, err := builder.service.driver.generateSelect(query)
	if err != nil {
		return 0, err
	}

	var counts *cache.Repository[string, int64]
	key := ""
	if builder.service.queryCache != nil {
		key, err = builder.service.statementCacheKey(query.Connection, statement)
		if err != nil {
			return 0, err
		}

		counts = cache.NewRepository[string, int64](builder.service.queryCache, "query-count")
		if count, err := counts.Get(ctx, key); err == nil {
			return count, nil
		}
	}

	target := []countResult{}
	if err := builder.service.runSelectOn(ctx, query.Connection, statement, &target); err != nil {
		return 0, err
	}

	if len(target) == 0 {
		return 0, nil
	}

	if counts != nil {
		_ = counts.Set(ctx, key, target[0].Count, builder.service.queryCacheTTL)
	}

	return target[0].Count, nil
}

// Exists resolves the chain and reports whether anything matches.
func (builder *Builder[ID, T]) Exists(ctx context.Context) (bool, error) {
	count, err := builder.Count(ctx)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// Values resolves the chain and materializes only the given columns as
// column-keyed maps. With no columns it projects the full select list.
func (builder *Builder[ID, T]) Values(ctx context.Context, columns ...any) ([]map[string]any, error) {
	query, err := builder.Resolve()
	if err != nil {
		return nil, err
	}

	if len(columns) > 0 {
		selects := []string{}
		for _, column := range columns {
			columnName := resolveColumn(builder.service.driver, column)
			if columnName == "" {
				return nil, ErrUnknownColumn
			}

			selects = append(selects, columnName)
		}

		query.Select = selects
	}

	statement, err := builder.service.driver.generateSelect(query)
	if err != nil {
		return nil, err
	}

	// Never cached: the cache stores JSON strings, and a round trip through
	// JSON cannot preserve the column types of an arbitrary projection.
	return builder.service.runSelectMaps(ctx, query.Connection, statement)
}

func (builder *Builder[ID, T]) selectRows(ctx context.Context, query Query) ([]T, error) {
	statement, err := builder.service.driver.generateSelect(query)
	if err != nil {
		return nil, err
	}

	target := []T{}
	if err := builder.service.runSelectOn(ctx, query.Connection, statement, &target); err != nil {
		return nil, err
	}

	return target, nil
}

func (builder *Builder[ID, T]) selectOne(ctx context.Context, query Query) (*T, error) {
	query.Limit.Count = 1
	query.Limit.Offset = 0

	rows, err := builder.selectRows(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return &rows[0], nil
}

type countResult struct {
	Count int64 `db:"count"`
}
