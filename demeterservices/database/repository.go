package database

import (
	"context"
	"fmt"
	"reflect"

	"github.com/lunagic/demeter/demeterservices/database/internal/utils"
)

// NewRepository registers the entity's field pointers with the service so
// predicates, ordering keys, and assignments can reference fields directly.
// The entity needs at least one db tagged column.
func NewRepository[ID ~int64, T Entity](service *Service, baseModifiers ...func(ctx context.Context, t *T) (QueryModifier, error)) (Repository[ID, T], error) {
	if service == nil {
		return Repository[ID, T]{}, fmt.Errorf("%w: nil service", ErrConfiguration)
	}

	baseQuery, err := generateBaseQuery(*new(T))
	if err != nil {
		return Repository[ID, T]{}, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}

	r := Repository[ID, T]{
		selector:      NewSelector[T](service, baseQuery),
		T:             new(T),
		BaseModifiers: baseModifiers,
		fieldTags:     map[uintptr]utils.DBTag{},
	}

	value := reflect.ValueOf(r.T).Elem()
	for i := 0; i < value.NumField(); i++ {
		fieldValue := value.Field(i)
		fieldDefinition := value.Type().Field(i)

		if !fieldDefinition.IsExported() {
			continue
		}

		tag := utils.ParseTag(fieldDefinition.Tag)
		if tag.Column == "" {
			continue
		}

		service.mapping[fieldValue.UnsafeAddr()] = tag.Column
		r.fieldTags[fieldValue.UnsafeAddr()] = tag

		if tag.PrimaryKey {
			r.primaryKey = tag.Column
		}
	}

	if len(r.fieldTags) == 0 {
		return Repository[ID, T]{}, fmt.Errorf("%w: entity %T has no db tagged columns", ErrConfiguration, *new(T))
	}

	return r, nil
}

type Repository[ID ~int64, T Entity] struct {
	selector      Selector[T]
	T             *T
	BaseModifiers []func(ctx context.Context, t *T) (QueryModifier, error)
	fieldTags     map[uintptr]utils.DBTag
	primaryKey    string
}

// Query starts a builder chain from the repository's base query.
func (repository *Repository[ID, T]) Query() *Builder[ID, T] {
	return repository.QueryFrom(repository.selector.baseQuery)
}

// QueryFrom starts a builder chain from an explicit base query, for callers
// that prepared one up front (a saved search, a tenant-scoped base, ...).
func (repository *Repository[ID, T]) QueryFrom(query Query) *Builder[ID, T] {
	return &Builder[ID, T]{
		service:    repository.selector.service,
		query:      query,
		fieldTags:  repository.fieldTags,
		primaryKey: repository.primaryKey,
	}
}

// GetByID returns the row with the given primary key, or nil when it does not
// exist.
func (repository *Repository[ID, T]) GetByID(ctx context.Context, id ID) (*T, error) {
	return repository.Query().Filter(repository.primaryKeyEquals(id)).First(ctx)
}

// GetOne returns the single row matching the predicates, or nil when nothing
// matches.
func (repository *Repository[ID, T]) GetOne(ctx context.Context, operators ...OperatorOfEvaluation) (*T, error) {
	return repository.Query().GetOne(ctx, operators...)
}

// FindAll returns every row matching the predicates (every row in the table
// when none are given).
func (repository *Repository[ID, T]) FindAll(ctx context.Context, operators ...OperatorOfEvaluation) ([]T, error) {
	return repository.Query().Filter(operators...).All(ctx)
}

func (repository *Repository[ID, T]) Count(ctx context.Context, operators ...OperatorOfEvaluation) (int64, error) {
	return repository.Query().Filter(operators...).Count(ctx)
}

func (repository *Repository[ID, T]) Exists(ctx context.Context, operators ...OperatorOfEvaluation) (bool, error) {
	return repository.Query().Filter(operators...).Exists(ctx)
}

func (repository *Repository[ID, T]) SelectMultiple(ctx context.Context, mods ...QueryModifier) ([]T, error) {
	for _, mod := range repository.BaseModifiers {
		queryModifier, err := mod(ctx, repository.T)
		if err != nil {
			return nil, err
		}

		// Prepend the base modifiers
		mods = append([]QueryModifier{queryModifier}, mods...)
	}

	return repository.selector.SelectMultiple(ctx, mods...)
}

func (repository *Repository[ID, T]) SelectSingle(ctx context.Context, mods ...QueryModifier) (T, error) {
	for _, mod := range repository.BaseModifiers {
		queryModifier, err := mod(ctx, repository.T)
		if err != nil {
			return *new(T), err
		}

		// Prepend the base modifiers
		mods = append([]QueryModifier{queryModifier}, mods...)
	}
	return repository.selector.SelectSingle(ctx, mods...)
}

func (repository *Repository[ID, T]) Insert(ctx context.Context, entity T) (ID, error) {
	statement, err := repository.selector.service.driver.generateInsert(entity)
	if err != nil {
		return 0, err
	}

	if !repository.selector.service.driver.usesLastInsertId() {
		lastInsertID := []struct {
			ID ID `db:"id"`
		}{}
		if err := repository.selector.service.runSelect(ctx, statement, &lastInsertID); err != nil {
			return 0, err
		}

		return lastInsertID[0].ID, nil
	}

	result, err := repository.selector.service.runExecute(ctx, statement)
	if err != nil {
		return 0, err
	}

	lastInsertID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if lastInsertID == 0 {
		if err := utils.LoopOverStructFields(reflect.ValueOf(entity), func(fieldDefinition reflect.StructField, fieldValue reflect.Value) error {
			// Grab the primary key if it wasn't from an AUTO_INCREMENT
			tag := utils.ParseTag(fieldDefinition.Tag)
			if tag.PrimaryKey {
				lastInsertID = fieldValue.Int()
			}

			return nil
		}); err != nil {
			return 0, err
		}
	}

	return ID(lastInsertID), nil
}

// InsertMany inserts the entities one at a time and returns their new IDs in
// order. It stops at the first failure.
func (repository *Repository[ID, T]) InsertMany(ctx context.Context, entities []T) ([]ID, error) {
	ids := []ID{}
	for _, entity := range entities {
		id, err := repository.Insert(ctx, entity)
		if err != nil {
			return ids, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// UpdateMany updates the entities one at a time. It stops at the first
// failure.
func (repository *Repository[ID, T]) UpdateMany(ctx context.Context, entities []T) error {
	for _, entity := range entities {
		if err := repository.Update(ctx, entity); err != nil {
			return err
		}
	}

	return nil
}

// Upsert inserts the entity when its primary key is zero and updates it
// otherwise, returning the ID either way.
func (repository *Repository[ID, T]) Upsert(ctx context.Context, entity T) (ID, error) {
	id := ID(0)
	if err := utils.LoopOverStructFields(reflect.ValueOf(entity), func(fieldDefinition reflect.StructField, fieldValue reflect.Value) error {
		tag := utils.ParseTag(fieldDefinition.Tag)
		if tag.PrimaryKey {
			id = ID(fieldValue.Int())
		}

		return nil
	}); err != nil {
		return 0, err
	}

	if id == 0 {
		return repository.Insert(ctx, entity)
	}

	return id, repository.Update(ctx, entity)
}

func (repository *Repository[ID, T]) Update(ctx context.Context, entity T) error {
	statement, err := repository.selector.service.driver.generateUpdate(entity)
	if err != nil {
		return err
	}

	if _, err := repository.selector.service.runExecute(ctx, statement); err != nil {
		return err
	}

	return nil
}

// UpdateWhere applies the assignments to every row matching the predicate and
// returns how many rows were touched.
func (repository *Repository[ID, T]) UpdateWhere(ctx context.Context, where OperatorOfLogic, assignments ...Assignment) (int64, error) {
	statement, err := generateUpdateWhereStatement(
		repository.selector.service.driver,
		repository.selector.baseQuery.From,
		assignments,
		where,
	)
	if err != nil {
		return 0, err
	}

	result, err := repository.selector.service.runExecute(ctx, statement)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (repository *Repository[ID, T]) Delete(ctx context.Context, entity T) error {
	statement, err := repository.selector.service.driver.generateDelete(entity)
	if err != nil {
		return err
	}

	if _, err := repository.selector.service.runExecute(ctx, statement); err != nil {
		return err
	}

	return nil
}

func (repository *Repository[ID, T]) DeleteByID(ctx context.Context, id ID) error {
	_, err := repository.DeleteWhere(ctx, And(repository.primaryKeyEquals(id)))

	return err
}

// DeleteWhere removes every row matching the predicate and returns how many
// rows were removed.
func (repository *Repository[ID, T]) DeleteWhere(ctx context.Context, where OperatorOfLogic) (int64, error) {
	statement, err := generateDeleteWhereStatement(
		repository.selector.service.driver,
		repository.selector.baseQuery.From,
		where,
	)
	if err != nil {
		return 0, err
	}

	result, err := repository.selector.service.runExecute(ctx, statement)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (repository *Repository[ID, T]) primaryKeyEquals(id ID) OperatorOfEvaluation {
	return rawEquality{
		columnName: repository.primaryKey,
		operator:   "=",
		value:      int64(id),
	}
}
