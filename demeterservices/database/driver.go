package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"

	"github.com/lunagic/demeter/demetertools"
)

var (
	ErrNoRows            = errors.New("no rows found")
	ErrBlankQuery        = errors.New("blank query")
	ErrTableNotFound     = errors.New("table not found")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrConfiguration is returned when a repository or builder is constructed
	// without a usable service or entity.
	ErrConfiguration            = errors.New("invalid configuration")
	errNeedsAutoMigrateOverride = errors.New("needs auto migrate override")
)

type Driver interface {
	Open() (*sql.DB, error)
	setMapping(mapping map[uintptr]string)
	columnFor(column any) string
	nextParameterKey(columnName string) string
	quoteIdentifier(name string) string
	supportsDistinctOn() bool
	autoMigrateAdjustTableDefinition(table Table) Table
	autoMigrateColumnAlter(table Table, column TableColumn) ([]statement, error)
	autoMigrateColumnCreate(table Table, column TableColumn) ([]statement, error)
	autoMigrateColumnDrop(table Table, column TableColumn) ([]statement, error)
	autoMigrateIndexAlter(table Table, column TableIndex) ([]statement, error)
	autoMigrateIndexCreate(table Table, column TableIndex) ([]statement, error)
	autoMigrateIndexDrop(table Table, column TableIndex) ([]statement, error)
	autoMigrateOverride(sourceTable Table, targetTable Table) []statement
	autoMigrateTableCreate(table Table) ([]statement, error)
	autoMigrateTableDrop(table Table) ([]statement, error)
	autoMigrateTableGet(ctx context.Context, service *Service, tableName string) (Table, error)
	convertTypeBool() string
	convertTypeDateTime() string
	convertTypeFloat32() string
	convertTypeFloat64() string
	convertTypeInt() string
	convertTypeInt16() string
	convertTypeInt32() string
	convertTypeInt64() string
	convertTypeInt8() string
	convertTypeJSON() string
	convertTypeString() string
	convertTypeUint() string
	convertTypeUint16() string
	convertTypeUint32() string
	convertTypeUint64() string
	convertTypeUint8() string
	generateDelete(entity Entity) (statement, error)
	generateInsert(entity Entity) (statement, error)
	generateSelect(query Query) (statement, error)
	generateSimpleOperatorOfEquality(o simpleOperatorOfEquality) (statement, error)
	generateSimpleOperatorOfLogic(o simpleOperatorOfLogic) (statement, error)
	generateUpdate(entity Entity) (statement, error)
	usesLastInsertId() bool
	usesNumberedParameters() bool
}

// columnMapping holds the shared field-pointer to column-name lookup that the
// service registers for every repository entity. Drivers embed it.
type columnMapping struct {
	mapping map[uintptr]string
}

func (m *columnMapping) setMapping(mapping map[uintptr]string) {
	m.mapping = mapping
}

func (m *columnMapping) columnFor(column any) string {
	return m.mapping[pointerKey(column)]
}

// parameterKeys hands out parameter names that are unique for the lifetime of
// the driver, so the same column can appear in several predicates of one
// statement without the bound values overwriting each other.
type parameterKeys struct {
	counter atomic.Int64
}

func (p *parameterKeys) nextParameterKey(columnName string) string {
	return fmt.Sprintf(":%s_p%d", columnName, p.counter.Add(1))
}

func generateSimpleOperatorOfLogic(driver Driver, o simpleOperatorOfLogic) (statement, error) {
	parts := []string{}
	parameters := map[string]any{}

	for _, x := range o.operatorsEvaluation {
		subStatement, err := x.haveDriverRender(driver)
		if err != nil {
			return subStatement, err
		}

		parts = append(parts, subStatement.Query)
		maps.Copy(parameters, subStatement.Parameters)
	}

	return statement{
		Query:      fmt.Sprintf("(%s)", strings.Join(parts, " "+o.operatorKeyword+" ")),
		Parameters: parameters,
	}, nil
}

func generateEqualityStatement(driver Driver, o simpleOperatorOfEquality) (statement, error) {
	columnName := driver.columnFor(o.Column)
	if columnName == "" {
		return statement{}, ErrUnknownColumn
	}

	key := driver.nextParameterKey(columnName)

	queryString := fmt.Sprintf("%s %s %s", driver.quoteIdentifier(columnName), o.Operator, key)
	if o.Operator == "IN" {
		// The slice parameter is expanded to one placeholder per element when
		// the statement is prepared.
		queryString = fmt.Sprintf("%s IN (%s)", driver.quoteIdentifier(columnName), key)
	}

	return statement{
		Query: queryString,
		Parameters: map[string]any{
			key: o.Value,
		},
	}, nil
}

// resolveColumn accepts either a column name or a pointer to a mapped entity
// field.
func resolveColumn(driver Driver, column any) string {
	if name, ok := column.(string); ok {
		return name
	}

	return driver.columnFor(column)
}

func generateSelectStatement(driver Driver, query Query) (statement, error) {
	table := driver.quoteIdentifier(query.From)

	selects := demetertools.Map(query.Select, func(column string) string {
		quoted := driver.quoteIdentifier(column)
		if len(query.Joins) > 0 {
			// Joined tables can share column names with the base table
			quoted = table + "." + quoted
		}

		return quoted
	})

	for _, annotation := range query.Annotations {
		columnName := resolveColumn(driver, annotation.column)
		if columnName == "" {
			return statement{}, ErrUnknownColumn
		}

		selects = append(selects, fmt.Sprintf(
			"%s(%s) AS %s",
			annotation.aggregate,
			driver.quoteIdentifier(columnName),
			driver.quoteIdentifier(annotation.Alias),
		))
	}

	distinct := ""
	if query.Distinct {
		distinct = "DISTINCT "
		if len(query.DistinctOn) > 0 && driver.supportsDistinctOn() {
			columns := []string{}
			for _, column := range query.DistinctOn {
				columnName := resolveColumn(driver, column)
				if columnName == "" {
					return statement{}, ErrUnknownColumn
				}

				columns = append(columns, driver.quoteIdentifier(columnName))
			}

			distinct = fmt.Sprintf("DISTINCT ON (%s) ", strings.Join(columns, ", "))
		}
	}

	queryString := fmt.Sprintf("SELECT %s%s FROM %s", distinct, strings.Join(selects, ", "), table)

	for _, join := range query.Joins {
		queryString += " " + join
	}

	parameters := map[string]any{}
	if query.Where != nil && query.Where.hasAny() {
		s, err := query.Where.haveDriverRender(driver)
		if err != nil {
			return statement{}, err
		}
		queryString += " WHERE " + s.Query
		maps.Copy(parameters, s.Parameters)
	}

	if len(query.GroupBy) > 0 {
		columns := []string{}
		for _, column := range query.GroupBy {
			columnName := resolveColumn(driver, column)
			if columnName == "" {
				return statement{}, ErrUnknownColumn
			}

			columns = append(columns, driver.quoteIdentifier(columnName))
		}

		queryString += " GROUP BY " + strings.Join(columns, ", ")
	}

	if query.countOnly {
		return statement{
			Query: fmt.Sprintf(
				"SELECT COUNT(*) AS %s FROM (%s) AS %s",
				driver.quoteIdentifier("count"),
				queryString,
				driver.quoteIdentifier("counted"),
			),
			Parameters: parameters,
		}, nil
	}

	if len(query.OrderBy) > 0 {
		terms := []string{}
		for _, term := range query.OrderBy {
			columnName := resolveColumn(driver, term.Column)
			if columnName == "" {
				return statement{}, ErrUnknownColumn
			}

			direction := ""
			if term.Descending {
				direction = " DESC"
			}

			terms = append(terms, driver.quoteIdentifier(columnName)+direction)
		}

		queryString += " ORDER BY " + strings.Join(terms, ", ")
	}

	if query.Limit.Count > 0 {
		queryString += fmt.Sprintf(" LIMIT %d", query.Limit.Count)
		if query.Limit.Offset > 0 {
			queryString += fmt.Sprintf(" OFFSET %d", query.Limit.Offset)
		}
	}

	return statement{
		Query:      queryString,
		Parameters: parameters,
	}, nil
}

// Assignment is a single column change for UpdateWhere.
type Assignment struct {
	Column any
	Value  any
}

func Set[T any](column *T, value T) Assignment {
	return Assignment{Column: column, Value: value}
}

func generateUpdateWhereStatement(driver Driver, table string, assignments []Assignment, where OperatorOfLogic) (statement, error) {
	sets := []string{}
	parameters := map[string]any{}

	for _, assignment := range assignments {
		columnName := driver.columnFor(assignment.Column)
		if columnName == "" {
			return statement{}, ErrUnknownColumn
		}

		key := driver.nextParameterKey(columnName)
		sets = append(sets, driver.quoteIdentifier(columnName)+" = "+key)
		parameters[key] = assignment.Value
	}

	queryString := fmt.Sprintf(
		"UPDATE %s SET %s",
		driver.quoteIdentifier(table),
		strings.Join(sets, ", "),
	)

	if where != nil && where.hasAny() {
		s, err := where.haveDriverRender(driver)
		if err != nil {
			return statement{}, err
		}
		queryString += " WHERE " + s.Query
		maps.Copy(parameters, s.Parameters)
	}

	return statement{
		Query:      queryString,
		Parameters: parameters,
	}, nil
}

func generateDeleteWhereStatement(driver Driver, table string, where OperatorOfLogic) (statement, error) {
	queryString := "DELETE FROM " + driver.quoteIdentifier(table)
	parameters := map[string]any{}

	if where != nil && where.hasAny() {
		s, err := where.haveDriverRender(driver)
		if err != nil {
			return statement{}, err
		}
		queryString += " WHERE " + s.Query
		maps.Copy(parameters, s.Parameters)
	}

	return statement{
		Query:      queryString,
		Parameters: parameters,
	}, nil
}
