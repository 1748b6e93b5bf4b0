package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/lunagic/demeter/demeterservices/cache"
	"github.com/lunagic/demeter/demeterservices/database/internal/utils"
)

type Service struct {
	driver            Driver
	standardLibraryDB *sql.DB
	connections       map[string]*sql.DB
	preRunFuncs       []func(ctx context.Context, statement string, args []any) error
	postRunFuncs      []func(ctx context.Context) error
	mapping           map[uintptr]string
	queryCache        cache.Driver
	queryCacheTTL     time.Duration
}

func New(
	driver Driver,
	configFuncs ...ServiceConfigFunc,
) (*Service, error) {
	db, err := driver.Open()
	if err != nil {
		return nil, err
	}

	service := &Service{
		driver:            driver,
		standardLibraryDB: db,
		connections:       map[string]*sql.DB{},
		preRunFuncs:       []func(ctx context.Context, statement string, args []any) error{},
		postRunFuncs:      []func(ctx context.Context) error{},
		mapping:           map[uintptr]string{},
	}

	driver.setMapping(service.mapping)

	for _, configFunc := range configFuncs {
		if err := configFunc(service); err != nil {
			return nil, err
		}
	}

	return service, nil
}

func (service *Service) Ping() error {
	return service.standardLibraryDB.Ping()
}

// dbFor picks the connection a chain was routed to. The blank name is the
// primary connection the service was opened with.
func (service *Service) dbFor(connection string) (*sql.DB, error) {
	if connection == "" {
		return service.standardLibraryDB, nil
	}

	db, found := service.connections[connection]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connection)
	}

	return db, nil
}

func (service *Service) runSelect(
	ctx context.Context,
	statement statement,
	targetPointer any,
) error {
	return service.runSelectOn(ctx, "", statement, targetPointer)
}

func (service *Service) runSelectOn(
	ctx context.Context,
	connection string,
	statement statement,
	targetPointer any,
) error {
	db, err := service.dbFor(connection)
	if err != nil {
		return err
	}

	preparedQuery, preparedArgs, err := utils.Prepare(statement.Query, statement.Parameters, service.driver.usesNumberedParameters())
	if err != nil {
		return err
	}

	if preparedQuery == "" {
		return ErrBlankQuery
	}

	for _, preRunFunc := range service.preRunFuncs {
		if err := preRunFunc(ctx, preparedQuery, preparedArgs); err != nil {
			return err
		}
	}

	rows, err := db.Query(preparedQuery, preparedArgs...)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}

	target := reflect.ValueOf(targetPointer).Elem()
	targetType := reflect.TypeOf(target.Interface()).Elem()

	fieldIndexesToUse := []int{}

	rowMap := map[string]int{}
	testRow := reflect.New(targetType).Elem()
	for i := 0; i < testRow.NumField(); i++ {
		fieldDefinition := testRow.Type().Field(i)
		if !fieldDefinition.IsExported() {
			continue
		}

		tag := utils.ParseTag(fieldDefinition.Tag)
		if tag.Column == "" {
			continue
		}

		rowMap[tag.Column] = i
	}

	for _, column := range columns {
		fieldIndex, found := rowMap[column]
		if !found {
			return fmt.Errorf("column %s not found in target", column)
		}

		fieldIndexesToUse = append(fieldIndexesToUse, fieldIndex)
	}

	for rows.Next() {
		row := reflect.New(targetType).Elem()

		scanFields := []any{}
		jsonMapping := map[int]*string{}
		for _, fieldIndexToUse := range fieldIndexesToUse {
			if shouldBeJson(testRow.Type().Field(fieldIndexToUse)) {
				// Swap in a pointer to a string when the field should be json so we can unmarshal it later
				jsonString := ""
				jsonMapping[fieldIndexToUse] = &jsonString
				scanFields = append(scanFields, &jsonString)
			} else {
				scanFields = append(scanFields, row.Field(fieldIndexToUse).Addr().Interface())
			}
		}

		if err := rows.Scan(scanFields...); err != nil {
			return err
		}

		for fieldIndexToUse, jsonString := range jsonMapping {
			if err := json.Unmarshal([]byte(*jsonString), row.Field(fieldIndexToUse).Addr().Interface()); err != nil {
				return err
			}
		}

		target.Set(reflect.Append(target, row))
	}

	for _, postRunFunc := range service.postRunFuncs {
		if err := postRunFunc(ctx); err != nil {
			return err
		}
	}

	return nil
}

// runSelectMaps materializes a statement into column-keyed maps, used by
// projections where no entity struct describes the result shape.
func (service *Service) runSelectMaps(
	ctx context.Context,
	connection string,
	statement statement,
) (
	[]map[string]any,
	error,
) {
	db, err := service.dbFor(connection)
	if err != nil {
		return nil, err
	}

	preparedQuery, preparedArgs, err := utils.Prepare(statement.Query, statement.Parameters, service.driver.usesNumberedParameters())
	if err != nil {
		return nil, err
	}

	if preparedQuery == "" {
		return nil, ErrBlankQuery
	}

	for _, preRunFunc := range service.preRunFuncs {
		if err := preRunFunc(ctx, preparedQuery, preparedArgs); err != nil {
			return nil, err
		}
	}

	rows, err := db.Query(preparedQuery, preparedArgs...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		scanFields := make([]any, len(columns))
		for i := range values {
			scanFields[i] = &values[i]
		}

		if err := rows.Scan(scanFields...); err != nil {
			return nil, err
		}

		result := map[string]any{}
		for i, column := range columns {
			value := values[i]
			if bytes, ok := value.([]byte); ok {
				value = string(bytes)
			}

			result[column] = value
		}

		results = append(results, result)
	}

	for _, postRunFunc := range service.postRunFuncs {
		if err := postRunFunc(ctx); err != nil {
			return nil, err
		}
	}

	return results, nil
}

func (service *Service) runExecute(
	ctx context.Context,
	statement statement,
) (
	sql.Result,
	error,
) {
	return service.runExecuteOn(ctx, "", statement)
}

func (service *Service) runExecuteOn(
	ctx context.Context,
	connection string,
	statement statement,
) (
	sql.Result,
	error,
) {
	db, err := service.dbFor(connection)
	if err != nil {
		return nil, err
	}

	preparedQuery, preparedArgs, err := utils.Prepare(statement.Query, statement.Parameters, service.driver.usesNumberedParameters())
	if err != nil {
		return nil, err
	}

	if preparedQuery == "" {
		return nil, ErrBlankQuery
	}

	for _, preRunFunc := range service.preRunFuncs {
		if err := preRunFunc(ctx, preparedQuery, preparedArgs); err != nil {
			return nil, err
		}
	}

	result, err := db.Exec(preparedQuery, preparedArgs...)
	if err != nil {
		return nil, err
	}

	for _, postRunFunc := range service.postRunFuncs {
		if err := postRunFunc(ctx); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// statementCacheKey fingerprints a statement for the query cache. It hashes
// the prepared form (placeholders plus positional args) because the named
// parameter keys are unique per render and would defeat the cache.
func (service *Service) statementCacheKey(connection string, s statement) (string, error) {
	preparedQuery, preparedArgs, err := utils.Prepare(s.Query, s.Parameters, service.driver.usesNumberedParameters())
	if err != nil {
		return "", err
	}

	parts := []string{connection, preparedQuery}
	for _, arg := range preparedArgs {
		parts = append(parts, fmt.Sprintf("%v", arg))
	}

	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, "|")))), nil
}

func shouldBeJson(fieldDefinition reflect.StructField) bool {
	// JSON encode slices
	if fieldDefinition.Type.Kind() == reflect.Slice {
		return true
	}

	// JSON encode structs
	if fieldDefinition.Type.Kind() == reflect.Struct {
		// Don't JSON encode time.Time
		if reflect.TypeOf(time.Time{}) == fieldDefinition.Type {
			return false
		}

		return true
	}

	return false
}
