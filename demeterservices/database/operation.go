package database

type OperatorOfLogic interface {
	OperatorOfEvaluation
	hasAny() bool
}

type simpleOperatorOfLogic struct {
	operatorKeyword     string
	operatorsEvaluation []OperatorOfEvaluation
}

func (o simpleOperatorOfLogic) hasAny() bool {
	return len(o.operatorsEvaluation) > 0
}

func (o simpleOperatorOfLogic) haveDriverRender(driver Driver) (statement, error) {
	return driver.generateSimpleOperatorOfLogic(o)
}

type OperatorOfEvaluation interface {
	haveDriverRender(driver Driver) (statement, error)
}

func And(operatorsEvaluation ...OperatorOfEvaluation) OperatorOfLogic {
	return simpleOperatorOfLogic{
		operatorKeyword:     "AND",
		operatorsEvaluation: operatorsEvaluation,
	}
}

func Or(operatorsEvaluation ...OperatorOfEvaluation) OperatorOfLogic {
	return simpleOperatorOfLogic{
		operatorKeyword:     "OR",
		operatorsEvaluation: operatorsEvaluation,
	}
}

// Not inverts a predicate. It renders as NOT (...) and needs no driver
// specific handling beyond the inner predicate's own rendering.
func Not(operator OperatorOfEvaluation) OperatorOfEvaluation {
	return notOperator{inner: operator}
}

type notOperator struct {
	inner OperatorOfEvaluation
}

func (o notOperator) haveDriverRender(driver Driver) (statement, error) {
	inner, err := o.inner.haveDriverRender(driver)
	if err != nil {
		return statement{}, err
	}

	return statement{
		Query:      "NOT (" + inner.Query + ")",
		Parameters: inner.Parameters,
	}, nil
}

func Equal[T any](column *T, value T) OperatorOfEvaluation {
	return simpleOperatorOfEquality{
		Column:   column,
		Operator: "=",
		Value:    value,
	}
}
func GreaterThan[T any](column *T, value T) OperatorOfEvaluation {
	return simpleOperatorOfEquality{
		Column:   column,
		Operator: ">",
		Value:    value,
	}
}

func GreaterThanOrEqual[T any](column *T, value T) OperatorOfEvaluation {
	return simpleOperatorOfEquality{
		Column:   column,
		Operator: ">=",
		Value:    value,
	}
}

func LessThan[T any](column *T, value T) OperatorOfEvaluation {
	return simpleOperatorOfEquality{
		Column:   column,
		Operator: "<",
		Value:    value,
	}
}

func LessThanOrEqual[T any](column *T, value T) OperatorOfEvaluation {
	return simpleOperatorOfEquality{
		Column:   column,
		Operator: "<=",
		Value:    value,
	}
}

func NotEqual[T any](column *T, value T) OperatorOfEvaluation {
	return simpleOperatorOfEquality{
		Column:   column,
		Operator: "!=",
		Value:    value,
	}
}

func Like[T any](column *T, value T) OperatorOfEvaluation {
	return simpleOperatorOfEquality{
		Column:   column,
		Operator: "LIKE",
		Value:    value,
	}
}

// In matches rows whose column is any of the given values. The single bound
// parameter holds the whole slice; statement preparation expands it to one
// placeholder per element.
func In[T any](column *T, values ...T) OperatorOfEvaluation {
	return simpleOperatorOfEquality{
		Column:   column,
		Operator: "IN",
		Value:    values,
	}
}

func IsNull(column any) OperatorOfEvaluation {
	return nullOperator{column: column}
}

func IsNotNull(column any) OperatorOfEvaluation {
	return nullOperator{column: column, negate: true}
}

type nullOperator struct {
	column any
	negate bool
}

func (o nullOperator) haveDriverRender(driver Driver) (statement, error) {
	columnName := driver.columnFor(o.column)
	if columnName == "" {
		return statement{}, ErrUnknownColumn
	}

	suffix := " IS NULL"
	if o.negate {
		suffix = " IS NOT NULL"
	}

	return statement{
		Query:      driver.quoteIdentifier(columnName) + suffix,
		Parameters: map[string]any{},
	}, nil
}

type simpleOperatorOfEquality struct {
	Column   any
	Operator string
	Value    any
}

func (o simpleOperatorOfEquality) haveDriverRender(driver Driver) (statement, error) {
	return driver.generateSimpleOperatorOfEquality(o)
}

// rawEquality compares against a column known only by name. It backs the
// repository helpers that target the primary key without a field pointer.
type rawEquality struct {
	columnName string
	operator   string
	value      any
}

func (o rawEquality) haveDriverRender(driver Driver) (statement, error) {
	key := driver.nextParameterKey(o.columnName)

	return statement{
		Query: driver.quoteIdentifier(o.columnName) + " " + o.operator + " " + key,
		Parameters: map[string]any{
			key: o.value,
		},
	}, nil
}
