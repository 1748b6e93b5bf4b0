package database

type statement struct {
	Query      string
	Parameters map[string]any
}

// Query is the deferred description of a select against a single table. It is
// a plain value so chain calls can narrow a copy without touching the base
// query a Selector or Builder started from.
type Query struct {
	Select      []string
	From        string
	Joins       []string
	Where       OperatorOfLogic
	GroupBy     []any
	OrderBy     []OrderTerm
	Distinct    bool
	DistinctOn  []any
	Annotations []Annotation
	Prefetch    []string
	Connection  string
	Limit       struct {
		Count  int
		Offset int
	}
	countOnly bool
}

// OrderTerm is a single ordering key. Column is a pointer to the repository's
// entity field (or a raw column name), resolved at render time.
type OrderTerm struct {
	Column     any
	Descending bool
}

func Ascending(column any) OrderTerm {
	return OrderTerm{Column: column}
}

func Descending(column any) OrderTerm {
	return OrderTerm{Column: column, Descending: true}
}

// Annotation is a computed select expression attached to each row without
// changing which rows are returned.
type Annotation struct {
	Alias     string
	aggregate string
	column    any
}

func CountOf(column any, alias string) Annotation {
	return Annotation{Alias: alias, aggregate: "COUNT", column: column}
}

func AvgOf(column any, alias string) Annotation {
	return Annotation{Alias: alias, aggregate: "AVG", column: column}
}

func SumOf(column any, alias string) Annotation {
	return Annotation{Alias: alias, aggregate: "SUM", column: column}
}

func MinOf(column any, alias string) Annotation {
	return Annotation{Alias: alias, aggregate: "MIN", column: column}
}

func MaxOf(column any, alias string) Annotation {
	return Annotation{Alias: alias, aggregate: "MAX", column: column}
}
