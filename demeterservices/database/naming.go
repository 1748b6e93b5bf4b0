package database

import (
	"strings"
	"unicode"

	pluralizer "github.com/gertd/go-pluralize"
)

var pluralizeClient = pluralizer.NewClient()

// deriveTableName turns an entity struct name into a snake_case plural table
// name (ReviewBadge -> review_badges). Used when TableStructure leaves the
// name blank.
func deriveTableName(structName string) string {
	return pluralizeClient.Plural(toSnakeCase(structName))
}

func toSnakeCase(name string) string {
	runes := []rune(name)

	result := strings.Builder{}
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			previous := runes[i-1]

			// aB -> a_b, a1B -> a1_b, and ABc -> a_bc for trailing acronyms
			if unicode.IsLower(previous) || unicode.IsDigit(previous) {
				result.WriteByte('_')
			} else if unicode.IsUpper(previous) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
				result.WriteByte('_')
			}
		}

		result.WriteRune(unicode.ToLower(r))
	}

	return result.String()
}
