package database

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestDeriveTableName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Review":      "reviews",
		"ReviewBadge": "review_badges",
		"APIKey":      "api_keys",
		"Person":      "people",
		"Status":      "statuses",
	}

	for input, expected := range cases {
		assert.Equal(t, deriveTableName(input), expected)
	}
}

func TestToSnakeCase(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Review":       "review",
		"ReviewBadge":  "review_badge",
		"APIKey":       "api_key",
		"HTTPServer":   "http_server",
		"UserID":       "user_id",
		"already_done": "already_done",
	}

	for input, expected := range cases {
		assert.Equal(t, toSnakeCase(input), expected)
	}
}
