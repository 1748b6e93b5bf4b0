package demetertools_test

import (
	"testing"

	"github.com/lunagic/demeter/demetertools"
	"gotest.tools/v3/assert"
)

func TestMap(t *testing.T) {
	assert.DeepEqual(
		t,
		[]bool{
			true,
			false,
		},
		demetertools.Map(
			users,
			func(user User) bool {
				return user.Age >= 18
			},
		),
	)
}
