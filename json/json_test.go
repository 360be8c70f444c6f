package json

import (
	"testing"

	"github.com/Velocidex/ordereddict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDictKeepsKeyOrder(t *testing.T) {
	row := ordereddict.NewDict().
		Set("Zeta", 1).
		Set("Alpha", "x").
		Set("children", []*ordereddict.Dict{
			ordereddict.NewDict().Set("B", 2).Set("A", 1),
		})

	assert.Equal(t,
		`{"Zeta":1,"Alpha":"x","children":[{"B":2,"A":1}]}`,
		MustMarshalString(row))
}

func TestMarshalJsonl(t *testing.T) {
	serialized, err := MarshalJsonl([]*ordereddict.Dict{
		ordereddict.NewDict().Set("PID", 4),
		ordereddict.NewDict().Set("PID", 8),
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"PID\":4}\n{\"PID\":8}\n", string(serialized))
}

func TestUnencodableValueIsNull(t *testing.T) {
	row := ordereddict.NewDict().
		Set("PID", 4).
		Set("Callback", func() {})

	assert.Equal(t, `{"PID":4,"Callback":null}`, MustMarshalString(row))
}
