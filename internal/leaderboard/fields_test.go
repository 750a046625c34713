package leaderboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-server/internal/storage"
)

func testCaster() *Caster {
	fields := []storage.ScoreField{
		{Game: "g", Name: "cc_score", Type: storage.FieldInt},
		{Game: "g", Name: "usr_accuracy", Type: storage.FieldFloat},
		{Game: "g", Name: "usr_playername", Type: storage.FieldString},
	}
	return NewCaster("g", fields)
}

func TestCastInt(t *testing.T) {
	c := testCaster()

	v, err := c.Cast("cc_score", "1500")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), v)

	var castErr *TypeCastError
	_, err = c.Cast("cc_score", "15.5")
	require.ErrorAs(t, err, &castErr)
	assert.Equal(t, "cc_score", castErr.Field)
}

func TestCastFloat(t *testing.T) {
	c := testCaster()

	v, err := c.Cast("usr_accuracy", "0.93")
	require.NoError(t, err)
	assert.Equal(t, 0.93, v)

	var castErr *TypeCastError
	_, err = c.Cast("usr_accuracy", "not-a-number")
	require.ErrorAs(t, err, &castErr)
}

func TestCastStringPassthrough(t *testing.T) {
	c := testCaster()

	v, err := c.Cast("usr_playername", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", v)
}

func TestCastUndeclaredField(t *testing.T) {
	c := testCaster()

	var valErr *ValidationError
	_, err := c.Cast("usr_unknown", "1")
	require.ErrorAs(t, err, &valErr)
}

func TestNumeric(t *testing.T) {
	v, err := numeric("cc_score", int64(7))
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	v, err = numeric("cc_score", 7.5)
	require.NoError(t, err)
	assert.Equal(t, 7.5, v)

	var castErr *TypeCastError
	_, err = numeric("cc_score", "7")
	require.ErrorAs(t, err, &castErr)
}
