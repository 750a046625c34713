package leaderboard

import (
	"fmt"
	"strconv"

	"github.com/score-server/internal/storage"
)

// Caster casts raw submission strings to a game's declared field types
type Caster struct {
	game   string
	fields map[string]storage.ScoreField
}

// NewCaster builds a caster from a game's declared fields
func NewCaster(game string, fields []storage.ScoreField) *Caster {
	byName := make(map[string]storage.ScoreField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	return &Caster{game: game, fields: byName}
}

// Cast converts a raw string to the declared type of the named field.
// Strings pass through unchanged; a value that does not parse as its declared
// numeric type fails the whole request.
func (c *Caster) Cast(name, raw string) (any, error) {
	f, ok := c.fields[name]
	if !ok {
		return nil, Validationf("field %s not declared for game %s", name, c.game)
	}

	switch f.Type {
	case storage.FieldInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &TypeCastError{
				Field:   name,
				Message: fmt.Sprintf("value %q of field %s is not an int", raw, name),
			}
		}
		return v, nil
	case storage.FieldFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &TypeCastError{
				Field:   name,
				Message: fmt.Sprintf("value %q of field %s is not a float", raw, name),
			}
		}
		return v, nil
	default:
		return raw, nil
	}
}

// numeric converts a casted value to the float64 stored in the score column
func numeric(name string, v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, &TypeCastError{
			Field:   name,
			Message: fmt.Sprintf("field %s is not declared numeric", name),
		}
	}
}
