package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// encodeJSON stores v in a TEXT column; nil maps become SQL NULL when nullable is set
func encodeJSON(v any, nullable bool) (any, error) {
	if nullable {
		if m, ok := v.(map[string]any); ok && m == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode column: %w", err)
	}
	return string(b), nil
}

// decodeJSON reads a TEXT column written by encodeJSON
func decodeJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

// isUniqueViolation reports a primary key or unique constraint failure
func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// isForeignKeyViolation reports a dangling reference
func isForeignKeyViolation(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
