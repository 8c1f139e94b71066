// Package models contains domain models for memoryd.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONStringArray is a GORM column type for an ordered list of strings
// stored as a JSON array in a TEXT column.
type JSONStringArray []string

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("JSONStringArray: unsupported scan type %T", value)
	}

	if len(bytes) == 0 {
		*a = nil
		return nil
	}

	var out []string
	if err := json.Unmarshal(bytes, &out); err != nil {
		return fmt.Errorf("JSONStringArray: unmarshal: %w", err)
	}
	*a = out
	return nil
}

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// GormDataType tells GORM which column type to use for migrations.
func (JSONStringArray) GormDataType() string { return "text" }
