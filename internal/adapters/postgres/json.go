package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonMap stores a free-form metadata object in a JSONB column.
type jsonMap map[string]any

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("failed to encode jsonb value: %w", err)
	}
	return b, nil
}

func (m *jsonMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = jsonMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into jsonb map", src)
	}
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("failed to decode jsonb value: %w", err)
		}
	}
	*m = out
	return nil
}
