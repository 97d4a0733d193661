package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// jsonOrNull marshals v for a JSONB parameter; a nil pointer becomes SQL NULL.
func jsonOrNull[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return b, nil
}

// decodeJSON unmarshals a JSONB column into a fresh *T. NULL and JSON null
// both yield nil.
func decodeJSON[T any](raw []byte) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return v, nil
}

// decodeInto unmarshals a non-null JSONB column into dst.
func decodeInto(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal %T: %w", dst, err)
	}
	return nil
}

// userKey maps the optional user scope onto the snapshot table's key, where
// uuid.Nil stands for all users.
func userKey(userID *uuid.UUID) uuid.UUID {
	if userID == nil {
		return uuid.Nil
	}
	return *userID
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

// pageLimit clamps a requested page size.
func pageLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// pageOffset turns a 1-based page into an OFFSET.
func pageOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
