package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/mailmonkey/internal/clock"
)

// marshalList converts a list column to JSON TEXT. A nil list stores "[]".
func marshalList[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}

// unmarshalList parses a list column. An empty list loads as nil.
func unmarshalList[T any](s string) ([]T, error) {
	var v []T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("unmarshal list %q: %w", s, err)
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

func marshalDate(t time.Time) string { return clock.FormatDate(t) }

func unmarshalDate(s string) (time.Time, error) {
	t, err := clock.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unmarshal date: %w", err)
	}
	return t, nil
}
