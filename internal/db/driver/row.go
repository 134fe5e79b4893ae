package driver

import (
	"fmt"
	"time"
)

// Accessors below tolerate the type differences between the two engines:
// modernc sqlite surfaces TEXT as string or []byte and numbers as int64,
// while pgx surfaces int4 as int32 and text as string.

// String returns the named column as a string, or "" when absent or NULL.
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int64 returns the named column as an int64, or 0 when absent or NULL.
func (r Row) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Float64 returns the named column as a float64, or 0 when absent or NULL.
func (r Row) Float64(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the named column as a bool. SQLite stores booleans as 0/1.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int32:
		return v != 0
	default:
		return false
	}
}

// Time parses the named column as an RFC 3339 timestamp. Returns the zero
// time when the column is absent, NULL, or malformed.
func (r Row) Time(key string) time.Time {
	s := r.String(key)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// TimePtr is like Time but returns nil for absent or NULL columns.
func (r Row) TimePtr(key string) *time.Time {
	if r[key] == nil {
		return nil
	}
	t := r.Time(key)
	if t.IsZero() {
		return nil
	}
	return &t
}

// IsNull reports whether the named column is NULL or absent.
func (r Row) IsNull(key string) bool {
	return r[key] == nil
}
