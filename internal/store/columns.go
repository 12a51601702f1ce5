package store

import (
	"database/sql"
	"strings"
	"time"
)

// Timestamps are stored as unix nanoseconds. The zero time is stored as 0
// so an unset first checkpoint round-trips.

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func emptyToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// stringArgs converts a slice of string-kinded ids to query arguments.
func stringArgs[T ~string](ids []T) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	return args
}

// maxInArgs bounds the ids bound into one IN list, well under SQLite's
// host parameter limit.
const maxInArgs = 500

// chunks splits args into IN lists of at most maxInArgs.
func chunks(args []any) [][]any {
	var out [][]any
	for len(args) > maxInArgs {
		out = append(out, args[:maxInArgs])
		args = args[maxInArgs:]
	}
	if len(args) > 0 {
		out = append(out, args)
	}
	return out
}
