// Package model holds the hand-written, goctl-style data access layer: one
// file per table, each exposing a small interface plus a default
// implementation over go-zero's sqlx.SqlConn. Money and quantity columns
// are stored as NUMERIC and scanned through strings to avoid float
// precision loss, converted to decimal.Decimal at the repo boundary.
package model

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// nullTime converts a nullable timestamp column into *time.Time.
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}

// toNullTime converts *time.Time into a nullable timestamp column.
func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a nullable text column into a string, defaulting
// to "" when NULL.
func nullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// textArray renders a []string as a Postgres array literal for query args.
func textArray(values []string) interface{} {
	return pq.Array(values)
}
