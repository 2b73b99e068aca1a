// Package repo adapts the model layer's string-keyed rows into
// domain-typed entities and exposes the transactional read/write
// patterns the position, queue, pool, and risk components build on.
package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// parseDecimal reads a NUMERIC column already scanned as a string. An
// empty or unparsable value degrades to zero instead of panicking.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decStr(d decimal.Decimal) string {
	return d.String()
}

func timePtr(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	out := t
	return &out
}

func toNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullStr reads a nullable NUMERIC/text column, defaulting to "" (parsed
// as decimal zero by parseDecimal) when the column is NULL.
func nullStr(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

// toNullStr stores "0" values as NULL isn't required here; it only
// suppresses empty strings so zero decimals still round-trip cleanly.
func toNullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Transactor runs fn inside a database transaction, giving access to the
// locked-row read patterns the pool manager and risk engine rely on.
type Transactor interface {
	Transact(ctx context.Context, fn func(ctx context.Context, session sqlx.Session) error) error
}

type sqlTransactor struct {
	conn sqlx.SqlConn
}

// NewTransactor wraps a SqlConn for use by the repo layer's transactional
// methods.
func NewTransactor(conn sqlx.SqlConn) Transactor {
	return &sqlTransactor{conn: conn}
}

func (t *sqlTransactor) Transact(ctx context.Context, fn func(ctx context.Context, session sqlx.Session) error) error {
	return t.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		return fn(ctx, session)
	})
}
