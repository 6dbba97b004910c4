package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ObserveDB times fn under op. Errors matching one of misses are lookups that
// found nothing; they are recorded with status "miss" and not counted as
// failures.
func (p *Prom) ObserveDB(op string, fn func() error, misses ...error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	switch {
	case err == nil:
	case isMiss(err, misses):
		status = "miss"
	default:
		status = "error"
		p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}

	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func isMiss(err error, misses []error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	for _, m := range misses {
		if errors.Is(err, m) {
			return true
		}
	}
	return false
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "unique_violation"
		case "23502":
			return "not_null_violation"
		case "23514":
			return "check_violation"
		case "40001":
			return "serialization_failure"
		case "57014":
			return "query_canceled"
		default:
			return "pg_" + pgErr.Code
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "connect:"):
		return "connection"
	default:
		return "unknown"
	}
}
