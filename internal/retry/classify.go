package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// transientMarkers are matched case-insensitively against uncoded error messages.
var transientMarkers = []string{"connection", "timeout", "deadlock"}

// Classify is the default [Classifier].
//
// Structured driver errors decide first: Postgres SQLSTATE codes from pgx or lib/pq, SQLite
// busy/locked codes, bad connections and network timeouts. Errors without a code fall back to
// [MessageClassifier].
func Classify(err error) Outcome {
	if err == nil {
		return Succeeded
	}

	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return Transient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return Transient
		}
		return Permanent
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	return MessageClassifier(err)
}

// MessageClassifier is the coarse fallback that treats messages mentioning a connection,
// timeout or deadlock as transient.
func MessageClassifier(err error) Outcome {
	if err == nil {
		return Succeeded
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return Transient
		}
	}
	return Permanent
}

// classifySQLState maps a Postgres SQLSTATE to an outcome.
func classifySQLState(code string) Outcome {
	if strings.HasPrefix(code, "08") {
		return Transient
	}
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"57014", // query_canceled
		"57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03", // cannot_connect_now
		"53300": // too_many_connections
		return Transient
	}
	return Permanent
}
