package postgres

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConnection is returned when a connect or reconnect fails, or when a
	// statement hits a fault that leaves the connection unusable. The client
	// is always disconnected when this error is returned.
	ErrConnection = errors.New("postgres: connection error")

	// ErrInvalidArgument is returned for malformed parameters, type
	// registrations and channel names.
	ErrInvalidArgument = errors.New("postgres: invalid argument")

	// ErrPrecondition is returned when an operation is called in a state that
	// does not allow it.
	ErrPrecondition = errors.New("postgres: precondition failed")

	// ErrTooManyRows is returned by GetRow when the query yields more than
	// one row.
	ErrTooManyRows = errors.New("postgres: query returned more than one row")
)

// IsOperational reports whether err means the session itself is broken, as
// opposed to a statement failing on a healthy session.
func IsOperational(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation is the caller's decision, not a session fault.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isOperationalSQLState(pgErr.Code)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// pgx reports use of a dead connection with a plain error.
	return strings.Contains(err.Error(), "conn closed")
}

func isOperationalSQLState(code string) bool {
	// Class 08: connection exception.
	if strings.HasPrefix(code, "08") {
		return true
	}

	switch code {
	case "57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03", // cannot_connect_now
		"53300": // too_many_connections
		return true
	default:
		return false
	}
}
