package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Handle is an open session to the database. It is satisfied by *pgx.Conn and
// can be mocked for testing.
type Handle interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	TypeMap() *pgtype.Map
}

// Dialer opens a new Handle for config.
type Dialer func(ctx context.Context, config *pgx.ConnConfig) (Handle, error)

// ExecFunc runs statements against a live handle on behalf of [Client.Run].
type ExecFunc func(ctx context.Context, h Handle) error

//nolint:ireturn // Returns interface for dependency injection pattern
func dialPgx(ctx context.Context, config *pgx.ConnConfig) (Handle, error) {
	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
