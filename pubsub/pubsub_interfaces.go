package pubsub

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the part of a database session PubSub needs. postgres.Handle and
// *pgx.Conn both satisfy it.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}
