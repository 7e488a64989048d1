package pubsub

import (
	"github.com/jackc/pgx/v5/pgconn"
)

// Notification is a single NOTIFY delivered on a subscribed channel.
type Notification struct {
	Channel string `json:"channel"`
	Payload string `json:"payload"`
	PID     uint32 `json:"pid"` // backend process that sent it
}

func newNotification(n *pgconn.Notification) *Notification {
	return &Notification{
		Channel: n.Channel,
		Payload: n.Payload,
		PID:     n.PID,
	}
}
