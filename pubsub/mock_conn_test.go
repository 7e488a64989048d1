package pubsub_test

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// mockConn is a pgxmock connection whose notifications are fed through a
// channel.
type mockConn struct {
	pgxmock.PgxConnIface
	notifications chan *pgconn.Notification
	waitErrs      chan error
	waits         atomic.Int32
}

func newMockConn(t *testing.T) *mockConn {
	t.Helper()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)

	return &mockConn{
		PgxConnIface:  mock,
		notifications: make(chan *pgconn.Notification, 16),
		waitErrs:      make(chan error, 1),
	}
}

func (c *mockConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	c.waits.Add(1)

	select {
	case err := <-c.waitErrs:
		return nil, err
	default:
	}

	select {
	case n := <-c.notifications:
		return n, nil
	case err := <-c.waitErrs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *mockConn) IsClosed() bool {
	return false
}

func (c *mockConn) TypeMap() *pgtype.Map {
	return pgtype.NewMap()
}

func (c *mockConn) notify(channel, payload string) {
	c.notifications <- &pgconn.Notification{PID: 4242, Channel: channel, Payload: payload}
}

func (c *mockConn) expectCommand(sql string) {
	c.ExpectExec("^" + regexp.QuoteMeta(sql) + "$").WillReturnResult(pgxmock.NewResult(sql[:strings.IndexByte(sql, ' ')], 0))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		for _, m := range mf.GetMetric() {
			if matchLabels(m.GetLabel(), labels) {
				return m.GetCounter().GetValue()
			}
		}
	}

	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}

	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}

	return true
}
