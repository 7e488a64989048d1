package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	postgres "github.com/tornpsql/tornpsql/postgres"
)

var errNoMoreHandles = errors.New("no more handles")

// mockHandle is a pgxmock connection extended with the pgx.Conn methods
// pgxmock does not provide.
type mockHandle struct {
	pgxmock.PgxConnIface
	typeMap *pgtype.Map
	closed  atomic.Bool
}

func newMockHandle(t *testing.T) *mockHandle {
	t.Helper()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)

	return &mockHandle{PgxConnIface: mock, typeMap: pgtype.NewMap()}
}

// newConnectedMockHandle returns a handle that expects the hstore lookup
// every connect performs, answered as if the extension were missing.
func newConnectedMockHandle(t *testing.T) *mockHandle {
	t.Helper()

	h := newMockHandle(t)
	h.expectHstoreLookup(pgx.ErrNoRows)

	return h
}

func (h *mockHandle) expectHstoreLookup(err error) {
	h.ExpectQuery(regexp.QuoteMeta(postgres.ExportHstoreQuery)).WillReturnError(err)
}

func (h *mockHandle) TypeMap() *pgtype.Map {
	return h.typeMap
}

// IsClosed reports what pgx would after markClosed.
func (h *mockHandle) IsClosed() bool {
	return h.closed.Load()
}

// markClosed simulates pgx closing the session underneath the client.
func (h *mockHandle) markClosed() {
	h.closed.Store(true)
}

func (h *mockHandle) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type dialResult struct {
	handle postgres.Handle
	err    error
}

// mockDialer hands out queued handles and errors in order.
type mockDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
	configs []*pgx.ConnConfig
}

func newMockDialer(handles ...*mockHandle) *mockDialer {
	d := &mockDialer{}
	for _, h := range handles {
		d.succeed(h)
	}

	return d
}

func (d *mockDialer) succeed(h *mockHandle) *mockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.results = append(d.results, dialResult{handle: h})

	return d
}

func (d *mockDialer) fail(err error) *mockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.results = append(d.results, dialResult{err: err})

	return d
}

//nolint:ireturn // Must match postgres.Dialer
func (d *mockDialer) dial(_ context.Context, config *pgx.ConnConfig) (postgres.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.configs = append(d.configs, config)

	if len(d.results) == 0 {
		return nil, errNoMoreHandles
	}

	r := d.results[0]
	d.results = d.results[1:]

	return r.handle, r.err
}

func (d *mockDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

func newClientWithDialer(d *mockDialer, opts ...postgres.Option) *postgres.Client {
	base := []postgres.Option{
		postgres.WithHost("localhost"),
		postgres.WithPort(5432),
		postgres.WithUser("testuser"),
		postgres.WithPassword("s3cret"),
		postgres.WithDatabase("testdb"),
		postgres.WithDialer(d.dial),
	}

	return postgres.New(append(base, opts...)...)
}

// connectionLost is what pgx returns when the server goes away mid-statement.
func connectionLost() error {
	return &pgconn.PgError{Code: "57P01", Message: "terminating connection due to administrator command"}
}

type logEntry struct {
	level   string
	message string
	fields  map[string]any
}

type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

// mockLogger records formatted messages. Loggers derived with WithField
// share the parent's sink.
type mockLogger struct {
	sink   *logSink
	fields map[string]any
}

func newMockLogger() *mockLogger {
	return &mockLogger{sink: &logSink{}, fields: make(map[string]any)}
}

func (m *mockLogger) record(level, msg string) {
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()

	m.sink.entries = append(m.sink.entries, logEntry{level: level, message: msg, fields: maps.Clone(m.fields)})
}

func (m *mockLogger) Debug(msg string)                  { m.record("debug", msg) }
func (m *mockLogger) Debugf(format string, args ...any) { m.record("debug", fmt.Sprintf(format, args...)) }
func (m *mockLogger) Info(msg string)                   { m.record("info", msg) }
func (m *mockLogger) Infof(format string, args ...any)  { m.record("info", fmt.Sprintf(format, args...)) }
func (m *mockLogger) Warn(msg string)                   { m.record("warn", msg) }
func (m *mockLogger) Warnf(format string, args ...any)  { m.record("warn", fmt.Sprintf(format, args...)) }
func (m *mockLogger) Error(msg string)                  { m.record("error", msg) }
func (m *mockLogger) Errorf(format string, args ...any) { m.record("error", fmt.Sprintf(format, args...)) }

//nolint:ireturn // Must return interface to implement postgres.Logger
func (m *mockLogger) WithField(key string, value any) postgres.Logger {
	fields := maps.Clone(m.fields)
	fields[key] = value

	return &mockLogger{sink: m.sink, fields: fields}
}

//nolint:ireturn // Must return interface to implement postgres.Logger
func (m *mockLogger) WithFields(fields map[string]any) postgres.Logger {
	merged := maps.Clone(m.fields)
	maps.Copy(merged, fields)

	return &mockLogger{sink: m.sink, fields: merged}
}

func (m *mockLogger) logs(level string) []logEntry {
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()

	var out []logEntry

	for _, e := range m.sink.entries {
		if e.level == level {
			out = append(out, e)
		}
	}

	return out
}

func (m *mockLogger) contains(level, substr string) bool {
	for _, e := range m.logs(level) {
		if strings.Contains(e.message, substr) {
			return true
		}
	}

	return false
}

func (m *mockLogger) anyContains(substr string) bool {
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()

	for _, e := range m.sink.entries {
		if strings.Contains(e.message, substr) || strings.Contains(fmt.Sprint(e.fields), substr) {
			return true
		}
	}

	return false
}
