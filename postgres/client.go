package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Client owns a single database session. It reconnects lazily after a
// connection fault and reinstalls every registered decoder on each new
// session. All methods are safe to call from multiple goroutines, but the
// session itself is used by one statement at a time.
type Client struct {
	mu            sync.Mutex
	opts          *options
	configErr     error
	logger        Logger
	metrics       *metrics
	registry      *TypeRegistry
	handle        Handle
	logStatements bool
}

// New builds a Client without connecting. Configuration errors are reported
// by the first call to Connect.
func New(opts ...Option) *Client {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		opts:          o,
		registry:      NewTypeRegistry(),
		logStatements: o.logStatements,
	}

	c.configErr = o.resolve()

	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}

	c.logger = logger.WithField("host", o.params.Host).WithField("database", o.params.Database)

	m, err := newMetrics(o.registerer)
	if err != nil {
		if c.configErr == nil {
			c.configErr = err
		}

		m, _ = newMetrics(nil)
	}

	c.metrics = m

	return c
}

// Open builds a Client and makes one attempt to connect. Only invalid
// configuration is returned as an error: a failed connect is logged and the
// Client is returned disconnected, to reconnect on first use.
func Open(ctx context.Context, opts ...Option) (*Client, error) {
	c := New(opts...)

	if c.configErr != nil {
		return nil, fmt.Errorf("invalid Postgres connection configuration: %w", c.configErr)
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("Starting disconnected, will reconnect on first use")
	}

	return c, nil
}

// Connect closes the current session, if any, and opens a new one.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

// Reconnect is Connect under the name used by callers recovering from a fault.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.Connect(ctx)
}

// connectLocked does the actual work of Connect. Caller must hold c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.configErr != nil {
		return fmt.Errorf("invalid Postgres connection configuration: %w", c.configErr)
	}

	c.closeLocked(ctx)

	config, err := pgx.ParseConfig(c.opts.params.connectionString())
	if err != nil {
		return fmt.Errorf("%w: failed to parse connection parameters for %s: %w", ErrConnection, c.opts.params, err)
	}

	if c.opts.connectTimeout > 0 {
		config.ConnectTimeout = c.opts.connectTimeout
	}

	backoff := retry.WithMaxRetries(c.opts.connectRetries, retry.NewExponential(c.opts.connectBackoff))
	attempt := 0

	h, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (Handle, error) {
		attempt++

		h, err := c.opts.dialer(ctx, config)
		if err != nil {
			c.metrics.connectFailed()
			c.logger.WithField("attempt", attempt).Errorf("Cannot connect to PostgreSQL on %s: %v", c.opts.params, err)

			if IsOperational(err) {
				return nil, retry.RetryableError(err)
			}

			return nil, err
		}

		return h, nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to connect to %s: %w", ErrConnection, c.opts.params, err)
	}

	c.metrics.connectSucceeded()

	n := c.registry.Replay(h.TypeMap())

	if err := enableHstore(ctx, h); err != nil {
		c.logger.Debugf("hstore support not enabled: %v", err)
	}

	c.handle = h

	c.logger.WithField("decoders", n).Debug("Connected to PostgreSQL")

	return nil
}

// Close releases the session. It is idempotent and never fails, so it can be
// deferred directly after Open.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked(ctx)

	return nil
}

func (c *Client) closeLocked(ctx context.Context) {
	if c.handle == nil {
		return
	}

	if err := c.handle.Close(ctx); err != nil {
		c.logger.Warnf("Failed to close PostgreSQL connection: %v", err)
	}

	c.handle = nil
}

// EnsureConnected reconnects if the Client is disconnected and does nothing
// otherwise.
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ensureConnectedLocked(ctx)
}

func (c *Client) ensureConnectedLocked(ctx context.Context) error {
	if c.handle != nil && !c.handle.IsClosed() {
		return nil
	}

	return c.connectLocked(ctx)
}

// Handle returns the live session, connecting first if needed. The handle is
// owned by the Client and must not be closed by the caller.
//
//nolint:ireturn // Handle is the abstraction over *pgx.Conn
func (c *Client) Handle(ctx context.Context) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(ctx); err != nil {
		return nil, err
	}

	return c.handle, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil || c.handle.IsClosed() {
		return StateDisconnected
	}

	return StateConnected
}

// Parameters returns the connection parameters the Client was built with.
func (c *Client) Parameters() Parameters {
	return c.opts.params
}

// Logger returns the Client's logger, already tagged with host and database.
//
//nolint:ireturn // Returns the injected Logger interface
func (c *Client) Logger() Logger {
	return c.logger
}

// RegisterType adds a decoder for the given type OIDs. It is installed on the
// current session immediately, if there is one, and on every later session.
func (c *Client) RegisterType(oids []uint32, name string, fn DecodeFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.registry.Add(oids, name, fn)
	if err != nil {
		return err
	}

	if c.handle != nil {
		entry.apply(c.handle.TypeMap())
	}

	return nil
}

// Types returns the registered decoders, built-ins first, in the order they
// are installed.
func (c *Client) Types() []TypeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.registry.Entries()
}

// SetStatementLogging turns logging of statements run through Run on or off.
func (c *Client) SetStatementLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logStatements = enabled
}

// Run hands the live session to fn, connecting first if needed. sql and args
// describe what fn executes and are only used for statement logging.
//
// When fn fails because the connection broke, the session is closed, the
// Client becomes disconnected and the returned error wraps both
// ErrConnection and the cause. Other errors are returned unchanged. fn must
// not call back into the Client.
func (c *Client) Run(ctx context.Context, sql string, args []any, fn ExecFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: exec function cannot be nil", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(ctx); err != nil {
		return err
	}

	c.logStatementLocked(sql, args)

	err := fn(ctx, c.handle)
	if err == nil {
		return nil
	}

	if !IsOperational(err) {
		// pgx closes the session when a statement is interrupted by ctx.
		if c.handle.IsClosed() {
			c.logger.Warnf("PostgreSQL connection closed by failed statement: %v", err)
			c.closeLocked(context.WithoutCancel(ctx))
		}

		return err
	}

	c.metrics.operationalFault()
	c.logger.Errorf("Error connecting to PostgreSQL on %s: %v", c.opts.params.Host, err)
	c.closeLocked(ctx)

	return fmt.Errorf("%w: %w", ErrConnection, err)
}

func (c *Client) logStatementLocked(sql string, args []any) {
	if c.logStatements && sql != "" {
		c.logger.Info(BindStatement(sql, args))
	}
}

// Mogrify returns sql with args bound as SQL literals, as it would appear in
// the statement log.
func (c *Client) Mogrify(sql string, args ...any) string {
	return BindStatement(sql, args)
}
