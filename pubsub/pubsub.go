package pubsub

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tornpsql/tornpsql/postgres"
)

// ErrStreamClosed is returned by Next once no channels are subscribed.
var ErrStreamClosed = errors.New("pubsub: stream closed")

// maxChannelLength is the longest identifier the server keeps (NAMEDATALEN - 1).
const maxChannelLength = 63

var channelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// PubSub turns LISTEN/NOTIFY on one session into a stream of notifications.
//
// The subscription set may be changed from any goroutine while another one
// reads the stream. Next and Notifications must only be used from one
// goroutine at a time.
type PubSub struct {
	conn    Conn
	opts    *options
	logger  postgres.Logger
	metrics *metrics

	mu        sync.Mutex
	idle      *sync.Cond // signalled when pending drops to zero
	channels  []string
	pending   int                // commands waiting for the session
	interrupt context.CancelFunc // cancels the wait in progress, if any

	connMu      sync.Mutex // serialises use of conn
	waitMu      sync.Mutex
	isReceiving atomic.Bool
}

// New returns a PubSub bound to conn. conn stays owned by the caller.
func New(conn Conn, opts ...Option) (*PubSub, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: connection cannot be nil", postgres.ErrInvalidArgument)
	}

	o := newOptions()

	for _, opt := range opts {
		opt(o)
	}

	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid pubsub options: %w", err)
	}

	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = postgres.NopLogger()
	}

	p := &PubSub{
		conn:    conn,
		opts:    o,
		logger:  logger.WithField("component", "pubsub"),
		metrics: m,
	}
	p.idle = sync.NewCond(&p.mu)

	return p, nil
}

// FromClient returns a PubSub bound to the client's current session,
// connecting first if needed. It logs through the client's logger unless
// WithLogger says otherwise. If the client later reconnects, the PubSub keeps
// the old session and must be recreated. The session is not shared safely:
// do not run statements through c while the PubSub is in use.
func FromClient(ctx context.Context, c *postgres.Client, opts ...Option) (*PubSub, error) {
	h, err := c.Handle(ctx)
	if err != nil {
		return nil, err
	}

	return New(h, append([]Option{WithLogger(c.Logger())}, opts...)...)
}

// Subscribe replaces the subscription set with the distinct names in
// channels, keeping their order. It does not talk to the server; call Listen
// to start receiving. An empty list is allowed and closes the stream.
func (p *PubSub) Subscribe(channels []string) error {
	distinct := make([]string, 0, len(channels))
	seen := make(map[string]struct{}, len(channels))

	for _, ch := range channels {
		if _, err := quoteChannel(ch); err != nil {
			return err
		}

		if _, ok := seen[ch]; ok {
			continue
		}

		seen[ch] = struct{}{}
		distinct = append(distinct, ch)
	}

	p.mu.Lock()
	p.channels = distinct
	p.interruptLocked()
	p.mu.Unlock()

	p.logger.Debugf("Subscription set has %d channels", len(distinct))

	return nil
}

// Channels returns a copy of the subscription set.
func (p *PubSub) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.channels)
}

// Listen issues LISTEN for every subscribed channel and returns p so the call
// can be chained into Notifications.
func (p *PubSub) Listen(ctx context.Context) (*PubSub, error) {
	channels := p.Channels()
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels to listen to", postgres.ErrPrecondition)
	}

	err := p.withConn(func() error {
		for _, ch := range channels {
			if err := p.command(ctx, "LISTEN", ch); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.WithField("channels", strings.Join(channels, ",")).Info("Listening for notifications")

	return p, nil
}

// Unsubscribe issues UNLISTEN for the named channels and removes them from
// the set. Every name must be subscribed. Without names it unsubscribes from
// every channel. A stream blocked in Next notices the change right away.
func (p *PubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	p.mu.Lock()

	targets := slices.Clone(channels)

	if len(targets) == 0 {
		targets = slices.Clone(p.channels)
	} else {
		for _, ch := range targets {
			if !slices.Contains(p.channels, ch) {
				p.mu.Unlock()
				return fmt.Errorf("%w: channel %q is not subscribed", postgres.ErrPrecondition, ch)
			}
		}
	}

	p.mu.Unlock()

	err := p.withConn(func() error {
		for _, ch := range targets {
			if err := p.command(ctx, "UNLISTEN", ch); err != nil {
				return err
			}

			p.remove(ch)
		}

		return nil
	})
	if err != nil {
		return err
	}

	p.logger.WithField("channels", strings.Join(targets, ",")).Info("Stopped listening for notifications")

	return nil
}

// Next blocks until a notification arrives on a subscribed channel and
// returns it. Notifications are returned in the order the server sent them.
// It returns ErrStreamClosed once the subscription set is empty and ctx.Err()
// when ctx is done.
func (p *PubSub) Next(ctx context.Context) (*Notification, error) {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := p.waitOnce(ctx)
		if err != nil {
			return nil, err
		}

		if n != nil {
			return n, nil
		}
	}
}

// Notifications returns the stream as an iterator. It ends when the
// subscription set becomes empty or ctx is done. Any other error is yielded
// once and ends the stream.
func (p *PubSub) Notifications(ctx context.Context) iter.Seq2[*Notification, error] {
	return func(yield func(*Notification, error) bool) {
		for {
			n, err := p.Next(ctx)

			switch {
			case err == nil:
				if !yield(n, nil) {
					return
				}
			case errors.Is(err, ErrStreamClosed), ctx.Err() != nil:
				return
			default:
				yield(nil, err)
				return
			}
		}
	}
}

// waitOnce waits at most one heartbeat. It returns nil, nil when the wait
// ended without a notification.
func (p *PubSub) waitOnce(ctx context.Context) (*Notification, error) {
	p.mu.Lock()

	for p.pending > 0 {
		p.idle.Wait()
	}

	if len(p.channels) == 0 {
		p.mu.Unlock()
		return nil, ErrStreamClosed
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.opts.heartbeat)
	defer cancel()

	p.interrupt = cancel
	p.mu.Unlock()

	p.connMu.Lock()
	pn, err := p.conn.WaitForNotification(waitCtx)
	p.connMu.Unlock()

	p.mu.Lock()
	p.interrupt = nil
	p.mu.Unlock()

	if err == nil {
		n := newNotification(pn)

		p.metrics.notificationReceived(n.Channel)
		p.logger.WithField("channel", n.Channel).Debug("Notification received")

		return n, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if waitCtx.Err() != nil || pgconn.Timeout(err) {
		if !errors.Is(waitCtx.Err(), context.Canceled) {
			p.metrics.heartbeat()
		}

		return nil, nil
	}

	return nil, p.wrapError("failed to wait for notification", err)
}

// withConn interrupts any wait in progress and runs fn with exclusive use of
// the session.
func (p *PubSub) withConn(fn func() error) error {
	p.mu.Lock()
	p.pending++
	p.interruptLocked()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.pending--

		if p.pending == 0 {
			p.idle.Broadcast()
		}

		p.mu.Unlock()
	}()

	p.connMu.Lock()
	defer p.connMu.Unlock()

	return fn()
}

func (p *PubSub) interruptLocked() {
	if p.interrupt != nil {
		p.interrupt()
		p.interrupt = nil
	}
}

func (p *PubSub) remove(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.channels = slices.DeleteFunc(p.channels, func(ch string) bool { return ch == channel })
}

// command runs LISTEN or UNLISTEN for channel. Caller must hold connMu.
func (p *PubSub) command(ctx context.Context, verb, channel string) error {
	ident, err := quoteChannel(channel)
	if err != nil {
		return err
	}

	if _, err := p.conn.Exec(ctx, verb+" "+ident+";"); err != nil {
		return p.wrapError(fmt.Sprintf("failed to %s channel %s", strings.ToLower(verb), channel), err)
	}

	p.logger.WithField("channel", channel).Debugf("%s issued", verb)

	return nil
}

func (p *PubSub) wrapError(msg string, err error) error {
	if postgres.IsOperational(err) {
		p.logger.Errorf("%s: %v", msg, err)
		return fmt.Errorf("%w: %s: %w", postgres.ErrConnection, msg, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}

// quoteChannel validates name and returns it as an SQL identifier. Names with
// upper-case letters are quoted so the server keeps their case.
func quoteChannel(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: channel name cannot be empty", postgres.ErrInvalidArgument)
	}

	if len(name) > maxChannelLength || !channelPattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid channel name %q", postgres.ErrInvalidArgument, name)
	}

	if strings.ToLower(name) != name {
		return pgx.Identifier{name}.Sanitize(), nil
	}

	return name, nil
}
