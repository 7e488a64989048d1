package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/tornpsql/tornpsql/postgres"
)

// Receive reads the stream and sends every notification to sinkCh until the
// subscription set is empty or ctx is done. The sink channel is always closed
// when this method returns, including on errors.
func (p *PubSub) Receive(ctx context.Context, sinkCh chan<- *Notification) error {
	defer close(sinkCh)

	if !p.isReceiving.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already receiving notifications", postgres.ErrPrecondition)
	}

	defer func() {
		p.isReceiving.Store(false)
		p.logger.Debug("Stopped receiving notifications")
	}()

	p.logger.Debug("Started receiving notifications")

	for n, err := range p.Notifications(ctx) {
		if err != nil {
			return err
		}

		if err := trySend(ctx, n, sinkCh); err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				p.logger.Errorf("Failed to send notification on channel %s to sink channel: %v", n.Channel, err)
			}

			return nil
		}
	}

	return nil
}

func trySend(ctx context.Context, n *Notification, sinkCh chan<- *Notification) error {
	select {
	case sinkCh <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
