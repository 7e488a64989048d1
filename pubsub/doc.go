// Package pubsub exposes PostgreSQL LISTEN/NOTIFY as a stream.
//
// A [PubSub] is bound to one session. Subscribe records the channels, Listen
// issues LISTEN for each of them, and the stream then yields notifications
// in arrival order until the subscription set is emptied:
//
//	ps, err := pubsub.FromClient(ctx, client)
//	if err != nil {
//	    return err
//	}
//
//	if err := ps.Subscribe([]string{"jobs", "alerts"}); err != nil {
//	    return err
//	}
//
//	if _, err := ps.Listen(ctx); err != nil {
//	    return err
//	}
//
//	for n, err := range ps.Notifications(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    handle(n.Channel, n.Payload)
//	}
//
// Waiting is bounded by a heartbeat (five seconds unless [WithHeartbeat] says
// otherwise), after which the stream checks its context and subscription set
// before waiting again. [PubSub.Unsubscribe] may be called from another
// goroutine; it interrupts the current wait, so the stream ends promptly once
// the last channel is removed.
package pubsub
