/*
Package events carries diagnostic notifications out of the fdfs connection
layer.

Cleanup paths in the client (closing a half-dead socket, resetting a pool
after the process id changed, dropping a connection that failed
mid-exchange) must never return errors to the caller. Instead of discarding
what went wrong, they emit an Event through a Handler. A Handler is a plain
function, so a single pool can be observed without any extra machinery:

	p, err := pool.New(pool.Config{
		Name:      "tracker",
		Endpoints: endpoints,
		OnEvent: func(e *events.Event) {
			fmt.Println(e.Type, e.Message, e.Err)
		},
	})

The facade in pkg/client wires every pool it owns to one Broker, which fans
events out to any number of subscriptions, each optionally limited to a set
of event types:

	c, _ := client.New(cfg)
	sub := c.Events().Subscribe(events.EventConnectFailed, events.EventConnDropped)
	defer c.Events().Unsubscribe(sub)

	for e := range sub.C {
		log.Logger.Debug().Str("type", string(e.Type)).Err(e.Err).Msg(e.Message)
	}

# Delivery

Publish runs on the caller's goroutine and never blocks. Each subscription
buffers 64 events. When the buffer is full the event is lost for that
subscription only and counted by Dropped. Close closes every subscription.

# Event Types

	pool.connect_retry     a connect attempt failed and will be retried
	pool.connect_failed    all connect attempts failed
	pool.exhausted         the pool hit its connection ceiling
	pool.reset             the pool dropped its connections after a process id change
	conn.dropped           a dead or foreign connection was not returned to the pool
	conn.teardown_error    shutdown or close of a socket failed
	client.storage_created a storage client was created for a new node
	client.storage_evicted an idle storage client was evicted and closed
*/
package events
