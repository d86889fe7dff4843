/*
Package events is an in-process publish/subscribe broker for state changes.

The manager publishes an event after every committed transaction, message
cache change and squareboard transition. Subscribers such as the Influx sink
receive them on buffered channels:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		...
	}

Publish never blocks the commit path. When a subscriber's buffer is full the
event is dropped for that subscriber and counted; see Broker.Dropped.
*/
package events
