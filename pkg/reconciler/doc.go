/*
Package reconciler computes the transaction that brings stored reactions in
line with what the platform currently shows for one message.

# Model

Reaction events from the gateway can be dropped, duplicated or reordered, so
they are never applied directly. Instead the live reactor list of each square
color is fetched and compared against the store:

	            live reactors              stored reactions
	           (per color, fetched)        (per color, indexed)
	                  │                           │
	                  ▼                           │
	           ┌─────────────┐                    │
	           │   Policy    │  drop author,      │
	           │   filter    │  drop other bots   │
	           └──────┬──────┘                    │
	                  │ desired                   │ recorded
	                  └────────────┬──────────────┘
	                               ▼
	                      ┌─────────────────┐
	                      │      diff       │
	                      └────────┬────────┘
	                               ▼
	            Transaction{Adds: desired - recorded,
	                        Removes: recorded - desired}

Adds are emitted in source-id order and stamped with the reconcile time.
Applying the result and reconciling again against the same live state yields
an empty transaction.

# Policy

A reaction counts unless the reactor is the message author or a bot other
than the service itself. Stored reactions that no longer pass the policy
are removed on the next reconcile of their message.
*/
package reconciler
