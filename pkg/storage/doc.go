/*
Package storage persists the three squares aggregates in a single bbolt file.

# Layout

The database lives at <data-dir>/squares.db and holds one top-level bucket
per aggregate plus a meta bucket:

	meta                   aggregate name -> schema version
	reactions/green        "<message>/<target>/<source>" -> JSON Reaction
	reactions/yellow
	reactions/red
	messages               message id -> JSON CachedMessage
	squareboard            message id -> JSON SquareboardEntry

Each aggregate carries its own schema version. Opening a database written by
a newer build fails with ErrUnsupportedVersion rather than silently reading
an unknown layout.

# Writes

Incremental writes (ApplyTransaction, PutMessage, DeleteSquareboardEntry and
friends) touch only the affected keys, each in one bolt transaction. The
Save* methods replace an aggregate wholesale; the manager falls back to them
after an incremental write has failed, so disk converges on the in-memory
state on the next successful write.

Callers wrap failed writes with ErrPersistence:

	if err := store.ApplyTransaction(tx); err != nil {
		return fmt.Errorf("%w: reactions: %w", storage.ErrPersistence, err)
	}
*/
package storage
