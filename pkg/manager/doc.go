/*
Package manager owns the squares state and serializes every change to it.

A Manager holds the reaction store, the message cache and the squareboard
projection behind one mutex, together with the bbolt store they persist to
and the event broker that announces their changes.

# Handling a reaction event

HandleReaction treats the event only as a hint that a message changed:

 1. Events for emoji other than the three squares are ignored.
 2. The message and its reactor lists are fetched from the platform, with
    one concurrent fetch per square color present on the message. This
    happens before the lock is taken and is bounded by FetchTimeout.
 3. Under the lock, the reconciler diffs the live reactors against the
    stored reactions of that message.
 4. A non-empty transaction is applied in memory, written to disk, and
    announced. The message cache and the squareboard mirror are then
    brought in line.

Step 4 runs on a context detached from the caller so a cancelled event
cannot leave memory and disk half-updated. Reconciliation is idempotent:
duplicate, reordered or missed events are repaired by the next event on the
same message.

# Persistence failures

A failed write returns an error wrapping ErrPersistence but keeps the
in-memory change. The aggregate is marked dirty and its next write saves a
full snapshot instead of an increment. Flush forces that save.

# Queries

MessageTally, UserTally, UserScore, Summary and TopMessages read under the
same lock. Users listed as hidden are left out of Summary, TopMessages and
the squareboard.
*/
package manager
