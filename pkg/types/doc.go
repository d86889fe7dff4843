/*
Package types defines the data model shared by every other package.

A Color is one of the three square reactions (green, yellow, red) with its
emoji symbol and score weight. A Reaction is identified by
(message, target, source); its timestamp is informational. Changes are
grouped into a Transaction, which is the unit the reconciler produces and
the reaction store and bbolt persistence apply.

Tally is a fixed-size per-color count. CachedMessage and SquareboardEntry
are the persisted rows of the message cache and the squareboard projection.
*/
package types
