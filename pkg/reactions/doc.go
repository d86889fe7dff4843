// Package reactions holds the in-memory reaction indexes, one per color,
// and the tallies and scores derived from them.
package reactions
