// Package messages caches display data for messages with at least one
// stored reaction.
package messages
