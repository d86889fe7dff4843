package reactions

import (
	"math"
	"sort"

	"github.com/cuemby/squares/pkg/types"
)

type bucket map[types.ReactionKey]types.Reaction

// Index holds every reaction of one color, indexed by message, target and
// source. All three views are kept in sync and empty buckets are pruned.
type Index struct {
	color     types.Color
	byMessage map[string]bucket
	byTarget  map[string]bucket
	bySource  map[string]bucket
}

// NewIndex creates an empty index for a color
func NewIndex(color types.Color) *Index {
	return &Index{
		color:     color,
		byMessage: make(map[string]bucket),
		byTarget:  make(map[string]bucket),
		bySource:  make(map[string]bucket),
	}
}

// Color returns the color this index holds
func (x *Index) Color() types.Color {
	return x.color
}

// Add inserts a reaction. It returns false if a reaction with the same
// identity is already present.
func (x *Index) Add(r types.Reaction) bool {
	key := r.Key()
	if _, exists := x.byMessage[r.MessageID][key]; exists {
		return false
	}
	insert(x.byMessage, r.MessageID, key, r)
	insert(x.byTarget, r.TargetID, key, r)
	insert(x.bySource, r.SourceID, key, r)
	return true
}

// Remove deletes a reaction. It returns false if it was not present.
func (x *Index) Remove(r types.Reaction) bool {
	key := r.Key()
	if _, exists := x.byMessage[r.MessageID][key]; !exists {
		return false
	}
	discard(x.byMessage, r.MessageID, key)
	discard(x.byTarget, r.TargetID, key)
	discard(x.bySource, r.SourceID, key)
	return true
}

func insert(m map[string]bucket, id string, key types.ReactionKey, r types.Reaction) {
	b, ok := m[id]
	if !ok {
		b = make(bucket)
		m[id] = b
	}
	b[key] = r
}

func discard(m map[string]bucket, id string, key types.ReactionKey) {
	b, ok := m[id]
	if !ok {
		return
	}
	delete(b, key)
	if len(b) == 0 {
		delete(m, id)
	}
}

// OnMessage returns the reactions on a message, ordered by source id
func (x *Index) OnMessage(messageID string) []types.Reaction {
	return sorted(x.byMessage[messageID])
}

// CountOnMessage returns the number of reactions on a message
func (x *Index) CountOnMessage(messageID string) int {
	return len(x.byMessage[messageID])
}

// ReceivedBy returns the reactions targeting a user
func (x *Index) ReceivedBy(targetID string) []types.Reaction {
	return sorted(x.byTarget[targetID])
}

// CountReceived returns how many reactions a user received, optionally only
// from one source
func (x *Index) CountReceived(targetID, sourceID string) int {
	if sourceID == "" {
		return len(x.byTarget[targetID])
	}
	// Walk the smaller of the two buckets.
	byTarget, bySource := x.byTarget[targetID], x.bySource[sourceID]
	n := 0
	if len(bySource) < len(byTarget) {
		for _, r := range bySource {
			if r.TargetID == targetID {
				n++
			}
		}
		return n
	}
	for _, r := range byTarget {
		if r.SourceID == sourceID {
			n++
		}
	}
	return n
}

// GivenBy returns the reactions a user has given
func (x *Index) GivenBy(sourceID string) []types.Reaction {
	return sorted(x.bySource[sourceID])
}

// WeightedReceived sums sqrt(count) over every distinct source that reacted
// to the user and truncates the result
func (x *Index) WeightedReceived(targetID string) int {
	perSource := make(map[string]int)
	for _, r := range x.byTarget[targetID] {
		perSource[r.SourceID]++
	}
	score := 0.0
	for _, n := range perSource {
		score += math.Sqrt(float64(n))
	}
	return int(score)
}

// Len returns the number of reactions held
func (x *Index) Len() int {
	n := 0
	for _, b := range x.byTarget {
		n += len(b)
	}
	return n
}

// MessageIDs returns every message with at least one reaction of this color
func (x *Index) MessageIDs() []string {
	return keys(x.byMessage)
}

// TargetIDs returns every user that received at least one reaction
func (x *Index) TargetIDs() []string {
	return keys(x.byTarget)
}

// All returns every reaction held, ordered by message then source
func (x *Index) All() []types.Reaction {
	out := make([]types.Reaction, 0, x.Len())
	for _, id := range x.MessageIDs() {
		out = append(out, x.OnMessage(id)...)
	}
	return out
}

func sorted(b bucket) []types.Reaction {
	out := make([]types.Reaction, 0, len(b))
	for _, r := range b {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageID != out[j].MessageID {
			return out[i].MessageID < out[j].MessageID
		}
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

func keys(m map[string]bucket) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
