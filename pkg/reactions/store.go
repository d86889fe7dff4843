package reactions

import (
	"sort"

	"github.com/cuemby/squares/pkg/log"
	"github.com/cuemby/squares/pkg/types"
	"github.com/rs/zerolog"
)

// Store holds one Index per color. It is not safe for concurrent use; the
// manager serializes access.
type Store struct {
	indexes [types.NumColors]*Index
	logger  zerolog.Logger
}

// NewStore creates an empty reaction store
func NewStore() *Store {
	s := &Store{logger: log.WithComponent("reactions")}
	for _, c := range types.Colors {
		s.indexes[c] = NewIndex(c)
	}
	return s
}

// Load builds a store from persisted records. Duplicates are ignored.
func Load(records []types.Change) *Store {
	s := NewStore()
	for _, rec := range records {
		if !rec.Color.Valid() {
			s.logger.Warn().Int("color", int(rec.Color)).Msg("Skipping record with unknown color")
			continue
		}
		s.indexes[rec.Color].Add(rec.Reaction)
	}
	return s
}

// Index returns the index of one color
func (s *Store) Index(c types.Color) *Index {
	return s.indexes[c]
}

// Reactions returns the stored reactions of a color on a message
func (s *Store) Reactions(c types.Color, messageID string) []types.Reaction {
	return s.indexes[c].OnMessage(messageID)
}

// TallyOnMessage counts the reactions of each color on a message
func (s *Store) TallyOnMessage(messageID string) types.Tally {
	var t types.Tally
	for _, c := range types.Colors {
		t[c] = s.indexes[c].CountOnMessage(messageID)
	}
	return t
}

// TallyOnUser counts the reactions of each color received by a user. An
// empty sourceID counts every source.
func (s *Store) TallyOnUser(targetID, sourceID string) types.Tally {
	var t types.Tally
	for _, c := range types.Colors {
		t[c] = s.indexes[c].CountReceived(targetID, sourceID)
	}
	return t
}

// UniqueReactorCount is the number of distinct users reacting to a message
// with any color. This is the squareboard score.
func (s *Store) UniqueReactorCount(messageID string) int {
	sources := make(map[string]struct{})
	for _, c := range types.Colors {
		for _, r := range s.indexes[c].byMessage[messageID] {
			sources[r.SourceID] = struct{}{}
		}
	}
	return len(sources)
}

// WeightedScore combines each color's truncated diminishing-returns
// sub-total with the color weight
func (s *Store) WeightedScore(userID string) int {
	score := 0
	for _, c := range types.Colors {
		score += c.Weight() * s.indexes[c].WeightedReceived(userID)
	}
	return score
}

// Apply adds and removes every change of the transaction. Changes that would
// violate the index invariants are logged and skipped; the number skipped
// is returned.
func (s *Store) Apply(tx *types.Transaction) int {
	if tx.Empty() {
		return 0
	}
	skipped := 0
	for _, ch := range tx.Adds {
		r := ch.Reaction
		if !ch.Color.Valid() || !s.indexes[ch.Color].Add(r) {
			s.logger.Error().
				Str("color", ch.Color.String()).
				Str("message_id", r.MessageID).
				Str("source_id", r.SourceID).
				Msg("Reaction already recorded, skipping add")
			skipped++
			continue
		}
		s.logger.Debug().
			Str("color", ch.Color.String()).
			Str("source_id", r.SourceID).
			Str("target_id", r.TargetID).
			Str("message_id", r.MessageID).
			Msg("Add reaction")
	}
	for _, ch := range tx.Removes {
		r := ch.Reaction
		if !ch.Color.Valid() || !s.indexes[ch.Color].Remove(r) {
			s.logger.Error().
				Str("color", ch.Color.String()).
				Str("message_id", r.MessageID).
				Str("source_id", r.SourceID).
				Msg("Reaction not recorded, skipping remove")
			skipped++
			continue
		}
		s.logger.Debug().
			Str("color", ch.Color.String()).
			Str("source_id", r.SourceID).
			Str("target_id", r.TargetID).
			Str("message_id", r.MessageID).
			Msg("Remove reaction")
	}
	return skipped
}

// Records returns every stored reaction with its color, for snapshots
func (s *Store) Records() []types.Change {
	var out []types.Change
	for _, c := range types.Colors {
		for _, r := range s.indexes[c].All() {
			out = append(out, types.Change{Color: c, Reaction: r})
		}
	}
	return out
}

// Len returns the number of reactions of a color
func (s *Store) Len(c types.Color) int {
	return s.indexes[c].Len()
}

// MessageIDs returns every message with at least one reaction
func (s *Store) MessageIDs() []string {
	return union(func(x *Index) []string { return x.MessageIDs() }, s.indexes[:])
}

// UserIDs returns every user that has received at least one reaction
func (s *Store) UserIDs() []string {
	return union(func(x *Index) []string { return x.TargetIDs() }, s.indexes[:])
}

func union(f func(*Index) []string, indexes []*Index) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, x := range indexes {
		for _, id := range f(x) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// MessageCount is a message and its number of reactions of one color
type MessageCount struct {
	MessageID string
	AuthorID  string
	Count     int
}

// TopMessages ranks messages by their count of one color, highest first.
// A non-empty authorID keeps only messages by that author.
func (s *Store) TopMessages(c types.Color, authorID string) []MessageCount {
	x := s.indexes[c]
	var out []MessageCount
	for id, b := range x.byMessage {
		var author string
		for _, r := range b {
			author = r.TargetID
			break
		}
		if authorID != "" && author != authorID {
			continue
		}
		out = append(out, MessageCount{MessageID: id, AuthorID: author, Count: len(b)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
