package manager

import (
	"context"
	"sort"

	"github.com/cuemby/squares/pkg/metrics"
	"github.com/cuemby/squares/pkg/squareboard"
	"github.com/cuemby/squares/pkg/types"
)

// DefaultTopLimit is the number of messages TopMessages returns by default
const DefaultTopLimit = 10

// MessageTally returns the per-color tally of a message
func (m *Manager) MessageTally(messageID string) types.Tally {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactions.TallyOnMessage(messageID)
}

// UserTally returns what a user has received, optionally only from sourceID
func (m *Manager) UserTally(targetID, sourceID string) types.Tally {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactions.TallyOnUser(targetID, sourceID)
}

// UserScore returns the weighted score of a user
func (m *Manager) UserScore(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactions.WeightedScore(userID)
}

// UniqueReactors returns the squareboard score of a message
func (m *Manager) UniqueReactors(messageID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactions.UniqueReactorCount(messageID)
}

// MessageIDs returns every message with stored reactions
func (m *Manager) MessageIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactions.MessageIDs()
}

// UserIDs returns every user who has received a reaction
func (m *Manager) UserIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactions.UserIDs()
}

// SquareboardEntry returns the mirror of a message, if any
func (m *Manager) SquareboardEntry(messageID string) (types.SquareboardEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.squareboard.Entry(messageID)
}

// CachedMessage returns a copy of the cached message, or nil
func (m *Manager) CachedMessage(messageID string) *types.CachedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cm := m.messages.Get(messageID); cm != nil {
		cp := *cm
		return &cp
	}
	return nil
}

// Stats implements metrics.StatsSource
func (m *Manager) Stats() metrics.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := metrics.Stats{
		Reactions:          make(map[types.Color]int, types.NumColors),
		CachedMessages:     m.messages.Len(),
		SquareboardEntries: m.squareboard.Len(),
	}
	for _, c := range types.Colors {
		stats.Reactions[c] = m.reactions.Len(c)
	}
	return stats
}

// SummaryEntry is one row of the leaderboard
type SummaryEntry struct {
	UserID string      `json:"user_id"`
	Name   string      `json:"name"`
	Tally  types.Tally `json:"tally"`
	Score  int         `json:"score"`
}

// Summary returns every visible user with a tally, ordered by decreasing
// score. Users that cannot be resolved are left out.
func (m *Manager) Summary(ctx context.Context) []SummaryEntry {
	m.mu.Lock()
	var rows []SummaryEntry
	for _, id := range m.reactions.UserIDs() {
		if m.IsHidden(id) {
			continue
		}
		rows = append(rows, SummaryEntry{
			UserID: id,
			Tally:  m.reactions.TallyOnUser(id, ""),
			Score:  m.reactions.WeightedScore(id),
		})
	}
	m.mu.Unlock()

	// Identity lookups happen outside the lock
	out := rows[:0]
	for _, row := range rows {
		user, err := m.users.Get(ctx, row.UserID)
		if err != nil {
			m.logger.Warn().Err(err).Str("user_id", row.UserID).Msg("Failed to resolve user")
			continue
		}
		if user == nil {
			continue
		}
		row.Name = user.Name
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// TopMessage is a cached message ranked by its count of one color
type TopMessage struct {
	types.CachedMessage
	Count int         `json:"count"`
	Tally types.Tally `json:"tally"`
}

// TopMessages ranks cached messages by their count of color. A non-empty
// authorID restricts the ranking to that author; limit <= 0 uses
// DefaultTopLimit.
func (m *Manager) TopMessages(color types.Color, authorID string, limit int) []TopMessage {
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []TopMessage
	for _, mc := range m.reactions.TopMessages(color, authorID) {
		if len(out) == limit {
			break
		}
		if m.IsHidden(mc.AuthorID) {
			continue
		}
		cached := m.messages.Get(mc.MessageID)
		if cached == nil {
			continue
		}
		out = append(out, TopMessage{
			CachedMessage: *cached,
			Count:         mc.Count,
			Tally:         m.reactions.TallyOnMessage(mc.MessageID),
		})
	}
	return out
}

// Rebuild refreshes the squareboard for every tracked message and every
// existing entry, skipping hidden authors
func (m *Manager) Rebuild(ctx context.Context) (squareboard.RebuildResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.squareboard.Rebuild(ctx, func(messageID string) bool {
		cached := m.messages.Get(messageID)
		return cached != nil && m.IsHidden(cached.AuthorID)
	})
	for t, n := range result {
		if t != squareboard.TransitionNone {
			metrics.SquareboardTransitionsTotal.WithLabelValues(t.String()).Add(float64(n))
		}
	}
	return result, err
}
