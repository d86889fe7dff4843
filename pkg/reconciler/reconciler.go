package reconciler

import (
	"sort"
	"time"

	"github.com/cuemby/squares/pkg/types"
)

// Reactor is a user currently applying a reaction on the platform
type Reactor struct {
	ID  string
	Bot bool
}

// LiveState is the authoritative reactor set of one message, per color.
// A color absent from the map has no reactors.
type LiveState map[types.Color][]Reactor

// Message identifies the message being reconciled
type Message struct {
	ID       string
	AuthorID string
}

// StoredReactions is the read side of the reaction store used to compute
// the diff
type StoredReactions interface {
	Reactions(c types.Color, messageID string) []types.Reaction
}

// Policy decides which live reactions count
type Policy struct {
	// SelfID is the service's own identity; its reactions count even
	// though it is a bot
	SelfID string
}

// Counts reports whether a reactor's reaction on a message authored by
// authorID should be stored
func (p Policy) Counts(authorID string, r Reactor) bool {
	if r.ID == authorID {
		return false // no self-credit
	}
	if r.Bot && r.ID != p.SelfID {
		return false
	}
	return true
}

// Reconciler computes the diff between live and stored reaction state
type Reconciler struct {
	policy Policy
	now    func() time.Time
}

// NewReconciler creates a reconciler applying policy
func NewReconciler(policy Policy) *Reconciler {
	return &Reconciler{policy: policy, now: time.Now}
}

// Reconcile returns the transaction that makes the stored reactions of msg
// equal to the filtered live state. Reconciling again against the same live
// state after applying the result yields an empty transaction.
func (r *Reconciler) Reconcile(msg Message, live LiveState, stored StoredReactions) *types.Transaction {
	tx := types.NewTransaction()
	now := r.now()

	for _, color := range types.Colors {
		desired := make(map[string]struct{})
		for _, reactor := range live[color] {
			if r.policy.Counts(msg.AuthorID, reactor) {
				desired[reactor.ID] = struct{}{}
			}
		}

		current := stored.Reactions(color, msg.ID)
		recorded := make(map[string]struct{}, len(current))
		for _, rec := range current {
			recorded[rec.SourceID] = struct{}{}
		}

		for _, sourceID := range sortedKeys(desired) {
			if _, ok := recorded[sourceID]; ok {
				continue
			}
			tx.Add(color, types.Reaction{
				MessageID: msg.ID,
				TargetID:  msg.AuthorID,
				SourceID:  sourceID,
				Timestamp: now,
			})
		}

		for _, rec := range current {
			if _, ok := desired[rec.SourceID]; !ok {
				tx.Remove(color, rec)
			}
		}
	}

	return tx
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
