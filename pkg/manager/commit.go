package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/squares/pkg/events"
	"github.com/cuemby/squares/pkg/log"
	"github.com/cuemby/squares/pkg/metrics"
	"github.com/cuemby/squares/pkg/platform"
	"github.com/cuemby/squares/pkg/reconciler"
	"github.com/cuemby/squares/pkg/squareboard"
	"github.com/cuemby/squares/pkg/storage"
	"github.com/cuemby/squares/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Event outcomes
const (
	outcomeIgnored   = "ignored"
	outcomeUnchanged = "unchanged"
	outcomeCommitted = "committed"
	outcomeFailed    = "failed"
)

// HandleReaction reconciles the message an event refers to against its
// live reactions and commits the difference. The live state is fetched
// before the lock is taken; once the critical section starts it runs to
// completion even if ctx is cancelled.
func (m *Manager) HandleReaction(ctx context.Context, evt platform.ReactionEvent) error {
	color, ok := types.ColorFromSymbol(evt.Emoji)
	if !ok {
		metrics.EventsTotal.WithLabelValues(outcomeIgnored).Inc()
		return nil
	}
	logger := log.WithMessageID(evt.MessageID).With().Str("color", color.String()).Logger()

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	msg, live, err := m.fetchLive(fetchCtx, evt.ChannelID, evt.MessageID)
	timer.ObserveDuration(metrics.FetchDuration)
	if errors.Is(err, platform.ErrNotFound) {
		logger.Debug().Err(err).Msg("Message gone, ignoring reaction")
		metrics.EventsTotal.WithLabelValues(outcomeIgnored).Inc()
		return nil
	}
	if err != nil {
		metrics.EventsTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("failed to fetch live state of %s: %w", evt.MessageID, err)
	}

	author, err := m.users.Get(fetchCtx, msg.Author.ID)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("failed to resolve author of %s: %w", evt.MessageID, err)
	}
	if author == nil {
		logger.Info().Str("user_id", msg.Author.ID).Msg("Ignoring reaction on unknown user")
		metrics.EventsTotal.WithLabelValues(outcomeIgnored).Inc()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	timer = metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	commitCtx := context.WithoutCancel(ctx)
	tx := m.reconciler.Reconcile(reconciler.Message{ID: msg.ID, AuthorID: msg.Author.ID}, live, m.reactions)
	if tx.Empty() {
		// Nothing new to apply, but an earlier event may have stopped
		// after a failed write
		if err := m.converge(commitCtx, msg); err != nil {
			metrics.EventsTotal.WithLabelValues(outcomeFailed).Inc()
			logger.Error().Err(err).Msg("Recovery failed")
			return err
		}
		metrics.EventsTotal.WithLabelValues(outcomeUnchanged).Inc()
		return nil
	}

	if err := m.commit(commitCtx, msg, tx); err != nil {
		metrics.EventsTotal.WithLabelValues(outcomeFailed).Inc()
		logger.Error().Err(err).Msg("Commit failed")
		return err
	}
	metrics.EventsTotal.WithLabelValues(outcomeCommitted).Inc()
	return nil
}

// fetchLive returns the message and the complete reactor set of every
// color present on it. Reactor lists are fetched concurrently.
func (m *Manager) fetchLive(ctx context.Context, channelID, messageID string) (*platform.Message, reconciler.LiveState, error) {
	msg, err := m.client.FetchMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, nil, err
	}

	var lists [types.NumColors][]platform.User
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range types.Colors {
		if !msg.HasReaction(c.Symbol()) {
			continue
		}
		c := c
		g.Go(func() error {
			users, err := m.client.FetchReactors(gctx, channelID, messageID, c.Symbol())
			if err != nil {
				return err
			}
			lists[c] = users
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	live := make(reconciler.LiveState)
	for _, c := range types.Colors {
		for _, u := range lists[c] {
			live[c] = append(live[c], reconciler.Reactor{ID: u.ID, Bot: u.Bot})
		}
	}
	return msg, live, nil
}

// commit applies one transaction, persists and announces it, then
// converges the derived state. Must be called with mu held. A failure to
// persist the reactions stops the pipeline; a later event on the message
// resumes it through converge.
func (m *Manager) commit(ctx context.Context, msg *platform.Message, tx *types.Transaction) error {
	pairs := tx.Pairs()
	before := m.pairTallies(pairs)

	skipped := m.reactions.Apply(tx)
	metrics.InvariantViolationsTotal.Add(float64(skipped))
	for _, ch := range tx.Adds {
		metrics.ChangesTotal.WithLabelValues("add", ch.Color.String()).Inc()
	}
	for _, ch := range tx.Removes {
		metrics.ChangesTotal.WithLabelValues("remove", ch.Color.String()).Inc()
	}

	if err := m.persistReactions(tx); err != nil {
		return err
	}

	ev := events.NewEvent(events.EventReactionsCommitted, msg.ID,
		fmt.Sprintf("%d added, %d removed", len(tx.Adds), len(tx.Removes)))
	ev.Before = before
	ev.After = m.pairTallies(pairs)
	m.eventBroker.Publish(ev)

	return m.converge(ctx, msg)
}

// converge brings everything derived from the reaction store in line for
// one message: a dirty reaction snapshot is rewritten, the cache entry
// follows the tally and the squareboard is refreshed. Each step is a no-op
// when already consistent. Must be called with mu held.
func (m *Manager) converge(ctx context.Context, msg *platform.Message) error {
	if m.reactionsDirty {
		if err := m.persistReactions(nil); err != nil {
			return err
		}
	}

	if err := m.syncCache(msg); err != nil {
		return err
	}

	if m.IsHidden(msg.Author.ID) {
		m.logger.Debug().Str("message_id", msg.ID).Msg("Author hidden, skipping squareboard")
	} else {
		t, err := m.squareboard.Refresh(ctx, msg.ID)
		m.recordTransition(msg.ID, t)
		if err != nil {
			if errors.Is(err, storage.ErrPersistence) {
				metrics.PersistenceFailuresTotal.WithLabelValues("squareboard").Inc()
			}
			return fmt.Errorf("failed to refresh squareboard: %w", err)
		}
	}

	if err := m.squareboard.Flush(); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("squareboard").Inc()
		return fmt.Errorf("failed to flush squareboard: %w", err)
	}
	return nil
}

func (m *Manager) pairTallies(pairs []types.UserPair) []types.PairTally {
	out := make([]types.PairTally, len(pairs))
	for i, p := range pairs {
		out[i] = types.PairTally{
			Pair:        p,
			TargetTotal: m.reactions.TallyOnUser(p.TargetID, ""),
			FromSource:  m.reactions.TallyOnUser(p.TargetID, p.SourceID),
		}
	}
	return out
}

// persistReactions writes tx, or every record when the store is dirty or
// tx is nil
func (m *Manager) persistReactions(tx *types.Transaction) error {
	var err error
	if m.reactionsDirty || tx == nil {
		err = m.store.SaveReactions(m.reactions.Records())
	} else {
		err = m.store.ApplyTransaction(tx)
	}
	if err != nil {
		m.reactionsDirty = true
		metrics.PersistenceFailuresTotal.WithLabelValues("reactions").Inc()
		m.logger.Error().Err(err).Msg("Failed to persist reactions")
		return fmt.Errorf("%w: reactions: %w", ErrPersistence, err)
	}
	m.reactionsDirty = false
	return nil
}

// syncCache restores the invariant that a message is cached exactly when
// it has at least one reaction
func (m *Manager) syncCache(msg *platform.Message) error {
	var write func() error

	if m.reactions.TallyOnMessage(msg.ID).Total() > 0 {
		cached := &types.CachedMessage{
			ID:              msg.ID,
			ChannelID:       msg.ChannelID,
			AuthorID:        msg.Author.ID,
			OriginalContent: msg.Content,
		}
		if m.messages.Put(cached) {
			write = func() error { return m.store.PutMessage(cached) }
			m.eventBroker.Publish(events.NewEvent(events.EventMessageCached, msg.ID, ""))
		}
	} else if m.messages.Delete(msg.ID) {
		write = func() error { return m.store.DeleteMessage(msg.ID) }
		m.eventBroker.Publish(events.NewEvent(events.EventMessageEvicted, msg.ID, ""))
	}

	if write == nil && !m.messagesDirty {
		return nil
	}
	return m.persistMessages(write)
}

// persistMessages runs write, or rewrites the whole cache when it is dirty
// or write is nil
func (m *Manager) persistMessages(write func() error) error {
	var err error
	if m.messagesDirty || write == nil {
		err = m.store.SaveMessages(m.messages.Snapshot())
	} else {
		err = write()
	}
	if err != nil {
		m.messagesDirty = true
		metrics.PersistenceFailuresTotal.WithLabelValues("messages").Inc()
		m.logger.Error().Err(err).Msg("Failed to persist message cache")
		return fmt.Errorf("%w: messages: %w", ErrPersistence, err)
	}
	m.messagesDirty = false
	return nil
}

func (m *Manager) recordTransition(messageID string, t squareboard.Transition) {
	var eventType events.EventType
	switch t {
	case squareboard.TransitionInsert:
		eventType = events.EventSquareboardInserted
	case squareboard.TransitionAmend:
		eventType = events.EventSquareboardAmended
	case squareboard.TransitionDelete:
		eventType = events.EventSquareboardDeleted
	default:
		return
	}
	metrics.SquareboardTransitionsTotal.WithLabelValues(t.String()).Inc()
	m.eventBroker.Publish(events.NewEvent(eventType, messageID, ""))
}
