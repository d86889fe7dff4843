package squareboard

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cuemby/squares/pkg/log"
	"github.com/cuemby/squares/pkg/platform"
	"github.com/cuemby/squares/pkg/storage"
	"github.com/cuemby/squares/pkg/types"
	"github.com/rs/zerolog"
)

// Threshold is the number of distinct reactors, across all colors, that
// puts a message on the squareboard
const Threshold = 6

// DefaultChannel is the name of the mirror channel
const DefaultChannel = "squareboard"

// Transition is the outcome of a refresh
type Transition int

const (
	TransitionNone Transition = iota
	TransitionInsert
	TransitionAmend
	TransitionDelete
)

func (t Transition) String() string {
	switch t {
	case TransitionInsert:
		return "insert"
	case TransitionAmend:
		return "amend"
	case TransitionDelete:
		return "delete"
	}
	return "none"
}

// Scores is the read side of the reaction store
type Scores interface {
	TallyOnMessage(messageID string) types.Tally
	UniqueReactorCount(messageID string) int
	MessageIDs() []string
}

// Messages looks up cached message content
type Messages interface {
	Get(messageID string) *types.CachedMessage
}

// Persister is the squareboard slice of storage.Store
type Persister interface {
	PutSquareboardEntry(messageID string, entry *types.SquareboardEntry) error
	DeleteSquareboardEntry(messageID string) error
	SaveSquareboard(entries map[string]*types.SquareboardEntry) error
}

// Config wires a projection to its collaborators
type Config struct {
	Client      platform.Client
	Users       UserLookup
	Scores      Scores
	Messages    Messages
	Store       Persister
	ChannelName string
}

// Projection keeps one mirror post per qualifying message. It reads the
// reaction store and message cache but never mutates them.
//
// A Projection is not safe for concurrent use; the caller serializes
// access.
type Projection struct {
	client      platform.Client
	scores      Scores
	messages    Messages
	store       Persister
	formatter   *Formatter
	channelName string
	channelID   string
	entries     map[string]*types.SquareboardEntry
	dirty       bool
	logger      zerolog.Logger
}

// NewProjection creates a projection starting from persisted entries
func NewProjection(cfg Config, entries map[string]*types.SquareboardEntry) *Projection {
	if entries == nil {
		entries = make(map[string]*types.SquareboardEntry)
	}
	name := cfg.ChannelName
	if name == "" {
		name = DefaultChannel
	}
	logger := log.WithComponent("squareboard")
	return &Projection{
		client:      cfg.Client,
		scores:      cfg.Scores,
		messages:    cfg.Messages,
		store:       cfg.Store,
		formatter:   NewFormatter(cfg.Client, cfg.Users, logger),
		channelName: name,
		entries:     entries,
		logger:      logger,
	}
}

// channel resolves the mirror channel once per process
func (p *Projection) channel(ctx context.Context) (string, error) {
	if p.channelID != "" {
		return p.channelID, nil
	}
	id, err := p.client.FindChannel(ctx, p.channelName)
	if err != nil {
		return "", fmt.Errorf("failed to resolve squareboard channel: %w", err)
	}
	p.channelID = id
	return id, nil
}

// Refresh brings the mirror of one message in line with the store
func (p *Projection) Refresh(ctx context.Context, messageID string) (Transition, error) {
	tally := p.scores.TallyOnMessage(messageID)
	qualifies := p.scores.UniqueReactorCount(messageID) >= Threshold
	entry, present := p.entries[messageID]

	switch {
	case !present && !qualifies:
		return TransitionNone, nil
	case !present:
		return p.insert(ctx, messageID, tally)
	case !qualifies:
		return p.delete(ctx, messageID, entry)
	case entry.Tally == tally:
		return TransitionNone, nil
	default:
		return p.amend(ctx, messageID, entry, tally)
	}
}

func (p *Projection) cached(messageID string) (*types.CachedMessage, error) {
	msg := p.messages.Get(messageID)
	if msg == nil {
		return nil, fmt.Errorf("message %s is not cached", messageID)
	}
	return msg, nil
}

func (p *Projection) insert(ctx context.Context, messageID string, tally types.Tally) (Transition, error) {
	msg, err := p.cached(messageID)
	if err != nil {
		return TransitionNone, err
	}
	channelID, err := p.channel(ctx)
	if err != nil {
		return TransitionNone, err
	}

	mirrorID, err := p.client.SendEmbed(ctx, channelID, p.formatter.Format(ctx, msg, tally))
	if err != nil {
		return TransitionNone, fmt.Errorf("failed to post mirror of %s: %w", messageID, err)
	}

	entry := &types.SquareboardEntry{MirrorMessageID: mirrorID, Tally: tally}
	p.entries[messageID] = entry
	p.logger.Info().
		Str("message_id", messageID).
		Str("mirror_id", mirrorID).
		Str("tally", tally.String()).
		Msg("Squareboard insert")

	return TransitionInsert, p.persist(func() error {
		return p.store.PutSquareboardEntry(messageID, entry)
	})
}

func (p *Projection) delete(ctx context.Context, messageID string, entry *types.SquareboardEntry) (Transition, error) {
	channelID, err := p.channel(ctx)
	if err != nil {
		return TransitionNone, err
	}

	err = p.client.DeleteMessage(ctx, channelID, entry.MirrorMessageID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		p.logger.Warn().Str("message_id", messageID).Str("mirror_id", entry.MirrorMessageID).Msg("Mirror already gone")
	case err != nil:
		return TransitionNone, fmt.Errorf("failed to delete mirror of %s: %w", messageID, err)
	}

	p.drop(messageID)
	return TransitionDelete, p.persist(func() error {
		return p.store.DeleteSquareboardEntry(messageID)
	})
}

func (p *Projection) amend(ctx context.Context, messageID string, entry *types.SquareboardEntry, tally types.Tally) (Transition, error) {
	msg, err := p.cached(messageID)
	if err != nil {
		return TransitionNone, err
	}
	channelID, err := p.channel(ctx)
	if err != nil {
		return TransitionNone, err
	}

	err = p.client.EditEmbed(ctx, channelID, entry.MirrorMessageID, p.formatter.Format(ctx, msg, tally))
	if errors.Is(err, platform.ErrNotFound) {
		// Deleted out of band: the message still qualifies, so post it again
		p.logger.Warn().Str("message_id", messageID).Str("mirror_id", entry.MirrorMessageID).Msg("Mirror gone, reposting")
		delete(p.entries, messageID)
		return p.insert(ctx, messageID, tally)
	}
	if err != nil {
		return TransitionNone, fmt.Errorf("failed to edit mirror of %s: %w", messageID, err)
	}

	entry.Tally = tally
	p.logger.Info().Str("message_id", messageID).Str("tally", tally.String()).Msg("Squareboard amend")

	return TransitionAmend, p.persist(func() error {
		return p.store.PutSquareboardEntry(messageID, entry)
	})
}

func (p *Projection) drop(messageID string) {
	delete(p.entries, messageID)
	p.logger.Info().Str("message_id", messageID).Msg("Squareboard delete")
}

// persist runs a targeted write, or rewrites every entry when an earlier
// write failed
func (p *Projection) persist(write func() error) error {
	if p.dirty {
		if err := p.store.SaveSquareboard(p.entries); err != nil {
			return fmt.Errorf("%w: save squareboard: %w", storage.ErrPersistence, err)
		}
		p.dirty = false
		return nil
	}
	if err := write(); err != nil {
		p.dirty = true
		return fmt.Errorf("%w: write squareboard entry: %w", storage.ErrPersistence, err)
	}
	return nil
}

// Flush rewrites every entry if an earlier write failed
func (p *Projection) Flush() error {
	if !p.dirty {
		return nil
	}
	return p.persist(nil)
}

// Dirty reports whether memory is ahead of the persisted entries
func (p *Projection) Dirty() bool {
	return p.dirty
}

// Entry returns a copy of the entry for a message
func (p *Projection) Entry(messageID string) (types.SquareboardEntry, bool) {
	e, ok := p.entries[messageID]
	if !ok {
		return types.SquareboardEntry{}, false
	}
	return *e, true
}

// Len returns the number of mirrored messages
func (p *Projection) Len() int {
	return len(p.entries)
}

// Candidates returns every message the store tracks plus every message with
// an entry, sorted
func (p *Projection) Candidates() []string {
	seen := make(map[string]struct{})
	for _, id := range p.scores.MessageIDs() {
		seen[id] = struct{}{}
	}
	for id := range p.entries {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RebuildResult counts the transitions of a rebuild
type RebuildResult map[Transition]int

// Rebuild refreshes every candidate. skip, when set, excludes messages
// from the pass. A failing message does not stop the rebuild; all errors
// are returned joined.
func (p *Projection) Rebuild(ctx context.Context, skip func(messageID string) bool) (RebuildResult, error) {
	result := make(RebuildResult)
	var errs []error

	for _, id := range p.Candidates() {
		if skip != nil && skip(id) {
			continue
		}
		t, err := p.Refresh(ctx, id)
		result[t]++
		if err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", id, err))
		}
	}

	p.logger.Info().
		Int("inserted", result[TransitionInsert]).
		Int("amended", result[TransitionAmend]).
		Int("deleted", result[TransitionDelete]).
		Int("errors", len(errs)).
		Msg("Squareboard rebuilt")
	return result, errors.Join(errs...)
}
