package manager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/squares/pkg/events"
	"github.com/cuemby/squares/pkg/platform"
	"github.com/cuemby/squares/pkg/platform/fake"
	"github.com/cuemby/squares/pkg/squareboard"
	"github.com/cuemby/squares/pkg/storage"
	"github.com/cuemby/squares/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	selfID       = "bot"
	general      = "general"
	mirrorChanID = "sb"
)

var (
	green  = types.ColorGreen.Symbol()
	yellow = types.ColorYellow.Symbol()
	red    = types.ColorRed.Symbol()
)

type fixture struct {
	client *fake.Client
	mgr    *Manager
	ctx    context.Context
}

func newClient() *fake.Client {
	client := fake.NewClient(selfID)
	client.AddChannel(squareboard.DefaultChannel, mirrorChanID)
	for _, u := range []platform.User{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
		{ID: "carol", Name: "Carol"},
		{ID: "mallory", Name: "Mallory"},
		{ID: "otherbot", Name: "Other", Bot: true},
	} {
		client.AddUser(u)
	}
	for i := 0; i < 8; i++ {
		client.AddUser(platform.User{ID: fmt.Sprintf("u%d", i), Name: fmt.Sprintf("User %d", i)})
	}
	client.AddMessage(general, "m1", "alice", "first")
	client.AddMessage(general, "m2", "alice", "second")
	client.AddMessage(general, "m3", "bob", "third")
	return client
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Client == nil {
		cfg.Client = newClient()
	}
	if cfg.DataDir == "" && cfg.Store == nil {
		cfg.DataDir = t.TempDir()
	}
	mgr, err := NewManager(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	return &fixture{client: cfg.Client.(*fake.Client), mgr: mgr, ctx: context.Background()}
}

func (f *fixture) react(t *testing.T, messageID, emoji string, users ...string) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, f.mgr.HandleReaction(f.ctx, f.client.React(messageID, emoji, u)))
	}
}

func (f *fixture) unreact(t *testing.T, messageID, emoji string, users ...string) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, f.mgr.HandleReaction(f.ctx, f.client.Unreact(messageID, emoji, u)))
	}
}

func reactors(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("u%d", i)
	}
	return out
}

// assertInvariants checks the cache and squareboard invariants for ids
func (f *fixture) assertInvariants(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		tally := f.mgr.MessageTally(id)
		assert.Equal(t, tally.Total() > 0, f.mgr.CachedMessage(id) != nil, "cache invariant for %s", id)

		entry, ok := f.mgr.SquareboardEntry(id)
		assert.Equal(t, f.mgr.UniqueReactors(id) >= squareboard.Threshold, ok, "squareboard invariant for %s", id)
		if ok {
			assert.Equal(t, tally, entry.Tally)
		}
	}
}

func TestScenarioSingleReaction(t *testing.T) {
	f := newFixture(t, Config{})

	f.react(t, "m1", green, "bob")
	assert.Equal(t, types.Tally{1, 0, 0}, f.mgr.MessageTally("m1"))
	assert.Equal(t, 2, f.mgr.UserScore("alice"))
	require.NotNil(t, f.mgr.CachedMessage("m1"))
	assert.Equal(t, "first", f.mgr.CachedMessage("m1").OriginalContent)
	f.assertInvariants(t, "m1")

	f.unreact(t, "m1", green, "bob")
	assert.Equal(t, types.Tally{}, f.mgr.MessageTally("m1"))
	assert.Nil(t, f.mgr.CachedMessage("m1"))
	assert.Empty(t, f.mgr.MessageIDs())
	f.assertInvariants(t, "m1")
}

func TestHandleReactionIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})

	evt := f.client.React("m1", red, "bob")
	require.NoError(t, f.mgr.HandleReaction(f.ctx, evt))
	// Duplicate delivery
	require.NoError(t, f.mgr.HandleReaction(f.ctx, evt))

	assert.Equal(t, types.Tally{0, 0, 1}, f.mgr.MessageTally("m1"))

	records, err := f.mgr.store.LoadReactions()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestHandleReactionOutOfOrderEvents(t *testing.T) {
	f := newFixture(t, Config{})

	add := f.client.React("m1", green, "bob")
	remove := f.client.Unreact("m1", green, "bob")

	// The remove arrives first; both events converge on the live state
	require.NoError(t, f.mgr.HandleReaction(f.ctx, remove))
	require.NoError(t, f.mgr.HandleReaction(f.ctx, add))
	assert.Zero(t, f.mgr.MessageTally("m1").Total())
	f.assertInvariants(t, "m1")
}

func TestHandleReactionIgnoresOtherEmoji(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.mgr.HandleReaction(f.ctx, f.client.React("m1", "👍", "bob")))
	assert.Zero(t, f.client.CallCount("FetchMessage"))
	assert.Empty(t, f.mgr.MessageIDs())
}

func TestHandleReactionExclusionPolicy(t *testing.T) {
	f := newFixture(t, Config{})

	f.react(t, "m1", green, "alice", "otherbot", selfID, "bob")

	assert.Equal(t, types.Tally{2, 0, 0}, f.mgr.MessageTally("m1"))
	assert.Equal(t, types.Tally{0, 0, 0}, f.mgr.UserTally("alice", "alice"))
	assert.Equal(t, types.Tally{0, 0, 0}, f.mgr.UserTally("alice", "otherbot"))
	assert.Equal(t, types.Tally{1, 0, 0}, f.mgr.UserTally("alice", selfID))
}

func TestHandleReactionDeletedMessage(t *testing.T) {
	f := newFixture(t, Config{})

	evt := f.client.React("m1", green, "bob")
	f.client.RemoveMessage("m1")
	assert.NoError(t, f.mgr.HandleReaction(f.ctx, evt))
	assert.Empty(t, f.mgr.MessageIDs())
}

func TestHandleReactionUnknownAuthor(t *testing.T) {
	client := newClient()
	client.AddMessage(general, "m9", "ghost", "who am i")
	f := newFixture(t, Config{Client: client})

	f.react(t, "m9", green, "bob")
	assert.Empty(t, f.mgr.MessageIDs())
	assert.Nil(t, f.mgr.CachedMessage("m9"))
}

func TestHandleReactionFetchFailure(t *testing.T) {
	f := newFixture(t, Config{})
	evt := f.client.React("m1", green, "bob")
	f.client.FetchErr = errors.New("gateway timeout")

	err := f.mgr.HandleReaction(f.ctx, evt)
	assert.Error(t, err)
	assert.Empty(t, f.mgr.MessageIDs())
}

func TestScenarioSquareboardInsertDelete(t *testing.T) {
	f := newFixture(t, Config{})

	f.react(t, "m1", red, reactors(5)...)
	_, ok := f.mgr.SquareboardEntry("m1")
	assert.False(t, ok)

	f.react(t, "m1", red, "u5")
	assert.Equal(t, 6, f.mgr.UniqueReactors("m1"))
	entry, ok := f.mgr.SquareboardEntry("m1")
	require.True(t, ok)
	assert.Contains(t, f.client.Sent(mirrorChanID), entry.MirrorMessageID)
	f.assertInvariants(t, "m1")

	f.unreact(t, "m1", red, "u2")
	_, ok = f.mgr.SquareboardEntry("m1")
	assert.False(t, ok)
	assert.Empty(t, f.client.Sent(mirrorChanID))
	f.assertInvariants(t, "m1")
}

func TestScenarioSquareboardAmendOnSwitch(t *testing.T) {
	f := newFixture(t, Config{})

	f.react(t, "m1", green, reactors(6)...)
	f.react(t, "m1", yellow, "u6")
	before, ok := f.mgr.SquareboardEntry("m1")
	require.True(t, ok)
	require.Equal(t, 7, f.mgr.UniqueReactors("m1"))

	f.unreact(t, "m1", yellow, "u6")
	f.react(t, "m1", red, "u6")

	after, ok := f.mgr.SquareboardEntry("m1")
	require.True(t, ok)
	assert.Equal(t, before.MirrorMessageID, after.MirrorMessageID)
	assert.Equal(t, types.Tally{6, 0, 1}, after.Tally)
	assert.Equal(t, 1, f.client.CallCount("SendEmbed"))
	assert.Zero(t, f.client.CallCount("DeleteMessage"))
	f.assertInvariants(t, "m1")
}

func TestHiddenAuthorSkipsSquareboard(t *testing.T) {
	f := newFixture(t, Config{HiddenUsers: []string{"alice"}})

	f.react(t, "m1", green, reactors(6)...)
	assert.Equal(t, 6, f.mgr.UniqueReactors("m1"))
	_, ok := f.mgr.SquareboardEntry("m1")
	assert.False(t, ok)
	assert.NotNil(t, f.mgr.CachedMessage("m1"))

	assert.Empty(t, f.mgr.Summary(f.ctx))
	assert.Empty(t, f.mgr.TopMessages(types.ColorGreen, "", 0))
}

// flakyStore fails reaction writes while fail is set and message cache
// writes while failMessages is set
type flakyStore struct {
	*storage.BoltStore
	fail         bool
	failMessages bool
	saves        int
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) ApplyTransaction(tx *types.Transaction) error {
	if s.fail {
		return errDiskFull
	}
	return s.BoltStore.ApplyTransaction(tx)
}

func (s *flakyStore) SaveReactions(records []types.Change) error {
	if s.fail {
		return errDiskFull
	}
	s.saves++
	return s.BoltStore.SaveReactions(records)
}

func (s *flakyStore) PutMessage(msg *types.CachedMessage) error {
	if s.failMessages {
		return errDiskFull
	}
	return s.BoltStore.PutMessage(msg)
}

func (s *flakyStore) SaveMessages(msgs map[string]*types.CachedMessage) error {
	if s.failMessages {
		return errDiskFull
	}
	return s.BoltStore.SaveMessages(msgs)
}

func TestPersistenceFailure(t *testing.T) {
	db, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{BoltStore: db, fail: true}
	f := newFixture(t, Config{Store: store})

	err = f.mgr.HandleReaction(f.ctx, f.client.React("m1", green, "bob"))
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, errDiskFull)

	// Memory is ahead of disk; later pipeline steps did not run
	assert.Equal(t, 1, f.mgr.MessageTally("m1").Total())
	assert.Nil(t, f.mgr.CachedMessage("m1"))

	store.fail = false
	f.react(t, "m1", green, "carol")
	assert.Equal(t, 1, store.saves, "recovery rewrites the full snapshot")
	f.assertInvariants(t, "m1")

	records, err := db.LoadReactions()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRedeliveredEventRecoversFailedReactionWrite(t *testing.T) {
	db, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{BoltStore: db}
	f := newFixture(t, Config{Store: store})

	f.react(t, "m1", green, reactors(5)...)

	store.fail = true
	evt := f.client.React("m1", green, "u5")
	require.ErrorIs(t, f.mgr.HandleReaction(f.ctx, evt), ErrPersistence)
	assert.Equal(t, 6, f.mgr.UniqueReactors("m1"))
	_, ok := f.mgr.SquareboardEntry("m1")
	require.False(t, ok, "squareboard step did not run")

	// Same live state again: the reconcile is empty but the pipeline resumes
	store.fail = false
	require.NoError(t, f.mgr.HandleReaction(f.ctx, evt))
	f.assertInvariants(t, "m1")
	assert.Equal(t, 1, store.saves)
	assert.Len(t, f.client.Sent(mirrorChanID), 1)

	records, err := db.LoadReactions()
	require.NoError(t, err)
	assert.Len(t, records, 6)

	// Nothing left to recover: another replay touches neither disk nor platform
	require.NoError(t, f.mgr.HandleReaction(f.ctx, evt))
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, 1, f.client.CallCount("SendEmbed"))
}

func TestRedeliveredEventRecoversFailedCacheWrite(t *testing.T) {
	db, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{BoltStore: db, failMessages: true}
	f := newFixture(t, Config{Store: store})

	evt := f.client.React("m1", red, "bob")
	require.ErrorIs(t, f.mgr.HandleReaction(f.ctx, evt), ErrPersistence)
	onDisk, err := db.LoadMessages()
	require.NoError(t, err)
	require.NotContains(t, onDisk, "m1")

	store.failMessages = false
	require.NoError(t, f.mgr.HandleReaction(f.ctx, evt))
	f.assertInvariants(t, "m1")

	cached, err := db.LoadMessages()
	require.NoError(t, err)
	assert.Contains(t, cached, "m1")
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	client := newClient()

	mgr, err := NewManager(&Config{DataDir: dir, Client: client})
	require.NoError(t, err)
	for _, u := range reactors(6) {
		require.NoError(t, mgr.HandleReaction(context.Background(), client.React("m1", green, u)))
	}
	require.NoError(t, mgr.Close())

	f := newFixture(t, Config{DataDir: dir, Client: client})
	assert.Equal(t, types.Tally{6, 0, 0}, f.mgr.MessageTally("m1"))
	assert.NotNil(t, f.mgr.CachedMessage("m1"))
	_, ok := f.mgr.SquareboardEntry("m1")
	assert.True(t, ok)
}

func preloaded(t *testing.T, records ...types.Change) *storage.BoltStore {
	t.Helper()
	db, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.SaveReactions(records))
	return db
}

func change(c types.Color, messageID, target, source string) types.Change {
	return types.Change{Color: c, Reaction: types.Reaction{MessageID: messageID, TargetID: target, SourceID: source}}
}

func TestSummary(t *testing.T) {
	client := newClient()
	client.AddMessage(general, "m4", "mallory", "fourth")
	// ghost's account no longer exists
	db := preloaded(t, change(types.ColorGreen, "old", "ghost", "bob"))
	f := newFixture(t, Config{Client: client, Store: db, HiddenUsers: []string{"mallory"}})

	f.react(t, "m1", green, "bob", "carol") // alice: 2 distinct greens
	f.react(t, "m3", red, "alice")          // bob: one red
	f.react(t, "m4", green, "bob")          // hidden

	summary := f.mgr.Summary(f.ctx)
	require.Len(t, summary, 2)
	assert.Equal(t, SummaryEntry{UserID: "alice", Name: "Alice", Tally: types.Tally{2, 0, 0}, Score: 4}, summary[0])
	assert.Equal(t, SummaryEntry{UserID: "bob", Name: "Bob", Tally: types.Tally{0, 0, 1}, Score: -2}, summary[1])
}

func TestTopMessages(t *testing.T) {
	f := newFixture(t, Config{})

	f.react(t, "m1", green, "bob")
	f.react(t, "m2", green, "bob", "carol")
	f.react(t, "m3", green, "alice", "carol", "u0")

	top := f.mgr.TopMessages(types.ColorGreen, "", 0)
	require.Len(t, top, 3)
	assert.Equal(t, "m3", top[0].ID)
	assert.Equal(t, 3, top[0].Count)
	assert.Equal(t, "m2", top[1].ID)
	assert.Equal(t, "m1", top[2].ID)

	byAlice := f.mgr.TopMessages(types.ColorGreen, "alice", 1)
	require.Len(t, byAlice, 1)
	assert.Equal(t, "m2", byAlice[0].ID)
	assert.Equal(t, "second", byAlice[0].OriginalContent)

	assert.Empty(t, f.mgr.TopMessages(types.ColorRed, "", 0))
}

func TestCommitPublishesEvents(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.mgr.EventBroker().Subscribe()
	defer f.mgr.EventBroker().Unsubscribe(sub)

	f.react(t, "m1", green, "bob")

	var got []*events.Event
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-sub:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d events", len(got))
		}
	}

	assert.Equal(t, events.EventReactionsCommitted, got[0].Type)
	require.Len(t, got[0].After, 1)
	assert.Equal(t, types.UserPair{SourceID: "bob", TargetID: "alice"}, got[0].After[0].Pair)
	assert.Equal(t, types.Tally{}, got[0].Before[0].TargetTotal)
	assert.Equal(t, types.Tally{1, 0, 0}, got[0].After[0].TargetTotal)
	assert.Equal(t, events.EventMessageCached, got[1].Type)
}

func TestRebuild(t *testing.T) {
	// Reactions and cache without a squareboard, as after losing that store
	var records []types.Change
	for _, u := range reactors(6) {
		records = append(records, change(types.ColorGreen, "m1", "alice", u))
	}
	db := preloaded(t, records...)
	require.NoError(t, db.SaveMessages(map[string]*types.CachedMessage{
		"m1": {ID: "m1", ChannelID: general, AuthorID: "alice", OriginalContent: "first"},
	}))

	f := newFixture(t, Config{Store: db})
	result, err := f.mgr.Rebuild(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result[squareboard.TransitionInsert])
	f.assertInvariants(t, "m1")

	// A second pass changes nothing
	result, err = f.mgr.Rebuild(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, result[squareboard.TransitionInsert])
	assert.Equal(t, 1, f.client.CallCount("SendEmbed"))
}

func TestWarmup(t *testing.T) {
	db := preloaded(t,
		change(types.ColorGreen, "m1", "alice", "bob"),
		change(types.ColorRed, "m3", "bob", "carol"),
	)
	f := newFixture(t, Config{Store: db})

	require.NoError(t, f.mgr.Warmup(f.ctx, 100))
	assert.Equal(t, 2, f.client.CallCount("FetchUser"))
	assert.Equal(t, 2, f.mgr.Users().Len())

	// Served from the cache afterwards
	assert.Len(t, f.mgr.Summary(f.ctx), 2)
	assert.Equal(t, 2, f.client.CallCount("FetchUser"))
}

func TestWarmupCancelled(t *testing.T) {
	db := preloaded(t, change(types.ColorGreen, "m1", "alice", "bob"))
	f := newFixture(t, Config{Store: db})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.mgr.Warmup(ctx, 1), context.Canceled)
}

func TestStats(t *testing.T) {
	f := newFixture(t, Config{})
	f.react(t, "m1", green, reactors(6)...)
	f.react(t, "m2", red, "bob")

	stats := f.mgr.Stats()
	assert.Equal(t, 6, stats.Reactions[types.ColorGreen])
	assert.Equal(t, 1, stats.Reactions[types.ColorRed])
	assert.Equal(t, 2, stats.CachedMessages)
	assert.Equal(t, 1, stats.SquareboardEntries)
}

func TestPing(t *testing.T) {
	f := newFixture(t, Config{})
	assert.NoError(t, f.mgr.Ping(context.Background()))
}
