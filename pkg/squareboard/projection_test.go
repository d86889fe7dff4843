package squareboard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cuemby/squares/pkg/messages"
	"github.com/cuemby/squares/pkg/platform"
	"github.com/cuemby/squares/pkg/platform/fake"
	"github.com/cuemby/squares/pkg/reactions"
	"github.com/cuemby/squares/pkg/storage"
	"github.com/cuemby/squares/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mirrorChannel = "sb"

type fixture struct {
	client *fake.Client
	store  *reactions.Store
	cache  *messages.Cache
	db     *storage.BoltStore
	proj   *Projection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	client := fake.NewClient("bot")
	client.AddChannel(DefaultChannel, mirrorChannel)
	client.AddUser(platform.User{ID: "alice", Name: "Alice", AvatarURL: "https://cdn.example/alice.png"})
	client.AddMessage("general", "m1", "alice", "hello world")

	db, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		client: client,
		store:  reactions.NewStore(),
		cache:  messages.NewCache(nil),
		db:     db,
	}
	f.cache.Put(&types.CachedMessage{ID: "m1", ChannelID: "general", AuthorID: "alice", OriginalContent: "hello world"})
	f.proj = NewProjection(Config{
		Client:   client,
		Users:    platform.NewUserCache(client),
		Scores:   f.store,
		Messages: f.cache,
		Store:    db,
	}, nil)
	return f
}

func reaction(source string) types.Reaction {
	return types.Reaction{MessageID: "m1", TargetID: "alice", SourceID: source}
}

func (f *fixture) add(t *testing.T, c types.Color, sources ...string) {
	t.Helper()
	tx := types.NewTransaction()
	for _, s := range sources {
		tx.Add(c, reaction(s))
	}
	require.Zero(t, f.store.Apply(tx))
}

func (f *fixture) remove(t *testing.T, c types.Color, sources ...string) {
	t.Helper()
	tx := types.NewTransaction()
	for _, s := range sources {
		tx.Remove(c, reaction(s))
	}
	require.Zero(t, f.store.Apply(tx))
}

func sources(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("u%d", i)
	}
	return out
}

// assertConsistent checks that an entry exists exactly when the message
// qualifies and that its snapshot matches the store
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	entry, ok := f.proj.Entry("m1")
	qualifies := f.store.UniqueReactorCount("m1") >= Threshold
	require.Equal(t, qualifies, ok)
	if ok {
		assert.Equal(t, f.store.TallyOnMessage("m1"), entry.Tally)
	}
}

func TestRefreshBelowThresholdIsNoop(t *testing.T) {
	f := newFixture(t)
	f.add(t, types.ColorGreen, sources(5)...)

	tr, err := f.proj.Refresh(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, TransitionNone, tr)
	assert.Empty(t, f.client.Sent(mirrorChannel))
	f.assertConsistent(t)
}

func TestRefreshInsertThenDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, types.ColorRed, sources(6)...)

	tr, err := f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, TransitionInsert, tr)
	f.assertConsistent(t)

	sent := f.client.Sent(mirrorChannel)
	require.Len(t, sent, 1)
	entry, _ := f.proj.Entry("m1")
	post := sent[entry.MirrorMessageID]
	require.NotNil(t, post)
	assert.Equal(t, "hello world", post.Embed.Description)
	assert.Equal(t, "Alice", post.Embed.AuthorName)
	assert.Equal(t, embedRed, post.Embed.Color)

	persisted, err := f.db.LoadSquareboard()
	require.NoError(t, err)
	assert.Contains(t, persisted, "m1")

	// One of the six leaves
	f.remove(t, types.ColorRed, "u0")
	tr, err = f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, TransitionDelete, tr)
	assert.Empty(t, f.client.Sent(mirrorChannel))
	f.assertConsistent(t)

	persisted, err = f.db.LoadSquareboard()
	require.NoError(t, err)
	assert.NotContains(t, persisted, "m1")
}

func TestRefreshAmendsOnColorSwitch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, types.ColorGreen, sources(6)...)
	f.add(t, types.ColorYellow, "switcher")

	tr, err := f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, TransitionInsert, tr)
	before, _ := f.proj.Entry("m1")

	// Score stays at 7 while the tally changes
	f.remove(t, types.ColorYellow, "switcher")
	f.add(t, types.ColorRed, "switcher")
	require.Equal(t, 7, f.store.UniqueReactorCount("m1"))

	tr, err = f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, TransitionAmend, tr)
	f.assertConsistent(t)

	after, _ := f.proj.Entry("m1")
	assert.Equal(t, before.MirrorMessageID, after.MirrorMessageID)

	post := f.client.Sent(mirrorChannel)[after.MirrorMessageID]
	require.NotNil(t, post)
	assert.Equal(t, 1, post.Edits)
	assert.Equal(t, "6 🟩 1 🟥", post.Embed.Fields[0].Value)
	assert.Equal(t, 1, f.client.CallCount("SendEmbed"))

	// Unchanged tally does not touch the mirror
	tr, err = f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, TransitionNone, tr)
	assert.Equal(t, 1, f.client.CallCount("EditEmbed"))
}

func TestRefreshRepostsMirrorDeletedOutOfBand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, types.ColorGreen, sources(6)...)

	_, err := f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	old, _ := f.proj.Entry("m1")
	f.client.DropSent(old.MirrorMessageID)

	f.add(t, types.ColorGreen, "late")
	tr, err := f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, TransitionInsert, tr)

	fresh, ok := f.proj.Entry("m1")
	require.True(t, ok)
	assert.NotEqual(t, old.MirrorMessageID, fresh.MirrorMessageID)
	assert.Len(t, f.client.Sent(mirrorChannel), 1)
	f.assertConsistent(t)
}

func TestRefreshDeleteToleratesMissingMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, types.ColorGreen, sources(6)...)

	_, err := f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	entry, _ := f.proj.Entry("m1")
	f.client.DropSent(entry.MirrorMessageID)

	f.remove(t, types.ColorGreen, sources(6)...)
	tr, err := f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, TransitionDelete, tr)
	assert.Zero(t, f.proj.Len())
}

func TestChannelResolvedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, types.ColorGreen, sources(6)...)

	_, err := f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)
	f.add(t, types.ColorRed, "x")
	_, err = f.proj.Refresh(ctx, "m1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.client.CallCount("FindChannel"))
}

func TestRefreshMissingChannel(t *testing.T) {
	f := newFixture(t)
	f.proj.channelName = "nope"
	f.add(t, types.ColorGreen, sources(6)...)

	tr, err := f.proj.Refresh(context.Background(), "m1")
	assert.ErrorIs(t, err, platform.ErrNotFound)
	assert.Equal(t, TransitionNone, tr)
	assert.Zero(t, f.proj.Len())
}

type failingStore struct {
	Persister
	fail  bool
	saves int
}

func (s *failingStore) PutSquareboardEntry(string, *types.SquareboardEntry) error {
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func (s *failingStore) DeleteSquareboardEntry(string) error {
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func (s *failingStore) SaveSquareboard(map[string]*types.SquareboardEntry) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.saves++
	return nil
}

func TestPersistenceFailureMarksDirty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := &failingStore{fail: true}
	f.proj.store = store
	f.add(t, types.ColorGreen, sources(6)...)

	tr, err := f.proj.Refresh(ctx, "m1")
	assert.ErrorIs(t, err, storage.ErrPersistence)
	assert.Equal(t, TransitionInsert, tr)
	assert.True(t, f.proj.Dirty())
	f.assertConsistent(t)

	store.fail = false
	require.NoError(t, f.proj.Flush())
	assert.False(t, f.proj.Dirty())
	assert.Equal(t, 1, store.saves)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.AddMessage("general", "m2", "alice", "second")
	f.cache.Put(&types.CachedMessage{ID: "m2", ChannelID: "general", AuthorID: "alice", OriginalContent: "second"})

	f.add(t, types.ColorGreen, sources(6)...)
	tx := types.NewTransaction()
	for _, s := range sources(6) {
		tx.Add(types.ColorRed, types.Reaction{MessageID: "m2", TargetID: "alice", SourceID: s})
	}
	require.Zero(t, f.store.Apply(tx))

	// A stale entry whose message no longer qualifies
	f.proj.entries["gone"] = &types.SquareboardEntry{MirrorMessageID: "post-missing"}

	result, err := f.proj.Rebuild(ctx, func(id string) bool { return id == "m2" })
	require.NoError(t, err)
	assert.Equal(t, 1, result[TransitionInsert])
	assert.Equal(t, 1, result[TransitionDelete])

	_, ok := f.proj.Entry("m2")
	assert.False(t, ok, "skipped message must not be mirrored")
	f.assertConsistent(t)
}
