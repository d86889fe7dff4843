package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/squares/pkg/events"
	"github.com/cuemby/squares/pkg/log"
	"github.com/cuemby/squares/pkg/messages"
	"github.com/cuemby/squares/pkg/platform"
	"github.com/cuemby/squares/pkg/reactions"
	"github.com/cuemby/squares/pkg/reconciler"
	"github.com/cuemby/squares/pkg/squareboard"
	"github.com/cuemby/squares/pkg/storage"
	"github.com/cuemby/squares/pkg/types"
	"github.com/rs/zerolog"
)

// ErrPersistence is returned when an aggregate could not be written. The
// in-memory state stays ahead of disk until the next successful write.
var ErrPersistence = storage.ErrPersistence

// DefaultFetchTimeout bounds the upstream fetch of one event
const DefaultFetchTimeout = 10 * time.Second

// Manager owns the reaction store, message cache and squareboard, and
// serializes every mutation of them behind one lock
type Manager struct {
	mu sync.Mutex

	client       platform.Client
	users        *platform.UserCache
	store        storage.Store
	reactions    *reactions.Store
	messages     *messages.Cache
	squareboard  *squareboard.Projection
	reconciler   *reconciler.Reconciler
	eventBroker  *events.Broker
	hidden       map[string]struct{}
	fetchTimeout time.Duration

	// Set after a failed write; the next commit rewrites the whole aggregate
	reactionsDirty bool
	messagesDirty  bool

	logger zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	DataDir string
	Client  platform.Client

	// Store overrides the bbolt store opened in DataDir
	Store storage.Store

	ChannelName  string
	HiddenUsers  []string
	FetchTimeout time.Duration
}

// NewManager loads the three aggregates and wires them together
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Client == nil {
		return nil, errors.New("platform client is required")
	}

	store := cfg.Store
	if store == nil {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		bolt, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		store = bolt
	}

	records, cached, entries, err := load(store)
	if err != nil {
		if cfg.Store == nil {
			_ = store.Close()
		}
		return nil, err
	}

	hidden := make(map[string]struct{}, len(cfg.HiddenUsers))
	for _, id := range cfg.HiddenUsers {
		hidden[id] = struct{}{}
	}

	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	users := platform.NewUserCache(cfg.Client)
	reactionStore := reactions.Load(records)
	cache := messages.NewCache(cached)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		client:    cfg.Client,
		users:     users,
		store:     store,
		reactions: reactionStore,
		messages:  cache,
		squareboard: squareboard.NewProjection(squareboard.Config{
			Client:      cfg.Client,
			Users:       users,
			Scores:      reactionStore,
			Messages:    cache,
			Store:       store,
			ChannelName: cfg.ChannelName,
		}, entries),
		reconciler:   reconciler.NewReconciler(reconciler.Policy{SelfID: cfg.Client.SelfID()}),
		eventBroker:  eventBroker,
		hidden:       hidden,
		fetchTimeout: timeout,
		logger:       log.WithComponent("manager"),
	}

	m.logger.Info().
		Int("reactions", len(records)).
		Int("messages", cache.Len()).
		Int("squareboard", m.squareboard.Len()).
		Msg("Loaded state")

	return m, nil
}

func load(store storage.Store) ([]types.Change, map[string]*types.CachedMessage, map[string]*types.SquareboardEntry, error) {
	records, err := store.LoadReactions()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load reactions: %w", err)
	}
	cached, err := store.LoadMessages()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load message cache: %w", err)
	}
	entries, err := store.LoadSquareboard()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load squareboard: %w", err)
	}
	return records, cached, entries, nil
}

// EventBroker returns the broker commits are published on
func (m *Manager) EventBroker() *events.Broker {
	return m.eventBroker
}

// Users returns the shared identity cache
func (m *Manager) Users() *platform.UserCache {
	return m.users
}

// Ping checks that the store is readable
func (m *Manager) Ping(_ context.Context) error {
	return m.store.Ping()
}

// IsHidden reports whether a user is excluded from public aggregation
func (m *Manager) IsHidden(userID string) bool {
	_, ok := m.hidden[userID]
	return ok
}

// Flush rewrites any aggregate whose last write failed
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	var errs []error
	if m.reactionsDirty {
		if err := m.persistReactions(nil); err != nil {
			errs = append(errs, err)
		}
	}
	if m.messagesDirty {
		if err := m.persistMessages(nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.squareboard.Flush(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close flushes dirty state, stops the broker and closes the store
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flushErr := m.flushLocked()
	if flushErr != nil {
		m.logger.Error().Err(flushErr).Msg("Failed to flush state on close")
	}
	m.eventBroker.Stop()
	return errors.Join(flushErr, m.store.Close())
}
