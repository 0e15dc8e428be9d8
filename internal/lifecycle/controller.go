// Package lifecycle drives a cache generation through installation and
// activation, and serves intercepted requests once it is in control.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benjaminschubert/receiptcache/internal/cachestore"
	"github.com/benjaminschubert/receiptcache/internal/clients"
	"github.com/benjaminschubert/receiptcache/internal/outbox"
	"github.com/benjaminschubert/receiptcache/internal/router"
)

// SyncTag is the background synchronization tag that replays the outbox.
const SyncTag = "sync-expenses"

var (
	ErrInstallFailed    = errors.New("installation failed")
	ErrActivationFailed = errors.New("activation failed")
	ErrNotInstalled     = errors.New("version is not installed")
)

// Storage is where generations live. It is satisfied by *cachestore.Storage.
type Storage interface {
	Open(ctx context.Context, name string) (*cachestore.Cache, error)
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
	Match(ctx context.Context, req *http.Request) (*http.Response, error)
}

type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

type Claimer interface {
	Claim(ctx context.Context, version string) (int, error)
}

type Replayer interface {
	Replay(ctx context.Context, fetcher outbox.Fetcher) (int, error)
}

type Options struct {
	// Generation names the cache owned by this version.
	Generation string
	// URLs are stored at installation. Any failure aborts it.
	URLs   []string
	Policy *router.Policy
	// SkipWaiting activates the version as soon as it is installed.
	SkipWaiting bool
	Clients     Claimer
	Outbox      Replayer
}

type Controller struct {
	generation  string
	urls        []string
	policy      *router.Policy
	skipWaiting bool

	storage Storage
	fetcher Fetcher
	clients Claimer
	outbox  Replayer
	logger  *zerolog.Logger

	// transition serializes state changes. stateLock only protects reads of
	// the current state and cache, so fetches never wait on an installation.
	transition sync.Mutex
	stateLock  sync.RWMutex
	state      State
	current    *cachestore.Cache
}

func New(storage Storage, fetcher Fetcher, opts Options, logger *zerolog.Logger) *Controller {
	return &Controller{
		generation:  opts.Generation,
		urls:        opts.URLs,
		policy:      opts.Policy,
		skipWaiting: opts.SkipWaiting,
		storage:     storage,
		fetcher:     fetcher,
		clients:     opts.Clients,
		outbox:      opts.Outbox,
		logger:      logger,
		state:       StateParsed,
	}
}

func (c *Controller) Generation() string {
	return c.generation
}

func (c *Controller) State() State {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.state
}

func (c *Controller) setState(state State, current *cachestore.Cache) {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	c.logger.Debug().Stringer("from", c.state).Stringer("to", state).Msg("Lifecycle state changed")
	c.state = state
	if current != nil {
		c.current = current
	}
}

func (c *Controller) activeCache() (*cachestore.Cache, bool) {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.current, c.state == StateActivated
}

// Install stores every manifest URL in the generation. A generation already
// installed by a previous run is reused as is. On failure the version becomes
// redundant and is never activated; calling Install again retries.
func (c *Controller) Install(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	switch c.State() {
	case StateParsed, StateRedundant:
	default:
		return nil
	}

	c.setState(StateInstalling, nil)
	logger := c.logger.With().Str("cache", c.generation).Logger()

	cache, err := c.storage.Open(ctx, c.generation)
	if err != nil {
		c.setState(StateRedundant, nil)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if cache.Installed() {
		logger.Info().Msg("Cache already installed, reusing it")
	} else {
		logger.Info().Int("urls", len(c.urls)).Msg("Caching app shell")

		if err := cache.AddAll(logger.WithContext(ctx), c.fetcher, c.urls); err != nil {
			c.setState(StateRedundant, nil)
			return fmt.Errorf("%w: %w", ErrInstallFailed, err)
		}
		if err := cache.MarkInstalled(ctx); err != nil {
			c.setState(StateRedundant, nil)
			return fmt.Errorf("%w: %w", ErrInstallFailed, err)
		}
	}

	c.setState(StateInstalled, cache)

	if !c.skipWaiting {
		logger.Info().Msg("Installed, waiting for SKIP_WAITING to activate")
		return nil
	}
	return c.activate(ctx)
}

// Activate removes every other generation and claims the connected clients.
func (c *Controller) Activate(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	return c.activate(ctx)
}

func (c *Controller) activate(ctx context.Context) error {
	switch c.State() {
	case StateActivated:
		return nil
	case StateInstalled:
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotInstalled, c.generation, c.State())
	}

	c.setState(StateActivating, nil)

	if _, err := c.EvictStale(ctx); err != nil {
		c.setState(StateInstalled, nil)
		return fmt.Errorf("%w: %s: %w", ErrActivationFailed, c.generation, err)
	}

	c.setState(StateActivated, nil)
	c.logger.Info().Str("cache", c.generation).Msg("Activated")

	if _, err := c.ClaimClients(ctx); err != nil {
		return fmt.Errorf("activated %s but unable to claim clients: %w", c.generation, err)
	}
	return nil
}

// EvictStale deletes every generation except the current one and returns the
// names that were removed.
func (c *Controller) EvictStale(ctx context.Context) ([]string, error) {
	names, err := c.storage.Keys(ctx)
	if err != nil {
		return nil, err
	}

	evicted := []string{}
	errs := []error{}

	for _, name := range names {
		if name == c.generation {
			continue
		}

		deleted, err := c.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if deleted {
			c.logger.Info().Str("cache", name).Msg("Removed old cache")
			evicted = append(evicted, name)
		}
	}

	return evicted, errors.Join(errs...)
}

// ClaimClients takes control of the already connected clients.
func (c *Controller) ClaimClients(ctx context.Context) (int, error) {
	if c.clients == nil {
		return 0, nil
	}
	return c.clients.Claim(ctx, c.generation)
}

// HandleMessage reacts to a message sent by a client. Unknown messages are
// ignored.
func (c *Controller) HandleMessage(ctx context.Context, msg clients.Message) error {
	switch msg.Type {
	case clients.MessageSkipWaiting:
		c.transition.Lock()
		defer c.transition.Unlock()

		if c.State() != StateInstalled {
			c.logger.Debug().Stringer("state", c.State()).Msg("Nothing waiting to be activated")
			return nil
		}
		return c.activate(ctx)
	case clients.MessageClearCache:
		_, err := c.EvictStale(ctx)
		return err
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil
	}
}

// Sync runs the deferred work registered under tag. The error is returned so
// the caller can retry later.
func (c *Controller) Sync(ctx context.Context, tag string) error {
	if tag != SyncTag {
		c.logger.Debug().Str("tag", tag).Msg("Ignoring unknown sync tag")
		return nil
	}
	if c.outbox == nil {
		return nil
	}

	replayed, err := c.outbox.Replay(ctx, c.fetcher)
	c.logger.Info().Err(err).Int("replayed", replayed).Msg("Background sync done")
	return err
}
