// Package authstore owns the per-origin permission map. It is the only writer
// of AuthUrls; everything else reads through it.
package authstore

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/constants"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/kvstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// ChainCatalog is the part of the chain registry chain resolution needs.
type ChainCatalog interface {
	Get(key string) (chains.Chain, bool)
	SiteDefault(origin string, kind accounts.Kind) (chains.Chain, bool)
	FirstEnabled(kind accounts.Kind) (chains.Chain, bool)
	First(kind accounts.Kind) (chains.Chain, bool)
	Enable(ctx context.Context, keys ...string) error
}

type Store struct {
	kv      kvstore.PersistentKV
	catalog ChainCatalog

	// wmu serializes writers and feed sends.
	wmu sync.Mutex

	mu     sync.RWMutex
	cache  AuthUrls
	loaded bool

	feed event.Feed

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

func New(kv kvstore.PersistentKV, catalog ChainCatalog) *Store {
	return &Store{
		kv:      kv,
		catalog: catalog,
		pending: make(map[string]struct{}),
	}
}

// GetAll returns a copy of the cached map, loading it once on a cold cache.
func (s *Store) GetAll(ctx context.Context) (AuthUrls, error) {
	s.mu.RLock()
	if s.loaded {
		out := s.cache.Clone()
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	s.wmu.Lock()
	defer s.wmu.Unlock()

	m, err := s.getAllLocked(ctx)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// getAllLocked requires wmu. The returned map is the cache itself.
func (s *Store) getAllLocked(ctx context.Context) (AuthUrls, error) {
	s.mu.RLock()
	if s.loaded {
		m := s.cache
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	m, _, err := kvstore.ReadJSON[AuthUrls](ctx, s.kv, constants.AuthUrlsKey)
	if err != nil {
		return nil, errors.Wrap(err, "load auth urls")
	}
	if m == nil {
		m = AuthUrls{}
	}

	s.mu.Lock()
	s.cache = m
	s.loaded = true
	s.mu.Unlock()
	return m, nil
}

func (s *Store) Get(ctx context.Context, origin string) (AuthUrlInfo, bool, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return AuthUrlInfo{}, false, err
	}
	info, ok := all[origin]
	return info, ok, nil
}

// SetAll replaces the whole map. Callers read-modify-write; see Mutate.
func (s *Store) SetAll(ctx context.Context, m AuthUrls) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.setAllLocked(ctx, m.Clone())
}

func (s *Store) setAllLocked(ctx context.Context, m AuthUrls) error {
	if m == nil {
		m = AuthUrls{}
	}
	persistErr := kvstore.WriteJSON(ctx, s.kv, constants.AuthUrlsKey, m)

	// the cache stays the source of truth until the next successful write
	s.mu.Lock()
	s.cache = m
	s.loaded = true
	s.mu.Unlock()

	s.feed.Send(m.Clone())

	if persistErr != nil {
		return errors.Wrap(persistErr, "persist auth urls")
	}
	return nil
}

// Mutate applies fn to a copy of the current map and stores the result.
func (s *Store) Mutate(ctx context.Context, fn func(AuthUrls) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	current, err := s.getAllLocked(ctx)
	if err != nil {
		return err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	return s.setAllLocked(ctx, next)
}

// Subscribe delivers the current map to ch, then every later update.
func (s *Store) Subscribe(ctx context.Context, ch chan<- AuthUrls) (event.Subscription, error) {
	s.wmu.Lock()
	current, err := s.getAllLocked(ctx)
	if err != nil {
		s.wmu.Unlock()
		return nil, err
	}
	snapshot := current.Clone()
	in := make(chan AuthUrls)
	inner := s.feed.Subscribe(in)
	s.wmu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()

		select {
		case ch <- snapshot:
		case <-quit:
			return nil
		}
		for {
			select {
			case v := <-in:
				select {
				case ch <- v:
				case <-quit:
					return nil
				}
			case err := <-inner.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// Republish pushes the current map again without changing it, for changes
// outside the map (focused account) that alter what subscribers derive.
func (s *Store) Republish(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	current, err := s.getAllLocked(ctx)
	if err != nil {
		return err
	}
	s.feed.Send(current.Clone())
	return nil
}

// Reset clears every entry and persists the empty map.
func (s *Store) Reset(ctx context.Context) error {
	log.Info("resetting authorizations")
	return s.SetAll(ctx, AuthUrls{})
}

// BeginAuthorization marks an authorization prompt for origin as in flight.
// A second call for the same origin fails with ErrAuthPending until release.
func (s *Store) BeginAuthorization(origin string) (release func(), err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if _, ok := s.pending[origin]; ok {
		return nil, errors.Wrapf(rpcerr.ErrAuthPending, "origin %s", origin)
	}
	s.pending[origin] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.pendingMu.Lock()
			delete(s.pending, origin)
			s.pendingMu.Unlock()
		})
	}, nil
}

// ResolveOptions selects how ResolveDAppChain picks a chain.
type ResolveOptions struct {
	AccountKind         accounts.Kind
	AutoActivate        bool
	PreferredNetworkKey string
	OriginID            string
}

// ResolveDAppChain picks the chain a dApp should see. Order: explicit
// preference, the origin's recorded network if still enabled, the site
// default table, the first enabled chain of the kind, the first known chain
// of the kind. With AutoActivate a disabled pick is enabled in the background.
func (s *Store) ResolveDAppChain(ctx context.Context, opts ResolveOptions) (chains.Chain, bool) {
	kind := opts.AccountKind
	if kind == accounts.KindUnknown || kind == accounts.KindBoth {
		kind = accounts.KindEvm
	}

	pick, ok := s.pickChain(ctx, kind, opts)
	if !ok {
		return chains.Chain{}, false
	}

	if opts.AutoActivate && !pick.Enabled {
		key := pick.Key
		go func() {
			if err := s.catalog.Enable(context.Background(), key); err != nil {
				log.Warn("auto-activate chain failed", "chain", key, "error", err)
				return
			}
			log.Info("auto-activated chain", "chain", key)
		}()
	}
	return pick, true
}

func (s *Store) pickChain(ctx context.Context, kind accounts.Kind, opts ResolveOptions) (chains.Chain, bool) {
	if key := strings.TrimSpace(opts.PreferredNetworkKey); key != "" {
		if ch, ok := s.catalog.Get(key); ok && ch.Kind == kind {
			return ch, true
		}
	}

	if opts.OriginID != "" && kind == accounts.KindEvm {
		info, found, err := s.Get(ctx, opts.OriginID)
		if err != nil {
			log.Warn("resolve chain: auth lookup failed", "origin", opts.OriginID, "error", err)
		}
		if found && info.CurrentEvmNetworkKey != "" {
			if ch, ok := s.catalog.Get(info.CurrentEvmNetworkKey); ok && ch.Enabled && ch.Kind == kind {
				return ch, true
			}
		}
	}

	if opts.OriginID != "" {
		if ch, ok := s.catalog.SiteDefault(opts.OriginID, kind); ok {
			return ch, true
		}
	}

	if ch, ok := s.catalog.FirstEnabled(kind); ok {
		return ch, true
	}
	return s.catalog.First(kind)
}
