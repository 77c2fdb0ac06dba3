package authstore

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// Grant describes an approved authorization prompt.
type Grant struct {
	Origin     string
	URL        string
	Kind       accounts.Kind
	Selected   []string
	Candidates []accounts.Account
	NetworkKey string
}

// Approve records a granted authorization. Every candidate account of the
// granted kind is written into the allowed map, selected ones as true.
func (s *Store) Approve(ctx context.Context, g Grant) error {
	return s.Mutate(ctx, func(m AuthUrls) error {
		info, ok := m[g.Origin]
		if !ok {
			info = AuthUrlInfo{ID: g.Origin, IsAllowedMap: map[string]bool{}}
		}
		if info.IsAllowedMap == nil {
			info.IsAllowedMap = map[string]bool{}
		}
		if g.URL != "" {
			info.URL = g.URL
		}

		selected := make(map[string]bool, len(g.Selected))
		for _, a := range g.Selected {
			selected[accounts.Canonical(a)] = true
		}
		for _, a := range g.Candidates {
			if !g.Kind.Covers(a.Kind) {
				continue
			}
			info.IsAllowedMap[a.Address] = selected[a.Address]
		}

		info.IsAllowed = true
		info.AccountAuthType = info.AccountAuthType.Widen(g.Kind)
		if g.NetworkKey != "" && info.CurrentEvmNetworkKey == "" {
			info.CurrentEvmNetworkKey = g.NetworkKey
		}
		m[g.Origin] = info

		log.Info("origin authorized", "origin", g.Origin, "kind", g.Kind, "selected", len(selected))
		return nil
	})
}

// Deny records a rejected authorization prompt.
func (s *Store) Deny(ctx context.Context, origin, rawURL string, kind accounts.Kind) error {
	return s.Mutate(ctx, func(m AuthUrls) error {
		info, ok := m[origin]
		if !ok {
			info = AuthUrlInfo{ID: origin, URL: rawURL, IsAllowedMap: map[string]bool{}}
		}
		info.IsAllowed = false
		info.AccountAuthType = info.AccountAuthType.Widen(kind)
		m[origin] = info

		log.Info("origin denied", "origin", origin)
		return nil
	})
}

// SetOriginAccounts rewrites which accounts an origin may see.
func (s *Store) SetOriginAccounts(ctx context.Context, origin string, allowed map[string]bool) error {
	return s.Mutate(ctx, func(m AuthUrls) error {
		info, ok := m[origin]
		if !ok {
			return errors.Wrapf(rpcerr.ErrUnauthorized, "origin %s", origin)
		}
		next := make(map[string]bool, len(allowed))
		for addr, v := range allowed {
			next[accounts.Canonical(addr)] = v
			info.AccountAuthType = info.AccountAuthType.Widen(accounts.KindOf(addr))
		}
		info.IsAllowedMap = next
		m[origin] = info
		return nil
	})
}

// SetAllowed toggles an origin without forgetting its account map.
func (s *Store) SetAllowed(ctx context.Context, origin string, allowed bool) error {
	return s.Mutate(ctx, func(m AuthUrls) error {
		info, ok := m[origin]
		if !ok {
			return errors.Wrapf(rpcerr.ErrUnauthorized, "origin %s", origin)
		}
		info.IsAllowed = allowed
		m[origin] = info
		return nil
	})
}

func (s *Store) Forget(ctx context.Context, origin string) error {
	return s.Mutate(ctx, func(m AuthUrls) error {
		delete(m, origin)
		return nil
	})
}

// SetCurrentEvmNetwork commits a chain switch for origin.
func (s *Store) SetCurrentEvmNetwork(ctx context.Context, origin, networkKey string) error {
	return s.Mutate(ctx, func(m AuthUrls) error {
		info, ok := m[origin]
		if !ok {
			info = AuthUrlInfo{ID: origin, IsAllowedMap: map[string]bool{}}
		}
		info.CurrentEvmNetworkKey = networkKey
		m[origin] = info

		log.Info("origin switched network", "origin", origin, "network", networkKey)
		return nil
	})
}
