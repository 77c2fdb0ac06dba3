package authstore

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/constants"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/kvstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	origin = "https://dapp.example"
	evmA   = "0x1111111111111111111111111111111111111111"
	evmB   = "0x2222222222222222222222222222222222222222"
	evmC   = "0x3333333333333333333333333333333333333333"
	alice  = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
)

type countingKV struct {
	kvstore.PersistentKV
	gets    atomic.Int32
	failSet atomic.Bool
}

func (c *countingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets.Add(1)
	return c.PersistentKV.Get(ctx, key)
}

func (c *countingKV) Set(ctx context.Context, key string, value []byte) error {
	if c.failSet.Load() {
		return errors.New("disk full")
	}
	return c.PersistentKV.Set(ctx, key, value)
}

func newCatalog(t *testing.T) *chains.Catalog {
	t.Helper()
	c, err := chains.NewCatalog(context.Background(), kvstore.NewMemory(), []chains.Chain{
		{Key: "ethereum", Kind: accounts.KindEvm, ChainID: 1, Enabled: true},
		{Key: "polygon", Kind: accounts.KindEvm, ChainID: 137, Enabled: true},
		{Key: "moonbeam", Kind: accounts.KindEvm, ChainID: 1284},
		{Key: "polkadot", Kind: accounts.KindSubstrate, GenesisHash: "0x91b1"},
	}, []chains.SiteDefault{{Domain: "moonbeam.network", Chain: "moonbeam"}})
	require.NoError(t, err)
	return c
}

func TestStore_ColdLoadOnceThenCache(t *testing.T) {
	ctx := context.Background()
	mem := kvstore.NewMemory()
	seeded := AuthUrls{origin: {ID: origin, IsAllowed: true, IsAllowedMap: map[string]bool{evmA: true}, AccountAuthType: accounts.KindEvm}}
	require.NoError(t, kvstore.WriteJSON(ctx, mem, constants.AuthUrlsKey, seeded))

	kv := &countingKV{PersistentKV: mem}
	s := New(kv, newCatalog(t))

	for i := 0; i < 3; i++ {
		got, err := s.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, seeded, got)
	}
	assert.EqualValues(t, 1, kv.gets.Load())
}

func TestStore_RoundTripsExactly(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	s := New(kv, newCatalog(t))

	in := AuthUrls{origin: {
		ID:                   origin,
		URL:                  "https://dapp.example/swap?x=1",
		IsAllowed:            true,
		IsAllowedMap:         map[string]bool{evmA: true, evmB: false},
		AccountAuthType:      accounts.KindBoth,
		CurrentEvmNetworkKey: "polygon",
	}}
	require.NoError(t, s.SetAll(ctx, in))

	raw, ok, err := kv.Get(ctx, constants.AuthUrlsKey)
	require.NoError(t, err)
	require.True(t, ok)

	var decoded AuthUrls
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, in, decoded)

	fresh := New(kv, newCatalog(t))
	got, err := fresh.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestStore_GetAllReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory(), newCatalog(t))
	require.NoError(t, s.SetAll(ctx, AuthUrls{origin: {ID: origin, IsAllowedMap: map[string]bool{evmA: true}}}))

	got, err := s.GetAll(ctx)
	require.NoError(t, err)
	got[origin].IsAllowedMap[evmA] = false

	again, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.True(t, again[origin].IsAllowedMap[evmA])
}

func TestStore_PersistFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	kv := &countingKV{PersistentKV: kvstore.NewMemory()}
	s := New(kv, newCatalog(t))

	kv.failSet.Store(true)
	err := s.SetAll(ctx, AuthUrls{origin: {ID: origin}})
	require.Error(t, err)

	got, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, origin)
}

func TestStore_SubscribeReplaysThenStreams(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory(), newCatalog(t))
	require.NoError(t, s.SetAll(ctx, AuthUrls{origin: {ID: origin}}))

	ch := make(chan AuthUrls, 4)
	sub, err := s.Subscribe(ctx, ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case first := <-ch:
		assert.Contains(t, first, origin)
	case <-time.After(time.Second):
		t.Fatal("no replay")
	}

	require.NoError(t, s.Forget(ctx, origin))
	select {
	case next := <-ch:
		assert.NotContains(t, next, origin)
	case <-time.After(time.Second):
		t.Fatal("no live update")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	s := New(kv, newCatalog(t))
	require.NoError(t, s.SetAll(ctx, AuthUrls{origin: {ID: origin}}))

	require.NoError(t, s.Reset(ctx))

	got, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	stored, ok, err := kvstore.ReadJSON[AuthUrls](ctx, kv, constants.AuthUrlsKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, stored)
}

func TestStore_BeginAuthorizationGuardsOrigin(t *testing.T) {
	s := New(kvstore.NewMemory(), newCatalog(t))

	release, err := s.BeginAuthorization(origin)
	require.NoError(t, err)

	_, err = s.BeginAuthorization(origin)
	require.ErrorIs(t, err, rpcerr.ErrAuthPending)

	other, err := s.BeginAuthorization("https://other.example")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := s.BeginAuthorization(origin)
	require.NoError(t, err)
	again()
}

func TestStore_ApproveAndDeny(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory(), newCatalog(t))
	candidates := []accounts.Account{
		{Address: evmA, Kind: accounts.KindEvm},
		{Address: evmB, Kind: accounts.KindEvm},
		{Address: alice, Kind: accounts.KindSubstrate},
	}

	require.NoError(t, s.Approve(ctx, Grant{
		Origin: origin, Kind: accounts.KindEvm, Selected: []string{evmA},
		Candidates: candidates, NetworkKey: "ethereum",
	}))

	info, ok, err := s.Get(ctx, origin)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, info.IsAllowed)
	assert.Equal(t, map[string]bool{evmA: true, evmB: false}, info.IsAllowedMap)
	assert.Equal(t, accounts.KindEvm, info.AccountAuthType)
	assert.Equal(t, "ethereum", info.CurrentEvmNetworkKey)

	require.NoError(t, s.Approve(ctx, Grant{
		Origin: origin, Kind: accounts.KindSubstrate, Selected: []string{alice}, Candidates: candidates,
	}))
	info, _, err = s.Get(ctx, origin)
	require.NoError(t, err)
	assert.Equal(t, accounts.KindBoth, info.AccountAuthType)
	assert.True(t, info.IsAllowedMap[alice])

	require.NoError(t, s.Deny(ctx, origin, "", accounts.KindEvm))
	info, _, err = s.Get(ctx, origin)
	require.NoError(t, err)
	assert.False(t, info.IsAllowed)
	assert.Equal(t, accounts.KindBoth, info.AccountAuthType)
	assert.False(t, info.AllowsAccount(evmA))
}

func TestStore_EditsRequireKnownOrigin(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory(), newCatalog(t))

	require.ErrorIs(t, s.SetAllowed(ctx, origin, true), rpcerr.ErrUnauthorized)
	require.ErrorIs(t, s.SetOriginAccounts(ctx, origin, map[string]bool{evmA: true}), rpcerr.ErrUnauthorized)

	require.NoError(t, s.SetCurrentEvmNetwork(ctx, origin, "polygon"))
	require.NoError(t, s.SetOriginAccounts(ctx, origin, map[string]bool{evmC: true}))
	require.NoError(t, s.SetAllowed(ctx, origin, true))

	info, _, err := s.Get(ctx, origin)
	require.NoError(t, err)
	assert.True(t, info.AllowsAccount(evmC))
	assert.Equal(t, "polygon", info.CurrentEvmNetworkKey)
}

func TestResolveDAppChain(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, s *Store)
		opts    ResolveOptions
		wantKey string
	}{
		{
			name:    "first enabled in declaration order",
			opts:    ResolveOptions{AccountKind: accounts.KindEvm, OriginID: origin},
			wantKey: "ethereum",
		},
		{
			name: "recorded network wins",
			setup: func(t *testing.T, s *Store) {
				require.NoError(t, s.SetCurrentEvmNetwork(ctx, origin, "polygon"))
			},
			opts:    ResolveOptions{AccountKind: accounts.KindEvm, OriginID: origin},
			wantKey: "polygon",
		},
		{
			name: "recorded but disabled network is skipped",
			setup: func(t *testing.T, s *Store) {
				require.NoError(t, s.SetCurrentEvmNetwork(ctx, origin, "moonbeam"))
			},
			opts:    ResolveOptions{AccountKind: accounts.KindEvm, OriginID: origin},
			wantKey: "ethereum",
		},
		{
			name:    "site default",
			opts:    ResolveOptions{AccountKind: accounts.KindEvm, OriginID: "https://apps.moonbeam.network"},
			wantKey: "moonbeam",
		},
		{
			name:    "preferred key",
			opts:    ResolveOptions{AccountKind: accounts.KindEvm, PreferredNetworkKey: "polygon"},
			wantKey: "polygon",
		},
		{
			name:    "first known when none enabled",
			opts:    ResolveOptions{AccountKind: accounts.KindSubstrate},
			wantKey: "polkadot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(kvstore.NewMemory(), newCatalog(t))
			if tt.setup != nil {
				tt.setup(t, s)
			}
			ch, ok := s.ResolveDAppChain(ctx, tt.opts)
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, ch.Key)
		})
	}
}

func TestResolveDAppChain_AutoActivate(t *testing.T) {
	catalog := newCatalog(t)
	s := New(kvstore.NewMemory(), catalog)

	ch, ok := s.ResolveDAppChain(context.Background(), ResolveOptions{
		AccountKind: accounts.KindEvm, OriginID: "https://moonbeam.network", AutoActivate: true,
	})
	require.True(t, ok)
	assert.Equal(t, "moonbeam", ch.Key)

	assert.Eventually(t, func() bool { return catalog.IsEnabled("moonbeam") }, time.Second, 10*time.Millisecond)
}

func TestVisibleAccounts(t *testing.T) {
	reg, err := accounts.NewRegistry([]accounts.Account{
		{Address: evmA}, {Address: evmB}, {Address: evmC}, {Address: alice},
	})
	require.NoError(t, err)

	info := AuthUrlInfo{
		ID:              origin,
		IsAllowed:       true,
		IsAllowedMap:    map[string]bool{evmA: true, evmB: false, evmC: true, alice: true},
		AccountAuthType: accounts.KindBoth,
	}

	assert.Equal(t, []string{evmA, evmC}, VisibleAccounts(info, true, reg, accounts.KindEvm))
	assert.Equal(t, []string{alice}, VisibleAccounts(info, true, reg, accounts.KindSubstrate))

	require.NoError(t, reg.SetFocused(evmC))
	assert.Equal(t, []string{evmC, evmA}, VisibleAccounts(info, true, reg, accounts.KindEvm))

	require.NoError(t, reg.SetFocused(evmB))
	assert.Equal(t, []string{evmA, evmC}, VisibleAccounts(info, true, reg, accounts.KindEvm))

	info.IsAllowed = false
	assert.Empty(t, VisibleAccounts(info, true, reg, accounts.KindEvm))
	assert.Empty(t, VisibleAccounts(AuthUrlInfo{}, false, reg, accounts.KindEvm))
}

func TestNormalizeOrigin(t *testing.T) {
	got, err := NormalizeOrigin("HTTPS://Dapp.Example/path?q=1#frag")
	require.NoError(t, err)
	assert.Equal(t, origin, got)

	_, err = NormalizeOrigin("dapp.example")
	require.ErrorIs(t, err, rpcerr.ErrUnauthorized)
}
