package provider

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chainrpc"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/kvstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/requests"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	origin = "https://dapp.example"
	evmA   = "0x1111111111111111111111111111111111111111"
	evmB   = "0x2222222222222222222222222222222222222222"
	evmC   = "0x3333333333333333333333333333333333333333"

	devKey  = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

type fakeRPC struct {
	mu        sync.Mutex
	live      bool
	results   map[string]json.RawMessage
	calls     []string
	probeGate chan struct{}
	probeMeta chains.Metadata
	probeErr  error
	probed    chan string
	token     chainrpc.Token
	tokenErr  error
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		live:    true,
		results: map[string]json.RawMessage{},
		probed:  make(chan string, 4),
	}
}

func (f *fakeRPC) Call(_ context.Context, _ chains.Chain, method string, _ ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if r, ok := f.results[method]; ok {
		return r, nil
	}
	return nil, &rpcerr.ProviderError{Code: -32601, Message: "method not found"}
}

func (f *fakeRPC) IsLive(context.Context, chains.Chain) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeRPC) Probe(_ context.Context, endpoint string) (chains.Metadata, error) {
	if f.probeGate != nil {
		<-f.probeGate
	}
	defer func() { f.probed <- endpoint }()
	return f.probeMeta, f.probeErr
}

func (f *fakeRPC) TokenInfo(context.Context, chains.Chain, common.Address) (chainrpc.Token, error) {
	return f.token, f.tokenErr
}

func (f *fakeRPC) set(method, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = json.RawMessage(result)
}

func (f *fakeRPC) called(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == method {
			return true
		}
	}
	return false
}

type fakeAuthz struct {
	auth     *authstore.Store
	reg      *accounts.Registry
	mu       sync.Mutex
	requests []AuthRequest
	grant    []string
	err      error
}

func (f *fakeAuthz) Authorize(ctx context.Context, req AuthRequest) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	return f.auth.Approve(ctx, authstore.Grant{
		Origin: req.Origin, Kind: req.Kind, Selected: f.grant, Candidates: f.reg.Accounts(),
	})
}

type fakeNotifier struct {
	mu      sync.Mutex
	origins []string
}

func (f *fakeNotifier) NotifyDisconnect(origin string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.origins = append(f.origins, origin)
}

type env struct {
	p        *Provider
	auth     *authstore.Store
	catalog  *chains.Catalog
	queue    *confirmations.Queue
	reg      *accounts.Registry
	rpc      *fakeRPC
	authz    *fakeAuthz
	notifier *fakeNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	catalog, err := chains.NewCatalog(ctx, kvstore.NewMemory(), []chains.Chain{
		{Key: "ethereum", Kind: accounts.KindEvm, ChainID: 1, Enabled: true, RPCs: []chains.RPC{{URL: "https://eth.example"}}},
		{Key: "polygon", Kind: accounts.KindEvm, ChainID: 137, Enabled: true, RPCs: []chains.RPC{{URL: "https://polygon.example"}}},
		{Key: "moonbeam", Kind: accounts.KindEvm, ChainID: 1284, RPCs: []chains.RPC{{URL: "https://moonbeam.example"}}},
	}, nil)
	require.NoError(t, err)

	reg, err := accounts.NewRegistry([]accounts.Account{{Address: evmA}, {Address: evmB}, {Address: evmC}, {Address: devAddr}})
	require.NoError(t, err)

	auth := authstore.New(kvstore.NewMemory(), catalog)
	localSigner, err := signer.NewLocal([]string{devKey})
	require.NoError(t, err)
	queue := confirmations.NewQueue(nil, localSigner)
	rpc := newFakeRPC()
	authz := &fakeAuthz{auth: auth, reg: reg}
	notifier := &fakeNotifier{}

	p, err := New(Deps{
		Auth: auth, Accounts: reg, Catalog: catalog, RPC: rpc,
		Confirmations: queue, Authorizer: authz, Disconnects: notifier,
	})
	require.NoError(t, err)

	return &env{p: p, auth: auth, catalog: catalog, queue: queue, reg: reg, rpc: rpc, authz: authz, notifier: notifier}
}

func (e *env) allow(t *testing.T, allowed map[string]bool) {
	t.Helper()
	require.NoError(t, e.auth.SetAll(context.Background(), authstore.AuthUrls{origin: {
		ID: origin, IsAllowed: true, IsAllowedMap: allowed, AccountAuthType: accounts.KindEvm,
	}}))
}

type result struct {
	value any
	err   error
}

func (e *env) dispatchAsync(method Method, params string) <-chan result {
	out := make(chan result, 1)
	go func() {
		v, err := e.p.Dispatch(context.Background(), Request{Origin: origin, Method: method, Params: json.RawMessage(params)})
		out <- result{v, err}
	}()
	return out
}

func (e *env) waitPending(t *testing.T, kind confirmations.Kind) requests.Entry[confirmations.Payload] {
	t.Helper()
	var entry requests.Entry[confirmations.Payload]
	require.Eventually(t, func() bool {
		list := e.queue.ListPending(kind)
		if len(list) == 0 {
			return false
		}
		entry = list[0]
		return true
	}, time.Second, 5*time.Millisecond)
	return entry
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return")
		return result{}
	}
}

func TestMethodTableCoversLocalMethods(t *testing.T) {
	e := newEnv(t)
	for _, m := range LocalMethods {
		_, ok := e.p.handlers[m]
		assert.True(t, ok, "no handler for %s", m)
	}
	assert.Len(t, e.p.handlers, len(LocalMethods))
}

func TestEthAccounts_UnauthorizedIsEmptyWithoutPrompt(t *testing.T) {
	e := newEnv(t)

	v, err := e.p.Dispatch(context.Background(), Request{Origin: origin, Method: MethodEthAccounts})
	require.NoError(t, err)
	assert.Equal(t, []string{}, v)
	assert.Equal(t, 0, e.queue.Count())
	assert.Empty(t, e.authz.requests)
}

func TestEthAccounts_VisibilityFilter(t *testing.T) {
	e := newEnv(t)
	e.allow(t, map[string]bool{evmA: true, evmB: false, evmC: true})

	v, err := e.p.Dispatch(context.Background(), Request{Origin: origin, Method: MethodEthAccounts})
	require.NoError(t, err)
	assert.Equal(t, []string{evmA, evmC}, v)

	require.NoError(t, e.reg.SetFocused(evmC))
	v, err = e.p.Dispatch(context.Background(), Request{Origin: origin, Method: MethodEthAccounts})
	require.NoError(t, err)
	assert.Equal(t, []string{evmC, evmA}, v)
}

func TestRequestAccounts(t *testing.T) {
	t.Run("already authorized does not prompt", func(t *testing.T) {
		e := newEnv(t)
		e.allow(t, map[string]bool{evmA: true})

		v, err := e.p.Dispatch(context.Background(), Request{Origin: origin, Method: MethodEthRequestAccounts})
		require.NoError(t, err)
		assert.Equal(t, []string{evmA}, v)
		assert.Empty(t, e.authz.requests)
	})

	t.Run("authorizes then lists", func(t *testing.T) {
		e := newEnv(t)
		e.authz.grant = []string{evmB}

		v, err := e.p.Dispatch(context.Background(), Request{Origin: origin, Method: MethodEthRequestAccounts})
		require.NoError(t, err)
		assert.Equal(t, []string{evmB}, v)
		require.Len(t, e.authz.requests, 1)
		assert.False(t, e.authz.requests[0].Reconfirm)
	})

	t.Run("nothing selected is a rejection", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.p.Dispatch(context.Background(), Request{Origin: origin, Method: MethodEthRequestAccounts})
		require.ErrorIs(t, err, rpcerr.ErrUserRejected)
	})

	t.Run("authorizer error propagates", func(t *testing.T) {
		e := newEnv(t)
		e.authz.err = errors.Wrap(rpcerr.ErrAuthPending, origin)
		_, err := e.p.Dispatch(context.Background(), Request{Origin: origin, Method: MethodEthRequestAccounts})
		require.ErrorIs(t, err, rpcerr.ErrAuthPending)
	})
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.allow(t, map[string]bool{evmA: true})
	e.authz.grant = []string{evmA, evmC}

	v, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodRequestPermissions, Params: json.RawMessage(`[{"eth_accounts":{}}]`)})
	require.NoError(t, err)
	require.Len(t, e.authz.requests, 1)
	assert.True(t, e.authz.requests[0].Reconfirm)

	perms := v.([]Permission)
	require.Len(t, perms, 1)
	assert.Equal(t, "eth_accounts", perms[0].ParentCapability)
	assert.Equal(t, []string{evmA, evmC}, perms[0].Caveats[0].Value)

	_, err = e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodRequestPermissions, Params: json.RawMessage(`[{"snap_x":{}}]`)})
	require.ErrorIs(t, err, rpcerr.ErrInvalidParams)

	_, err = e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodRevokePermissions, Params: json.RawMessage(`[{"eth_accounts":{}}]`)})
	require.NoError(t, err)

	v, err = e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodGetPermissions})
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestChainIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	v, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodEthChainID})
	require.NoError(t, err)
	assert.Equal(t, "0x1", v)

	require.NoError(t, e.auth.SetCurrentEvmNetwork(ctx, origin, "polygon"))
	v, err = e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodEthChainID})
	require.NoError(t, err)
	assert.Equal(t, "0x89", v)

	v, err = e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodNetVersion})
	require.NoError(t, err)
	assert.Equal(t, "137", v)
}

func TestAddEthereumChain_KnownEnabledSwitchesDirectly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	v, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodAddEthereumChain,
		Params: json.RawMessage(`[{"chainId":"0x89","chainName":"Polygon","rpcUrls":["https://polygon-rpc.com"]}]`)})
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 0, e.queue.Count())

	info, ok, err := e.auth.Get(ctx, origin)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "polygon", info.CurrentEvmNetworkKey)
}

func TestSwitchEthereumChain(t *testing.T) {
	ctx := context.Background()

	t.Run("same chain is a no-op", func(t *testing.T) {
		e := newEnv(t)
		v, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodSwitchEthereumChain, Params: json.RawMessage(`[{"chainId":"0x1"}]`)})
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.Equal(t, 0, e.queue.Count())
		_, found, err := e.auth.Get(ctx, origin)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("known enabled", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodSwitchEthereumChain, Params: json.RawMessage(`[{"chainId":"0x89"}]`)})
		require.NoError(t, err)
		assert.Equal(t, "0x89", e.p.ChainIDHex(ctx, origin))
	})

	t.Run("known disabled asks first", func(t *testing.T) {
		e := newEnv(t)
		res := e.dispatchAsync(MethodSwitchEthereumChain, `[{"chainId":"0x504"}]`)

		entry := e.waitPending(t, confirmations.KindSwitchNetwork)
		assert.Equal(t, "moonbeam", entry.Payload.SwitchNetwork.ChainKey)
		assert.False(t, e.catalog.IsEnabled("moonbeam"))

		require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, nil))
		r := await(t, res)
		require.NoError(t, r.err)
		assert.True(t, e.catalog.IsEnabled("moonbeam"))
		assert.Equal(t, "0x504", e.p.ChainIDHex(ctx, origin))
	})

	t.Run("known disabled rejected", func(t *testing.T) {
		e := newEnv(t)
		res := e.dispatchAsync(MethodSwitchEthereumChain, `[{"chainId":"0x504"}]`)
		entry := e.waitPending(t, confirmations.KindSwitchNetwork)

		require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, rpcerr.ErrUserRejected))
		r := await(t, res)
		require.ErrorIs(t, r.err, rpcerr.ErrUserRejected)
		assert.False(t, e.catalog.IsEnabled("moonbeam"))
	})

	t.Run("unknown chain", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodSwitchEthereumChain, Params: json.RawMessage(`[{"chainId":"0xa"}]`)})
		require.ErrorIs(t, err, rpcerr.ErrUnrecognizedChain)
		assert.Equal(t, rpcerr.CodeUnrecognizedChain, rpcerr.Code(err))
		assert.Equal(t, 0, e.queue.Count())
	})

	t.Run("bad chain id", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodSwitchEthereumChain, Params: json.RawMessage(`[{"chainId":"polygon"}]`)})
		require.ErrorIs(t, err, rpcerr.ErrInvalidParams)
	})
}

func TestAddNetwork_RejectsInvalidCandidateSynchronously(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	tests := []string{
		`[{"chainId":"0xa","chainName":"OP","rpcUrls":["wss://op.example","ftp://op.example"]}]`,
		`[{"chainId":"0xa","chainName":"OP","rpcUrls":[]}]`,
		`[{"chainId":"0x0","rpcUrls":["https://x.example"]}]`,
		`[{"chainId":"zz","rpcUrls":["https://x.example"]}]`,
		`["not an object"]`,
	}
	for _, params := range tests {
		t.Run(params, func(t *testing.T) {
			_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodAddEthereumChain, Params: json.RawMessage(params)})
			require.ErrorIs(t, err, rpcerr.ErrInvalidCandidate)
			assert.Equal(t, 0, e.queue.Count())
		})
	}
}

const opParams = `[{"chainId":"0xa","chainName":"OP Mainnet","rpcUrls":["https://op.example"],
	"nativeCurrency":{"name":"Ether","symbol":"ETH","decimals":18},"blockExplorerUrls":["https://optimistic.etherscan.io"]}]`

func TestAddNetwork_ProbeAnnotatesPendingDraft(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.rpc.probeMeta = chains.Metadata{RPCURL: "https://op.example", ChainID: 10, ChainIDHex: "0xa", ClientVersion: "op-geth"}

	res := e.dispatchAsync(MethodAddEthereumChain, opParams)
	entry := e.waitPending(t, confirmations.KindAddNetwork)
	assert.Equal(t, uint64(10), entry.Payload.AddNetwork.Chain.ChainID)

	require.Eventually(t, func() bool {
		got, ok := e.queue.Get(entry.ID)
		return ok && got.Payload.AddNetwork.Probed
	}, time.Second, 5*time.Millisecond)
	got, _ := e.queue.Get(entry.ID)
	require.NotNil(t, got.Payload.AddNetwork.Metadata)
	assert.Equal(t, "op-geth", got.Payload.AddNetwork.Metadata.ClientVersion)
	assert.Empty(t, got.Payload.AddNetwork.ProbeError)

	require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, nil))
	r := await(t, res)
	require.NoError(t, r.err)
	assert.Nil(t, r.value)

	added, ok := e.catalog.FindByChainID(10)
	require.True(t, ok)
	assert.True(t, added.Enabled)
	assert.Equal(t, "OP Mainnet", added.Name)
	assert.Equal(t, "0xa", e.p.ChainIDHex(ctx, origin))
}

func TestAddNetwork_SameChainFromTwoOrigins(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.rpc.probeMeta = chains.Metadata{RPCURL: "https://op.example", ChainID: 10, ChainIDHex: "0xa"}
	const other = "https://other.example"

	first := e.dispatchAsync(MethodAddEthereumChain, opParams)
	second := make(chan result, 1)
	go func() {
		v, err := e.p.Dispatch(ctx, Request{Origin: other, Method: MethodAddEthereumChain, Params: json.RawMessage(opParams)})
		second <- result{v, err}
	}()

	var entries []requests.Entry[confirmations.Payload]
	require.Eventually(t, func() bool {
		entries = e.queue.ListPending(confirmations.KindAddNetwork)
		return len(entries) == 2
	}, time.Second, 5*time.Millisecond)

	for _, entry := range entries {
		require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, nil))
	}
	require.NoError(t, await(t, first).err)
	require.NoError(t, await(t, second).err)

	n := 0
	for _, ch := range e.catalog.List() {
		if ch.ChainID == 10 {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, "0xa", e.p.ChainIDHex(ctx, origin))
	assert.Equal(t, "0xa", e.p.ChainIDHex(ctx, other))
}

func TestAddNetwork_ProbeMismatchIsRecordedNotRejected(t *testing.T) {
	e := newEnv(t)
	e.rpc.probeMeta = chains.Metadata{ChainID: 11}

	res := e.dispatchAsync(MethodAddEthereumChain, opParams)
	entry := e.waitPending(t, confirmations.KindAddNetwork)

	require.Eventually(t, func() bool {
		got, ok := e.queue.Get(entry.ID)
		return ok && got.Payload.AddNetwork.ProbeError != ""
	}, time.Second, 5*time.Millisecond)
	assertNotSettled(t, res)

	require.NoError(t, e.queue.Complete(context.Background(), entry.ID, confirmations.Outcome{}, rpcerr.ErrUserRejected))
	r := await(t, res)
	require.ErrorIs(t, r.err, rpcerr.ErrUserRejected)
	_, ok := e.catalog.FindByChainID(10)
	assert.False(t, ok)
}

func assertNotSettled(t *testing.T, ch <-chan result) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("settled early: %v", r.err)
	default:
	}
}

func TestAddNetwork_ApprovalBeforeProbeIgnoresLateProbe(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.rpc.probeGate = make(chan struct{})
	e.rpc.probeMeta = chains.Metadata{ChainID: 10, NativeSymbol: "PROBED"}

	res := e.dispatchAsync(MethodAddEthereumChain, opParams)
	entry := e.waitPending(t, confirmations.KindAddNetwork)

	confirmed := entry.Payload.AddNetwork.Chain
	confirmed.Name = "Optimism (confirmed)"
	require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{Chain: &confirmed}, nil))

	r := await(t, res)
	require.NoError(t, r.err)

	close(e.rpc.probeGate)
	select {
	case <-e.rpc.probed:
	case <-time.After(time.Second):
		t.Fatal("probe never ran")
	}
	e.p.Wait()

	_, stillThere := e.queue.Get(entry.ID)
	assert.False(t, stillThere)
	assert.Equal(t, 0, e.queue.Count())

	added, ok := e.catalog.FindByChainID(10)
	require.True(t, ok)
	assert.Equal(t, "Optimism (confirmed)", added.Name)
	assert.Equal(t, "ETH", added.NativeSymbol)
}

func TestAddNetwork_ConfirmedChainCannotChangeID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	res := e.dispatchAsync(MethodAddEthereumChain, opParams)
	entry := e.waitPending(t, confirmations.KindAddNetwork)

	tampered := entry.Payload.AddNetwork.Chain
	tampered.ChainID = 1
	require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{Chain: &tampered}, nil))

	r := await(t, res)
	require.ErrorIs(t, r.err, rpcerr.ErrInvalidCandidate)
	e.p.Wait()
}

func TestAddNetwork_DuplicateWhilePending(t *testing.T) {
	e := newEnv(t)
	e.rpc.probeGate = make(chan struct{})
	defer close(e.rpc.probeGate)

	first := e.dispatchAsync(MethodAddEthereumChain, opParams)
	entry := e.waitPending(t, confirmations.KindAddNetwork)

	_, err := e.p.Dispatch(context.Background(), Request{Origin: origin, Method: MethodAddEthereumChain, Params: json.RawMessage(opParams)})
	require.ErrorIs(t, err, rpcerr.ErrDuplicateRequest)
	assert.Equal(t, 1, e.queue.Count())

	require.NoError(t, e.queue.Complete(context.Background(), entry.ID, confirmations.Outcome{}, rpcerr.ErrUserRejected))
	await(t, first)
}

func TestSigning(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthorized sender is rejected without prompt", func(t *testing.T) {
		e := newEnv(t)
		e.allow(t, map[string]bool{evmA: true, evmB: false})

		_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodPersonalSign, Params: json.RawMessage(`["0x68656c6c6f","` + evmB + `"]`)})
		require.ErrorIs(t, err, rpcerr.ErrUnauthorized)
		assert.Equal(t, 0, e.queue.Count())
	})

	t.Run("personal_sign with UI signature", func(t *testing.T) {
		e := newEnv(t)
		e.allow(t, map[string]bool{evmA: true})

		res := e.dispatchAsync(MethodPersonalSign, `["0x68656c6c6f","`+evmA+`"]`)
		entry := e.waitPending(t, confirmations.KindSignMessage)
		assert.Equal(t, evmA, entry.Payload.Sign.Address)
		assert.Equal(t, confirmations.MessagePersonal, entry.Payload.Sign.Kind)

		sig := make(hexutil.Bytes, 65)
		sig[64] = 27
		require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{Data: sig}, nil))

		r := await(t, res)
		require.NoError(t, r.err)
		assert.Equal(t, sig.String(), r.value)
	})

	t.Run("swapped personal_sign params", func(t *testing.T) {
		e := newEnv(t)
		e.allow(t, map[string]bool{evmA: true})

		res := e.dispatchAsync(MethodPersonalSign, `["`+evmA+`","hello"]`)
		entry := e.waitPending(t, confirmations.KindSignMessage)
		assert.Equal(t, evmA, entry.Payload.Sign.Address)
		assert.JSONEq(t, `"hello"`, string(entry.Payload.Sign.Data))

		require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, rpcerr.ErrUserRejected))
		require.ErrorIs(t, await(t, res).err, rpcerr.ErrUserRejected)
	})

	t.Run("short signature fails validation", func(t *testing.T) {
		e := newEnv(t)
		e.allow(t, map[string]bool{evmA: true})

		res := e.dispatchAsync(MethodEthSign, `["`+evmA+`","0xdead"]`)
		entry := e.waitPending(t, confirmations.KindSignMessage)
		require.ErrorIs(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{Data: hexutil.Bytes{1, 2}}, nil), rpcerr.ErrInvalidParams)
		require.ErrorIs(t, await(t, res).err, rpcerr.ErrInvalidParams)
	})

	t.Run("typed data signed by backend", func(t *testing.T) {
		e := newEnv(t)
		e.allow(t, map[string]bool{devAddr: true})

		typed := `{"types":{"EIP712Domain":[{"name":"name","type":"string"}],"Ping":[{"name":"n","type":"uint256"}]},
			"primaryType":"Ping","domain":{"name":"t"},"message":{"n":"1"}}`
		res := e.dispatchAsync(MethodSignTypedDataV4, `["`+devAddr+`",`+typed+`]`)
		entry := e.waitPending(t, confirmations.KindSignMessage)
		require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, nil))

		r := await(t, res)
		require.NoError(t, r.err)
		sig, err := hexutil.Decode(r.value.(string))
		require.NoError(t, err)
		assert.Len(t, sig, 65)
	})

	t.Run("legacy typed data is unsupported", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodSignTypedData, Params: json.RawMessage(`[]`)})
		require.ErrorIs(t, err, rpcerr.ErrUnsupportedMethod)
	})
}

func TestSendTransaction_SignsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.allow(t, map[string]bool{devAddr: true})

	e.rpc.set("eth_getTransactionCount", `"0x5"`)
	e.rpc.set("eth_estimateGas", `"0x5208"`)
	e.rpc.set("eth_maxPriorityFeePerGas", `"0x3b9aca00"`)
	e.rpc.set("eth_getBlockByNumber", `{"baseFeePerGas":"0x2540be400"}`)
	hash := "0x" + strings.Repeat("ab", 32)
	e.rpc.set("eth_sendRawTransaction", `"`+hash+`"`)

	res := e.dispatchAsync(MethodSendTransaction, `[{"from":"`+devAddr+`","to":"`+evmA+`","value":"0x1"}]`)
	entry := e.waitPending(t, confirmations.KindSendTransaction)

	tx := entry.Payload.Transaction
	assert.Equal(t, uint64(1), tx.ChainID)
	assert.Equal(t, hexutil.Uint64(5), *tx.Tx.Nonce)
	assert.Equal(t, hexutil.Uint64(21000), *tx.Tx.Gas)
	assert.Equal(t, big.NewInt(21_000_000_000), tx.Tx.MaxFeePerGas.ToInt())

	require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, nil))
	r := await(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, common.HexToHash(hash).Hex(), r.value)
	assert.True(t, e.rpc.called("eth_sendRawTransaction"))
}

func TestSendTransaction_WrongSignerFailsValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.allow(t, map[string]bool{evmA: true})
	e.rpc.set("eth_getTransactionCount", `"0x0"`)
	e.rpc.set("eth_estimateGas", `"0x5208"`)
	e.rpc.set("eth_gasPrice", `"0x1"`)

	res := e.dispatchAsync(MethodSendTransaction, `[{"from":"`+evmA+`","to":"`+evmB+`"}]`)
	entry := e.waitPending(t, confirmations.KindSendTransaction)
	assert.NotNil(t, entry.Payload.Transaction.Tx.GasPrice)

	// signed by the dev key, not by evmA
	local, err := signer.NewLocal([]string{devKey})
	require.NoError(t, err)
	raw, err := local.SignTransaction(ctx, devAddr, *entry.Payload.Transaction)
	require.NoError(t, err)

	require.ErrorIs(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{Data: raw}, nil), rpcerr.ErrInvalidParams)
	require.ErrorIs(t, await(t, res).err, rpcerr.ErrInvalidParams)
	assert.False(t, e.rpc.called("eth_sendRawTransaction"))
}

func TestPassthrough(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards when live", func(t *testing.T) {
		e := newEnv(t)
		e.rpc.set("eth_blockNumber", `"0x10"`)
		v, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: "eth_blockNumber", Params: json.RawMessage(`[]`)})
		require.NoError(t, err)
		assert.JSONEq(t, `"0x10"`, string(v.(json.RawMessage)))
	})

	t.Run("dead chain notifies and fails fast", func(t *testing.T) {
		e := newEnv(t)
		e.rpc.live = false
		_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: "eth_blockNumber"})
		require.ErrorIs(t, err, rpcerr.ErrChainDisconnected)
		assert.Equal(t, rpcerr.CodeChainDisconnected, rpcerr.Code(err))
		assert.Equal(t, []string{origin}, e.notifier.origins)
		assert.False(t, e.rpc.called("eth_blockNumber"))
	})

	t.Run("unknown wallet method", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: "wallet_invokeSnap"})
		require.ErrorIs(t, err, rpcerr.ErrUnsupportedMethod)
	})

	t.Run("node errors keep their code", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: "eth_unknown"})
		require.Error(t, err)
		assert.Equal(t, -32601, rpcerr.Code(err))
	})
}

const usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

func TestWatchAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid candidates", func(t *testing.T) {
		e := newEnv(t)
		tests := []string{
			`{"type":"ERC1337","options":{"address":"` + usdc + `","symbol":"USDC","decimals":6}}`,
			`{"type":"ERC20","options":{"address":"0x12","symbol":"USDC","decimals":6}}`,
			`{"type":"ERC20","options":{"address":"` + usdc + `","symbol":"","decimals":6}}`,
			`{"type":"ERC20","options":{"address":"` + usdc + `","symbol":"USDC"}}`,
			`{"type":"ERC20","options":{"address":"` + usdc + `","symbol":"USDC","decimals":99}}`,
		}
		for _, params := range tests {
			_, err := e.p.Dispatch(ctx, Request{Origin: origin, Method: MethodWatchAsset, Params: json.RawMessage(params)})
			require.ErrorIs(t, err, rpcerr.ErrInvalidCandidate, params)
		}
		assert.Equal(t, 0, e.queue.Count())
	})

	t.Run("validated on chain while pending", func(t *testing.T) {
		e := newEnv(t)
		e.rpc.token = chainrpc.Token{Address: usdc, Symbol: "USDC", Decimals: 6}

		res := e.dispatchAsync(MethodWatchAsset, `{"type":"ERC20","options":{"address":"`+usdc+`","symbol":"USDC","decimals":"6"}}`)
		entry := e.waitPending(t, confirmations.KindAddToken)
		assert.Equal(t, "ethereum", entry.Payload.AddToken.ChainKey)

		require.Eventually(t, func() bool {
			got, ok := e.queue.Get(entry.ID)
			return ok && got.Payload.AddToken.Validated
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, nil))
		r := await(t, res)
		require.NoError(t, r.err)
		assert.Equal(t, true, r.value)
	})

	t.Run("decimals mismatch is annotated", func(t *testing.T) {
		e := newEnv(t)
		e.rpc.token = chainrpc.Token{Address: usdc, Symbol: "USDC", Decimals: 18}

		res := e.dispatchAsync(MethodWatchAsset, `[{"type":"ERC20","options":{"address":"`+usdc+`","symbol":"USDC","decimals":6}}]`)
		entry := e.waitPending(t, confirmations.KindAddToken)

		require.Eventually(t, func() bool {
			got, ok := e.queue.Get(entry.ID)
			return ok && got.Payload.AddToken.ValidationError != ""
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, e.queue.Complete(ctx, entry.ID, confirmations.Outcome{}, rpcerr.ErrUserRejected))
		require.ErrorIs(t, await(t, res).err, rpcerr.ErrUserRejected)
	})
}
