// Package provider answers the EIP-1193 subset a dApp talks to: account and
// chain identity, permissions, signing, network mutation and pass-through.
package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chainrpc"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

// Request is one inbound dApp call.
type Request struct {
	Origin    string
	URL       string
	ChannelID string
	Method    Method
	Params    json.RawMessage
}

// AuthRequest asks for the interactive authorization flow.
type AuthRequest struct {
	Origin    string
	URL       string
	ChannelID string
	Kind      accounts.Kind
	Reconfirm bool
}

// Authorizer runs the authorization prompt and records its outcome.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthRequest) error
}

// DisconnectNotifier is told when a chain is found dead during dispatch.
type DisconnectNotifier interface {
	NotifyDisconnect(origin string)
}

// Catalog is the chain registry view the provider needs.
type Catalog interface {
	Get(key string) (chains.Chain, bool)
	FindByChainID(id uint64) (chains.Chain, bool)
	Enable(ctx context.Context, keys ...string) error
	Add(ctx context.Context, ch chains.Chain) (chains.Chain, error)
}

type Deps struct {
	Auth          *authstore.Store
	Accounts      accounts.Source
	Catalog       Catalog
	RPC           chainrpc.Client
	Confirmations *confirmations.Queue
	Authorizer    Authorizer
	Disconnects   DisconnectNotifier
}

type handlerFunc func(ctx context.Context, req Request) (any, error)

type Provider struct {
	auth     *authstore.Store
	accounts accounts.Source
	catalog  Catalog
	rpc      chainrpc.Client
	queue    *confirmations.Queue
	authz    Authorizer
	notifier DisconnectNotifier

	handlers map[Method]handlerFunc

	// background probe/validation work; tests wait on it
	bg backgroundGroup
}

func New(d Deps) (*Provider, error) {
	switch {
	case d.Auth == nil:
		return nil, errors.New("provider: auth store is required")
	case d.Accounts == nil:
		return nil, errors.New("provider: account source is required")
	case d.Catalog == nil:
		return nil, errors.New("provider: chain catalog is required")
	case d.RPC == nil:
		return nil, errors.New("provider: chain rpc client is required")
	case d.Confirmations == nil:
		return nil, errors.New("provider: confirmation queue is required")
	case d.Authorizer == nil:
		return nil, errors.New("provider: authorizer is required")
	}

	p := &Provider{
		auth:     d.Auth,
		accounts: d.Accounts,
		catalog:  d.Catalog,
		rpc:      d.RPC,
		queue:    d.Confirmations,
		authz:    d.Authorizer,
		notifier: d.Disconnects,
	}
	p.handlers = p.methodTable()
	return p, nil
}

func (p *Provider) methodTable() map[Method]handlerFunc {
	return map[Method]handlerFunc{
		MethodEthAccounts:         p.ethAccounts,
		MethodEthRequestAccounts:  p.ethRequestAccounts,
		MethodEthChainID:          p.ethChainID,
		MethodNetVersion:          p.netVersion,
		MethodRequestPermissions:  p.requestPermissions,
		MethodGetPermissions:      p.getPermissions,
		MethodRevokePermissions:   p.revokePermissions,
		MethodPersonalSign:        p.personalSign,
		MethodEthSign:             p.ethSign,
		MethodSignTypedData:       p.signTypedDataLegacy,
		MethodSignTypedDataV3:     p.signTypedData(confirmations.MessageTypedDataV3),
		MethodSignTypedDataV4:     p.signTypedData(confirmations.MessageTypedDataV4),
		MethodSendTransaction:     p.sendTransaction,
		MethodSignTransaction:     p.unsupported,
		MethodAddEthereumChain:    p.addEthereumChain,
		MethodSwitchEthereumChain: p.switchEthereumChain,
		MethodWatchAsset:          p.watchAsset,
	}
}

// Dispatch routes one request. Methods outside the table are forwarded to
// the origin's chain unless they belong to the wallet namespace.
func (p *Provider) Dispatch(ctx context.Context, req Request) (any, error) {
	if h, ok := p.handlers[req.Method]; ok {
		return h(ctx, req)
	}
	if strings.HasPrefix(string(req.Method), "wallet_") {
		return nil, errors.Wrapf(rpcerr.ErrUnsupportedMethod, "%s", req.Method)
	}
	return p.passthrough(ctx, req)
}

func (p *Provider) unsupported(_ context.Context, req Request) (any, error) {
	return nil, errors.Wrapf(rpcerr.ErrUnsupportedMethod, "%s", req.Method)
}

// Chain resolves the chain the origin currently sees.
func (p *Provider) Chain(ctx context.Context, origin string) (chains.Chain, bool) {
	return p.auth.ResolveDAppChain(ctx, authstore.ResolveOptions{
		AccountKind: accounts.KindEvm,
		OriginID:    origin,
	})
}

// VisibleAccounts lists the addresses origin may see for kind.
func (p *Provider) VisibleAccounts(ctx context.Context, origin string, kind accounts.Kind) ([]string, error) {
	info, found, err := p.auth.Get(ctx, origin)
	if err != nil {
		return nil, err
	}
	return authstore.VisibleAccounts(info, found, p.accounts, kind), nil
}

// Wait blocks until background enrichment started by earlier calls finished.
func (p *Provider) Wait() { p.bg.Wait() }
