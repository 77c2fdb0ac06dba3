// Package broker is the composition root of the request-brokering core. It
// owns the five request ledgers, routes dApp messages to the provider facade
// or the substrate handlers, and exposes the confirmation UI's API.
package broker

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chainrpc"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/events"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/kvstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/provider"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/requests"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/surface"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type Deps struct {
	KV       kvstore.PersistentKV
	Auth     *authstore.Store
	Accounts *accounts.Registry
	Catalog  *chains.Catalog
	RPC      chainrpc.Client
	Surface  *surface.Manager
	// Signer is optional; without it approvals must carry their signatures.
	Signer confirmations.Signer
	Events events.Config
}

type Broker struct {
	kv       kvstore.PersistentKV
	auth     *authstore.Store
	registry *accounts.Registry
	catalog  *chains.Catalog
	surface  *surface.Manager

	authLedger    *requests.Ledger[AuthPayload, AuthResult]
	confirmations *confirmations.Queue
	substrate     *requests.Ledger[SubstrateSignPayload, SubstrateSignature]
	metadata      *requests.Ledger[MetadataDef, MetadataApproval]
	walletConnect *requests.Ledger[WalletConnectPayload, WalletConnectResult]

	provider *provider.Provider
	events   *events.Notifier
	known    *metadataStore

	focusSub event.Subscription
	wg       sync.WaitGroup
}

var _ provider.Authorizer = (*Broker)(nil)

func New(ctx context.Context, d Deps) (*Broker, error) {
	switch {
	case d.KV == nil:
		return nil, errors.New("broker: kv store is required")
	case d.Auth == nil:
		return nil, errors.New("broker: auth store is required")
	case d.Accounts == nil:
		return nil, errors.New("broker: account registry is required")
	case d.Catalog == nil:
		return nil, errors.New("broker: chain catalog is required")
	case d.RPC == nil:
		return nil, errors.New("broker: chain rpc client is required")
	case d.Surface == nil:
		return nil, errors.New("broker: surface manager is required")
	}

	known, err := loadMetadata(ctx, d.KV)
	if err != nil {
		return nil, err
	}

	b := &Broker{
		kv:       d.KV,
		auth:     d.Auth,
		registry: d.Accounts,
		catalog:  d.Catalog,
		surface:  d.Surface,
		known:    known,

		authLedger:    requests.NewLedger[AuthPayload, AuthResult](string(LedgerAuth), d.Surface),
		confirmations: confirmations.NewQueue(d.Surface, d.Signer),
		substrate:     requests.NewLedger[SubstrateSignPayload, SubstrateSignature](string(LedgerSubstrate), d.Surface),
		metadata:      requests.NewLedger[MetadataDef, MetadataApproval](string(LedgerMetadata), d.Surface),
		walletConnect: requests.NewLedger[WalletConnectPayload, WalletConnectResult](string(LedgerWalletConnect), d.Surface),
	}
	d.Surface.Register(b.controllers()...)

	b.provider, err = provider.New(provider.Deps{
		Auth:          d.Auth,
		Accounts:      d.Accounts,
		Catalog:       d.Catalog,
		RPC:           d.RPC,
		Confirmations: b.confirmations,
		Authorizer:    b,
		Disconnects:   b,
	})
	if err != nil {
		return nil, err
	}
	b.events = events.NewNotifier(d.Events, b.provider, d.Auth, d.RPC)

	focus := make(chan string, 4)
	b.focusSub = d.Accounts.SubscribeFocus(focus)
	b.wg.Add(1)
	go b.watchFocus(focus)

	return b, nil
}

func (b *Broker) controllers() []surface.Counter {
	out := make([]surface.Counter, 0, len(AllLedgers))
	for _, c := range b.ledgers() {
		out = append(out, c)
	}
	return out
}

func (b *Broker) ledgers() []requests.Controller {
	return []requests.Controller{b.authLedger, b.confirmations, b.substrate, b.metadata, b.walletConnect}
}

// watchFocus republishes authorizations when the focused account changes,
// since the visible account order depends on it.
func (b *Broker) watchFocus(focus <-chan string) {
	defer b.wg.Done()
	for {
		select {
		case addr := <-focus:
			if err := b.auth.Republish(context.Background()); err != nil {
				log.Warn("republish after focus change", "account", addr, "error", err)
			}
		case <-b.focusSub.Err():
			return
		}
	}
}

// NotifyDisconnect forwards dead-chain findings from dispatch to listeners.
func (b *Broker) NotifyDisconnect(origin string) {
	if b.events != nil {
		b.events.NotifyDisconnect(origin)
	}
}

// Provider exposes the EVM facade, mainly for tests and diagnostics.
func (b *Broker) Provider() *provider.Provider { return b.provider }

func (b *Broker) Auth() *authstore.Store { return b.auth }

// Close stops background work. Pending requests are left as they are.
func (b *Broker) Close() {
	b.focusSub.Unsubscribe()
	b.events.Close()
	b.wg.Wait()
	b.provider.Wait()
}
