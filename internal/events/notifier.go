// Package events emulates the EIP-1193 provider events for dApps that have
// no permanent connection to the wallet.
package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type Name string

const (
	AccountsChanged Name = "accountsChanged"
	ChainChanged    Name = "chainChanged"
	Connect         Name = "connect"
	Disconnect      Name = "disconnect"
)

// Event is one notification pushed to a dApp.
type Event struct {
	Name Name `json:"event"`
	Data any  `json:"data"`
}

// ConnectInfo is the payload of a connect event.
type ConnectInfo struct {
	ChainID string `json:"chainId"`
}

// View is how the notifier sees an origin.
type View interface {
	VisibleAccounts(ctx context.Context, origin string, kind accounts.Kind) ([]string, error)
	ChainIDHex(ctx context.Context, origin string) string
	Chain(ctx context.Context, origin string) (chains.Chain, bool)
}

type AuthSource interface {
	Subscribe(ctx context.Context, ch chan<- authstore.AuthUrls) (event.Subscription, error)
}

type LivenessChecker interface {
	IsLive(ctx context.Context, chain chains.Chain) bool
}

type Config struct {
	PollInterval time.Duration
	CheckTimeout time.Duration
	Buffer       int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 10 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 16
	}
	return c
}

// Notifier fans provider events out to per-origin subscriptions. One
// liveness poller runs per origin however many subscriptions it has.
type Notifier struct {
	cfg  Config
	view View
	auth AuthSource
	live LivenessChecker

	mu      sync.Mutex
	pollers map[string]*poller
	closed  bool
}

func NewNotifier(cfg Config, view View, auth AuthSource, live LivenessChecker) *Notifier {
	return &Notifier{
		cfg:     cfg.withDefaults(),
		view:    view,
		auth:    auth,
		live:    live,
		pollers: make(map[string]*poller),
	}
}

// Subscribe starts delivering events for origin. The current accounts and
// chain id become the baseline; only changes against it are emitted.
func (n *Notifier) Subscribe(ctx context.Context, origin, channelID string) (*Subscription, error) {
	s := &Subscription{
		Origin:    origin,
		ChannelID: channelID,
		n:         n,
		events:    make(chan Event, n.cfg.Buffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	accs, err := n.view.VisibleAccounts(ctx, origin, accounts.KindEvm)
	if err != nil {
		return nil, errors.Wrap(err, "baseline accounts")
	}
	s.accounts = accs
	s.chainID = n.view.ChainIDHex(ctx, origin)

	updates := make(chan authstore.AuthUrls, 4)
	sub, err := n.auth.Subscribe(ctx, updates)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe authorizations")
	}
	s.authSub = sub

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		sub.Unsubscribe()
		return nil, errors.Wrap(rpcerr.ErrDisconnected, "notifier closed")
	}
	n.attachLocked(s)
	n.mu.Unlock()

	go s.loop(updates)

	log.Info("events subscribed", "origin", origin, "channel", channelID)
	return s, nil
}

// NotifyDisconnect records that a dispatch found origin's chain dead.
func (n *Notifier) NotifyDisconnect(origin string) {
	n.transition(origin, false)
}

// UnsubscribeChannel tears down every subscription opened by channelID.
func (n *Notifier) UnsubscribeChannel(channelID string) int {
	var victims []*Subscription
	n.mu.Lock()
	for _, p := range n.pollers {
		for s := range p.subs {
			if s.ChannelID == channelID {
				victims = append(victims, s)
			}
		}
	}
	n.mu.Unlock()

	for _, s := range victims {
		s.Unsubscribe()
	}
	return len(victims)
}

// Close unsubscribes everything and stops all pollers.
func (n *Notifier) Close() {
	var all []*Subscription
	n.mu.Lock()
	n.closed = true
	for _, p := range n.pollers {
		for s := range p.subs {
			all = append(all, s)
		}
	}
	n.mu.Unlock()

	for _, s := range all {
		s.Unsubscribe()
	}
}

// Subscriptions counts live subscriptions for origin.
func (n *Notifier) Subscriptions(origin string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p := n.pollers[origin]; p != nil {
		return len(p.subs)
	}
	return 0
}

func (n *Notifier) attachLocked(s *Subscription) {
	p := n.pollers[s.Origin]
	if p == nil {
		p = newPoller(n, s.Origin)
		n.pollers[s.Origin] = p
		go p.run()
	}
	p.subs[s] = struct{}{}
}

func (n *Notifier) detach(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := n.pollers[s.Origin]
	if p == nil {
		return
	}
	delete(p.subs, s)
	if len(p.subs) == 0 {
		delete(n.pollers, s.Origin)
		close(p.stop)
	}
}

// transition emits connect or disconnect when origin's state flips.
func (n *Notifier) transition(origin string, live bool) {
	var chainID string
	if live {
		chainID = n.view.ChainIDHex(context.Background(), origin)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	p := n.pollers[origin]
	if p == nil || p.connected == live {
		return
	}
	p.connected = live

	ev := Event{Name: Connect, Data: ConnectInfo{ChainID: chainID}}
	if !live {
		ev = Event{Name: Disconnect, Data: rpcerr.ToRPC(rpcerr.ErrChainDisconnected)}
	}
	log.Info("origin connection changed", "origin", origin, "connected", live)
	for s := range p.subs {
		s.emit(ev)
	}
}

// Subscription is one dApp listener. Events is closed after Unsubscribe,
// once the loop has exited and the poller dropped it.
type Subscription struct {
	Origin    string
	ChannelID string

	n       *Notifier
	events  chan Event
	authSub event.Subscription
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once

	// baseline, owned by loop
	accounts []string
	chainID  string
}

func (s *Subscription) Events() <-chan Event { return s.events }

// Unsubscribe is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.authSub.Unsubscribe()
		<-s.done
		s.n.detach(s)
		close(s.events)
		log.Info("events unsubscribed", "origin", s.Origin, "channel", s.ChannelID)
	})
}

func (s *Subscription) loop(updates <-chan authstore.AuthUrls) {
	defer close(s.done)
	for {
		select {
		case <-updates:
			s.refresh()
		case err := <-s.authSub.Err():
			if err != nil {
				log.Warn("authorization stream ended", "origin", s.Origin, "error", err)
			}
			return
		case <-s.quit:
			return
		}
	}
}

func (s *Subscription) refresh() {
	ctx := context.Background()

	accs, err := s.n.view.VisibleAccounts(ctx, s.Origin, accounts.KindEvm)
	if err != nil {
		log.Warn("events: read accounts", "origin", s.Origin, "error", err)
		return
	}
	if !slices.Equal(accs, s.accounts) {
		s.accounts = accs
		s.emit(Event{Name: AccountsChanged, Data: accs})
	}

	if id := s.n.view.ChainIDHex(ctx, s.Origin); id != s.chainID {
		s.chainID = id
		s.emit(Event{Name: ChainChanged, Data: id})
	}
}

// emit never blocks; a consumer that stopped reading loses events.
func (s *Subscription) emit(ev Event) {
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.events <- ev:
	default:
		log.Warn("event dropped", "origin", s.Origin, "event", ev.Name)
	}
}

type poller struct {
	n         *Notifier
	origin    string
	subs      map[*Subscription]struct{}
	connected bool
	stop      chan struct{}
}

func newPoller(n *Notifier, origin string) *poller {
	return &poller{
		n:         n,
		origin:    origin,
		subs:      make(map[*Subscription]struct{}),
		connected: true,
		stop:      make(chan struct{}),
	}
}

func (p *poller) run() {
	ticker := time.NewTicker(p.n.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.check()
		case <-p.stop:
			return
		}
	}
}

func (p *poller) check() {
	ctx, cancel := context.WithTimeout(context.Background(), p.n.cfg.CheckTimeout)
	defer cancel()

	chain, ok := p.n.view.Chain(ctx, p.origin)
	live := ok && p.n.live.IsLive(ctx, chain)
	p.n.transition(p.origin, live)
}
