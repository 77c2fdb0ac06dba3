package accounts

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
)

var ErrUnknownAccount = errors.New("unknown account")

type Account struct {
	Address string `json:"address"`
	Kind    Kind   `json:"kind"`
	Name    string `json:"name,omitempty"`
}

// Source is the read side of the wallet's account list.
type Source interface {
	// Accounts returns every account in creation order.
	Accounts() []Account
	// Focused returns the currently focused address or "".
	Focused() string
}

// Registry is the in-memory account list. Key custody lives elsewhere; the
// registry only knows addresses, their order and which one is focused.
type Registry struct {
	mu       sync.RWMutex
	accounts []Account
	focused  string

	focusFeed event.Feed
}

func NewRegistry(list []Account) (*Registry, error) {
	r := &Registry{}
	seen := make(map[string]struct{}, len(list))

	for _, a := range list {
		addr := Canonical(a.Address)
		kind := KindOf(addr)
		if kind == KindUnknown {
			return nil, errors.Newf("invalid account address %q", a.Address)
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		r.accounts = append(r.accounts, Account{
			Address: addr,
			Kind:    kind,
			Name:    strings.TrimSpace(a.Name),
		})
	}
	return r, nil
}

func (r *Registry) Accounts() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// ByKind returns accounts of one kind in creation order.
func (r *Registry) ByKind(kind Kind) []Account {
	var out []Account
	for _, a := range r.Accounts() {
		if kind.Covers(a.Kind) {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) Has(address string) bool {
	addr := Canonical(address)
	for _, a := range r.Accounts() {
		if a.Address == addr {
			return true
		}
	}
	return false
}

func (r *Registry) Focused() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focused
}

// SetFocused changes the focused account; "" clears it.
func (r *Registry) SetFocused(address string) error {
	addr := Canonical(address)
	if addr != "" && !r.Has(addr) {
		return errors.Wrap(ErrUnknownAccount, address)
	}

	r.mu.Lock()
	changed := r.focused != addr
	r.focused = addr
	r.mu.Unlock()

	if changed {
		r.focusFeed.Send(addr)
	}
	return nil
}

// SubscribeFocus delivers the new focused address after every change.
func (r *Registry) SubscribeFocus(ch chan<- string) event.Subscription {
	return r.focusFeed.Subscribe(ch)
}
