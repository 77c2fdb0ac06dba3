package chains

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/constants"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/kvstore"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrUnknownChain = errors.New("unknown chain")

// persisted is the on-disk part of the catalog: user toggles and user-added chains.
type persisted struct {
	Schema  int             `json:"schema"`
	Enabled map[string]bool `json:"enabled"`
	Custom  []Chain         `json:"custom"`
}

// Catalog is the registry of known chains. Iteration order is declaration
// order (config seed first, then custom chains in insertion order); the
// default-chain fallback depends on it.
type Catalog struct {
	mu     sync.RWMutex
	kv     kvstore.PersistentKV
	chains []Chain
	index  map[string]int

	// declaration order breaks ties between equally specific domains
	siteDefaults []SiteDefault
}

func NewCatalog(ctx context.Context, kv kvstore.PersistentKV, seed []Chain, siteDefaults []SiteDefault) (*Catalog, error) {
	c := &Catalog{
		kv:           kv,
		index:        make(map[string]int),
		siteDefaults: make([]SiteDefault, 0, len(siteDefaults)),
	}

	for _, ch := range seed {
		if err := c.insert(ch); err != nil {
			return nil, err
		}
	}
	for _, d := range siteDefaults {
		domain := strings.Trim(strings.ToLower(strings.TrimSpace(d.Domain)), ".")
		if domain == "" {
			continue
		}
		c.siteDefaults = append(c.siteDefaults, SiteDefault{Domain: domain, Chain: normalizeKey(d.Chain)})
	}

	state, ok, err := kvstore.ReadJSON[persisted](ctx, kv, constants.ChainsKey)
	if err != nil {
		return nil, errors.Wrap(err, "load chain catalog")
	}
	if ok {
		for _, ch := range state.Custom {
			ch.Custom = true
			if _, exists := c.index[normalizeKey(ch.Key)]; exists {
				continue
			}
			if err := c.insert(ch); err != nil {
				log.Warn("skipping stored chain", "key", ch.Key, "error", err)
			}
		}
		for key, enabled := range state.Enabled {
			if i, exists := c.index[normalizeKey(key)]; exists {
				c.chains[i].Enabled = enabled
			}
		}
	}
	return c, nil
}

func (c *Catalog) insert(ch Chain) error {
	ch.Key = normalizeKey(ch.Key)
	if ch.Key == "" {
		return errors.New("chain key is required")
	}
	if _, exists := c.index[ch.Key]; exists {
		return errors.Newf("duplicate chain key %q", ch.Key)
	}
	if ch.Kind == accounts.KindUnknown {
		ch.Kind = accounts.KindEvm
	}
	if ch.Kind == accounts.KindEvm && ch.ChainID == 0 {
		return errors.Newf("chain %q: chainId is required", ch.Key)
	}
	if ch.Kind == accounts.KindEvm {
		if _, dup := c.findByChainIDLocked(ch.ChainID); dup {
			return errors.Newf("chain %q: chainId %d already known", ch.Key, ch.ChainID)
		}
	}
	if strings.TrimSpace(ch.Name) == "" {
		ch.Name = ch.Key
	}
	c.index[ch.Key] = len(c.chains)
	c.chains = append(c.chains, ch)
	return nil
}

func (c *Catalog) List() []Chain {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Chain, len(c.chains))
	copy(out, c.chains)
	return out
}

func (c *Catalog) Get(key string) (Chain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[normalizeKey(key)]
	if !ok {
		return Chain{}, false
	}
	return c.chains[i], true
}

// FindByChainID looks up an EVM chain by numeric id.
func (c *Catalog) FindByChainID(id uint64) (Chain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findByChainIDLocked(id)
}

func (c *Catalog) findByChainIDLocked(id uint64) (Chain, bool) {
	if id == 0 {
		return Chain{}, false
	}
	for _, ch := range c.chains {
		if ch.Kind == accounts.KindEvm && ch.ChainID == id {
			return ch, true
		}
	}
	return Chain{}, false
}

// FindByGenesis looks up a Substrate chain by genesis hash.
func (c *Catalog) FindByGenesis(genesis string) (Chain, bool) {
	genesis = strings.ToLower(strings.TrimSpace(genesis))
	if genesis == "" {
		return Chain{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ch := range c.chains {
		if strings.ToLower(ch.GenesisHash) == genesis {
			return ch, true
		}
	}
	return Chain{}, false
}

func (c *Catalog) IsEnabled(key string) bool {
	ch, ok := c.Get(key)
	return ok && ch.Enabled
}

// FirstEnabled returns the first enabled chain of kind in declaration order.
func (c *Catalog) FirstEnabled(kind accounts.Kind) (Chain, bool) {
	for _, ch := range c.List() {
		if ch.Kind == kind && ch.Enabled {
			return ch, true
		}
	}
	return Chain{}, false
}

// First returns the first known chain of kind regardless of enablement.
func (c *Catalog) First(kind accounts.Kind) (Chain, bool) {
	for _, ch := range c.List() {
		if ch.Kind == kind {
			return ch, true
		}
	}
	return Chain{}, false
}

// SiteDefault matches the origin's host against the site default table,
// including subdomains. The most specific domain wins: an exact host match,
// else the longest matching parent domain, else the first declared.
func (c *Catalog) SiteDefault(origin string, kind accounts.Kind) (Chain, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return Chain{}, false
	}
	host := strings.ToLower(u.Hostname())

	c.mu.RLock()
	var key string
	best := 0
	for _, d := range c.siteDefaults {
		if host != d.Domain && !strings.HasSuffix(host, "."+d.Domain) {
			continue
		}
		if len(d.Domain) > best {
			key, best = d.Chain, len(d.Domain)
		}
	}
	c.mu.RUnlock()

	if key == "" {
		return Chain{}, false
	}
	ch, ok := c.Get(key)
	if !ok || ch.Kind != kind {
		return Chain{}, false
	}
	return ch, true
}

// Enable switches the given chains on and persists the change.
func (c *Catalog) Enable(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, key := range keys {
		i, ok := c.index[normalizeKey(key)]
		if !ok {
			return errors.Wrap(ErrUnknownChain, key)
		}
		if !c.chains[i].Enabled {
			c.chains[i].Enabled = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.persistLocked(ctx)
}

// Add registers a user-approved custom chain, enabled.
func (c *Catalog) Add(ctx context.Context, ch Chain) (Chain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(ch.Key) == "" {
		ch.Key = fmt.Sprintf("custom-%d", ch.ChainID)
	}
	ch.Custom = true
	ch.Enabled = true

	if err := c.insert(ch); err != nil {
		return Chain{}, err
	}
	if err := c.persistLocked(ctx); err != nil {
		return Chain{}, err
	}
	return c.chains[c.index[normalizeKey(ch.Key)]], nil
}

func (c *Catalog) persistLocked(ctx context.Context) error {
	state := persisted{
		Schema:  constants.SchemaV1,
		Enabled: make(map[string]bool, len(c.chains)),
	}
	for _, ch := range c.chains {
		state.Enabled[ch.Key] = ch.Enabled
		if ch.Custom {
			state.Custom = append(state.Custom, ch)
		}
	}
	return kvstore.WriteJSON(ctx, c.kv, constants.ChainsKey, state)
}
