package broker

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/constants"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/kvstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

type persistedMetadata struct {
	Schema int           `json:"schema"`
	Defs   []MetadataDef `json:"defs"`
}

// metadataStore keeps approved chain metadata, one definition per genesis hash.
type metadataStore struct {
	kv kvstore.PersistentKV

	mu   sync.RWMutex
	defs map[string]MetadataDef
}

func loadMetadata(ctx context.Context, kv kvstore.PersistentKV) (*metadataStore, error) {
	p, _, err := kvstore.ReadJSON[persistedMetadata](ctx, kv, constants.MetadataKey)
	if err != nil {
		return nil, errors.Wrap(err, "load metadata")
	}
	m := &metadataStore{kv: kv, defs: make(map[string]MetadataDef, len(p.Defs))}
	for _, d := range p.Defs {
		m.defs[strings.ToLower(d.GenesisHash)] = d
	}
	return m, nil
}

// Known reports whether genesis is stored at specVersion or newer.
func (m *metadataStore) Known(genesis string, specVersion uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[strings.ToLower(genesis)]
	return ok && d.SpecVersion >= specVersion
}

func (m *metadataStore) List() []KnownMetadata {
	m.mu.RLock()
	out := make([]KnownMetadata, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, KnownMetadata{GenesisHash: d.GenesisHash, SpecVersion: d.SpecVersion})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].GenesisHash < out[j].GenesisHash })
	return out
}

func (m *metadataStore) Save(ctx context.Context, def MetadataDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]MetadataDef, len(m.defs)+1)
	for k, v := range m.defs {
		next[k] = v
	}
	next[strings.ToLower(def.GenesisHash)] = def

	p := persistedMetadata{Schema: constants.SchemaV1, Defs: make([]MetadataDef, 0, len(next))}
	for _, d := range next {
		p.Defs = append(p.Defs, d)
	}
	sort.Slice(p.Defs, func(i, j int) bool { return p.Defs[i].GenesisHash < p.Defs[j].GenesisHash })

	if err := kvstore.WriteJSON(ctx, m.kv, constants.MetadataKey, p); err != nil {
		return errors.Wrap(err, "persist metadata")
	}
	m.defs = next
	return nil
}

func validateMetadata(def MetadataDef) error {
	genesis, err := hexutil.Decode(def.GenesisHash)
	if err != nil || len(genesis) != 32 {
		return errors.Wrapf(rpcerr.ErrInvalidCandidate, "genesis hash %q", def.GenesisHash)
	}
	if strings.TrimSpace(def.Chain) == "" {
		return errors.Wrap(rpcerr.ErrInvalidCandidate, "metadata chain name missing")
	}
	if def.SpecVersion == 0 {
		return errors.Wrap(rpcerr.ErrInvalidCandidate, "metadata specVersion missing")
	}
	return nil
}
