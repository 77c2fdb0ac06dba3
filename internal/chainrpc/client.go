// Package chainrpc talks to chain nodes: passthrough calls, liveness checks,
// candidate endpoint probing and ERC-20 token lookups.
package chainrpc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// Client is the chain access the provider facade needs.
type Client interface {
	Call(ctx context.Context, chain chains.Chain, method string, params ...any) (json.RawMessage, error)
	IsLive(ctx context.Context, chain chains.Chain) bool
	Probe(ctx context.Context, endpoint string) (chains.Metadata, error)
	TokenInfo(ctx context.Context, chain chains.Chain, token common.Address) (Token, error)
}

type Config struct {
	CallTimeout     time.Duration
	ProbeTimeout    time.Duration
	LivenessRetries uint64
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	// small timeout so prompts stay snappy
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 7 * time.Second
	}
	return c
}

// Service caches one rpc.Client per endpoint URL.
type Service struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

var _ Client = (*Service)(nil)

func New(cfg Config) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		clients: make(map[string]*rpc.Client),
	}
}

func (s *Service) client(ctx context.Context, endpoint string) (*rpc.Client, error) {
	key := strings.ToLower(strings.TrimSpace(endpoint))

	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.clients[key]; c != nil {
		return c, nil
	}
	c, err := rpc.DialContext(ctx, strings.TrimSpace(endpoint))
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", endpoint)
	}
	s.clients[key] = c
	return c, nil
}

// drop forgets a client after a transport failure so the next call redials.
func (s *Service) drop(endpoint string) {
	key := strings.ToLower(strings.TrimSpace(endpoint))

	s.mu.Lock()
	c := s.clients[key]
	delete(s.clients, key)
	s.mu.Unlock()

	if c != nil {
		c.Close()
	}
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.clients {
		c.Close()
		delete(s.clients, k)
	}
}

func endpoints(chain chains.Chain) []string {
	out := make([]string, 0, len(chain.RPCs))
	for _, r := range chain.RPCs {
		if u := strings.TrimSpace(r.URL); u != "" {
			out = append(out, u)
		}
	}
	return chains.ValidEndpoints(chain.Kind, out)
}

// Call forwards a JSON-RPC request to the chain, failing over across its
// endpoints on transport errors. Node-side JSON-RPC errors are returned as
// provider errors carrying the node's code.
func (s *Service) Call(ctx context.Context, chain chains.Chain, method string, params ...any) (json.RawMessage, error) {
	eps := endpoints(chain)
	if len(eps) == 0 {
		return nil, errors.Wrapf(rpcerr.ErrChainDisconnected, "chain %s has no rpc endpoint", chain.Key)
	}

	var lastErr error
	for _, ep := range eps {
		raw, err := s.callEndpoint(ctx, ep, method, params...)
		if err == nil {
			return raw, nil
		}

		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			pe := &rpcerr.ProviderError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
			var dataErr rpc.DataError
			if errors.As(err, &dataErr) {
				pe.Data = dataErr.ErrorData()
			}
			return nil, pe
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), method)
		}

		log.Warn("rpc endpoint failed", "chain", chain.Key, "endpoint", ep, "method", method, "error", err)
		s.drop(ep)
		lastErr = err
	}
	return nil, errors.Wrapf(rpcerr.ErrChainDisconnected, "chain %s: %s: %v", chain.Key, method, lastErr)
}

func (s *Service) callEndpoint(ctx context.Context, endpoint, method string, params ...any) (json.RawMessage, error) {
	c, err := s.client(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	var raw json.RawMessage
	if params == nil {
		params = []any{}
	}
	if err := c.CallContext(callCtx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

// IsLive reports whether the chain answers and identifies as itself.
func (s *Service) IsLive(ctx context.Context, chain chains.Chain) bool {
	check := func() error {
		switch chain.Kind {
		case accounts.KindSubstrate:
			raw, err := s.Call(ctx, chain, "chain_getBlockHash", 0)
			if err != nil {
				return err
			}
			if chain.GenesisHash == "" {
				return nil
			}
			var hash string
			if err := json.Unmarshal(raw, &hash); err != nil {
				return backoff.Permanent(err)
			}
			if !strings.EqualFold(hash, chain.GenesisHash) {
				return backoff.Permanent(errors.Newf("genesis mismatch: %s", hash))
			}
			return nil
		default:
			raw, err := s.Call(ctx, chain, "eth_chainId")
			if err != nil {
				return err
			}
			var got hexutil.Uint64
			if err := json.Unmarshal(raw, &got); err != nil {
				return backoff.Permanent(err)
			}
			if uint64(got) != chain.ChainID {
				return backoff.Permanent(errors.Newf("chain id mismatch: %d", uint64(got)))
			}
			return nil
		}
	}

	var b backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxElapsedTime(s.cfg.CallTimeout),
	)
	b = backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.LivenessRetries), ctx)

	if err := backoff.Retry(check, b); err != nil {
		log.Warn("chain not live", "chain", chain.Key, "error", err)
		return false
	}
	return true
}
