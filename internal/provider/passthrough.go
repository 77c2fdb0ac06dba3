package provider

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// liveChain resolves the origin's chain and checks the connection. A dead
// chain notifies the origin's listeners and fails fast.
func (p *Provider) liveChain(ctx context.Context, origin string) (chains.Chain, error) {
	chain, ok := p.Chain(ctx, origin)
	if !ok {
		return chains.Chain{}, errors.Wrap(rpcerr.ErrChainDisconnected, "no chain configured")
	}
	if !p.rpc.IsLive(ctx, chain) {
		log.Warn("chain not live for dispatch", "origin", origin, "chain", chain.Key)
		if p.notifier != nil {
			p.notifier.NotifyDisconnect(origin)
		}
		return chains.Chain{}, errors.Wrapf(rpcerr.ErrChainDisconnected, "chain %s", chain.Key)
	}
	return chain, nil
}

func (p *Provider) passthrough(ctx context.Context, req Request) (any, error) {
	args, err := asArgs(req.Params)
	if err != nil {
		return nil, err
	}
	chain, err := p.liveChain(ctx, req.Origin)
	if err != nil {
		return nil, err
	}
	raw, err := p.rpc.Call(ctx, chain, string(req.Method), args...)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
