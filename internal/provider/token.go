package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

const (
	StandardERC20  = "ERC20"
	StandardERC721 = "ERC721"

	maxSymbolLength = 11
	maxDecimals     = 36
)

// WatchAssetParams is the EIP-747 wallet_watchAsset object.
type WatchAssetParams struct {
	Type    string `json:"type"`
	Options struct {
		Address  string          `json:"address"`
		Symbol   string          `json:"symbol"`
		Decimals json.RawMessage `json:"decimals"`
		Image    string          `json:"image"`
	} `json:"options"`
}

func (p *Provider) watchAsset(ctx context.Context, req Request) (any, error) {
	obj, err := firstObject(req.Params)
	if err != nil {
		return nil, err
	}
	var params WatchAssetParams
	if err := json.Unmarshal(obj, &params); err != nil {
		return nil, errors.Wrapf(rpcerr.ErrInvalidCandidate, "watchAsset params: %v", err)
	}
	return p.AddToken(ctx, req, params)
}

// AddToken validates a token candidate locally, enqueues it, and checks the
// contract on-chain while the user decides.
func (p *Provider) AddToken(ctx context.Context, req Request, params WatchAssetParams) (bool, error) {
	draft, err := tokenDraft(params)
	if err != nil {
		return false, err
	}

	chain, ok := p.Chain(ctx, req.Origin)
	if !ok {
		return false, errors.Wrap(rpcerr.ErrChainDisconnected, "no chain configured")
	}
	draft.ChainKey = chain.Key

	h, err := p.queue.Enqueue(req.Origin, confirmations.Payload{
		Kind:     confirmations.KindAddToken,
		ChainKey: chain.Key,
		AddToken: &draft,
	}, confirmations.EnqueueOptions{ChannelID: req.ChannelID})
	if err != nil {
		return false, err
	}

	if draft.Standard == StandardERC20 {
		p.bg.Go(func() { p.validateToken(h.ID, draft) })
	}

	if _, err := h.Wait(ctx); err != nil {
		return false, err
	}
	log.Info("token watched", "origin", req.Origin, "chain", chain.Key, "address", draft.Address, "symbol", draft.Symbol)
	return true, nil
}

func tokenDraft(params WatchAssetParams) (confirmations.TokenDraft, error) {
	standard := strings.ToUpper(strings.TrimSpace(params.Type))
	if standard != StandardERC20 && standard != StandardERC721 {
		return confirmations.TokenDraft{}, errors.Wrapf(rpcerr.ErrInvalidCandidate, "unsupported token standard %q", params.Type)
	}

	addr := strings.TrimSpace(params.Options.Address)
	if !common.IsHexAddress(addr) {
		return confirmations.TokenDraft{}, errors.Wrapf(rpcerr.ErrInvalidCandidate, "token address %q", addr)
	}

	d := confirmations.TokenDraft{
		Standard: standard,
		Address:  common.HexToAddress(addr).Hex(),
		Symbol:   strings.TrimSpace(params.Options.Symbol),
		Image:    strings.TrimSpace(params.Options.Image),
	}
	if standard == StandardERC721 {
		return d, nil
	}

	if d.Symbol == "" || len(d.Symbol) > maxSymbolLength {
		return confirmations.TokenDraft{}, errors.Wrapf(rpcerr.ErrInvalidCandidate, "token symbol %q", d.Symbol)
	}
	decimals, err := parseDecimals(params.Options.Decimals)
	if err != nil {
		return confirmations.TokenDraft{}, err
	}
	d.Decimals = decimals
	return d, nil
}

// parseDecimals accepts a number or a numeric string.
func parseDecimals(raw json.RawMessage) (uint8, error) {
	if len(raw) == 0 {
		return 0, errors.Wrap(rpcerr.ErrInvalidCandidate, "token decimals missing")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, errors.Wrap(rpcerr.ErrInvalidCandidate, "token decimals")
		}
		n = json.Number(s)
	}
	v, err := n.Int64()
	if err != nil || v < 0 || v > maxDecimals {
		return 0, errors.Wrapf(rpcerr.ErrInvalidCandidate, "token decimals %q", n)
	}
	return uint8(v), nil
}

func (p *Provider) validateToken(id string, draft confirmations.TokenDraft) {
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	chain, ok := p.catalog.Get(draft.ChainKey)
	if !ok {
		return
	}
	info, tokenErr := p.rpc.TokenInfo(ctx, chain, common.HexToAddress(draft.Address))

	err := p.queue.Update(id, func(payload *confirmations.Payload) {
		t := payload.AddToken
		switch {
		case tokenErr != nil:
			t.ValidationError = tokenErr.Error()
		case info.Decimals != t.Decimals:
			t.OnChain = &info
			t.ValidationError = "decimals differ from the contract"
		case !strings.EqualFold(info.Symbol, t.Symbol):
			t.OnChain = &info
			t.Validated = true
			t.ValidationError = "symbol differs from the contract"
		default:
			t.OnChain = &info
			t.Validated = true
		}
	})
	if err != nil {
		log.Info("token validation dropped", "id", id, "reason", err)
	}
}
