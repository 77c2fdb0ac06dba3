package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

const enrichTimeout = 15 * time.Second

// AddChainParams is the EIP-3085 wallet_addEthereumChain object.
type AddChainParams struct {
	ChainID        string         `json:"chainId"`
	ChainName      string         `json:"chainName"`
	RPCURLs        []string       `json:"rpcUrls"`
	NativeCurrency NativeCurrency `json:"nativeCurrency"`
	BlockExplorers []string       `json:"blockExplorerUrls"`
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func (p *Provider) switchEthereumChain(ctx context.Context, req Request) (any, error) {
	obj, err := firstObject(req.Params)
	if err != nil {
		return nil, err
	}
	var params struct {
		ChainID string `json:"chainId"`
	}
	if err := json.Unmarshal(obj, &params); err != nil {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "switch params")
	}
	id, err := chains.ParseChainID(params.ChainID)
	if err != nil {
		return nil, err
	}
	return nil, p.SwitchNetwork(ctx, req, id)
}

// SwitchNetwork moves origin to chainID. Same chain is a no-op; a known
// enabled chain switches directly; anything else escalates to AddNetwork.
func (p *Provider) SwitchNetwork(ctx context.Context, req Request, chainID uint64) error {
	if current, ok := p.Chain(ctx, req.Origin); ok && current.ChainID == chainID {
		return nil
	}
	if ch, ok := p.catalog.FindByChainID(chainID); ok && ch.Enabled {
		return p.commitSwitch(ctx, req.Origin, ch)
	}
	return p.AddNetwork(ctx, req, AddChainParams{ChainID: hexChainID(chainID)})
}

func (p *Provider) commitSwitch(ctx context.Context, origin string, ch chains.Chain) error {
	return p.auth.SetCurrentEvmNetwork(ctx, origin, ch.Key)
}

func (p *Provider) addEthereumChain(ctx context.Context, req Request) (any, error) {
	obj, err := firstObject(req.Params)
	if err != nil {
		return nil, err
	}
	var params AddChainParams
	if err := json.Unmarshal(obj, &params); err != nil {
		return nil, errors.Wrapf(rpcerr.ErrInvalidCandidate, "chain params: %v", err)
	}
	return nil, p.AddNetwork(ctx, req, params)
}

// AddNetwork adds and switches to a candidate chain. Local validation fails
// synchronously; the endpoint probe races with the user's decision and only
// annotates the pending draft.
func (p *Provider) AddNetwork(ctx context.Context, req Request, params AddChainParams) error {
	chainID, err := chains.ParseChainID(params.ChainID)
	if err != nil {
		return errors.Wrapf(rpcerr.ErrInvalidCandidate, "%v", err)
	}
	if chainID == 0 {
		return errors.Wrap(rpcerr.ErrInvalidCandidate, "chain id 0")
	}

	if ch, ok := p.catalog.FindByChainID(chainID); ok {
		if ch.Enabled {
			return p.commitSwitch(ctx, req.Origin, ch)
		}
		return p.confirmSwitch(ctx, req, ch)
	}

	endpoints := chains.ValidEndpoints(accounts.KindEvm, params.RPCURLs)
	if len(endpoints) == 0 {
		if len(params.RPCURLs) == 0 && params.ChainName == "" {
			return errors.Wrapf(rpcerr.ErrUnrecognizedChain, "chain %s is not known; add it first", hexChainID(chainID))
		}
		return errors.Wrap(rpcerr.ErrInvalidCandidate, "no usable http(s) rpc url")
	}

	draft := chains.Enrich(candidateChain(chainID, params, endpoints))
	h, err := p.queue.Enqueue(req.Origin, confirmations.Payload{
		Kind:       confirmations.KindAddNetwork,
		ChainKey:   draft.Key,
		AddNetwork: &confirmations.NetworkDraft{Chain: draft},
	}, confirmations.EnqueueOptions{ChannelID: req.ChannelID})
	if err != nil {
		return err
	}

	p.bg.Go(func() { p.probeDraft(h.ID, endpoints[0], chainID) })

	out, err := h.Wait(ctx)
	if err != nil {
		return err
	}

	// only what the user confirmed is stored: the UI's record, else the draft as requested
	final := draft
	if out.Chain != nil {
		final = *out.Chain
		if final.ChainID != chainID {
			return errors.Wrapf(rpcerr.ErrInvalidCandidate, "confirmed chain id %d differs from requested %d", final.ChainID, chainID)
		}
		final.Kind = accounts.KindEvm
		final.RPCs = validRPCs(final.RPCs)
		if len(final.RPCs) == 0 {
			return errors.Wrap(rpcerr.ErrInvalidCandidate, "confirmed chain has no usable rpc url")
		}
	}

	// another origin may have added the same chain while this one waited
	if ch, ok := p.catalog.FindByChainID(chainID); ok {
		return p.switchToApproved(ctx, req.Origin, ch)
	}
	added, err := p.catalog.Add(ctx, final)
	if err != nil {
		if ch, ok := p.catalog.FindByChainID(chainID); ok {
			return p.switchToApproved(ctx, req.Origin, ch)
		}
		return errors.Wrap(err, "add chain")
	}
	log.Info("chain added", "origin", req.Origin, "chain", added.Key, "chainId", added.ChainID)
	return p.commitSwitch(ctx, req.Origin, added)
}

// switchToApproved switches to a chain the user already approved adding.
func (p *Provider) switchToApproved(ctx context.Context, origin string, ch chains.Chain) error {
	if !ch.Enabled {
		if err := p.catalog.Enable(ctx, ch.Key); err != nil {
			return err
		}
		ch.Enabled = true
	}
	log.Info("chain already added", "origin", origin, "chain", ch.Key, "chainId", ch.ChainID)
	return p.commitSwitch(ctx, origin, ch)
}

// confirmSwitch asks the user before enabling a known but disabled chain.
func (p *Provider) confirmSwitch(ctx context.Context, req Request, ch chains.Chain) error {
	h, err := p.queue.Enqueue(req.Origin, confirmations.Payload{
		Kind:     confirmations.KindSwitchNetwork,
		ChainKey: ch.Key,
		SwitchNetwork: &confirmations.SwitchRequest{
			ChainKey:   ch.Key,
			ChainIDHex: ch.ChainIDHex(),
			Name:       ch.Name,
		},
	}, confirmations.EnqueueOptions{ChannelID: req.ChannelID})
	if err != nil {
		return err
	}
	if _, err := h.Wait(ctx); err != nil {
		return err
	}
	if err := p.catalog.Enable(ctx, ch.Key); err != nil {
		return err
	}
	return p.commitSwitch(ctx, req.Origin, ch)
}

// probeDraft fills authoritative metadata into a pending add-network entry.
// Once the entry settled the update is dropped.
func (p *Provider) probeDraft(id, endpoint string, chainID uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	meta, probeErr := p.rpc.Probe(ctx, endpoint)
	err := p.queue.Update(id, func(payload *confirmations.Payload) {
		d := payload.AddNetwork
		d.Probed = true
		switch {
		case probeErr != nil:
			d.ProbeError = probeErr.Error()
		case meta.ChainID != chainID:
			d.ProbeError = errors.Wrapf(rpcerr.ErrProbeFailed, "endpoint reports chain id %d", meta.ChainID).Error()
		default:
			m := meta
			d.Metadata = &m
		}
	})
	if err != nil {
		log.Info("probe result dropped", "id", id, "reason", err)
	}
}

func candidateChain(chainID uint64, params AddChainParams, endpoints []string) chains.Chain {
	ch := chains.Chain{
		Key:          "custom-" + strings.TrimPrefix(hexChainID(chainID), "0x"),
		Name:         strings.TrimSpace(params.ChainName),
		Kind:         accounts.KindEvm,
		ChainID:      chainID,
		NativeSymbol: strings.TrimSpace(params.NativeCurrency.Symbol),
		Decimals:     params.NativeCurrency.Decimals,
	}
	if ch.Decimals == 0 {
		ch.Decimals = 18
	}
	for i, ep := range endpoints {
		ch.RPCs = append(ch.RPCs, chains.RPC{Name: fmt.Sprintf("rpc-%d", i), URL: ep})
	}
	for _, e := range params.BlockExplorers {
		if strings.HasPrefix(e, "https://") {
			ch.Explorer = e
			break
		}
	}
	return ch
}

func validRPCs(in []chains.RPC) []chains.RPC {
	var urls []string
	for _, r := range in {
		urls = append(urls, r.URL)
	}
	ok := chains.ValidEndpoints(accounts.KindEvm, urls)
	var out []chains.RPC
	for _, r := range in {
		for _, u := range ok {
			if r.URL == u {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func hexChainID(id uint64) string {
	return chains.Chain{Kind: accounts.KindEvm, ChainID: id}.ChainIDHex()
}
