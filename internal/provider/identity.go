package provider

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/constants"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

func (p *Provider) ethAccounts(ctx context.Context, req Request) (any, error) {
	return p.VisibleAccounts(ctx, req.Origin, accounts.KindEvm)
}

func (p *Provider) ethRequestAccounts(ctx context.Context, req Request) (any, error) {
	visible, err := p.VisibleAccounts(ctx, req.Origin, accounts.KindEvm)
	if err != nil {
		return nil, err
	}
	if len(visible) > 0 {
		return visible, nil
	}
	return p.authorizeAndList(ctx, req, false)
}

func (p *Provider) authorizeAndList(ctx context.Context, req Request, reconfirm bool) ([]string, error) {
	err := p.authz.Authorize(ctx, AuthRequest{
		Origin:    req.Origin,
		URL:       req.URL,
		ChannelID: req.ChannelID,
		Kind:      accounts.KindEvm,
		Reconfirm: reconfirm,
	})
	if err != nil {
		return nil, err
	}

	visible, err := p.VisibleAccounts(ctx, req.Origin, accounts.KindEvm)
	if err != nil {
		return nil, err
	}
	if len(visible) == 0 {
		return nil, errors.Wrap(rpcerr.ErrUserRejected, "no account selected")
	}
	return visible, nil
}

// ChainIDHex is what eth_chainId answers for origin.
func (p *Provider) ChainIDHex(ctx context.Context, origin string) string {
	if ch, ok := p.Chain(ctx, origin); ok {
		return ch.ChainIDHex()
	}
	return constants.DefaultEvmChainIDHex
}

func (p *Provider) ethChainID(ctx context.Context, req Request) (any, error) {
	return p.ChainIDHex(ctx, req.Origin), nil
}

func (p *Provider) netVersion(ctx context.Context, req Request) (any, error) {
	if ch, ok := p.Chain(ctx, req.Origin); ok {
		return ch.NetVersion(), nil
	}
	return "1", nil
}

// Permission is an EIP-2255 permission object.
type Permission struct {
	ParentCapability string   `json:"parentCapability"`
	Invoker          string   `json:"invoker"`
	Caveats          []Caveat `json:"caveats"`
}

type Caveat struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

func permissionsFor(origin string, visible []string) []Permission {
	if len(visible) == 0 {
		return []Permission{}
	}
	return []Permission{{
		ParentCapability: string(MethodEthAccounts),
		Invoker:          origin,
		Caveats: []Caveat{{
			Type:  "restrictReturnedAccounts",
			Value: visible,
		}},
	}}
}

// wallet_requestPermissions always re-runs authorization, even for a denied origin.
func (p *Provider) requestPermissions(ctx context.Context, req Request) (any, error) {
	if err := checkRequestedCapabilities(req.Params); err != nil {
		return nil, err
	}
	visible, err := p.authorizeAndList(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return permissionsFor(req.Origin, visible), nil
}

func checkRequestedCapabilities(raw json.RawMessage) error {
	obj, err := firstObject(raw)
	if err != nil {
		// no argument means eth_accounts
		return nil
	}
	var caps map[string]json.RawMessage
	if err := json.Unmarshal(obj, &caps); err != nil {
		return errors.Wrap(rpcerr.ErrInvalidParams, "permissions must be an object")
	}
	for name := range caps {
		if name != string(MethodEthAccounts) {
			return errors.Wrapf(rpcerr.ErrInvalidParams, "unsupported permission %q", name)
		}
	}
	return nil
}

func (p *Provider) getPermissions(ctx context.Context, req Request) (any, error) {
	visible, err := p.VisibleAccounts(ctx, req.Origin, accounts.KindEvm)
	if err != nil {
		return nil, err
	}
	return permissionsFor(req.Origin, visible), nil
}

func (p *Provider) revokePermissions(ctx context.Context, req Request) (any, error) {
	_, found, err := p.auth.Get(ctx, req.Origin)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if err := p.auth.SetAllowed(ctx, req.Origin, false); err != nil {
		return nil, err
	}
	return nil, nil
}
