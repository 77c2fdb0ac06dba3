package broker

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/provider"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/requests"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// Authorize runs the authorization prompt for an origin unless it already
// sees an account of the requested kind. A denied origin is refused without
// a prompt unless the request asks to reconfirm.
func (b *Broker) Authorize(ctx context.Context, req provider.AuthRequest) error {
	kind := req.Kind
	if !kind.Valid() {
		kind = accounts.KindEvm
	}

	info, found, err := b.auth.Get(ctx, req.Origin)
	if err != nil {
		return err
	}
	if found && !req.Reconfirm {
		if !info.IsAllowed {
			return errors.Wrapf(rpcerr.ErrUnauthorized, "origin %s was denied", req.Origin)
		}
		if len(authstore.VisibleAccounts(info, true, b.registry, kind)) > 0 {
			return nil
		}
	}

	release, err := b.auth.BeginAuthorization(req.Origin)
	if err != nil {
		return err
	}
	defer release()

	h, err := b.authLedger.Enqueue(req.Origin, AuthPayload{
		URL:        req.URL,
		Kind:       kind,
		Reconfirm:  req.Reconfirm,
		Candidates: b.registry.ByKind(kind),
	}, requests.EnqueueOptions[AuthResult]{
		ChannelID: req.ChannelID,
		Validate:  b.validSelection(kind),
	})
	if err != nil {
		return err
	}

	res, err := h.Wait(ctx)
	if err != nil {
		if errors.Is(err, rpcerr.ErrUserRejected) {
			if derr := b.auth.Deny(ctx, req.Origin, req.URL, kind); derr != nil {
				log.Error("record denied origin", "origin", req.Origin, "error", derr)
			}
		}
		return err
	}

	grant := authstore.Grant{
		Origin:     req.Origin,
		URL:        req.URL,
		Kind:       kind,
		Selected:   res.Accounts,
		Candidates: b.registry.Accounts(),
	}
	if kind.Covers(accounts.KindEvm) {
		if ch, ok := b.auth.ResolveDAppChain(ctx, authstore.ResolveOptions{
			AccountKind:  accounts.KindEvm,
			AutoActivate: true,
			OriginID:     req.Origin,
		}); ok {
			grant.NetworkKey = ch.Key
		}
	}
	return b.auth.Approve(ctx, grant)
}

// validSelection rejects approvals naming accounts the wallet does not hold.
func (b *Broker) validSelection(kind accounts.Kind) func(AuthResult) error {
	return func(res AuthResult) error {
		for _, a := range res.Accounts {
			if !b.registry.Has(a) || !kind.Covers(accounts.KindOf(a)) {
				return errors.Wrapf(rpcerr.ErrInvalidParams, "account %s cannot be granted", a)
			}
		}
		return nil
	}
}
