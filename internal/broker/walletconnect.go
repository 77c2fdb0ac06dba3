package broker

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/requests"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

// ProposeSession queues a WalletConnect session proposal and returns the
// accounts the user approved for it.
func (b *Broker) ProposeSession(ctx context.Context, rawURL, channelID string, p WalletConnectPayload) ([]string, error) {
	origin, err := authstore.NormalizeOrigin(rawURL)
	if err != nil {
		return nil, err
	}
	p.Kind = WalletConnectSession
	p.Topic = strings.TrimSpace(p.Topic)
	if p.Topic == "" {
		return nil, errors.Wrap(rpcerr.ErrInvalidCandidate, "session topic missing")
	}
	if len(p.Chains) == 0 {
		return nil, errors.Wrap(rpcerr.ErrInvalidCandidate, "session proposes no chains")
	}

	h, err := b.walletConnect.Enqueue(origin, p, requests.EnqueueOptions[WalletConnectResult]{
		Fingerprint: origin + "\x00session\x00" + p.Topic,
		ChannelID:   channelID,
		Validate: func(r WalletConnectResult) error {
			if len(r.Accounts) == 0 {
				return errors.Wrap(rpcerr.ErrInvalidParams, "session approved without accounts")
			}
			for _, a := range r.Accounts {
				if !b.registry.Has(a) {
					return errors.Wrapf(rpcerr.ErrInvalidParams, "unknown account %s", a)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	res, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(res.Accounts))
	for i, a := range res.Accounts {
		out[i] = accounts.Canonical(a)
	}
	return out, nil
}

// NotifyUnsupported shows the user that a WalletConnect peer asked for a
// method the wallet cannot serve, and waits for the acknowledgement.
func (b *Broker) NotifyUnsupported(ctx context.Context, rawURL, channelID, method string) error {
	origin, err := authstore.NormalizeOrigin(rawURL)
	if err != nil {
		return err
	}
	h, err := b.walletConnect.Enqueue(origin, WalletConnectPayload{
		Kind:   WalletConnectNotSupported,
		Method: method,
	}, requests.EnqueueOptions[WalletConnectResult]{
		Fingerprint: origin + "\x00not-supported\x00" + method,
		ChannelID:   channelID,
	})
	if err != nil {
		return err
	}
	_, err = h.Wait(ctx)
	return err
}
