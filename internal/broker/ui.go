package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/requests"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/surface"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrUnknownLedger = errors.New("unknown ledger")

// Pending lists one ledger's pending entries in arrival order. kind scopes
// the EVM ledger to one confirmation kind and is ignored elsewhere.
func (b *Broker) Pending(name LedgerName, kind string) (any, error) {
	switch name {
	case LedgerAuth:
		return b.authLedger.ListPending(), nil
	case LedgerEvm:
		k := confirmations.Kind(kind)
		if k != "" && !k.Valid() {
			return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "confirmation kind %q", kind)
		}
		return b.confirmations.ListPending(k), nil
	case LedgerSubstrate:
		return b.substrate.ListPending(), nil
	case LedgerMetadata:
		return b.metadata.ListPending(), nil
	case LedgerWalletConnect:
		return b.walletConnect.ListPending(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownLedger, "%q", name)
	}
}

// Counts is the pending count per ledger.
func (b *Broker) Counts() map[LedgerName]int {
	return map[LedgerName]int{
		LedgerAuth:          b.authLedger.Count(),
		LedgerEvm:           b.confirmations.Count(),
		LedgerSubstrate:     b.substrate.Count(),
		LedgerMetadata:      b.metadata.Count(),
		LedgerWalletConnect: b.walletConnect.Count(),
	}
}

// Complete settles one pending entry with the UI's answer. A result the
// ledger cannot decode leaves the entry pending.
func (b *Broker) Complete(ctx context.Context, name LedgerName, id string, c Completion) error {
	switch name {
	case LedgerAuth:
		return completeLedger(ctx, b.authLedger, id, c)
	case LedgerEvm:
		out, err := decodeResult[confirmations.Outcome](c)
		if err != nil {
			return err
		}
		return b.confirmations.Complete(ctx, id, out, completionError(c.Error))
	case LedgerSubstrate:
		return completeLedger(ctx, b.substrate, id, c)
	case LedgerMetadata:
		return completeLedger(ctx, b.metadata, id, c)
	case LedgerWalletConnect:
		return completeLedger(ctx, b.walletConnect, id, c)
	default:
		return errors.Wrapf(ErrUnknownLedger, "%q", name)
	}
}

func completeLedger[T, R any](ctx context.Context, l *requests.Ledger[T, R], id string, c Completion) error {
	v, err := decodeResult[R](c)
	if err != nil {
		return err
	}
	return l.Complete(ctx, id, v, completionError(c.Error))
}

func decodeResult[R any](c Completion) (R, error) {
	var v R
	raw := bytes.TrimSpace(c.Result)
	if c.Error != "" || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.Wrapf(rpcerr.ErrInvalidParams, "completion result: %v", err)
	}
	return v, nil
}

// completionError maps the UI's error string; "rejected" and "cancelled" are
// the human declining.
func completionError(msg string) error {
	msg = strings.TrimSpace(msg)
	switch strings.ToLower(msg) {
	case "":
		return nil
	case "rejected", "cancelled", "canceled":
		return rpcerr.ErrUserRejected
	default:
		return errors.Newf("confirmation failed: %s", msg)
	}
}

// Lock rejects every pending entry in every ledger with ErrReset.
func (b *Broker) Lock() int {
	n := 0
	for _, l := range b.ledgers() {
		n += l.ResetAll(rpcerr.ErrReset)
	}
	log.Info("wallet locked", "cancelled", n)
	return n
}

// ResetWallet locks and forgets every authorization.
func (b *Broker) ResetWallet(ctx context.Context) error {
	b.Lock()
	return b.auth.Reset(ctx)
}

// CloseChannel cancels what channelID left pending and drops its event
// subscriptions.
func (b *Broker) CloseChannel(channelID string) int {
	if channelID == "" {
		return 0
	}
	n := 0
	for _, l := range b.ledgers() {
		n += l.CancelChannel(channelID, rpcerr.ErrDisconnected)
	}
	subs := b.events.UnsubscribeChannel(channelID)
	if n > 0 || subs > 0 {
		log.Info("channel closed", "channel", channelID, "cancelled", n, "subscriptions", subs)
	}
	return n
}

// FocusAccount changes the focused account; listeners see the new order.
func (b *Broker) FocusAccount(address string) error {
	return b.registry.SetFocused(address)
}

func (b *Broker) Authorizations(ctx context.Context) (authstore.AuthUrls, error) {
	return b.auth.GetAll(ctx)
}

func (b *Broker) SurfaceStatus() surface.Status {
	return b.surface.Status()
}
