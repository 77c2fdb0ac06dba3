// Package confirmations is the EVM confirmation queue: one request ledger per
// confirmation kind, duplicate suppression by payload fingerprint, and
// backend signing for approvals that defer the cryptographic work.
package confirmations

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/requests"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

// Signer produces signatures once the user approved a request.
type Signer interface {
	SignMessage(ctx context.Context, address string, data []byte, kind MessageKind) (hexutil.Bytes, error)
	SignTransaction(ctx context.Context, address string, tx TxRequest) (hexutil.Bytes, error)
}

type EnqueueOptions struct {
	ChannelID string
	Validate  func(Outcome) error
}

type Queue struct {
	ledgers map[Kind]*requests.Ledger[Payload, Outcome]
	signer  Signer
}

var _ requests.Controller = (*Queue)(nil)

func NewQueue(surface requests.Surface, signer Signer) *Queue {
	q := &Queue{
		ledgers: make(map[Kind]*requests.Ledger[Payload, Outcome], len(AllKinds)),
		signer:  signer,
	}
	for _, k := range AllKinds {
		q.ledgers[k] = requests.NewLedger[Payload, Outcome](
			"evm/"+string(k),
			surface,
			requests.WithFinalizer[Payload, Outcome](q.finalize),
		)
	}
	return q
}

func (q *Queue) Kind() string { return "evm" }

// Enqueue rejects a payload whose (origin, kind, fingerprint) is already pending.
func (q *Queue) Enqueue(origin string, p Payload, opts EnqueueOptions) (requests.Handle[Outcome], error) {
	l, ok := q.ledgers[p.Kind]
	if !ok {
		return requests.Handle[Outcome]{}, errors.Wrapf(rpcerr.ErrInvalidParams, "unknown confirmation kind %q", p.Kind)
	}
	if err := p.check(); err != nil {
		return requests.Handle[Outcome]{}, err
	}

	fp, err := Fingerprint(origin, p.Kind, p)
	if err != nil {
		return requests.Handle[Outcome]{}, err
	}
	return l.Enqueue(origin, p, requests.EnqueueOptions[Outcome]{
		Fingerprint: fp,
		ChannelID:   opts.ChannelID,
		Validate:    opts.Validate,
	})
}

func (p Payload) check() error {
	var ok bool
	switch p.Kind {
	case KindAddNetwork:
		ok = p.AddNetwork != nil
	case KindAddToken:
		ok = p.AddToken != nil
	case KindSwitchNetwork:
		ok = p.SwitchNetwork != nil
	case KindSignMessage:
		ok = p.Sign != nil
	case KindSendTransaction:
		ok = p.Transaction != nil
	}
	if !ok {
		return errors.Wrapf(rpcerr.ErrInvalidParams, "%s payload body missing", p.Kind)
	}
	return nil
}

// finalize asks the signer for sign-message and send-transaction approvals
// that came back without data.
func (q *Queue) finalize(ctx context.Context, e requests.Entry[Payload], out Outcome) (Outcome, error) {
	if len(out.Data) > 0 {
		return out, nil
	}

	switch e.Payload.Kind {
	case KindSignMessage:
		if q.signer == nil {
			return out, errors.New("no signer configured")
		}
		sig, err := q.signer.SignMessage(ctx, e.Payload.Sign.Address, e.Payload.Sign.Data, e.Payload.Sign.Kind)
		if err != nil {
			return out, errors.Wrap(err, "sign message")
		}
		out.Data = sig
	case KindSendTransaction:
		if q.signer == nil {
			return out, errors.New("no signer configured")
		}
		raw, err := q.signer.SignTransaction(ctx, e.Payload.Transaction.Tx.From, *e.Payload.Transaction)
		if err != nil {
			return out, errors.Wrap(err, "sign transaction")
		}
		out.Data = raw
	}
	return out, nil
}

// Complete settles id in whichever kind holds it.
func (q *Queue) Complete(ctx context.Context, id string, out Outcome, err error) error {
	l, ok := q.ledgerFor(id)
	if !ok {
		return errors.Wrapf(rpcerr.ErrUnknownRequest, "evm ledger: %s", id)
	}
	return l.Complete(ctx, id, out, err)
}

// Update mutates a pending payload; it fails once the entry settled.
func (q *Queue) Update(id string, fn func(*Payload)) error {
	l, ok := q.ledgerFor(id)
	if !ok {
		return errors.Wrapf(rpcerr.ErrUnknownRequest, "evm ledger: %s not pending", id)
	}
	return l.Update(id, fn)
}

func (q *Queue) Get(id string) (requests.Entry[Payload], bool) {
	l, ok := q.ledgerFor(id)
	if !ok {
		return requests.Entry[Payload]{}, false
	}
	return l.Get(id)
}

func (q *Queue) ledgerFor(id string) (*requests.Ledger[Payload, Outcome], bool) {
	for _, k := range AllKinds {
		if q.ledgers[k].Has(id) {
			return q.ledgers[k], true
		}
	}
	return nil, false
}

// ListPending scopes to kind, or lists every kind by creation time when kind is "".
func (q *Queue) ListPending(kind Kind) []requests.Entry[Payload] {
	if kind != "" {
		l, ok := q.ledgers[kind]
		if !ok {
			return nil
		}
		return l.ListPending()
	}

	var out []requests.Entry[Payload]
	for _, k := range AllKinds {
		out = append(out, q.ledgers[k].ListPending()...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count is the total across kinds.
func (q *Queue) Count() int {
	n := 0
	for _, l := range q.ledgers {
		n += l.Count()
	}
	return n
}

func (q *Queue) CountKind(kind Kind) int {
	l, ok := q.ledgers[kind]
	if !ok {
		return 0
	}
	return l.Count()
}

func (q *Queue) ResetAll(reason error) int {
	n := 0
	for _, k := range AllKinds {
		n += q.ledgers[k].ResetAll(reason)
	}
	return n
}

func (q *Queue) CancelChannel(channelID string, reason error) int {
	n := 0
	for _, k := range AllKinds {
		n += q.ledgers[k].CancelChannel(channelID, reason)
	}
	return n
}

// SubscribePending streams the pending list of one kind.
func (q *Queue) SubscribePending(kind Kind, ch chan<- []requests.Entry[Payload]) (func(), error) {
	l, ok := q.ledgers[kind]
	if !ok {
		return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "unknown confirmation kind %q", kind)
	}
	sub := l.SubscribePending(ch)
	return sub.Unsubscribe, nil
}
