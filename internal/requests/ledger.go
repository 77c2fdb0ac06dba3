// Package requests implements the pending-request ledger every interactive
// request kind is queued in until the confirmation UI settles it.
package requests

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// Surface is notified when a ledger gains or loses entries.
type Surface interface {
	EnsureOpen()
	OnLedgerDrained()
}

// Controller is the payload-agnostic view of a ledger.
type Controller interface {
	Kind() string
	Count() int
	ResetAll(reason error) int
	CancelChannel(channelID string, reason error) int
}

// Entry is the UI-visible part of a pending request.
type Entry[T any] struct {
	ID        string    `json:"id"`
	Origin    string    `json:"origin"`
	Payload   T         `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Cloner is implemented by payloads holding pointers or slices. Ledgers hand
// out clones so readers never share memory with a pending entry.
type Cloner[T any] interface {
	Clone() T
}

func clonePayload[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

func (e Entry[T]) clone() Entry[T] {
	e.Payload = clonePayload(e.Payload)
	return e
}

type Result[R any] struct {
	Value R
	Err   error
}

// EnqueueOptions are per-request knobs.
type EnqueueOptions[R any] struct {
	// Fingerprint suppresses a second entry while one with the same value is pending.
	Fingerprint string
	// ChannelID ties the entry to a transport channel for cancellation.
	ChannelID string
	// Validate runs on a successful outcome; an error rejects the request.
	Validate func(R) error
}

// Finalizer post-processes a successful outcome before it is delivered.
type Finalizer[T, R any] func(ctx context.Context, entry Entry[T], value R) (R, error)

// Handle is the caller's side of an enqueued request.
type Handle[R any] struct {
	ID   string
	done <-chan Result[R]
}

// Wait blocks until the request settles or ctx is done. Giving up on ctx does
// not remove the entry; channel cancellation does.
func (h Handle[R]) Wait(ctx context.Context) (R, error) {
	select {
	case res := <-h.done:
		return res.Value, res.Err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Done exposes the one-shot result channel.
func (h Handle[R]) Done() <-chan Result[R] { return h.done }

// pending holds a one-shot completion; once settled it is never settled again.
type pending[T, R any] struct {
	entry       Entry[T]
	fingerprint string
	channelID   string
	validate    func(R) error

	done    chan Result[R]
	settled bool
}

func (p *pending[T, R]) settle(res Result[R]) error {
	if p.settled {
		return errors.Wrap(rpcerr.ErrAlreadySettled, p.entry.ID)
	}
	p.settled = true
	p.done <- res
	return nil
}

type Ledger[T, R any] struct {
	kind     string
	surface  Surface
	finalize Finalizer[T, R]
	now      func() time.Time

	// completeMu keeps completions in call order.
	completeMu sync.Mutex

	mu      sync.Mutex
	entries map[string]*pending[T, R]
	order   []string

	feed event.Feed
}

var _ Controller = (*Ledger[struct{}, struct{}])(nil)

type Option[T, R any] func(*Ledger[T, R])

func WithFinalizer[T, R any](f Finalizer[T, R]) Option[T, R] {
	return func(l *Ledger[T, R]) { l.finalize = f }
}

func WithClock[T, R any](now func() time.Time) Option[T, R] {
	return func(l *Ledger[T, R]) { l.now = now }
}

func NewLedger[T, R any](kind string, surface Surface, opts ...Option[T, R]) *Ledger[T, R] {
	l := &Ledger[T, R]{
		kind:    kind,
		surface: surface,
		now:     time.Now,
		entries: make(map[string]*pending[T, R]),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger[T, R]) Kind() string { return l.kind }

// Enqueue stores the request and returns without waiting for it to settle.
func (l *Ledger[T, R]) Enqueue(origin string, payload T, opts EnqueueOptions[R]) (Handle[R], error) {
	l.mu.Lock()
	if opts.Fingerprint != "" {
		for _, p := range l.entries {
			if p.fingerprint == opts.Fingerprint {
				l.mu.Unlock()
				return Handle[R]{}, errors.Wrapf(rpcerr.ErrDuplicateRequest, "%s request %s", l.kind, p.entry.ID)
			}
		}
	}

	p := &pending[T, R]{
		entry: Entry[T]{
			ID:        uuid.NewString(),
			Origin:    origin,
			Payload:   clonePayload(payload),
			CreatedAt: l.now().UTC(),
		},
		fingerprint: opts.Fingerprint,
		channelID:   opts.ChannelID,
		validate:    opts.Validate,
		done:        make(chan Result[R], 1),
	}
	l.entries[p.entry.ID] = p
	l.order = append(l.order, p.entry.ID)
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	log.Info("request enqueued", "ledger", l.kind, "id", p.entry.ID, "origin", origin)

	l.feed.Send(snapshot)
	if l.surface != nil {
		l.surface.EnsureOpen()
	}
	return Handle[R]{ID: p.entry.ID, done: p.done}, nil
}

// Complete settles one request. err != nil rejects it; otherwise the
// finalizer and validator run before the value is delivered. If either of
// them fails, the request is rejected with that error and Complete returns it
// too, so the caller learns the approval did not go through.
func (l *Ledger[T, R]) Complete(ctx context.Context, id string, value R, err error) error {
	l.completeMu.Lock()
	defer l.completeMu.Unlock()

	p, detachErr := l.detach(id)
	if detachErr != nil {
		return detachErr
	}

	var approvalErr error
	if err == nil && l.finalize != nil {
		value, approvalErr = l.finalize(ctx, p.entry, value)
	}
	if err == nil && approvalErr == nil && p.validate != nil {
		approvalErr = p.validate(value)
	}
	if approvalErr != nil {
		err = approvalErr
	}

	l.afterRemoval()

	if err != nil {
		log.Info("request rejected", "ledger", l.kind, "id", id, "origin", p.entry.Origin, "reason", err)
	} else {
		log.Info("request approved", "ledger", l.kind, "id", id, "origin", p.entry.Origin)
	}
	if settleErr := p.settle(Result[R]{Value: value, Err: err}); settleErr != nil {
		return settleErr
	}
	if approvalErr != nil {
		return errors.Wrapf(approvalErr, "%s request %s failed after approval", l.kind, id)
	}
	return nil
}

// Approve and Reject are shorthands for Complete.
func (l *Ledger[T, R]) Approve(ctx context.Context, id string, value R) error {
	return l.Complete(ctx, id, value, nil)
}

func (l *Ledger[T, R]) Reject(ctx context.Context, id string, reason error) error {
	if reason == nil {
		reason = rpcerr.ErrUserRejected
	}
	var zero R
	return l.Complete(ctx, id, zero, reason)
}

// detach removes a pending entry; after this Update on it fails.
func (l *Ledger[T, R]) detach(id string) (*pending[T, R], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.entries[id]
	if !ok {
		return nil, errors.Wrapf(rpcerr.ErrUnknownRequest, "%s ledger: %s", l.kind, id)
	}
	delete(l.entries, id)
	l.order = removeID(l.order, id)
	return p, nil
}

func (l *Ledger[T, R]) afterRemoval() {
	l.feed.Send(l.ListPending())
	if l.surface != nil {
		l.surface.OnLedgerDrained()
	}
}

// Update applies fn to a copy of a still-pending payload and swaps it in.
// Settled or unknown ids fail.
func (l *Ledger[T, R]) Update(id string, fn func(*T)) error {
	l.mu.Lock()
	p, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return errors.Wrapf(rpcerr.ErrUnknownRequest, "%s ledger: %s not pending", l.kind, id)
	}
	next := clonePayload(p.entry.Payload)
	fn(&next)
	p.entry.Payload = next
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.feed.Send(snapshot)
	return nil
}

// Has reports whether id is still pending.
func (l *Ledger[T, R]) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

func (l *Ledger[T, R]) Get(id string) (Entry[T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.entries[id]
	if !ok {
		return Entry[T]{}, false
	}
	return p.entry.clone(), true
}

// ListPending returns entries in enqueue order.
func (l *Ledger[T, R]) ListPending() []Entry[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger[T, R]) snapshotLocked() []Entry[T] {
	out := make([]Entry[T], 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id].entry.clone())
	}
	return out
}

func (l *Ledger[T, R]) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// ResetAll rejects every pending entry with reason.
func (l *Ledger[T, R]) ResetAll(reason error) int {
	return l.cancelWhere(reason, func(*pending[T, R]) bool { return true })
}

// CancelChannel rejects the entries enqueued from one transport channel.
func (l *Ledger[T, R]) CancelChannel(channelID string, reason error) int {
	if channelID == "" {
		return 0
	}
	return l.cancelWhere(reason, func(p *pending[T, R]) bool { return p.channelID == channelID })
}

func (l *Ledger[T, R]) cancelWhere(reason error, match func(*pending[T, R]) bool) int {
	l.completeMu.Lock()
	defer l.completeMu.Unlock()

	l.mu.Lock()
	var victims []*pending[T, R]
	kept := l.order[:0]
	for _, id := range l.order {
		p := l.entries[id]
		if match(p) {
			victims = append(victims, p)
			delete(l.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
	l.mu.Unlock()

	if len(victims) == 0 {
		return 0
	}

	l.afterRemoval()
	for _, p := range victims {
		if err := p.settle(Result[R]{Err: reason}); err != nil {
			log.Error("cancel settle", "ledger", l.kind, "id", p.entry.ID, "error", err)
		}
	}
	log.Info("requests cancelled", "ledger", l.kind, "count", len(victims), "reason", reason)
	return len(victims)
}

// SubscribePending delivers the full pending list after every change.
func (l *Ledger[T, R]) SubscribePending(ch chan<- []Entry[T]) event.Subscription {
	return l.feed.Subscribe(ch)
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
