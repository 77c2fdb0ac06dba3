package broker

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/requests"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/surface"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

const watchBuffer = 16

// Watch reports which ledger's pending list changed until ctx ends. An empty
// name means the surface state changed. Notifications are dropped while the
// reader is behind, so readers re-query state rather than count events. The
// channel is closed once ctx ends.
func (b *Broker) Watch(ctx context.Context) <-chan LedgerName {
	out := make(chan LedgerName, watchBuffer)
	notify := func(name LedgerName) {
		select {
		case out <- name:
		default:
		}
	}

	var wg sync.WaitGroup
	unsubs := []func(){
		watchLedger(ctx, &wg, b.authLedger.SubscribePending, LedgerAuth, notify),
		watchLedger(ctx, &wg, b.substrate.SubscribePending, LedgerSubstrate, notify),
		watchLedger(ctx, &wg, b.metadata.SubscribePending, LedgerMetadata, notify),
		watchLedger(ctx, &wg, b.walletConnect.SubscribePending, LedgerWalletConnect, notify),
	}
	for _, k := range confirmations.AllKinds {
		ch := make(chan []requests.Entry[confirmations.Payload], 1)
		unsub, err := b.confirmations.SubscribePending(k, ch)
		if err != nil {
			log.Warn("watch confirmation kind", "kind", k, "error", err)
			continue
		}
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go forward(ctx, &wg, ch, LedgerEvm, notify)
	}

	statusCh := make(chan surface.Status, 1)
	sub := b.surface.SubscribeStatus(statusCh)
	unsubs = append(unsubs, sub.Unsubscribe)
	wg.Add(1)
	go forward(ctx, &wg, statusCh, "", notify)

	go func() {
		<-ctx.Done()
		for _, unsub := range unsubs {
			unsub()
		}
		wg.Wait()
		close(out)
	}()
	return out
}

func watchLedger[T any](
	ctx context.Context,
	wg *sync.WaitGroup,
	subscribe func(chan<- []requests.Entry[T]) event.Subscription,
	name LedgerName,
	notify func(LedgerName),
) func() {
	ch := make(chan []requests.Entry[T], 1)
	sub := subscribe(ch)
	wg.Add(1)
	go forward(ctx, wg, ch, name, notify)
	return sub.Unsubscribe
}

// forward keeps ch drained so feed senders never wait on a slow reader.
func forward[T any](ctx context.Context, wg *sync.WaitGroup, ch <-chan T, name LedgerName, notify func(LedgerName)) {
	defer wg.Done()
	for {
		select {
		case <-ch:
			notify(name)
		case <-ctx.Done():
			return
		}
	}
}
