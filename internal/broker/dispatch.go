package broker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/events"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/provider"
)

// Message is one inbound dApp request as the transport received it.
type Message struct {
	// URL is the page the request came from; it is reduced to an origin.
	URL       string
	ChannelID string
	Method    string
	Params    json.RawMessage
}

// Dispatch is the single entry point for dApp requests. It may block until
// the confirmation UI settles the request, ctx ends, or the channel closes.
func (b *Broker) Dispatch(ctx context.Context, msg Message) (any, error) {
	origin, err := authstore.NormalizeOrigin(msg.URL)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(msg.Method, substratePrefix) {
		return b.dispatchSubstrate(ctx, origin, msg)
	}
	return b.provider.Dispatch(ctx, provider.Request{
		Origin:    origin,
		URL:       msg.URL,
		ChannelID: msg.ChannelID,
		Method:    provider.Method(msg.Method),
		Params:    msg.Params,
	})
}

// SubscribeEvents starts provider events for the page at rawURL on channelID.
func (b *Broker) SubscribeEvents(ctx context.Context, rawURL, channelID string) (*events.Subscription, error) {
	origin, err := authstore.NormalizeOrigin(rawURL)
	if err != nil {
		return nil, err
	}
	return b.events.Subscribe(ctx, origin, channelID)
}
