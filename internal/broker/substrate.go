package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/provider"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/requests"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

const (
	MethodAuthorizeTab    = "pub(authorize.tab)"
	MethodAccountsList    = "pub(accounts.list)"
	MethodBytesSign       = "pub(bytes.sign)"
	MethodExtrinsicSign   = "pub(extrinsic.sign)"
	MethodMetadataProvide = "pub(metadata.provide)"
	MethodMetadataList    = "pub(metadata.list)"

	substratePrefix = "pub("

	// sr25519/ed25519 signatures are 64 bytes, plus an optional type byte
	minSubstrateSignature = 64
)

// AuthResponse answers pub(authorize.tab).
type AuthResponse struct {
	AuthorizedAccounts []string `json:"authorizedAccounts"`
	Result             bool     `json:"result"`
}

func (b *Broker) dispatchSubstrate(ctx context.Context, origin string, msg Message) (any, error) {
	switch msg.Method {
	case MethodAuthorizeTab:
		return b.authorizeTab(ctx, origin, msg)
	case MethodAccountsList:
		return b.listSubstrateAccounts(ctx, origin)
	case MethodBytesSign:
		return b.substrateSign(ctx, origin, msg, SignBytes)
	case MethodExtrinsicSign:
		return b.substrateSign(ctx, origin, msg, SignExtrinsic)
	case MethodMetadataProvide:
		return b.provideMetadata(ctx, origin, msg)
	case MethodMetadataList:
		return b.known.List(), nil
	default:
		return nil, errors.Wrapf(rpcerr.ErrUnsupportedMethod, "%s", msg.Method)
	}
}

func (b *Broker) authorizeTab(ctx context.Context, origin string, msg Message) (any, error) {
	err := b.Authorize(ctx, provider.AuthRequest{
		Origin:    origin,
		URL:       msg.URL,
		ChannelID: msg.ChannelID,
		Kind:      accounts.KindSubstrate,
	})
	if err != nil {
		return nil, err
	}
	visible, err := b.visibleSubstrate(ctx, origin)
	if err != nil {
		return nil, err
	}
	return AuthResponse{AuthorizedAccounts: visible, Result: len(visible) > 0}, nil
}

func (b *Broker) visibleSubstrate(ctx context.Context, origin string) ([]string, error) {
	info, found, err := b.auth.Get(ctx, origin)
	if err != nil {
		return nil, err
	}
	return authstore.VisibleAccounts(info, found, b.registry, accounts.KindSubstrate), nil
}

func (b *Broker) listSubstrateAccounts(ctx context.Context, origin string) (any, error) {
	info, found, err := b.auth.Get(ctx, origin)
	if err != nil {
		return nil, err
	}
	if !found || !info.IsAllowed {
		return nil, errors.Wrapf(rpcerr.ErrUnauthorized, "origin %s is not authorized", origin)
	}

	names := make(map[string]string)
	for _, a := range b.registry.ByKind(accounts.KindSubstrate) {
		names[a.Address] = a.Name
	}
	out := []InjectedAccount{}
	for _, addr := range authstore.VisibleAccounts(info, found, b.registry, accounts.KindSubstrate) {
		out = append(out, InjectedAccount{Address: addr, Name: names[addr], Type: "sr25519"})
	}
	return out, nil
}

type substrateSignParams struct {
	Address     string `json:"address"`
	GenesisHash string `json:"genesisHash"`
}

func (b *Broker) substrateSign(ctx context.Context, origin string, msg Message, kind SubstrateSignKind) (any, error) {
	raw := msg.Params
	var params substrateSignParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "%s params", msg.Method)
	}
	if accounts.KindOf(params.Address) != accounts.KindSubstrate {
		return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "address %q", params.Address)
	}

	visible, err := b.visibleSubstrate(ctx, origin)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, a := range visible {
		if a == params.Address {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errors.Wrapf(rpcerr.ErrUnauthorized, "account %s is not authorized for %s", params.Address, origin)
	}

	payload := SubstrateSignPayload{Address: params.Address, Kind: kind, Payload: raw}
	if kind == SignExtrinsic {
		if ch, ok := b.catalog.FindByGenesis(params.GenesisHash); ok {
			payload.ChainKey = ch.Key
		}
	}

	h, err := b.substrate.Enqueue(origin, payload, requests.EnqueueOptions[SubstrateSignature]{
		ChannelID: msg.ChannelID,
		Validate: func(s SubstrateSignature) error {
			if len(s.Signature) < minSubstrateSignature {
				return errors.Wrapf(rpcerr.ErrInvalidParams, "signature length %d", len(s.Signature))
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	sig, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return SignerResult{ID: h.ID, Signature: hexutil.Encode(sig.Signature)}, nil
}

// provideMetadata answers true straight away when this genesis is already
// known at the offered spec version.
func (b *Broker) provideMetadata(ctx context.Context, origin string, msg Message) (any, error) {
	var def MetadataDef
	if err := json.Unmarshal(msg.Params, &def); err != nil {
		return nil, errors.Wrap(rpcerr.ErrInvalidCandidate, "metadata params")
	}
	def.GenesisHash = strings.ToLower(strings.TrimSpace(def.GenesisHash))
	if err := validateMetadata(def); err != nil {
		return nil, err
	}
	if b.known.Known(def.GenesisHash, def.SpecVersion) {
		return true, nil
	}

	h, err := b.metadata.Enqueue(origin, def, requests.EnqueueOptions[MetadataApproval]{
		Fingerprint: origin + "\x00" + def.GenesisHash + ":" + strconv.FormatUint(uint64(def.SpecVersion), 10),
		ChannelID:   msg.ChannelID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := h.Wait(ctx); err != nil {
		return nil, err
	}
	if err := b.known.Save(ctx, def); err != nil {
		return nil, err
	}
	log.Info("metadata stored", "origin", origin, "chain", def.Chain, "specVersion", def.SpecVersion)
	return true, nil
}
