package provider

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

const signatureLength = 65

// authorizedSender returns the canonical address if origin may use it.
func (p *Provider) authorizedSender(ctx context.Context, origin, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", errors.Wrapf(rpcerr.ErrInvalidParams, "address %q", address)
	}
	visible, err := p.VisibleAccounts(ctx, origin, accounts.KindEvm)
	if err != nil {
		return "", err
	}
	for _, a := range visible {
		if accounts.Equal(a, address) {
			return a, nil
		}
	}
	return "", errors.Wrapf(rpcerr.ErrUnauthorized, "account %s is not authorized for %s", address, origin)
}

func validSignature(o confirmations.Outcome) error {
	if len(o.Data) != signatureLength {
		return errors.Wrapf(rpcerr.ErrInvalidParams, "signature length %d", len(o.Data))
	}
	return nil
}

func (p *Provider) signMessage(ctx context.Context, req Request, address string, data json.RawMessage, kind confirmations.MessageKind) (any, error) {
	sender, err := p.authorizedSender(ctx, req.Origin, address)
	if err != nil {
		return nil, err
	}

	payload := confirmations.Payload{
		Kind: confirmations.KindSignMessage,
		Sign: &confirmations.SignRequest{Address: sender, Kind: kind, Data: data},
	}
	if ch, ok := p.Chain(ctx, req.Origin); ok {
		payload.ChainKey = ch.Key
	}

	h, err := p.queue.Enqueue(req.Origin, payload, confirmations.EnqueueOptions{
		ChannelID: req.ChannelID,
		Validate:  validSignature,
	})
	if err != nil {
		return nil, err
	}
	out, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return hexutil.Encode(out.Data), nil
}

// personal_sign is [message, address]; some dApps send them swapped.
func (p *Provider) personalSign(ctx context.Context, req Request) (any, error) {
	params, err := positional(req.Params)
	if err != nil {
		return nil, err
	}
	if len(params) < 2 {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "personal_sign expects [message, address]")
	}
	msg, addrRaw := params[0], params[1]

	address, err := decodeString(addrRaw, "address")
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(address) {
		if first, ferr := decodeString(msg, "message"); ferr == nil && common.IsHexAddress(first) {
			msg, address = addrRaw, first
		}
	}
	if _, err := decodeString(msg, "message"); err != nil {
		return nil, err
	}
	return p.signMessage(ctx, req, address, msg, confirmations.MessagePersonal)
}

// eth_sign is [address, message].
func (p *Provider) ethSign(ctx context.Context, req Request) (any, error) {
	params, err := positional(req.Params)
	if err != nil {
		return nil, err
	}
	if len(params) < 2 {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "eth_sign expects [address, message]")
	}
	address, err := decodeString(params[0], "address")
	if err != nil {
		return nil, err
	}
	if _, err := decodeString(params[1], "message"); err != nil {
		return nil, err
	}
	return p.signMessage(ctx, req, address, params[1], confirmations.MessageEthSign)
}

func (p *Provider) signTypedData(kind confirmations.MessageKind) handlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		params, err := positional(req.Params)
		if err != nil {
			return nil, err
		}
		if len(params) < 2 {
			return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "%s expects [address, typedData]", req.Method)
		}
		address, err := decodeString(params[0], "address")
		if err != nil {
			return nil, err
		}
		return p.signMessage(ctx, req, address, params[1], kind)
	}
}

// The legacy v1 typed-data format is not offered.
func (p *Provider) signTypedDataLegacy(_ context.Context, req Request) (any, error) {
	return nil, errors.Wrapf(rpcerr.ErrUnsupportedMethod, "%s: use eth_signTypedData_v4", req.Method)
}

func (p *Provider) sendTransaction(ctx context.Context, req Request) (any, error) {
	obj, err := firstObject(req.Params)
	if err != nil {
		return nil, err
	}
	var tx confirmations.TxParams
	if err := json.Unmarshal(obj, &tx); err != nil {
		return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "transaction: %v", err)
	}

	sender, err := p.authorizedSender(ctx, req.Origin, tx.From)
	if err != nil {
		return nil, err
	}
	tx.From = sender

	chain, err := p.liveChain(ctx, req.Origin)
	if err != nil {
		return nil, err
	}
	if err := p.prepareTransaction(ctx, chain, &tx); err != nil {
		return nil, err
	}

	txReq := confirmations.TxRequest{ChainID: chain.ChainID, Tx: tx}
	h, err := p.queue.Enqueue(req.Origin, confirmations.Payload{
		Kind:        confirmations.KindSendTransaction,
		ChainKey:    chain.Key,
		Transaction: &txReq,
	}, confirmations.EnqueueOptions{
		ChannelID: req.ChannelID,
		Validate:  signedBy(common.HexToAddress(sender), chain.ChainID),
	})
	if err != nil {
		return nil, err
	}
	out, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := p.rpc.Call(ctx, chain, "eth_sendRawTransaction", hexutil.Encode(out.Data))
	if err != nil {
		return nil, err
	}
	var hash common.Hash
	if err := json.Unmarshal(raw, &hash); err != nil {
		return nil, errors.Wrap(err, "decode transaction hash")
	}
	log.Info("transaction broadcast", "origin", req.Origin, "chain", chain.Key, "hash", hash.Hex())
	return hash.Hex(), nil
}

// signedBy checks the approved payload is a transaction for chainID signed by from.
func signedBy(from common.Address, chainID uint64) func(confirmations.Outcome) error {
	return func(o confirmations.Outcome) error {
		var tx types.Transaction
		if err := tx.UnmarshalBinary(o.Data); err != nil {
			return errors.Wrapf(rpcerr.ErrInvalidParams, "signed transaction: %v", err)
		}
		signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
		got, err := types.Sender(signer, &tx)
		if err != nil {
			return errors.Wrapf(rpcerr.ErrInvalidParams, "signed transaction sender: %v", err)
		}
		if got != from {
			return errors.Wrapf(rpcerr.ErrInvalidParams, "transaction signed by %s, expected %s", got.Hex(), from.Hex())
		}
		return nil
	}
}
