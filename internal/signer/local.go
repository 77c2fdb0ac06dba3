// Package signer is an in-process Signer over go-ethereum crypto for
// development keys. Production key custody plugs in behind the same interface.
package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

var ErrNoKey = errors.New("no key for address")

type Local struct {
	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
	// creation order
	order []common.Address
}

var _ confirmations.Signer = (*Local)(nil)

// NewLocal loads hex-encoded secp256k1 private keys.
func NewLocal(hexKeys []string) (*Local, error) {
	l := &Local{keys: make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys))}
	for i, hk := range hexKeys {
		hk = strings.TrimPrefix(strings.TrimSpace(hk), "0x")
		if hk == "" {
			continue
		}
		key, err := crypto.HexToECDSA(hk)
		if err != nil {
			return nil, errors.Wrapf(err, "signer key %d", i)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := l.keys[addr]; dup {
			continue
		}
		l.keys[addr] = key
		l.order = append(l.order, addr)
	}
	return l, nil
}

// Addresses lists the checksummed addresses the signer holds keys for.
func (l *Local) Addresses() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.order))
	for _, a := range l.order {
		out = append(out, a.Hex())
	}
	return out
}

func (l *Local) key(address string) (*ecdsa.PrivateKey, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "address %q", address)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	k, ok := l.keys[common.HexToAddress(address)]
	if !ok {
		return nil, errors.Wrap(ErrNoKey, address)
	}
	return k, nil
}

func (l *Local) SignMessage(_ context.Context, address string, data []byte, kind confirmations.MessageKind) (hexutil.Bytes, error) {
	key, err := l.key(address)
	if err != nil {
		return nil, err
	}

	var digest []byte
	switch kind {
	case confirmations.MessagePersonal, confirmations.MessageEthSign:
		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, err
		}
		digest = accounts.TextHash(msg)
	case confirmations.MessageTypedDataV3, confirmations.MessageTypedDataV4:
		digest, err = TypedDataDigest(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(rpcerr.ErrUnsupportedMethod, "message kind %q", kind)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, errors.Wrap(err, "sign")
	}
	// wallets return v as 27/28
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTransaction signs an EIP-1559 transaction when fee caps are present,
// otherwise a legacy EIP-155 transaction. Nonce and gas must be filled in.
func (l *Local) SignTransaction(_ context.Context, address string, req confirmations.TxRequest) (hexutil.Bytes, error) {
	key, err := l.key(address)
	if err != nil {
		return nil, err
	}

	tx, err := BuildTransaction(req)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(req.ChainID)), key)
	if err != nil {
		return nil, errors.Wrap(err, "sign tx")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "encode tx")
	}
	return raw, nil
}

// BuildTransaction turns eth_sendTransaction params into an unsigned transaction.
func BuildTransaction(req confirmations.TxRequest) (*types.Transaction, error) {
	p := req.Tx
	if req.ChainID == 0 {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "missing chain id")
	}
	if p.Nonce == nil || p.Gas == nil {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "nonce and gas are required")
	}

	var to *common.Address
	if p.To != nil && *p.To != "" {
		if !common.IsHexAddress(*p.To) {
			return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "to %q", *p.To)
		}
		addr := common.HexToAddress(*p.To)
		to = &addr
	}

	value := new(big.Int)
	if p.Value != nil {
		value = p.Value.ToInt()
	}
	data := p.CallData()

	if p.MaxFeePerGas != nil {
		tip := new(big.Int)
		if p.MaxPriorityFeePerGas != nil {
			tip = p.MaxPriorityFeePerGas.ToInt()
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(req.ChainID),
			Nonce:     uint64(*p.Nonce),
			GasTipCap: tip,
			GasFeeCap: p.MaxFeePerGas.ToInt(),
			Gas:       uint64(*p.Gas),
			To:        to,
			Value:     value,
			Data:      data,
		}), nil
	}

	if p.GasPrice == nil {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "gasPrice or maxFeePerGas is required")
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    uint64(*p.Nonce),
		GasPrice: p.GasPrice.ToInt(),
		Gas:      uint64(*p.Gas),
		To:       to,
		Value:    value,
		Data:     data,
	}), nil
}

// DecodeMessage accepts a JSON string holding 0x-hex or plain text.
func DecodeMessage(data []byte) ([]byte, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "message must be a string")
	}
	if strings.HasPrefix(s, "0x") {
		if b, err := hexutil.Decode(s); err == nil {
			return b, nil
		}
	}
	return []byte(s), nil
}

// TypedDataDigest hashes EIP-712 typed data given as an object or a JSON string.
func TypedDataDigest(data []byte) ([]byte, error) {
	raw := data
	var inner string
	if json.Unmarshal(data, &inner) == nil {
		raw = []byte(inner)
	}

	var td apitypes.TypedData
	if err := json.Unmarshal(raw, &td); err != nil {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "invalid typed data json")
	}

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "domain hash: %v", err)
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "message hash: %v", err)
	}

	// keccak256("\x19\x01" || domainSeparator || msgHash)
	return crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, msgHash), nil
}
