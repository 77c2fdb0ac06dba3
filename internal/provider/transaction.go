package provider

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/confirmations"
)

// prepareTransaction fills nonce, gas and fees the dApp left out so the
// confirmation shows the transaction that will be signed.
func (p *Provider) prepareTransaction(ctx context.Context, chain chains.Chain, tx *confirmations.TxParams) error {
	if tx.Nonce == nil {
		var nonce hexutil.Uint64
		if err := p.callInto(ctx, chain, &nonce, "eth_getTransactionCount", tx.From, "pending"); err != nil {
			return errors.Wrap(err, "nonce")
		}
		tx.Nonce = &nonce
	}

	if tx.Gas == nil {
		call := map[string]any{"from": tx.From}
		if tx.To != nil {
			call["to"] = *tx.To
		}
		if tx.Value != nil {
			call["value"] = tx.Value
		}
		if data := tx.CallData(); len(data) > 0 {
			call["data"] = hexutil.Bytes(data)
		}
		var gas hexutil.Uint64
		if err := p.callInto(ctx, chain, &gas, "eth_estimateGas", call); err != nil {
			return errors.Wrap(err, "estimate gas")
		}
		tx.Gas = &gas
	}

	if tx.GasPrice != nil || tx.MaxFeePerGas != nil {
		return nil
	}

	var tip hexutil.Big
	var head struct {
		BaseFee *hexutil.Big `json:"baseFeePerGas"`
	}
	tipErr := p.callInto(ctx, chain, &tip, "eth_maxPriorityFeePerGas")
	headErr := p.callInto(ctx, chain, &head, "eth_getBlockByNumber", "latest", false)
	if tipErr == nil && headErr == nil && head.BaseFee != nil {
		// maxFee = 2*baseFee + tip
		maxFee := new(big.Int).Mul(head.BaseFee.ToInt(), big.NewInt(2))
		maxFee.Add(maxFee, tip.ToInt())
		tx.MaxFeePerGas = (*hexutil.Big)(maxFee)
		tx.MaxPriorityFeePerGas = &tip
		return nil
	}

	var price hexutil.Big
	if err := p.callInto(ctx, chain, &price, "eth_gasPrice"); err != nil {
		return errors.Wrap(err, "gas price")
	}
	tx.GasPrice = &price
	return nil
}

func (p *Provider) callInto(ctx context.Context, chain chains.Chain, out any, method string, params ...any) error {
	raw, err := p.rpc.Call(ctx, chain, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s", method)
	}
	return nil
}
