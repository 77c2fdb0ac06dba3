package chainrpc

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
)

const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20MetadataABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Token is the on-chain metadata of an ERC-20 contract.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Name     string `json:"name,omitempty"`
}

// TokenInfo reads symbol and decimals from an ERC-20 contract. Name is best effort.
func (s *Service) TokenInfo(ctx context.Context, chain chains.Chain, token common.Address) (Token, error) {
	out := Token{Address: token.Hex()}

	var symbol string
	if err := s.callView(ctx, chain, token, "symbol", &symbol); err != nil {
		return out, errors.Wrap(err, "symbol")
	}
	out.Symbol = symbol

	var decimals uint8
	if err := s.callView(ctx, chain, token, "decimals", &decimals); err != nil {
		return out, errors.Wrap(err, "decimals")
	}
	out.Decimals = decimals

	var name string
	if err := s.callView(ctx, chain, token, "name", &name); err == nil {
		out.Name = name
	}
	return out, nil
}

func (s *Service) callView(ctx context.Context, chain chains.Chain, to common.Address, method string, out any) error {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return err
	}

	raw, err := s.Call(ctx, chain, "eth_call", map[string]any{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}, "latest")
	if err != nil {
		return err
	}

	var ret hexutil.Bytes
	if err := ret.UnmarshalJSON(raw); err != nil {
		return errors.Wrap(err, "decode eth_call result")
	}
	if len(ret) == 0 {
		return errors.Newf("%s: empty return data", method)
	}
	return erc20ABI.UnpackIntoInterface(out, method, ret)
}
