package confirmations

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chainrpc"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
)

// Kind partitions the EVM confirmation queue.
type Kind string

const (
	KindAddNetwork      Kind = "add-network"
	KindAddToken        Kind = "add-token"
	KindSwitchNetwork   Kind = "switch-network"
	KindSignMessage     Kind = "sign-message"
	KindSendTransaction Kind = "send-transaction"
)

// AllKinds is the fixed partition order used when listing across kinds.
var AllKinds = []Kind{
	KindAddNetwork,
	KindAddToken,
	KindSwitchNetwork,
	KindSignMessage,
	KindSendTransaction,
}

func (k Kind) Valid() bool {
	for _, v := range AllKinds {
		if v == k {
			return true
		}
	}
	return false
}

// MessageKind selects the hashing scheme for a sign-message request.
type MessageKind string

const (
	MessagePersonal    MessageKind = "personal_sign"
	MessageEthSign     MessageKind = "eth_sign"
	MessageTypedDataV3 MessageKind = "eth_signTypedData_v3"
	MessageTypedDataV4 MessageKind = "eth_signTypedData_v4"
)

// NetworkDraft is an unconfirmed add-network candidate. Probe fields are
// filled in while the entry is pending.
type NetworkDraft struct {
	Chain      chains.Chain     `json:"chain"`
	Probed     bool             `json:"probed"`
	Metadata   *chains.Metadata `json:"metadata,omitempty"`
	ProbeError string           `json:"probeError,omitempty"`
}

// TokenDraft is an unconfirmed watch-asset candidate.
type TokenDraft struct {
	ChainKey        string          `json:"chainKey"`
	Standard        string          `json:"standard"`
	Address         string          `json:"address"`
	Symbol          string          `json:"symbol"`
	Decimals        uint8           `json:"decimals"`
	Image           string          `json:"image,omitempty"`
	Validated       bool            `json:"validated"`
	OnChain         *chainrpc.Token `json:"onChain,omitempty"`
	ValidationError string          `json:"validationError,omitempty"`
}

type SwitchRequest struct {
	ChainKey   string `json:"chainKey"`
	ChainIDHex string `json:"chainIdHex"`
	Name       string `json:"name"`
}

type SignRequest struct {
	Address string          `json:"address"`
	Kind    MessageKind     `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// TxParams is an eth_sendTransaction object.
type TxParams struct {
	From                 string          `json:"from"`
	To                   *string         `json:"to,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Data                 *hexutil.Bytes  `json:"data,omitempty"`
	Input                *hexutil.Bytes  `json:"input,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
}

// CallData returns input, falling back to data.
func (t TxParams) CallData() []byte {
	if t.Input != nil {
		return *t.Input
	}
	if t.Data != nil {
		return *t.Data
	}
	return nil
}

type TxRequest struct {
	ChainID uint64   `json:"chainId"`
	Tx      TxParams `json:"tx"`
}

// Payload is the tagged union stored in the queue; exactly one body is set,
// matching Kind.
type Payload struct {
	Kind     Kind   `json:"kind"`
	ChainKey string `json:"chainKey,omitempty"`

	AddNetwork    *NetworkDraft  `json:"addNetwork,omitempty"`
	AddToken      *TokenDraft    `json:"addToken,omitempty"`
	SwitchNetwork *SwitchRequest `json:"switchNetwork,omitempty"`
	Sign          *SignRequest   `json:"sign,omitempty"`
	Transaction   *TxRequest     `json:"transaction,omitempty"`
}

// Clone copies every body so a snapshot never shares memory with the queued entry.
func (p Payload) Clone() Payload {
	out := p
	if p.AddNetwork != nil {
		d := *p.AddNetwork
		d.Chain.RPCs = append([]chains.RPC(nil), p.AddNetwork.Chain.RPCs...)
		if p.AddNetwork.Metadata != nil {
			m := *p.AddNetwork.Metadata
			d.Metadata = &m
		}
		out.AddNetwork = &d
	}
	if p.AddToken != nil {
		d := *p.AddToken
		if p.AddToken.OnChain != nil {
			tok := *p.AddToken.OnChain
			d.OnChain = &tok
		}
		out.AddToken = &d
	}
	if p.SwitchNetwork != nil {
		sw := *p.SwitchNetwork
		out.SwitchNetwork = &sw
	}
	if p.Sign != nil {
		sr := *p.Sign
		sr.Data = append(json.RawMessage(nil), p.Sign.Data...)
		out.Sign = &sr
	}
	if p.Transaction != nil {
		tx := *p.Transaction
		out.Transaction = &tx
	}
	return out
}

// Outcome is what the confirmation UI hands back on approval. Data empty on a
// sign-message or send-transaction approval asks the backend signer to sign.
type Outcome struct {
	Data  hexutil.Bytes `json:"data,omitempty"`
	Chain *chains.Chain `json:"chain,omitempty"`
}
