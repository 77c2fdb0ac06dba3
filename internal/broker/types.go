package broker

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
)

// LedgerName addresses one of the five ledgers from the confirmation UI.
type LedgerName string

const (
	LedgerAuth          LedgerName = "auth"
	LedgerEvm           LedgerName = "evm"
	LedgerSubstrate     LedgerName = "substrate"
	LedgerMetadata      LedgerName = "metadata"
	LedgerWalletConnect LedgerName = "walletconnect"
)

var AllLedgers = []LedgerName{LedgerAuth, LedgerEvm, LedgerSubstrate, LedgerMetadata, LedgerWalletConnect}

// AuthPayload is an authorization prompt: which accounts of Kind the origin
// may see.
type AuthPayload struct {
	URL        string             `json:"url"`
	Kind       accounts.Kind      `json:"accountAuthType"`
	Reconfirm  bool               `json:"reconfirm"`
	Candidates []accounts.Account `json:"candidates"`
}

// AuthResult lists the accounts the user selected.
type AuthResult struct {
	Accounts []string `json:"accounts"`
}

type SubstrateSignKind string

const (
	SignBytes     SubstrateSignKind = "bytes"
	SignExtrinsic SubstrateSignKind = "extrinsic"
)

// SubstrateSignPayload is a pending substrate signature request. Payload is
// the raw request object as the dApp sent it.
type SubstrateSignPayload struct {
	Address  string            `json:"address"`
	Kind     SubstrateSignKind `json:"kind"`
	ChainKey string            `json:"chainKey,omitempty"`
	Payload  json.RawMessage   `json:"payload"`
}

type SubstrateSignature struct {
	Signature hexutil.Bytes `json:"signature"`
}

// SignerResult is what pub(bytes.sign) and pub(extrinsic.sign) answer.
type SignerResult struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

// MetadataDef is chain metadata a dApp offers to the wallet.
type MetadataDef struct {
	Chain         string          `json:"chain"`
	GenesisHash   string          `json:"genesisHash"`
	Icon          string          `json:"icon,omitempty"`
	SS58Format    uint16          `json:"ss58Format"`
	SpecVersion   uint32          `json:"specVersion"`
	TokenDecimals uint8           `json:"tokenDecimals"`
	TokenSymbol   string          `json:"tokenSymbol"`
	Types         json.RawMessage `json:"types,omitempty"`
	RawMetadata   string          `json:"rawMetadata,omitempty"`
}

// KnownMetadata is the pub(metadata.list) entry.
type KnownMetadata struct {
	GenesisHash string `json:"genesisHash"`
	SpecVersion uint32 `json:"specVersion"`
}

// MetadataApproval carries nothing; approving stores the offered definition.
type MetadataApproval struct{}

type WalletConnectKind string

const (
	WalletConnectSession      WalletConnectKind = "session"
	WalletConnectNotSupported WalletConnectKind = "not-supported"
)

// WalletConnectPayload is a session proposal or a notice that a requested
// method is not supported.
type WalletConnectPayload struct {
	Kind     WalletConnectKind `json:"kind"`
	Topic    string            `json:"topic,omitempty"`
	Proposer string            `json:"proposer,omitempty"`
	Chains   []string          `json:"chains,omitempty"`
	Methods  []string          `json:"methods,omitempty"`
	Method   string            `json:"method,omitempty"`
}

type WalletConnectResult struct {
	Accounts []string `json:"accounts,omitempty"`
}

// Completion is the confirmation UI's answer to one pending entry. A
// non-empty Error rejects; the reason "rejected" maps to user rejection.
type Completion struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// InjectedAccount is the pub(accounts.list) entry.
type InjectedAccount struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type"`
}
