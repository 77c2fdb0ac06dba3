package chains

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
)

type RPC struct {
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	URL  string `json:"url" yaml:"url" mapstructure:"url"`
	WSS  string `json:"wss,omitempty" yaml:"wss" mapstructure:"wss"`
}

// Chain is one entry of the known chain catalog.
type Chain struct {
	Key          string        `json:"key" mapstructure:"key"`
	Name         string        `json:"name" mapstructure:"name"`
	Kind         accounts.Kind `json:"kind" mapstructure:"kind"`
	ChainID      uint64        `json:"chainId,omitempty" mapstructure:"chainId"`
	GenesisHash  string        `json:"genesisHash,omitempty" mapstructure:"genesisHash"`
	NativeSymbol string        `json:"nativeSymbol" mapstructure:"nativeSymbol"`
	Decimals     uint8         `json:"decimals" mapstructure:"decimals"`
	RPCs         []RPC         `json:"rpcs" mapstructure:"rpcs"`
	Explorer     string        `json:"explorer,omitempty" mapstructure:"explorer"`
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	Custom       bool          `json:"custom,omitempty" mapstructure:"-"`
}

// ChainIDHex is the EIP-695 hex form; empty for non-EVM chains.
func (c Chain) ChainIDHex() string {
	if c.Kind != accounts.KindEvm || c.ChainID == 0 {
		return ""
	}
	return hexutil.EncodeUint64(c.ChainID)
}

// NetVersion is the decimal chain id as returned by net_version.
func (c Chain) NetVersion() string {
	return strconv.FormatUint(c.ChainID, 10)
}

// Identity is what the dApp sees as "the chain": hex chain id or genesis hash.
func (c Chain) Identity() string {
	if c.Kind == accounts.KindEvm {
		return c.ChainIDHex()
	}
	return c.GenesisHash
}

// PrimaryRPC returns the first configured HTTP endpoint.
func (c Chain) PrimaryRPC() string {
	for _, r := range c.RPCs {
		if r.URL != "" {
			return r.URL
		}
	}
	return ""
}

// SiteDefault pins the default chain of a site domain and its subdomains.
type SiteDefault struct {
	Domain string `json:"domain"`
	Chain  string `json:"chain"`
}

// Metadata is what probing a candidate endpoint yields.
type Metadata struct {
	RPCURL         string `json:"rpcUrl"`
	ChainID        uint64 `json:"chainId"`
	ChainIDHex     string `json:"chainIdHex"`
	GenesisHash    string `json:"genesisHash,omitempty"`
	NativeSymbol   string `json:"nativeSymbol,omitempty"`
	Decimals       uint8  `json:"decimals,omitempty"`
	ClientVersion  string `json:"clientVersion,omitempty"`
	LatestBlockHex string `json:"latestBlockHex,omitempty"`
}
