package http

import (
	"encoding/json"

	"github.com/quantumauth-io/quantum-dapp-broker/internal/broker"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/surface"
)

// rpcRequest is one JSON-RPC call from a dApp, over HTTP or the websocket.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      json.RawMessage       `json:"id"`
	Result  any                   `json:"result"`
	Error   *rpcerr.ProviderError `json:"error,omitempty"`
}

// MarshalJSON drops "result" on errors; a nil result on success stays null.
func (r rpcResponse) MarshalJSON() ([]byte, error) {
	id := r.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string                `json:"jsonrpc"`
			ID      json.RawMessage       `json:"id"`
			Error   *rpcerr.ProviderError `json:"error"`
		}{r.JSONRPC, id, r.Error})
	}
	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  any             `json:"result"`
	}{r.JSONRPC, id, r.Result})
}

// rpcNotification carries a provider event down the websocket.
type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type pairExchangeReq struct {
	PairID string `json:"pair_id"`
	Code   string `json:"code"`
}

type pairExchangeResp struct {
	OK     bool   `json:"ok"`
	Token  string `json:"token"`
	Header string `json:"header"`
}

type uiResponse struct {
	OK    bool                  `json:"ok"`
	Error *rpcerr.ProviderError `json:"error,omitempty"`
	Data  any                   `json:"data,omitempty"`
}

type surfaceResp struct {
	Surface surface.Status            `json:"surface"`
	Counts  map[broker.LedgerName]int `json:"counts"`
}

type pendingChange struct {
	Ledger broker.LedgerName         `json:"ledger"`
	Counts map[broker.LedgerName]int `json:"counts"`
}

type originAccountsReq struct {
	Origin   string          `json:"origin"`
	Accounts map[string]bool `json:"accounts"`
}

type originAllowedReq struct {
	Origin  string `json:"origin"`
	Allowed bool   `json:"allowed"`
}

type originReq struct {
	Origin string `json:"origin"`
}

type focusReq struct {
	Address string `json:"address"`
}

type walletConnectSessionReq struct {
	URL     string                      `json:"url"`
	Payload broker.WalletConnectPayload `json:"payload"`
}

type walletConnectUnsupportedReq struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}
