package chainrpc

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/chains"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

// Probe connects to a candidate EVM endpoint and reads its identity. The
// endpoint is dialled fresh and never cached: it is not trusted yet.
func (s *Service) Probe(ctx context.Context, endpoint string) (chains.Metadata, error) {
	out := chains.Metadata{RPCURL: strings.TrimSpace(endpoint)}
	if out.RPCURL == "" {
		return out, errors.Wrap(rpcerr.ErrProbeFailed, "missing rpcUrl")
	}

	u, err := url.Parse(out.RPCURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return out, errors.Wrap(rpcerr.ErrProbeFailed, "invalid rpcUrl")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return out, errors.Wrapf(rpcerr.ErrProbeFailed, "unsupported rpcUrl scheme: %s", u.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	c, err := rpc.DialContext(ctx, out.RPCURL)
	if err != nil {
		return out, errors.Wrapf(rpcerr.ErrProbeFailed, "dial: %v", err)
	}
	defer c.Close()

	var chainID hexutil.Uint64
	if err := c.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return out, errors.Wrapf(rpcerr.ErrProbeFailed, "eth_chainId: %v", err)
	}
	out.ChainID = uint64(chainID)

	// net_version is optional; only used when eth_chainId came back as zero
	var netVersion string
	if err := c.CallContext(ctx, &netVersion, "net_version"); err == nil && out.ChainID == 0 {
		if v, perr := strconv.ParseUint(strings.TrimSpace(netVersion), 10, 64); perr == nil {
			out.ChainID = v
		}
	}
	if out.ChainID == 0 {
		return out, errors.Wrap(rpcerr.ErrProbeFailed, "endpoint reported chain id 0")
	}
	out.ChainIDHex = hexutil.EncodeUint64(out.ChainID)

	var clientVersion string
	if err := c.CallContext(ctx, &clientVersion, "web3_clientVersion"); err == nil {
		out.ClientVersion = strings.TrimSpace(clientVersion)
	}

	var blk struct {
		Number string `json:"number"`
	}
	var raw json.RawMessage
	if err := c.CallContext(ctx, &raw, "eth_getBlockByNumber", "latest", false); err == nil {
		if json.Unmarshal(raw, &blk) == nil {
			out.LatestBlockHex = strings.ToLower(strings.TrimSpace(blk.Number))
		}
	}
	return out, nil
}
