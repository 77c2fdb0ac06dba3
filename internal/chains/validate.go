package chains

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

// ValidEndpoints filters endpoints down to the schemes accepted for kind:
// http/https for EVM, ws/wss/http/https for Substrate.
func ValidEndpoints(kind accounts.Kind, endpoints []string) []string {
	out := make([]string, 0, len(endpoints))
	seen := make(map[string]bool, len(endpoints))

	for _, raw := range endpoints {
		raw = strings.TrimSpace(raw)
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		scheme := strings.ToLower(u.Scheme)
		ok := scheme == "http" || scheme == "https"
		if kind == accounts.KindSubstrate {
			ok = ok || scheme == "ws" || scheme == "wss"
		}
		if !ok {
			continue
		}
		key := strings.ToLower(raw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, raw)
	}
	return out
}

// ParseChainID accepts "0x89", "137" or a JSON number rendered as string.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Wrap(rpcerr.ErrInvalidParams, "missing chain id")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeUint64(strings.ToLower(s))
		if err != nil {
			return 0, errors.Wrapf(rpcerr.ErrInvalidParams, "chain id %q", s)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(rpcerr.ErrInvalidParams, "chain id %q", s)
	}
	return v, nil
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
