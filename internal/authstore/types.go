package authstore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

// AuthUrlInfo is the permission record of one origin.
type AuthUrlInfo struct {
	ID                   string          `json:"id"`
	URL                  string          `json:"url"`
	IsAllowed            bool            `json:"isAllowed"`
	IsAllowedMap         map[string]bool `json:"isAllowedMap"`
	AccountAuthType      accounts.Kind   `json:"accountAuthType"`
	CurrentEvmNetworkKey string          `json:"currentEvmNetworkKey,omitempty"`
}

// AuthUrls is keyed by normalized origin.
type AuthUrls map[string]AuthUrlInfo

func (i AuthUrlInfo) clone() AuthUrlInfo {
	out := i
	out.IsAllowedMap = make(map[string]bool, len(i.IsAllowedMap))
	for k, v := range i.IsAllowedMap {
		out.IsAllowedMap[k] = v
	}
	return out
}

func (m AuthUrls) Clone() AuthUrls {
	out := make(AuthUrls, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

// AllowsAccount reports whether address is usable by this origin.
func (i AuthUrlInfo) AllowsAccount(address string) bool {
	if !i.IsAllowed {
		return false
	}
	for addr, ok := range i.IsAllowedMap {
		if ok && accounts.Equal(addr, address) {
			return true
		}
	}
	return false
}

// NormalizeOrigin reduces a request URL to scheme://host, lowercased.
func NormalizeOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.Wrap(rpcerr.ErrUnauthorized, "missing origin")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.Wrapf(rpcerr.ErrUnauthorized, "invalid origin %q", raw)
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host)), nil
}
