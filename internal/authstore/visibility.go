package authstore

import (
	"github.com/quantumauth-io/quantum-dapp-broker/internal/accounts"
)

// VisibleAccounts lists the addresses origin may see for kind: allowed ones,
// the focused account first, the rest in wallet creation order.
func VisibleAccounts(info AuthUrlInfo, found bool, src accounts.Source, kind accounts.Kind) []string {
	out := []string{}
	if !found || !info.IsAllowed {
		return out
	}

	focused := src.Focused()
	focusedVisible := false
	for _, a := range src.Accounts() {
		if !kind.Covers(a.Kind) || !info.AllowsAccount(a.Address) {
			continue
		}
		if focused != "" && accounts.Equal(a.Address, focused) {
			focusedVisible = true
			continue
		}
		out = append(out, a.Address)
	}

	if focusedVisible {
		out = append([]string{accounts.Canonical(focused)}, out...)
	}
	return out
}
