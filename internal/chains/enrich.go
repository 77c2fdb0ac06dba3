package chains

import "strings"

var wellKnown = map[string]struct {
	Name     string
	Explorer string
}{
	"0x1":      {"mainnet", "https://etherscan.io"},
	"0xaa36a7": {"sepolia", "https://sepolia.etherscan.io"},
	"0x4268":   {"holesky", "https://holesky.etherscan.io"},

	"0xa4b1":  {"arbitrum", "https://arbiscan.io"},
	"0x66eed": {"arbitrum-sepolia", "https://sepolia.arbiscan.io"},

	"0xa":      {"optimism", "https://optimistic.etherscan.io"},
	"0xaa37dc": {"optimism-sepolia", "https://sepolia-optimistic.etherscan.io"},

	"0x2105":  {"base", "https://basescan.org"},
	"0x14a34": {"base-sepolia", "https://sepolia.basescan.org"},

	"0x89":    {"polygon", "https://polygonscan.com"},
	"0x13881": {"polygon-mumbai", "https://mumbai.polygonscan.com"},

	"0x82750": {"scroll", "https://scrollscan.com"},
	"0x8274f": {"scroll-sepolia", "https://sepolia.scrollscan.com"},
}

// Enrich fills a candidate chain's blank name and explorer from the
// well-known table.
func Enrich(ch Chain) Chain {
	wk, ok := wellKnown[strings.ToLower(ch.ChainIDHex())]
	if !ok {
		return ch
	}
	if strings.TrimSpace(ch.Name) == "" {
		ch.Name = wk.Name
	}
	if strings.TrimSpace(ch.Explorer) == "" {
		ch.Explorer = wk.Explorer
	}
	return ch
}
