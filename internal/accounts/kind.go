package accounts

import (
	"bytes"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Kind is the curve family an address belongs to.
type Kind string

const (
	KindUnknown   Kind = ""
	KindEvm       Kind = "evm"
	KindSubstrate Kind = "substrate"
	// KindBoth only appears as an origin's accountAuthType.
	KindBoth Kind = "both"
)

func (k Kind) Valid() bool {
	return k == KindEvm || k == KindSubstrate || k == KindBoth
}

// Covers reports whether an authorization of kind k includes accounts of kind other.
func (k Kind) Covers(other Kind) bool {
	return k == KindBoth || k == other
}

// Widen merges two auth types; it never narrows.
func (k Kind) Widen(other Kind) Kind {
	switch {
	case k == KindUnknown:
		return other
	case other == KindUnknown, k == other:
		return k
	default:
		return KindBoth
	}
}

var ss58Prefix = []byte("SS58PRE")

// KindOf classifies an address by its shape.
func KindOf(address string) Kind {
	address = strings.TrimSpace(address)
	switch {
	case address == "":
		return KindUnknown
	case common.IsHexAddress(address) && strings.HasPrefix(strings.ToLower(address), "0x"):
		return KindEvm
	case isSS58(address):
		return KindSubstrate
	default:
		return KindUnknown
	}
}

// Canonical returns the comparison form of an address: EIP-55 checksum for EVM,
// unchanged for SS58.
func Canonical(address string) string {
	address = strings.TrimSpace(address)
	if KindOf(address) == KindEvm {
		return common.HexToAddress(address).Hex()
	}
	return address
}

// Equal compares two addresses in canonical form.
func Equal(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

func isSS58(address string) bool {
	raw, err := base58.Decode(address)
	if err != nil {
		return false
	}

	// 32-byte account id, 2-byte checksum, 1 or 2 byte network prefix
	var prefixLen int
	switch len(raw) {
	case 35:
		prefixLen = 1
	case 36:
		prefixLen = 2
	default:
		return false
	}
	if prefixLen == 1 && raw[0] >= 64 {
		return false
	}

	body := raw[:len(raw)-2]
	h, err := blake2b.New512(nil)
	if err != nil {
		return false
	}
	h.Write(ss58Prefix)
	h.Write(body)
	sum := h.Sum(nil)

	return bytes.Equal(sum[:2], raw[len(raw)-2:])
}
