package accounts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	evmA      = "0x1111111111111111111111111111111111111111"
	evmB      = "0x2222222222222222222222222222222222222222"
	alice     = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob       = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
	badSS58   = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQZ"
	shortEvm  = "0x1234"
	lowerEvmC = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want Kind
	}{
		{name: "evm", addr: evmA, want: KindEvm},
		{name: "evm lowercase", addr: lowerEvmC, want: KindEvm},
		{name: "evm without prefix is not accepted", addr: "1111111111111111111111111111111111111111", want: KindUnknown},
		{name: "short evm", addr: shortEvm, want: KindUnknown},
		{name: "ss58 alice", addr: alice, want: KindSubstrate},
		{name: "ss58 bob", addr: bob, want: KindSubstrate},
		{name: "ss58 bad checksum", addr: badSS58, want: KindUnknown},
		{name: "empty", addr: "  ", want: KindUnknown},
		{name: "garbage", addr: "hello world", want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.addr))
		})
	}
}

func TestKindWidenNeverNarrows(t *testing.T) {
	assert.Equal(t, KindEvm, KindUnknown.Widen(KindEvm))
	assert.Equal(t, KindEvm, KindEvm.Widen(KindEvm))
	assert.Equal(t, KindBoth, KindEvm.Widen(KindSubstrate))
	assert.Equal(t, KindBoth, KindBoth.Widen(KindEvm))
	assert.Equal(t, KindSubstrate, KindSubstrate.Widen(KindUnknown))

	assert.True(t, KindBoth.Covers(KindEvm))
	assert.False(t, KindEvm.Covers(KindSubstrate))
}

func TestCanonical(t *testing.T) {
	assert.True(t, Equal(lowerEvmC, "0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD"))
	assert.Equal(t, alice, Canonical(" "+alice+" "))
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]Account{
		{Address: evmA}, {Address: alice}, {Address: evmB}, {Address: evmA},
	})
	require.NoError(t, err)

	all := r.Accounts()
	require.Len(t, all, 3)
	assert.Equal(t, []string{evmA, alice, evmB}, []string{all[0].Address, all[1].Address, all[2].Address})

	evm := r.ByKind(KindEvm)
	require.Len(t, evm, 2)
	assert.Equal(t, evmA, evm[0].Address)

	assert.Len(t, r.ByKind(KindBoth), 3)
	assert.True(t, r.Has(lowerCase(evmB)))

	_, err = NewRegistry([]Account{{Address: "nope"}})
	assert.Error(t, err)
}

func TestRegistryFocus(t *testing.T) {
	r, err := NewRegistry([]Account{{Address: evmA}, {Address: evmB}})
	require.NoError(t, err)

	ch := make(chan string, 4)
	sub := r.SubscribeFocus(ch)
	defer sub.Unsubscribe()

	require.NoError(t, r.SetFocused(evmB))
	assert.Equal(t, evmB, r.Focused())

	select {
	case got := <-ch:
		assert.Equal(t, evmB, got)
	case <-time.After(time.Second):
		t.Fatal("no focus event")
	}

	// same value: no event
	require.NoError(t, r.SetFocused(evmB))
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %s", got)
	default:
	}

	assert.ErrorIs(t, r.SetFocused(alice), ErrUnknownAccount)
}

func lowerCase(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + 32
		}
	}
	return string(out)
}
