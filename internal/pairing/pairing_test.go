package pairing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePairCode(t *testing.T) {
	code, err := GeneratePairCode()
	require.NoError(t, err)
	assert.Len(t, code, codeLength)
	for _, c := range code {
		assert.True(t, strings.ContainsRune(codeAlphabet, c), "unexpected rune %q", c)
	}
}

func TestExchange(t *testing.T) {
	r := NewRegistry(time.Minute)
	id, code, err := r.Issue()
	require.NoError(t, err)
	assert.Equal(t, 1, r.Outstanding())

	assert.ErrorIs(t, r.Exchange(id, "WRONGCOD"), ErrInvalidCode)
	require.NoError(t, r.Exchange(id, code))
	assert.ErrorIs(t, r.Exchange(id, code), ErrExpired, "codes are single use")
	assert.Equal(t, 0, r.Outstanding())

	assert.ErrorIs(t, r.Exchange("", code), ErrMissing)
	assert.ErrorIs(t, r.Exchange("nope", code), ErrExpired)
}

func TestExchangeExpired(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Now()
	r.now = func() time.Time { return now }

	id, code, err := r.Issue()
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, r.Exchange(id, code), ErrExpired)
	assert.Equal(t, 0, r.Outstanding())
}
