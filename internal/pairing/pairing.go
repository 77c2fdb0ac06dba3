// Package pairing issues one-time codes the confirmation UI trades for the
// session token that guards the UI endpoints.
package pairing

import (
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0 O I 1
	codeLength   = 8

	DefaultTTL = 60 * time.Second
)

var (
	ErrExpired     = errors.New("pair expired")
	ErrInvalidCode = errors.New("invalid code")
	ErrMissing     = errors.New("missing pair_id or code")
)

func GeneratePairCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := crand.Read(b); err != nil {
		return "", err
	}

	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}

	return string(b), nil
}

func HashCode(code string) []byte {
	h := sha256.Sum256([]byte(code))
	return h[:]
}

type pairing struct {
	codeHash  []byte
	expiresAt time.Time
	used      bool
}

// Registry holds outstanding pair codes. Only hashes are kept.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	pairings map[string]*pairing
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:      ttl,
		now:      time.Now,
		pairings: make(map[string]*pairing),
	}
}

// Issue creates a pair id and its plaintext code. The code is shown to the
// user once and never stored.
func (r *Registry) Issue() (pairID, code string, err error) {
	code, err = GeneratePairCode()
	if err != nil {
		return "", "", errors.Wrap(err, "generate pair code")
	}
	pairID = uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairings[pairID] = &pairing{
		codeHash:  HashCode(code),
		expiresAt: r.now().Add(r.ttl),
	}
	return pairID, code, nil
}

// Exchange consumes a pair code. Each id works once.
func (r *Registry) Exchange(pairID, code string) error {
	if pairID == "" || code == "" {
		return ErrMissing
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.pairings {
		if p == nil || now.After(p.expiresAt) {
			delete(r.pairings, id)
		}
	}

	p, ok := r.pairings[pairID]
	if !ok || p.used {
		return ErrExpired
	}

	got := HashCode(code)
	if len(p.codeHash) != sha256.Size || subtle.ConstantTimeCompare(p.codeHash, got) != 1 {
		return ErrInvalidCode
	}

	p.used = true
	return nil
}

// Outstanding counts unexpired, unused codes.
func (r *Registry) Outstanding() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.pairings {
		if !p.used && !now.After(p.expiresAt) {
			n++
		}
	}
	return n
}
