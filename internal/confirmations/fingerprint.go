package confirmations

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Fingerprint hashes origin, kind and the payload in canonical form (object
// keys sorted at every depth), so reordered but equal payloads collide.
func Fingerprint(origin string, kind Kind, payload any) (string, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(origin))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "fingerprint marshal")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.Wrap(err, "fingerprint decode")
	}
	// encoding/json writes map keys in sorted order
	return json.Marshal(generic)
}
