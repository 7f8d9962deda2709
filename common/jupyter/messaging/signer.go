package messaging

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/scusemua/notebook-bridge/common/jupyter"
)

const (
	JupyterSignatureScheme = "hmac-sha256"
)

var (
	signatureSchemes = map[string]func() hash.Hash{
		"hmac-md5":    md5.New,
		"hmac-sha1":   sha1.New,
		"hmac-sha224": sha256.New224,
		"hmac-sha256": sha256.New,
		"hmac-sha384": sha512.New384,
		"hmac-sha512": sha512.New,
	}
)

// Signer computes and checks the HMAC signature of a message.
//
// A Signer created with an empty key is disabled: it produces empty signatures and accepts any
// signature during verification.
type Signer struct {
	scheme string
	key    []byte
	hash   func() hash.Hash
}

// NewSigner creates a Signer for the given scheme (e.g. "hmac-sha256") and key.
func NewSigner(scheme string, key []byte) (*Signer, error) {
	if len(key) == 0 {
		return &Signer{scheme: scheme}, nil
	}

	h, ok := signatureSchemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: \"%s\"", ErrNotSupportedSignatureScheme, scheme)
	}

	return &Signer{scheme: scheme, key: key, hash: h}, nil
}

// NewSignerFromConnectionInfo creates a Signer using the scheme and key of the connection descriptor.
func NewSignerFromConnectionInfo(info *jupyter.ConnectionInfo) (*Signer, error) {
	return NewSigner(info.SignatureScheme, []byte(info.Key))
}

// Enabled returns true if the Signer has a key.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.key) > 0
}

func (s *Signer) Scheme() string {
	return s.scheme
}

// Sign returns the hex encoded signature of the given parts, which must be header, parent header,
// metadata and content, in that order.
func (s *Signer) Sign(parts ...[]byte) []byte {
	if !s.Enabled() {
		return []byte{}
	}

	sum := s.sum(parts)
	signature := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(signature, sum)
	return signature
}

// Verify checks a hex encoded signature against the given parts.
func (s *Signer) Verify(signature []byte, parts ...[]byte) bool {
	if !s.Enabled() {
		return true
	}

	decoded := make([]byte, hex.DecodedLen(len(signature)))
	if _, err := hex.Decode(decoded, signature); err != nil {
		return false
	}
	return hmac.Equal(s.sum(parts), decoded)
}

func (s *Signer) sum(parts [][]byte) []byte {
	mac := hmac.New(s.hash, s.key)
	for _, part := range parts {
		mac.Write(part)
	}
	return mac.Sum(nil)
}
