package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	SignatureSize  = ed25519.SignatureSize
	privateHexSize = ed25519.SeedSize * 2
)

// PublicKey is a validator/account signing key. It doubles as the
// account identity: main accounts and proxies are addressed by their
// public key bytes.
type PublicKey [PublicKeySize]byte

func (p PublicKey) Bytes() []byte  { return p[:] }
func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(p[:])), nil
}

func (p *PublicKey) UnmarshalText(data []byte) error {
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("public key hex: %w", err)
	}
	if len(raw) != PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(raw))
	}
	copy(p[:], raw)
	return nil
}

// PrivateKey wraps an ed25519 private key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// GeneratePrivateKey creates a fresh random key.
func GeneratePrivateKey() (PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, err
	}
	return PrivateKey{key: priv}, nil
}

// PrivateKeyFromSeedHex parses a hex-encoded 32-byte seed.
func PrivateKeyFromSeedHex(s string) (PrivateKey, error) {
	if len(s) != privateHexSize {
		return PrivateKey{}, fmt.Errorf("private key seed must be %d hex chars, got %d", privateHexSize, len(s))
	}
	seed, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("private key hex: %w", err)
	}
	return PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Public returns the corresponding public key.
func (p PrivateKey) Public() PublicKey {
	var pub PublicKey
	copy(pub[:], p.key.Public().(ed25519.PublicKey))
	return pub
}

// Sign signs msg and returns the 64-byte signature.
func (p PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(p.key, msg)
}

// Verify reports whether sig is a valid signature of msg under pub.
func Verify(pub PublicKey, msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// SortPrivateKeys sorts private keys by their public key bytes.
func SortPrivateKeys(keys []PrivateKey) {
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := keys[i].Public(), keys[j].Public()
		return bytes.Compare(pi[:], pj[:]) < 0
	})
}

// SortKeys sorts public keys lexicographically in place.
func SortKeys(keys []PublicKey) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
}

// FindKey returns the position of pub in the sorted slice keys, or
// (0, false) when absent. Callers must pass a sorted slice.
func FindKey(keys []PublicKey, pub PublicKey) (int, bool) {
	i := sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(keys[i][:], pub[:]) >= 0
	})
	if i < len(keys) && keys[i] == pub {
		return i, true
	}
	return 0, false
}
