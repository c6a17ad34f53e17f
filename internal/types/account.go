package types

import (
	"encoding/hex"
	"fmt"

	"ObSync/internal/crypto"
)

// AccountID identifies a main account or proxy. It carries the raw
// ed25519 public key bytes of the identity, so withdrawal signatures
// can be checked directly against the proxy's AccountID.
type AccountID [crypto.PublicKeySize]byte

func (a AccountID) Bytes() []byte  { return a[:] }
func (a AccountID) String() string { return hex.EncodeToString(a[:]) }

// Key returns the AccountID as a signing key.
func (a AccountID) Key() crypto.PublicKey { return crypto.PublicKey(a) }

func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(a[:])), nil
}

func (a *AccountID) UnmarshalText(data []byte) error {
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("account id hex: %w", err)
	}
	if len(raw) != len(a) {
		return fmt.Errorf("account id must be %d bytes, got %d", len(a), len(raw))
	}
	copy(a[:], raw)
	return nil
}

// AccountFromKey converts a public key into its account identity.
func AccountFromKey(pub crypto.PublicKey) AccountID { return AccountID(pub) }

// AssetID names an allow-listed asset ("PDEX", "USDT", ...). Asset
// allow-listing happens on-chain; the settlement engine treats the id
// as opaque.
type AssetID string

// AccountInfo is the registry entry for a main account, mirrored into
// the ledger trie from on-chain registration events. Proxies are the
// delegate keys allowed to sign exchange actions for the main account.
type AccountInfo struct {
	Proxies []AccountID `json:"proxies"`
}

// ProxyLimit bounds the number of proxies a main account may register.
const ProxyLimit = 3

// HasProxy reports whether proxy is authorized for this account.
func (a *AccountInfo) HasProxy(proxy AccountID) bool {
	for _, p := range a.Proxies {
		if p == proxy {
			return true
		}
	}
	return false
}
