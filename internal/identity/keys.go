// Package identity owns the local secp256k1 keypair: creation from a
// mnemonic seed, bech32 display encodings, and sealed persistence at rest.
package identity

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var (
	ErrSecretRequired = errors.New("identity: secret key is required")
	ErrInvalidSecret  = errors.New("identity: invalid secret key")
)

// Keys is the local identity context. It is threaded explicitly through
// every component that signs or decrypts; nothing holds it globally.
type Keys struct {
	secretKey string
	publicKey string
}

// Generate creates a fresh random identity.
func Generate() (*Keys, error) {
	return FromSecretHex(nostr.GeneratePrivateKey())
}

// FromSecretHex builds the identity from a 32-byte hex secret key.
func FromSecretHex(sk string) (*Keys, error) {
	sk = strings.TrimSpace(sk)
	if sk == "" {
		return nil, ErrSecretRequired
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return &Keys{secretKey: sk, publicKey: pk}, nil
}

// FromNsec builds the identity from a bech32 nsec string.
func FromNsec(nsec string) (*Keys, error) {
	prefix, value, err := nip19.Decode(strings.TrimSpace(nsec))
	if err != nil || prefix != "nsec" {
		return nil, ErrInvalidSecret
	}
	sk, ok := value.(string)
	if !ok {
		return nil, ErrInvalidSecret
	}
	return FromSecretHex(sk)
}

func (k *Keys) PublicKey() string { return k.publicKey }
func (k *Keys) SecretKey() string { return k.secretKey }

// IsLocal reports whether the pubkey is this identity.
func (k *Keys) IsLocal(pubkey string) bool { return pubkey == k.publicKey }

func (k *Keys) Npub() (string, error) {
	return nip19.EncodePublicKey(k.publicKey)
}

func (k *Keys) Nsec() (string, error) {
	return nip19.EncodePrivateKey(k.secretKey)
}

// Sign fills in the event's pubkey, id and signature.
func (k *Keys) Sign(ev *nostr.Event) error {
	return ev.Sign(k.secretKey)
}

// Fingerprint is a short log-safe handle for the identity.
func (k *Keys) Fingerprint() string {
	sum := sha256.Sum256([]byte(k.publicKey))
	return "ntk1" + base58.Encode(sum[:8])
}
