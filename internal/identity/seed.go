package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoSecretKey = "nostrtalk/identity/secp256k1/v1"

var (
	ErrMnemonicRequired = errors.New("identity: mnemonic is required")
	ErrInvalidMnemonic  = errors.New("identity: invalid mnemonic")
)

// CreateWithMnemonic generates a fresh 24-word mnemonic and the identity
// derived from it. The mnemonic is returned once for the user to back up.
func CreateWithMnemonic() (mnemonic string, keys *Keys, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, err
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, err
	}
	keys, err = FromMnemonic(mnemonic)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, keys, nil
}

// FromMnemonic deterministically derives the identity from a mnemonic.
func FromMnemonic(mnemonic string) (*Keys, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	reader := hkdf.New(sha256.New, seed, nil, []byte(hkdfInfoSecretKey))
	buf := make([]byte, 32)
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, err
		}
		keys, err := FromSecretHex(hex.EncodeToString(buf))
		if err == nil {
			return keys, nil
		}
		// Candidate outside the curve order; take the next expansion block.
	}
}
