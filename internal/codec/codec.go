// Package codec wraps NIP-04 encryption for direct messages. It is
// stateless; failures are typed and must never escape as panics, since the
// reconciler degrades an undecryptable message instead of failing the
// insert.
package codec

import (
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr/nip04"
)

var (
	ErrEncrypt = errors.New("codec: encryption failed")
	ErrDecrypt = errors.New("codec: decryption failed")
)

// Encrypt seals plaintext for the peer using the shared ECDH secret.
func Encrypt(localSecret, peerPub, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPub, localSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	ciphertext, err := nip04.Encrypt(plaintext, shared)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	return ciphertext, nil
}

// Decrypt opens ciphertext exchanged with the peer.
func Decrypt(localSecret, peerPub, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPub, localSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plaintext, err := nip04.Decrypt(ciphertext, shared)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// Counterparty picks the key to decrypt against: the recipient when the
// local identity authored the message, the author otherwise.
func Counterparty(localPub, from, to string) string {
	if from == localPub {
		return to
	}
	return from
}
