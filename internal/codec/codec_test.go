package codec

import (
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func testPair(t *testing.T) (sk, pk string) {
	t.Helper()
	sk = nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("pubkey derivation failed: %v", err)
	}
	return sk, pk
}

func TestEncryptDecryptBothDirections(t *testing.T) {
	aliceSK, alicePK := testPair(t)
	bobSK, bobPK := testPair(t)

	ciphertext, err := Encrypt(aliceSK, bobPK, "hello bob")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if ciphertext == "hello bob" {
		t.Fatal("ciphertext equals plaintext")
	}

	// Recipient decrypts against the author.
	plain, err := Decrypt(bobSK, alicePK, ciphertext)
	if err != nil {
		t.Fatalf("recipient decrypt failed: %v", err)
	}
	if plain != "hello bob" {
		t.Fatalf("unexpected plaintext: %q", plain)
	}

	// Author decrypts its own copy against the recipient.
	plain, err = Decrypt(aliceSK, bobPK, ciphertext)
	if err != nil {
		t.Fatalf("author decrypt failed: %v", err)
	}
	if plain != "hello bob" {
		t.Fatalf("unexpected plaintext: %q", plain)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	aliceSK, _ := testPair(t)
	_, bobPK := testPair(t)
	eveSK, _ := testPair(t)

	ciphertext, err := Encrypt(aliceSK, bobPK, "secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := Decrypt(eveSK, bobPK, ciphertext)
	if err == nil && plain == "secret" {
		t.Fatal("decrypt with wrong key must not recover the plaintext")
	}
}

func TestDecryptGarbageFails(t *testing.T) {
	aliceSK, _ := testPair(t)
	_, bobPK := testPair(t)
	if _, err := Decrypt(aliceSK, bobPK, "not?valid?nip04"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestCounterparty(t *testing.T) {
	if got := Counterparty("me", "me", "peer"); got != "peer" {
		t.Fatalf("local author: got %s", got)
	}
	if got := Counterparty("me", "peer", "me"); got != "peer" {
		t.Fatalf("remote author: got %s", got)
	}
}
