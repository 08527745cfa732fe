package securestore

import (
	"os"
	"path/filepath"
)

// WriteSealedFile seals plaintext and writes it with private permissions,
// creating parent directories as needed.
func WriteSealedFile(path, passphrase string, plaintext []byte) error {
	data, err := Seal(passphrase, plaintext)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadSealedFile reads and opens a file written by WriteSealedFile.
func ReadSealedFile(path, passphrase string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(passphrase, raw)
}
