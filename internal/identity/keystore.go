package identity

import (
	"encoding/json"
	"errors"

	"nostrtalk/go-backend/internal/securestore"
)

var ErrPassphraseRequired = errors.New("identity: passphrase is required")

type keyFile struct {
	Version   int    `json:"version"`
	SecretKey string `json:"secret_key"`
}

// Save seals the secret key into a key file at path.
func (k *Keys) Save(path, passphrase string) error {
	if passphrase == "" {
		return ErrPassphraseRequired
	}
	payload, err := json.Marshal(keyFile{Version: 1, SecretKey: k.secretKey})
	if err != nil {
		return err
	}
	return securestore.WriteSealedFile(path, passphrase, payload)
}

// Load opens a key file written by Save.
func Load(path, passphrase string) (*Keys, error) {
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	plain, err := securestore.ReadSealedFile(path, passphrase)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(plain, &kf); err != nil {
		return nil, err
	}
	return FromSecretHex(kf.SecretKey)
}
