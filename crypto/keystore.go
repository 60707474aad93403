package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

var (
	ErrNilKey          = errors.New("crypto: nil private key")
	ErrEmptyKeystore   = errors.New("crypto: empty keystore path")
	ErrKeystoreMissing = errors.New("crypto: keystore file not found")
)

// KeystoreStrength selects the scrypt cost used when encrypting key files.
type KeystoreStrength int

const (
	KeystoreStandard KeystoreStrength = iota
	// KeystoreLight trades brute-force resistance for speed; meant for
	// throwaway development keys.
	KeystoreLight
)

func (s KeystoreStrength) params() (int, int) {
	if s == KeystoreLight {
		return keystore.LightScryptN, keystore.LightScryptP
	}
	return keystore.StandardScryptN, keystore.StandardScryptP
}

// SaveToKeystore encrypts key into an Ethereum v3 keystore file at path. The
// file is written through a temporary directory and renamed into place so a
// partially written keystore is never observed.
func SaveToKeystore(path string, key *PrivateKey, passphrase string, strength KeystoreStrength) error {
	if key == nil {
		return ErrNilKey
	}
	if path == "" {
		return ErrEmptyKeystore
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	staging, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	scryptN, scryptP := strength.params()
	ks := keystore.NewKeyStore(staging, scryptN, scryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return fmt.Errorf("crypto: import key: %w", err)
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	if len(entries) != 1 {
		return fmt.Errorf("crypto: expected one keystore file, found %d", len(entries))
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(staging, entries[0].Name()), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, ErrEmptyKeystore
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeystoreMissing, path)
		}
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore %s: %w", path, err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
