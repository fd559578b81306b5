package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mscno/gistbackup/pkg/oskeyring"
	"github.com/tyler-smith/go-bip39"
)

// KeyringUser is the keyring entry (under oskeyring.ServicePrefix) holding the store sealing key.
const KeyringUser = "store-key"

// LoadOrCreateKey returns the sealing key kept in the keyring, generating and
// saving a new one on first use.
func LoadOrCreateKey(keyring oskeyring.Service) ([]byte, error) {
	encoded, err := keyring.Get(oskeyring.ServicePrefix, KeyringUser)
	if err == nil {
		key, err := hex.DecodeString(encoded)
		if err != nil || len(key) != KeySize {
			return nil, fmt.Errorf("store key in keyring is malformed")
		}
		return key, nil
	}
	if !errors.Is(err, oskeyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read store key: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate store key: %w", err)
	}
	if err := SaveKey(keyring, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SaveKey writes key to the keyring, replacing any existing one.
func SaveKey(keyring oskeyring.Service, key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("store key must be %d bytes, got %d", KeySize, len(key))
	}
	if err := keyring.Set(oskeyring.ServicePrefix, KeyringUser, hex.EncodeToString(key)); err != nil {
		return fmt.Errorf("failed to save store key: %w", err)
	}
	return nil
}

// KeyMnemonic renders the key as a 24-word BIP-39 phrase.
func KeyMnemonic(key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("store key must be %d bytes, got %d", KeySize, len(key))
	}
	return bip39.NewMnemonic(key)
}

// KeyFromMnemonic recovers a key printed by KeyMnemonic.
func KeyFromMnemonic(mnemonic string) ([]byte, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	key, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid recovery phrase: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("recovery phrase must have 24 words, got %d", len(strings.Fields(mnemonic)))
	}
	return key, nil
}
