package store

import (
	"strings"
	"testing"

	"github.com/mscno/gistbackup/pkg/oskeyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateKey(t *testing.T) {
	ks := oskeyring.NewMemoryService()

	first, err := LoadOrCreateKey(ks)
	require.NoError(t, err)
	assert.Len(t, first, KeySize)

	second, err := LoadOrCreateKey(ks)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateKey_Malformed(t *testing.T) {
	ks := oskeyring.NewMemoryService()
	require.NoError(t, ks.Set(oskeyring.ServicePrefix, KeyringUser, "zz"))

	_, err := LoadOrCreateKey(ks)
	assert.Error(t, err)
}

func TestKeyMnemonicRoundtrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i * 7)
	}

	phrase, err := KeyMnemonic(key)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(phrase), 24)

	// Extra whitespace and line breaks are tolerated.
	recovered, err := KeyFromMnemonic("  " + strings.ReplaceAll(phrase, " ", "\n") + " ")
	require.NoError(t, err)
	assert.Equal(t, key, recovered)

	_, err = KeyFromMnemonic("abandon abandon abandon")
	assert.Error(t, err)
}

func TestSealer(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)

	s := testSealer(t, 3)
	a, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ")

	plain, err := s.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))

	_, err = s.Open([]byte("tiny"))
	assert.ErrorIs(t, err, ErrSealed)

	var none *Sealer
	out, err := none.Seal([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(out))
}
