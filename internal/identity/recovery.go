package identity

import (
	"errors"
	"strings"

	"graphauth/go-backend/internal/crypto"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
)

const recoveryEntropyBits = 256

// NewRecoveryPhrase returns a fresh 24-word BIP-39 mnemonic.
func NewRecoveryPhrase() (string, error) {
	entropy, err := bip39.NewEntropy(recoveryEntropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func NormalizeRecoveryPhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

func ValidateRecoveryPhrase(phrase string) bool {
	return bip39.IsMnemonicValid(NormalizeRecoveryPhrase(phrase))
}

// MasterFromRecoveryPhrase regenerates the master keypair of a mnemonic.
// passphrase is the optional BIP-39 extension word.
func MasterFromRecoveryPhrase(provider crypto.Provider, phrase, passphrase string) (crypto.Keypair, error) {
	if provider == nil {
		panic("identity: nil crypto provider")
	}
	phrase = NormalizeRecoveryPhrase(phrase)
	if phrase == "" {
		return crypto.Keypair{}, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(phrase) {
		return crypto.Keypair{}, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(phrase, passphrase)
	defer zeroBytes(seed)
	return provider.Pair(seed)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
