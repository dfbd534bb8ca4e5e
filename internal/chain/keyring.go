// internal/chain/keyring.go
package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
)

// Keyring resolves a buyer wallet to its signing key so the value
// transfer is sent from the buyer's own account. Keys come from
// configuration ("addr1:key1,addr2:key2"); this stands in for real
// custody, which is out of scope for the backend.
type Keyring struct {
	keys map[string]*ecdsa.PrivateKey
}

func NewKeyring(entries string) (*Keyring, error) {
	keys := make(map[string]*ecdsa.PrivateKey)

	for _, pair := range strings.Split(entries, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed keyring entry %q, want wallet:key", pair)
		}

		wallet := normalizeWallet(parts[0])
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(parts[1]), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid key for wallet %s: %w", wallet, err)
		}

		keys[wallet] = key
	}

	return &Keyring{keys: keys}, nil
}

// Signer returns the signing key for a wallet, or a validation error
// when the wallet has no key on file.
func (k *Keyring) Signer(walletID string) (*ecdsa.PrivateKey, error) {
	key, ok := k.keys[normalizeWallet(walletID)]
	if !ok {
		return nil, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("no signing key on file for wallet %s", walletID))
	}
	return key, nil
}

func normalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
