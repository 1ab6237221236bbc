// Package wallet derives per-agent signing identities. Key material is a
// pure function of a seed string, so any agent's addresses can be
// recomputed without storing keys.
package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a derived signing account.
type Identity struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// Derive turns a seed string into a signing identity. The keccak256 hash
// of the seed is used directly as the secp256k1 private key, so identical
// seeds always yield the identical address.
func Derive(seed string) (*Identity, error) {
	hash := crypto.Keccak256([]byte(seed))
	key, err := crypto.ToECDSA(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key from seed: %w", err)
	}
	return &Identity{
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// ActorSeed builds the seed for an agent's transaction-submitting account.
func ActorSeed(userID int64, agentName string) string {
	return fmt.Sprintf("%d_%s", userID, agentName)
}

// EscrowSeed builds the seed for an agent's fund-holding account. The
// process-wide master key keeps escrow keys underivable from public data.
func EscrowSeed(masterKey string, userID int64, agentName string) string {
	return fmt.Sprintf("%s_%d_%s", masterKey, userID, agentName)
}
