package utils

import (
	"errors"
	"fmt"
	"strings"

	"go.sia.tech/core/types"
	"golang.org/x/crypto/blake2b"
)

// MasterKey is the root secret all signing keys of a node are derived from.
type MasterKey [32]byte

// MasterKeyFromSeed derives the master key from a seed string. Leading and
// trailing whitespace is ignored.
func MasterKeyFromSeed(seed string) (MasterKey, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return MasterKey{}, errors.New("seed must not be empty")
	} else if len(seed) < 16 {
		return MasterKey{}, fmt.Errorf("seed too short: %d < 16 characters", len(seed))
	}
	return MasterKey(blake2b.Sum256([]byte("ephemerald/seed|" + seed))), nil
}

// DeriveSweepKey derives the key used to create ephemeral accounts and sign
// their sweeps. Different indices yield independent creators.
func (key *MasterKey) DeriveSweepKey(index uint64) types.PrivateKey {
	return key.deriveSubKey(fmt.Sprintf("sweep/%d", index))
}

// deriveSubKey derives a key from the master key for a specific purpose.
func (key *MasterKey) deriveSubKey(purpose string) types.PrivateKey {
	seed := blake2b.Sum256(append(key[:], []byte(purpose)...))
	pk := types.NewPrivateKeyFromSeed(seed[:])
	for i := range seed {
		seed[i] = 0
	}
	return pk
}
