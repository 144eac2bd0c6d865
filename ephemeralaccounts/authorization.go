package ephemeralaccounts

import (
	"fmt"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
)

var (
	specifierSweep    = types.NewSpecifier("ephemeral/sweep")
	specifierTransfer = types.NewSpecifier("ephemeral/xfer")
)

// A SignatureVerifier verifies signatures over a hash.
type SignatureVerifier interface {
	VerifyHash(pk types.PublicKey, h types.Hash256, sig types.Signature) bool
}

// Ed25519Verifier verifies ed25519 signatures.
type Ed25519Verifier struct{}

// VerifyHash implements SignatureVerifier.
func (Ed25519Verifier) VerifyHash(pk types.PublicKey, h types.Hash256, sig types.Signature) bool {
	return pk.VerifyHash(h, sig)
}

// SweepHash returns the hash a creator signs to authorize sweeping an account
// to a destination. The nonce is the account's current sweep nonce, which
// changes after every authorized sweep attempt, so a signature can't be
// replayed against another account, another destination or a later attempt.
func SweepHash(id api.AccountID, destination types.Address, nonce uint64) types.Hash256 {
	h := types.NewHasher()
	h.E.Write(specifierSweep[:])
	h.E.Write(id[:])
	h.E.Write(destination[:])
	h.E.WriteUint64(nonce)
	return h.Sum()
}

// SignSweep signs the sweep of an account to a destination.
func SignSweep(sk types.PrivateKey, id api.AccountID, destination types.Address, nonce uint64) types.Signature {
	return sk.SignHash(SweepHash(id, destination, nonce))
}

// TransferRef returns the idempotency key of the transfer that moves an
// account's payment of an asset out of the account.
func TransferRef(id api.AccountID, asset types.Address) types.Hash256 {
	h := types.NewHasher()
	h.E.Write(specifierTransfer[:])
	h.E.Write(id[:])
	h.E.Write(asset[:])
	return h.Sum()
}

// authorizeSweep checks whether the sweep of acc to destination may move
// funds. It assumes acc has been checked for readiness already.
func authorizeSweep(v SignatureVerifier, acc api.EphemeralAccount, destination types.Address, sig types.Signature) error {
	if !v.VerifyHash(acc.Creator, SweepHash(acc.ID, destination, acc.SweepNonce), sig) {
		return fmt.Errorf("%w: invalid signature for sweep nonce %d", api.ErrAuthorizationFailed, acc.SweepNonce)
	}
	return nil
}
