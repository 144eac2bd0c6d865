package api

import (
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"go.sia.tech/core/types"
	"lukechampine.com/frand"
)

// MaxPayments is the maximum number of distinct assets an ephemeral account
// can receive before it has to be swept.
const MaxPayments = 10

const (
	StatusActive          AccountStatus = "active"
	StatusPaymentReceived AccountStatus = "paymentReceived"
	StatusSwept           AccountStatus = "swept"
	StatusExpired         AccountStatus = "expired"
)

type (
	// AccountID identifies an ephemeral account. The same 32 bytes are used
	// as the account's address when moving funds out of it.
	AccountID [32]byte

	// AccountStatus describes where an ephemeral account is in its
	// lifecycle.
	AccountStatus string

	// A PaymentRecord is a single payment an ephemeral account received.
	PaymentRecord struct {
		Asset  types.Address `json:"asset"`
		Amount *big.Int      `json:"amount"`
	}

	// EphemeralAccount is the persisted state of an ephemeral account.
	EphemeralAccount struct {
		ID AccountID `json:"id"`

		// Creator is the key that authorizes sweeps.
		Creator types.PublicKey `json:"creator"`

		// Recovery is the fallback beneficiary once the account expired.
		Recovery types.Address `json:"recovery"`

		// ExpiryHeight is the ledger height after which the account can be
		// expired.
		ExpiryHeight uint64 `json:"expiryHeight"`

		Status   AccountStatus   `json:"status"`
		Payments []PaymentRecord `json:"payments"`

		// SweepNonce is bound into every sweep authorization and bumped
		// whenever an authorized sweep reaches the transfer phase.
		SweepNonce uint64 `json:"sweepNonce"`
	}

	// AccountInfo is a read-only snapshot of an ephemeral account.
	AccountInfo struct {
		ID           AccountID       `json:"id"`
		Creator      types.PublicKey `json:"creator"`
		Recovery     types.Address   `json:"recovery"`
		Status       AccountStatus   `json:"status"`
		ExpiryHeight uint64          `json:"expiryHeight"`
		PaymentCount int             `json:"paymentCount"`
		Payments     []PaymentRecord `json:"payments"`
		SweepNonce   uint64          `json:"sweepNonce"`
	}
)

// NewAccountID returns a random account id.
func NewAccountID() (id AccountID) {
	frand.Read(id[:])
	return
}

// Address returns the address funds held by the account are stored under.
func (a AccountID) Address() types.Address { return types.Address(a) }

// String implements fmt.Stringer.
func (a AccountID) String() string { return hex.EncodeToString(a[:]) }

// MarshalText implements encoding.TextMarshaler.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccountID) UnmarshalText(b []byte) error {
	s := strings.TrimPrefix(string(b), "acct:")
	if len(s) != hex.EncodedLen(len(a)) {
		return fmt.Errorf("invalid account id length: got %d, want %d hex chars",
			len(s), hex.EncodedLen(len(a)))
	}
	n, err := hex.Decode(a[:], []byte(s))
	if err != nil {
		return fmt.Errorf("decoding account id hex failed: %w", err)
	}
	if n != len(a) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// IsTerminal returns true if no further payments, sweeps or expiries are
// accepted in the given status.
func (s AccountStatus) IsTerminal() bool {
	return s == StatusSwept || s == StatusExpired
}

// IsValid returns true if s is one of the known statuses.
func (s AccountStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusPaymentReceived, StatusSwept, StatusExpired:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (s AccountStatus) String() string { return string(s) }

// MarshalText implements encoding.TextMarshaler.
func (s AccountStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *AccountStatus) UnmarshalText(b []byte) error {
	status := AccountStatus(b)
	if status != "" && !status.IsValid() {
		return fmt.Errorf("unknown account status %q", string(b))
	}
	*s = status
	return nil
}

// Clone returns a deep copy of the record.
func (p PaymentRecord) Clone() PaymentRecord {
	pr := PaymentRecord{Asset: p.Asset}
	if p.Amount != nil {
		pr.Amount = new(big.Int).Set(p.Amount)
	}
	return pr
}

// Clone returns a deep copy of the account.
func (a EphemeralAccount) Clone() EphemeralAccount {
	c := a
	c.Payments = make([]PaymentRecord, len(a.Payments))
	for i := range a.Payments {
		c.Payments[i] = a.Payments[i].Clone()
	}
	return c
}

// Info returns a snapshot of the account for reporting.
func (a EphemeralAccount) Info() AccountInfo {
	c := a.Clone()
	return AccountInfo{
		ID:           c.ID,
		Creator:      c.Creator,
		Recovery:     c.Recovery,
		Status:       c.Status,
		ExpiryHeight: c.ExpiryHeight,
		PaymentCount: len(c.Payments),
		Payments:     c.Payments,
		SweepNonce:   c.SweepNonce,
	}
}

type (
	// AccountsOpts filters the accounts returned by the /accounts endpoint.
	AccountsOpts struct {
		Creator *types.PublicKey
		Status  AccountStatus
		Offset  int
		Limit   int
	}

	// AccountInitializeRequest is the request type for the
	// /account/:id/initialize endpoint and the /accounts endpoint.
	AccountInitializeRequest struct {
		Creator      types.PublicKey `json:"creator"`
		Recovery     types.Address   `json:"recovery"`
		ExpiryHeight uint64          `json:"expiryHeight"`
	}

	// AccountPaymentRequest is the request type for the /account/:id/payment
	// endpoint.
	AccountPaymentRequest struct {
		Asset  types.Address `json:"asset"`
		Amount *big.Int      `json:"amount"`
	}

	// AccountSweepRequest is the request type for the /account/:id/sweep
	// endpoint.
	AccountSweepRequest struct {
		Destination types.Address   `json:"destination"`
		Signature   types.Signature `json:"signature"`
	}

	// AccountExpiredResponse is the response type for the
	// /account/:id/expired endpoint.
	AccountExpiredResponse struct {
		Expired bool   `json:"expired"`
		Height  uint64 `json:"height"`
	}
)
