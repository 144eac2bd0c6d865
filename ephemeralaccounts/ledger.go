package ephemeralaccounts

import (
	"fmt"
	"math/big"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
)

var (
	maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minAmount = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// A PaymentLedger holds the payments of a single account in arrival order.
// It never holds more than api.MaxPayments records and never two records of
// the same asset.
type PaymentLedger struct {
	payments []api.PaymentRecord
}

// NewPaymentLedger returns a ledger seeded with a copy of the given records.
func NewPaymentLedger(records []api.PaymentRecord) *PaymentLedger {
	l := &PaymentLedger{payments: make([]api.PaymentRecord, 0, len(records))}
	for _, r := range records {
		l.payments = append(l.payments, r.Clone())
	}
	return l
}

// Insert appends a payment to the ledger.
func (l *PaymentLedger) Insert(asset types.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	} else if l.Contains(asset) {
		return fmt.Errorf("%w: %v", api.ErrDuplicateAsset, asset)
	} else if len(l.payments) >= api.MaxPayments {
		return fmt.Errorf("%w: ledger already holds %d payments", api.ErrTooManyPayments, len(l.payments))
	}
	l.payments = append(l.payments, api.PaymentRecord{
		Asset:  asset,
		Amount: new(big.Int).Set(amount),
	})
	return nil
}

// Count returns the number of payments in the ledger.
func (l *PaymentLedger) Count() int { return len(l.payments) }

// Contains returns true if the ledger holds a payment of the given asset.
func (l *PaymentLedger) Contains(asset types.Address) bool {
	for _, p := range l.payments {
		if p.Asset == asset {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the payments in arrival order.
func (l *PaymentLedger) Snapshot() []api.PaymentRecord {
	snapshot := make([]api.PaymentRecord, len(l.payments))
	for i := range l.payments {
		snapshot[i] = l.payments[i].Clone()
	}
	return snapshot
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: missing amount", api.ErrAmountOutOfRange)
	} else if amount.Cmp(maxAmount) > 0 || amount.Cmp(minAmount) < 0 {
		return fmt.Errorf("%w: %v doesn't fit into 128 bits", api.ErrAmountOutOfRange, amount)
	}
	return nil
}
