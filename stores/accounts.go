package stores

import (
	"context"
	"errors"
	"fmt"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
	"gorm.io/gorm"
)

type (
	dbAccount struct {
		Model

		// AccountID identifies an account.
		AccountID hash256 `gorm:"unique;NOT NULL;size:32"`

		// Creator is the key that authorizes sweeps.
		Creator publicKey `gorm:"index;NOT NULL;size:32"`

		// Recovery is the fallback beneficiary of an expired account.
		Recovery hash256 `gorm:"NOT NULL;size:32"`

		ExpiryHeight uint64 `gorm:"index;NOT NULL"`
		Status       string `gorm:"index;NOT NULL"`
		SweepNonce   uint64 `gorm:"NOT NULL;default:0"`

		Payments []dbAccountPayment `gorm:"constraint:OnDelete:CASCADE"`
	}

	dbAccountPayment struct {
		Model

		DBAccountID uint     `gorm:"uniqueIndex:idx_payments_account_asset;NOT NULL"`
		Asset       hash256  `gorm:"uniqueIndex:idx_payments_account_asset;NOT NULL;size:32"`
		Amount      *balance `gorm:"NOT NULL"`
	}

	dbStatusCount struct {
		Status string
		Count  int
	}
)

func (dbAccount) TableName() string {
	return "ephemeral_accounts"
}

func (dbAccountPayment) TableName() string {
	return "ephemeral_account_payments"
}

func (a dbAccount) convert() api.EphemeralAccount {
	acc := api.EphemeralAccount{
		ID:           api.AccountID(a.AccountID),
		Creator:      types.PublicKey(a.Creator),
		Recovery:     types.Address(a.Recovery),
		ExpiryHeight: a.ExpiryHeight,
		Status:       api.AccountStatus(a.Status),
		Payments:     make([]api.PaymentRecord, len(a.Payments)),
		SweepNonce:   a.SweepNonce,
	}
	for i, p := range a.Payments {
		acc.Payments[i] = api.PaymentRecord{
			Asset:  types.Address(p.Asset),
			Amount: p.Amount.Int(),
		}
	}
	return acc
}

func preloadPayments(db *gorm.DB) *gorm.DB {
	return db.Preload("Payments", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	})
}

// Account implements ephemeralaccounts.Store.
func (s *SQLStore) Account(ctx context.Context, id api.AccountID) (api.EphemeralAccount, error) {
	var acc dbAccount
	err := preloadPayments(s.db.WithContext(ctx)).
		Where("account_id = ?", hash256(id)).
		Take(&acc).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return api.EphemeralAccount{}, api.ErrAccountNotFound
	} else if err != nil {
		return api.EphemeralAccount{}, err
	}
	return acc.convert(), nil
}

// SaveAccount implements ephemeralaccounts.Store. The account's payments
// replace the persisted ones.
func (s *SQLStore) SaveAccount(ctx context.Context, acc api.EphemeralAccount) error {
	if !acc.Status.IsValid() {
		return fmt.Errorf("invalid account status %q", acc.Status)
	}
	return s.retryTransaction(ctx, func(tx *gorm.DB) error {
		var existing dbAccount
		err := tx.Where("account_id = ?", hash256(acc.ID)).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existing = dbAccount{AccountID: hash256(acc.ID)}
		} else if err != nil {
			return err
		}

		existing.Creator = publicKey(acc.Creator)
		existing.Recovery = hash256(acc.Recovery)
		existing.ExpiryHeight = acc.ExpiryHeight
		existing.Status = string(acc.Status)
		existing.SweepNonce = acc.SweepNonce
		if err := tx.Omit("Payments").Save(&existing).Error; err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}

		if err := tx.
			Where("db_account_id = ?", existing.ID).
			Delete(&dbAccountPayment{}).
			Error; err != nil {
			return fmt.Errorf("failed to delete payments: %w", err)
		}
		if len(acc.Payments) == 0 {
			return nil
		}
		payments := make([]dbAccountPayment, len(acc.Payments))
		for i, p := range acc.Payments {
			payments[i] = dbAccountPayment{
				DBAccountID: existing.ID,
				Asset:       hash256(p.Asset),
				Amount:      newBalance(p.Amount),
			}
		}
		return tx.Create(&payments).Error
	})
}

// Accounts returns the accounts matching the given options ordered by
// creation. A limit of -1 returns all accounts past the offset.
func (s *SQLStore) Accounts(ctx context.Context, opts api.AccountsOpts) ([]api.EphemeralAccount, error) {
	query := preloadPayments(s.db.WithContext(ctx)).Model(&dbAccount{})
	if opts.Creator != nil {
		query = query.Where("creator = ?", publicKey(*opts.Creator))
	}
	if opts.Status != "" {
		query = query.Where("status = ?", string(opts.Status))
	}

	limit := opts.Limit
	if limit == 0 {
		limit = -1
	}
	var dbAccounts []dbAccount
	if err := query.
		Order("id ASC").
		Offset(opts.Offset).
		Limit(limit).
		Find(&dbAccounts).
		Error; err != nil {
		return nil, err
	}

	accounts := make([]api.EphemeralAccount, len(dbAccounts))
	for i, acc := range dbAccounts {
		accounts[i] = acc.convert()
	}
	return accounts, nil
}

// AccountStats returns the number of accounts per status.
func (s *SQLStore) AccountStats(ctx context.Context) (map[api.AccountStatus]int, error) {
	var counts []dbStatusCount
	if err := s.db.
		WithContext(ctx).
		Model(&dbAccount{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).
		Error; err != nil {
		return nil, err
	}

	stats := map[api.AccountStatus]int{
		api.StatusActive:          0,
		api.StatusPaymentReceived: 0,
		api.StatusSwept:           0,
		api.StatusExpired:         0,
	}
	for _, c := range counts {
		stats[api.AccountStatus(c.Status)] = c.Count
	}
	return stats, nil
}
