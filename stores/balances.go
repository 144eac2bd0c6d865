package stores

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type (
	dbBalance struct {
		Model

		Owner  hash256  `gorm:"uniqueIndex:idx_balances_owner_asset;NOT NULL;size:32"`
		Asset  hash256  `gorm:"uniqueIndex:idx_balances_owner_asset;NOT NULL;size:32"`
		Amount *balance `gorm:"NOT NULL"`
	}

	// dbTransfer is the journal of applied transfers. A transfer's ref is
	// never applied twice.
	dbTransfer struct {
		Model

		Ref         hash256  `gorm:"unique;NOT NULL;size:32"`
		Asset       hash256  `gorm:"NOT NULL;size:32"`
		Source      hash256  `gorm:"index;NOT NULL;size:32"`
		Destination hash256  `gorm:"index;NOT NULL;size:32"`
		Amount      *balance `gorm:"NOT NULL"`
	}
)

func (dbBalance) TableName() string  { return "balances" }
func (dbTransfer) TableName() string { return "transfers" }

// Balance returns the amount of an asset held by owner.
func (s *SQLStore) Balance(ctx context.Context, owner, asset types.Address) (*big.Int, error) {
	var b dbBalance
	err := s.db.
		WithContext(ctx).
		Where("owner = ? AND asset = ?", hash256(owner), hash256(asset)).
		Take(&b).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(big.Int), nil
	} else if err != nil {
		return nil, err
	}
	return b.Amount.Int(), nil
}

// Credit adds amount of an asset to the balance of owner. It's used to record
// deposits into accounts.
func (s *SQLStore) Credit(ctx context.Context, owner, asset types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("credit must be positive, got %v", amount)
	}
	return s.retryTransaction(ctx, func(tx *gorm.DB) error {
		return addBalance(tx, owner, asset, amount)
	})
}

// Transfer moves amount of an asset from one address to another. Transfers
// are idempotent by ref, replaying a transfer with the same parameters is a
// no-op while reusing a ref for a different transfer fails.
func (s *SQLStore) Transfer(ctx context.Context, ref types.Hash256, asset, from, to types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", api.ErrInvalidAmount, amount)
	}
	return s.retryTransaction(ctx, func(tx *gorm.DB) error {
		var existing dbTransfer
		err := tx.Where("ref = ?", hash256(ref)).Take(&existing).Error
		if err == nil {
			if existing.Asset != hash256(asset) ||
				existing.Source != hash256(from) ||
				existing.Destination != hash256(to) ||
				existing.Amount.Int().Cmp(amount) != 0 {
				return fmt.Errorf("%w: ref %v was already used for a different transfer", api.ErrTransferFailed, ref)
			}
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if amount.Sign() > 0 {
			var src dbBalance
			query := tx.Where("owner = ? AND asset = ?", hash256(from), hash256(asset))
			if !isSQLite(tx) {
				query = query.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			err := query.Take(&src).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && src.Amount.Int().Cmp(amount) < 0) {
				return fmt.Errorf("%w: %v holds less than %v of asset %v", api.ErrInsufficientBalance, from, amount, asset)
			} else if err != nil {
				return err
			}

			if err := tx.
				Model(&src).
				Update("amount", newBalance(new(big.Int).Sub(src.Amount.Int(), amount))).
				Error; err != nil {
				return fmt.Errorf("failed to debit %v: %w", from, err)
			} else if err := addBalance(tx, to, asset, amount); err != nil {
				return fmt.Errorf("failed to credit %v: %w", to, err)
			}
		}

		return tx.Create(&dbTransfer{
			Ref:         hash256(ref),
			Asset:       hash256(asset),
			Source:      hash256(from),
			Destination: hash256(to),
			Amount:      newBalance(amount),
		}).Error
	})
}

// Transferred returns true if a transfer with the given ref was applied.
func (s *SQLStore) Transferred(ctx context.Context, ref types.Hash256) (bool, error) {
	var count int64
	err := s.db.
		WithContext(ctx).
		Model(&dbTransfer{}).
		Where("ref = ?", hash256(ref)).
		Count(&count).
		Error
	return count > 0, err
}

func addBalance(tx *gorm.DB, owner, asset types.Address, amount *big.Int) error {
	var b dbBalance
	err := tx.Where("owner = ? AND asset = ?", hash256(owner), hash256(asset)).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&dbBalance{
			Owner:  hash256(owner),
			Asset:  hash256(asset),
			Amount: newBalance(amount),
		}).Error
	} else if err != nil {
		return err
	}
	return tx.
		Model(&b).
		Update("amount", newBalance(new(big.Int).Add(b.Amount.Int(), amount))).
		Error
}
