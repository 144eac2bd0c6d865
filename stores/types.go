package stores

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"

	"go.sia.tech/core/types"
)

type (
	hash256   types.Hash256
	publicKey types.PublicKey
	balance   big.Int
)

// GormDataType implements gorm.GormDataTypeInterface.
func (hash256) GormDataType() string {
	return "bytes"
}

// Scan scan value into hash256, implements sql.Scanner interface.
func (h *hash256) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal hash256 value:", value))
	}
	if len(bytes) < len(hash256{}) {
		return fmt.Errorf("failed to unmarshal hash256 value due to insufficient bytes %v < %v: %v", len(bytes), len(hash256{}), value)
	}
	*h = *(*hash256)(bytes)
	return nil
}

// Value returns a hash256 value, implements driver.Valuer interface.
func (h hash256) Value() (driver.Value, error) {
	return h[:], nil
}

// GormDataType implements gorm.GormDataTypeInterface.
func (publicKey) GormDataType() string {
	return "bytes"
}

// Scan scan value into publicKey, implements sql.Scanner interface.
func (pk *publicKey) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal publicKey value:", value))
	}
	if len(bytes) < len(types.PublicKey{}) {
		return fmt.Errorf("failed to unmarshal publicKey value due to insufficient bytes %v < %v: %v", len(bytes), len(publicKey{}), value)
	}
	*pk = *(*publicKey)(bytes)
	return nil
}

// Value returns a publicKey value, implements driver.Valuer interface.
func (pk publicKey) Value() (driver.Value, error) {
	return pk[:], nil
}

// GormDataType implements gorm.GormDataTypeInterface.
func (balance) GormDataType() string {
	return "string"
}

// Scan scan value into balance, implements sql.Scanner interface.
func (b *balance) Scan(value interface{}) error {
	var s string
	switch value := value.(type) {
	case string:
		s = value
	case []byte:
		s = string(value)
	default:
		return fmt.Errorf("failed to unmarshal balance value: %v %T", value, value)
	}
	if _, success := (*big.Int)(b).SetString(s, 10); !success {
		return errors.New(fmt.Sprint("failed to scan balance value", value))
	}
	return nil
}

// Value returns a balance value, implements driver.Valuer interface.
func (b balance) Value() (driver.Value, error) {
	return (*big.Int)(&b).String(), nil
}

func newBalance(i *big.Int) *balance {
	if i == nil {
		return (*balance)(new(big.Int))
	}
	return (*balance)(new(big.Int).Set(i))
}

func (b *balance) Int() *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set((*big.Int)(b))
}
