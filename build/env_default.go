//go:build !testnet

package build

import "time"

const (
	network = "mainnet"

	DefaultAPIAddress = "localhost:9780"

	// DefaultBlockTime is the interval at which the ledger height advances
	// when no external height source is configured.
	DefaultBlockTime = 10 * time.Minute
)
