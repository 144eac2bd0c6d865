//go:build testnet

package build

import "time"

const (
	network = "testnet"

	DefaultAPIAddress = "localhost:9680"

	DefaultBlockTime = 30 * time.Second
)
