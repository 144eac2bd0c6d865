package build

// NetworkName returns the human-readable name of the network the binary was
// built for.
func NetworkName() string {
	switch network {
	case "mainnet":
		return "Mainnet"
	case "testnet":
		return "Testnet"
	default:
		return network
	}
}
