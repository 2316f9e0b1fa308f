package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Chain registry and address canonicalization.
//
// Every subsystem identifies addresses by (chain, canonical address). EVM
// addresses are canonicalized by lowercasing; Bitcoin addresses are decoded
// against mainnet parameters and only bech32 forms are lowercased (base58
// is case-sensitive).

// EVM chains share the 0x-hex address format.
var evmChains = map[string]bool{
	"ethereum":  true,
	"polygon":   true,
	"arbitrum":  true,
	"optimism":  true,
	"bsc":       true,
	"avalanche": true,
	"base":      true,
}

// Supported reports whether the chain tag is known to the engine.
func Supported(chainTag string) bool {
	chainTag = strings.ToLower(strings.TrimSpace(chainTag))
	return chainTag == "bitcoin" || evmChains[chainTag]
}

// SupportedChains lists every chain tag the engine accepts, sorted.
func SupportedChains() []string {
	chains := []string{"bitcoin"}
	for c := range evmChains {
		chains = append(chains, c)
	}
	sort.Strings(chains)
	return chains
}

// IsEVM reports whether the chain uses 0x-hex account addresses.
func IsEVM(chainTag string) bool {
	return evmChains[strings.ToLower(chainTag)]
}

// Canonical validates an address for the given chain and returns its
// canonical form. Malformed addresses and unsupported chains are invalid
// input — the only error class this function returns.
func Canonical(chainTag, addr string) (string, error) {
	chainTag = strings.ToLower(strings.TrimSpace(chainTag))
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}

	switch {
	case evmChains[chainTag]:
		lower := strings.ToLower(addr)
		if !isHexAddress(lower) {
			return "", fmt.Errorf("malformed %s address: %s", chainTag, addr)
		}
		return lower, nil

	case chainTag == "bitcoin":
		if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
			return "", fmt.Errorf("malformed bitcoin address %s: %v", addr, err)
		}
		// bech32 is case-insensitive by definition; base58 is not.
		if strings.HasPrefix(strings.ToLower(addr), "bc1") {
			return strings.ToLower(addr), nil
		}
		return addr, nil

	default:
		return "", fmt.Errorf("unsupported chain: %s", chainTag)
	}
}

// isHexAddress checks the 0x + 40 hex chars EVM format.
func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
