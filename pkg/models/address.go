package models

import (
	"strings"
	"time"
)

// Address is a chain-qualified account identifier. Identity is the pair
// (chain, canonical lowercased address); addresses are created by first
// reference and never deleted, only superseded by re-attribution.
type Address struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

// NewAddress canonicalizes the address portion (lowercase, trimmed).
func NewAddress(chain, addr string) Address {
	return Address{
		Chain:   strings.ToLower(strings.TrimSpace(chain)),
		Address: strings.ToLower(strings.TrimSpace(addr)),
	}
}

// Key returns the identity key used by indexes and cache entries.
func (a Address) Key() string {
	return a.Chain + ":" + a.Address
}

// Transaction is a single observed on-chain transfer. Immutable once
// observed; monetary amounts are unitless — the analysis engines interpret
// their semantics per chain.
type Transaction struct {
	Chain       string    `json:"chain"`
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	TokenSymbol string    `json:"tokenSymbol,omitempty"`
	Fee         float64   `json:"fee,omitempty"`
}

// Key returns the identity key (chain-qualified hash).
func (t Transaction) Key() string {
	return t.Chain + ":" + strings.ToLower(t.Hash)
}
