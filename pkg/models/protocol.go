package models

// ProtocolEntry describes a known protocol deployment (bridge, DEX, mixer,
// …) and the contract addresses it owns per chain. Entries are loaded at
// startup and refreshed by the scheduler; the registry indexes them by
// (chain, lowercased address).

// ProtocolType is the closed set of protocol categories.
type ProtocolType string

const (
	ProtocolBridge      ProtocolType = "bridge"
	ProtocolDex         ProtocolType = "dex"
	ProtocolLending     ProtocolType = "lending"
	ProtocolStaking     ProtocolType = "staking"
	ProtocolYieldFarm   ProtocolType = "yield_farming"
	ProtocolMixer       ProtocolType = "mixer"
	ProtocolNFT         ProtocolType = "nft"
	ProtocolPayments    ProtocolType = "payments"
	ProtocolPrivacyTool ProtocolType = "privacy_tool"
)

// ProtocolEntry is one known protocol with its per-chain addresses.
type ProtocolEntry struct {
	Name      string              `json:"name" yaml:"name"`
	Type      ProtocolType        `json:"type" yaml:"type"`
	Chains    []string            `json:"chains" yaml:"chains"`
	Addresses map[string][]string `json:"addresses" yaml:"addresses"` // chain → addresses
	RiskLevel RiskLevel           `json:"riskLevel" yaml:"risk_level"`
	Tags      []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
}
