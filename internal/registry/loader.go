package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Seed loading. The registry boots from a YAML file when PROTOCOLS_FILE is
// set; otherwise it falls back to the built-in deployments below, which
// cover the protocols the analysis engines reference in tests and the
// scheduler refreshes in production.

type seedFile struct {
	Protocols []models.ProtocolEntry `yaml:"protocols"`
}

// LoadFile parses a YAML seed file into protocol entries.
func LoadFile(path string) ([]models.ProtocolEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("registry: parse seed file %s: %w", path, err)
	}
	return seed.Protocols, nil
}

// BuiltinEntries returns the compiled-in protocol set.
func BuiltinEntries() []models.ProtocolEntry {
	return []models.ProtocolEntry{
		{
			Name:   "Tornado Cash",
			Type:   models.ProtocolMixer,
			Chains: []string{"ethereum"},
			Addresses: map[string][]string{
				"ethereum": {
					"0x12d66f87a04a9e220743712ce6d9bb1b5616b8fc", // 0.1 ETH pool
					"0x47ce0c6ed5b0ce3d3a51fdb1c52dc66a7c3c2936", // 1 ETH pool
					"0x910cbd523d972eb0a6f4cae4618ad62622b39dbf", // 10 ETH pool
					"0xa160cdab225685da1d56aa342ad8841c3b53f291", // 100 ETH pool
				},
			},
			RiskLevel: models.RiskCritical,
			Tags:      []string{"sanctioned", "ofac"},
		},
		{
			Name:   "Wormhole",
			Type:   models.ProtocolBridge,
			Chains: []string{"ethereum", "polygon", "bsc", "avalanche"},
			Addresses: map[string][]string{
				"ethereum": {"0x3ee18b2214aff97000d974cf647e7c347e8fa585"},
				"polygon":  {"0x5a58505a96d1dbf8df91cb21b54419fc36e93fde"},
				"bsc":      {"0xb6f6d86a8f9879a9c87f643768d9efc38c1da6e7"},
			},
			RiskLevel: models.RiskMedium,
		},
		{
			Name:   "Stargate",
			Type:   models.ProtocolBridge,
			Chains: []string{"ethereum", "arbitrum", "optimism", "polygon"},
			Addresses: map[string][]string{
				"ethereum": {"0x8731d54e9d02c286767d56ac03e8037c07e01e98"},
				"arbitrum": {"0x53bf833a5d6c4dda888f69c22c88c9f356a41614"},
				"polygon":  {"0x45a01e4e04f14f7a4a6702c74187c5f6222033cd"},
			},
			RiskLevel: models.RiskLow,
		},
		{
			Name:   "Uniswap V3",
			Type:   models.ProtocolDex,
			Chains: []string{"ethereum", "polygon", "arbitrum"},
			Addresses: map[string][]string{
				"ethereum": {"0xe592427a0aece92de3edee1f18e0157c05861564"},
				"polygon":  {"0xe592427a0aece92de3edee1f18e0157c05861564"},
			},
			RiskLevel: models.RiskVeryLow,
		},
		{
			Name:   "Railgun",
			Type:   models.ProtocolPrivacyTool,
			Chains: []string{"ethereum"},
			Addresses: map[string][]string{
				"ethereum": {"0xfa7093cdd9ee6932b4eb2c9e1cde7ce00b1fa4b9"},
			},
			RiskLevel: models.RiskHigh,
			Tags:      []string{"privacy"},
		},
		{
			Name:   "Aave V3",
			Type:   models.ProtocolLending,
			Chains: []string{"ethereum", "polygon"},
			Addresses: map[string][]string{
				"ethereum": {"0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2"},
			},
			RiskLevel: models.RiskVeryLow,
		},
	}
}
