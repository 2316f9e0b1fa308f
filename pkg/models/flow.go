package models

import "time"

// FundFlow is a directed acyclic sequence of transactions sharing one
// economic subject, produced by tracing. TotalAmount is the maximum hop
// amount rather than the sum — summing would double count the same value
// as it moves across hops.

// FlowType classifies the overall behaviour of a traced flow.
type FlowType string

const (
	FlowBridgeTransfer FlowType = "bridge_transfer"
	FlowDexSwap        FlowType = "dex_swap"
	FlowCrossChainSwap FlowType = "cross_chain_swap"
	FlowMixing         FlowType = "mixing"
	FlowPrivacy        FlowType = "privacy"
	FlowLayerHopping   FlowType = "layer_hopping"
	FlowCircular       FlowType = "circular"
	FlowHighVolume     FlowType = "high_volume"
	FlowSuspicious     FlowType = "suspicious"
)

// FundFlow is the traced multi-hop movement of funds.
type FundFlow struct {
	FlowID      string        `json:"flowId"`
	Start       Address       `json:"start"`
	End         Address       `json:"end"`
	Path        []Transaction `json:"path"`
	TotalAmount float64       `json:"totalAmount"`
	Blockchains []string      `json:"blockchains"`
	Duration    time.Duration `json:"duration"`
	HopCount    int           `json:"hopCount"`
	RiskScore   float64       `json:"riskScore"`
	Confidence  float64       `json:"confidence"`
	FlowType    FlowType      `json:"flowType"`
}

// Finalize derives the path-dependent fields: hop count, chain set,
// representative amount (max over hops) and duration. Call after the path
// is complete.
func (f *FundFlow) Finalize() {
	f.HopCount = len(f.Path)

	f.TotalAmount = 0
	seen := make(map[string]bool)
	f.Blockchains = f.Blockchains[:0]
	for _, tx := range f.Path {
		if tx.Value > f.TotalAmount {
			f.TotalAmount = tx.Value
		}
		if !seen[tx.Chain] {
			seen[tx.Chain] = true
			f.Blockchains = append(f.Blockchains, tx.Chain)
		}
	}

	if len(f.Path) > 0 {
		first := f.Path[0].Timestamp
		last := f.Path[len(f.Path)-1].Timestamp
		if last.After(first) {
			f.Duration = last.Sub(first)
		} else {
			f.Duration = 0
		}
	}
}
