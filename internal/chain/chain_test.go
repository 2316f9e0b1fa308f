package chain

import (
	"sort"
	"testing"
)

func TestCanonicalEVM(t *testing.T) {
	tests := []struct {
		name    string
		chain   string
		addr    string
		want    string
		wantErr bool
	}{
		{"Mixed case checksummed", "ethereum", "0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", false},
		{"Already lowercase", "polygon", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", false},
		{"Missing prefix", "ethereum", "ab5801a7d398351b8be11c439e05c5b3259aec9b", "", true},
		{"Too short", "ethereum", "0xab5801", "", true},
		{"Non-hex characters", "ethereum", "0xZZ5801a7d398351b8be11c439e05c5b3259aec9b", "", true},
		{"Unsupported chain", "dogecoin", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", "", true},
		{"Empty address", "ethereum", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.chain, tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Canonical(%s, %s) error = %v, wantErr %v", tt.chain, tt.addr, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Canonical(%s, %s) = %v, want %v", tt.chain, tt.addr, got, tt.want)
			}
		})
	}
}

func TestCanonicalBitcoin(t *testing.T) {
	// Genesis block coinbase address: valid base58, must NOT be lowercased.
	got, err := Canonical("bitcoin", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil {
		t.Fatalf("valid base58 address rejected: %v", err)
	}
	if got != "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa" {
		t.Errorf("base58 address was altered: %s", got)
	}

	// bech32 addresses are case-insensitive and canonicalize to lowercase.
	got, err = Canonical("bitcoin", "BC1QAR0SRRR7XFKVY5L643LYDNW9RE59GTZZWF5MDQ")
	if err != nil {
		t.Fatalf("valid bech32 address rejected: %v", err)
	}
	if got != "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq" {
		t.Errorf("bech32 address not lowercased: %s", got)
	}

	if _, err := Canonical("bitcoin", "not-an-address"); err == nil {
		t.Error("malformed bitcoin address accepted")
	}
}

func TestSupported(t *testing.T) {
	if !Supported("ethereum") || !Supported("bitcoin") {
		t.Error("core chains must be supported")
	}
	if Supported("solana") {
		t.Error("unregistered chain reported as supported")
	}
}

func TestSupportedChainsIsSortedAndStable(t *testing.T) {
	first := SupportedChains()
	if !sort.StringsAreSorted(first) {
		t.Errorf("chain list not sorted: %v", first)
	}
	second := SupportedChains()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chain list not stable: %v vs %v", first, second)
		}
	}
}
