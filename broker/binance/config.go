package binance

import "strings"

const (
	// LiveURL is the production spot REST endpoint
	LiveURL = "https://api.binance.com"
	// TestnetURL is the spot testnet; keys are issued separately
	TestnetURL = "https://testnet.binance.vision"
)

// BaseURL picks the REST root. A non-empty override wins.
func BaseURL(testnet bool, override string) string {
	if o := strings.TrimRight(strings.TrimSpace(override), "/"); o != "" {
		return o
	}
	if testnet {
		return TestnetURL
	}
	return LiveURL
}
