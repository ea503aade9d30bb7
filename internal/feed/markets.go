package feed

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors for market code lists.
var (
	ErrNoMarkets = errors.New("no market codes given")
)

// ValidateMarketCode validates that a market code follows the feed's
// "QUOTE-BASE" convention (e.g. "KRW-BTC", "USDT-ETH").
//
// Both segments must be non-empty and uppercase alphanumeric; the code is
// used verbatim as a partition key and in publish topics, so lowercase or
// decorated variants are rejected rather than normalized.
func ValidateMarketCode(code string) error {
	if code == "" {
		return errors.New("market code cannot be empty")
	}

	quote, base, found := strings.Cut(code, "-")
	if !found {
		return fmt.Errorf("invalid market code format: expected QUOTE-BASE, got %q", code)
	}
	if quote == "" {
		return fmt.Errorf("market code %q has an empty quote segment", code)
	}
	if base == "" {
		return fmt.Errorf("market code %q has an empty base segment", code)
	}

	for _, segment := range []string{quote, base} {
		for _, r := range segment {
			if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return fmt.Errorf("market code %q contains invalid character %q", code, r)
			}
		}
	}
	return nil
}

// ValidateMarkets validates a list of market codes, rejecting empty lists
// and duplicates.
func ValidateMarkets(codes []string) error {
	if len(codes) == 0 {
		return ErrNoMarkets
	}

	seen := make(map[string]struct{}, len(codes))
	for i, code := range codes {
		if err := ValidateMarketCode(code); err != nil {
			return fmt.Errorf("market at index %d: %w", i, err)
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("duplicate market code %q", code)
		}
		seen[code] = struct{}{}
	}
	return nil
}
