package feed

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_BuildSubscribeRequest(t *testing.T) {
	subs := []Subscription{
		{Type: SubscribeTrade, Codes: []string{"KRW-BTC", "KRW-ETH"}},
		{Type: SubscribeOrderbook, Codes: []string{"KRW-BTC"}},
	}

	raw, err := BuildSubscribeRequest(subs, FormatSimple)
	require.NoError(t, err)

	var parts []map[string]any
	require.NoError(t, json.Unmarshal(raw, &parts))
	require.Len(t, parts, 4, "ticket, one block per subscription, format")

	// First part carries a fresh UUID ticket.
	ticket, ok := parts[0]["ticket"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(ticket)
	assert.NoError(t, err, "ticket should be a valid UUID")

	// Type blocks in subscription order.
	assert.Equal(t, "trade", parts[1]["type"])
	assert.Equal(t, []any{"KRW-BTC", "KRW-ETH"}, parts[1]["codes"])
	assert.Equal(t, "orderbook", parts[2]["type"])
	assert.Equal(t, []any{"KRW-BTC"}, parts[2]["codes"])

	// Final part is the format directive.
	assert.Equal(t, "SIMPLE", parts[3]["format"])
}

func Test_BuildSubscribeRequest_UniqueTickets(t *testing.T) {
	subs := []Subscription{{Type: SubscribeCandle1s, Codes: []string{"KRW-BTC"}}}

	first, err := BuildSubscribeRequest(subs, FormatSimple)
	require.NoError(t, err)
	second, err := BuildSubscribeRequest(subs, FormatSimple)
	require.NoError(t, err)

	var a, b []map[string]any
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.NotEqual(t, a[0]["ticket"], b[0]["ticket"], "each request gets its own ticket")
}

func Test_BuildSubscribeRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		subs []Subscription
	}{
		{name: "no subscriptions", subs: nil},
		{name: "subscription without codes", subs: []Subscription{{Type: SubscribeTrade}}},
		{name: "invalid market code", subs: []Subscription{{Type: SubscribeTrade, Codes: []string{"krw-btc"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSubscribeRequest(tt.subs, FormatSimple)
			assert.Error(t, err)
		})
	}
}

func Test_ValidateMarketCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{name: "valid KRW pair", code: "KRW-BTC", wantErr: false},
		{name: "valid USDT pair", code: "USDT-ETH", wantErr: false},
		{name: "digits allowed", code: "KRW-1INCH", wantErr: false},
		{name: "empty", code: "", wantErr: true},
		{name: "no separator", code: "KRWBTC", wantErr: true},
		{name: "empty quote", code: "-BTC", wantErr: true},
		{name: "empty base", code: "KRW-", wantErr: true},
		{name: "lowercase rejected", code: "krw-btc", wantErr: true},
		{name: "whitespace rejected", code: "KRW- BTC", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMarketCode(tt.code)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_ValidateMarkets(t *testing.T) {
	tests := []struct {
		name    string
		codes   []string
		wantErr bool
	}{
		{name: "valid list", codes: []string{"KRW-BTC", "KRW-ETH"}, wantErr: false},
		{name: "empty list", codes: nil, wantErr: true},
		{name: "duplicate", codes: []string{"KRW-BTC", "KRW-BTC"}, wantErr: true},
		{name: "one invalid entry", codes: []string{"KRW-BTC", "bad"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMarkets(tt.codes)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_ValidateMarkets_EmptyListError(t *testing.T) {
	assert.ErrorIs(t, ValidateMarkets(nil), ErrNoMarkets)
}
