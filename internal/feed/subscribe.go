package feed

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SubscriptionType identifies a feed data channel.
type SubscriptionType string

// Feed channels a connection can subscribe to.
const (
	SubscribeTrade     SubscriptionType = "trade"
	SubscribeTicker    SubscriptionType = "ticker"
	SubscribeOrderbook SubscriptionType = "orderbook"
	SubscribeCandle1s  SubscriptionType = "candle.1s"
)

// Format is the payload naming directive of the subscribe request.
type Format string

// Supported payload formats. SIMPLE requests the abbreviated field names
// the DTOs in this package decode.
const (
	FormatDefault Format = "DEFAULT"
	FormatSimple  Format = "SIMPLE"
)

// Subscription is one channel/markets pair of a subscribe request.
type Subscription struct {
	Type  SubscriptionType
	Codes []string
}

// ticketPart opens the subscribe request with a unique session ticket.
type ticketPart struct {
	Ticket string `json:"ticket"`
}

// typePart enumerates one subscribed channel and its market codes.
type typePart struct {
	Type           string   `json:"type"`
	Codes          []string `json:"codes"`
	IsOnlyRealtime bool     `json:"is_only_realtime"`
	IsOnlySnapshot bool     `json:"is_only_snapshot"`
}

// formatPart closes the request with the payload format directive.
type formatPart struct {
	Format string `json:"format"`
}

// BuildSubscribeRequest constructs the subscribe message sent on connection
// establishment: a JSON array of a ticket block, one type block per
// subscription, and a format block.
//
// The ticket is a fresh UUID per request so the feed can attribute the
// session. Each subscription must name at least one valid market code.
func BuildSubscribeRequest(subs []Subscription, format Format) ([]byte, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("at least one subscription is required")
	}

	parts := make([]any, 0, len(subs)+2)
	parts = append(parts, ticketPart{Ticket: uuid.NewString()})

	for _, sub := range subs {
		if err := ValidateMarkets(sub.Codes); err != nil {
			return nil, fmt.Errorf("subscription %q: %w", sub.Type, err)
		}
		parts = append(parts, typePart{
			Type:  string(sub.Type),
			Codes: sub.Codes,
		})
	}

	parts = append(parts, formatPart{Format: string(format)})
	return json.Marshal(parts)
}
