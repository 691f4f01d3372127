package api

import (
	"time"

	"toy-exchange/pkg/types"
)

// TradeEvent is the wrapper for trades pushed over the WebSocket feed.
type TradeEvent struct {
	Type      string            `json:"type"` // currently always "trade"
	Timestamp time.Time         `json:"timestamp"`
	Data      types.Transaction `json:"data"`
}
