package domain

import "time"

// Signal bus channels and streams.
const (
	ChannelOutcome = "ch:outcome"
	ChannelState   = "ch:state"
	ChannelOracle  = "ch:oracle"
	StreamOutcomes = "stream:outcomes"
)

// Event is the JSON envelope published on the signal bus and pushed to
// websocket clients.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode          string `json:"mode"`
	Running       bool   `json:"running"`
	SafeMode      bool   `json:"safe_mode"`
	HoldingMode   Mode   `json:"holding_mode"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TradeCount    int64  `json:"trade_count"`
}
