package models

import "time"

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// GENERAL ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RawFeedMessage wraps a raw order book message from any exchange websocket.
// Data holds the unparsed JSON frame exactly as it arrived on the wire.
type RawFeedMessage struct {
	Exchange  string
	Pair      string
	Data      []byte
	Timestamp time.Time
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// COINBASE ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// CoinbaseTypeProbe extracts only the type discriminator so the handler can
// dispatch before committing to a full decode.
type CoinbaseTypeProbe struct {
	Type string `json:"type"`
}

// CoinbaseSnapshotResp mirrors the level2 snapshot message from the Coinbase
// websocket feed. Bids and asks are [price, size] string pairs.
type CoinbaseSnapshotResp struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

// CoinbaseL2UpdateResp mirrors the level2 incremental update message.
// Changes are [side, price, size] triples where side is "buy" or "sell" and a
// size of "0" removes the level.
type CoinbaseL2UpdateResp struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Changes   [][]string `json:"changes"`
	Time      string     `json:"time"`
}

// CoinbaseSubscribeReq is the subscription request sent after dialing.
type CoinbaseSubscribeReq struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// KRAKEN ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// KrakenEvent mirrors the JSON object messages on the Kraken v1 websocket
// (subscriptionStatus, systemStatus, heartbeat). Data messages arrive as JSON
// arrays instead and are handled separately.
type KrakenEvent struct {
	Event        string `json:"event"`
	ChannelID    int64  `json:"channelID"`
	ChannelName  string `json:"channelName"`
	Pair         string `json:"pair"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Subscription struct {
		Name  string `json:"name"`
		Depth int    `json:"depth"`
	} `json:"subscription"`
}

// KrakenBookPayload mirrors one payload object inside a Kraken book data
// array. Snapshot entries arrive under as/bs, incremental updates under a/b.
// Each entry is [price, volume, timestamp] with an optional trailing "r"
// republish flag.
type KrakenBookPayload struct {
	AsksSnapshot [][]string `json:"as"`
	BidsSnapshot [][]string `json:"bs"`
	Asks         [][]string `json:"a"`
	Bids         [][]string `json:"b"`
}

// KrakenSubscribeReq is the subscription request for the book channel.
type KrakenSubscribeReq struct {
	Event        string   `json:"event"`
	Pair         []string `json:"pair"`
	Subscription struct {
		Name  string `json:"name"`
		Depth int    `json:"depth,omitempty"`
	} `json:"subscription"`
}
