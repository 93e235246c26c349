package auction

import "time"

// Storage key namespaces. The settlement engine exclusively owns balance
// writes after registration; only settlement appends message keys.
const (
	BalancePrefix = "balance:"
	NamePrefix    = "name:"
	MessagePrefix = "message:"
)

// BalanceKey returns the storage key holding a client's balance.
func BalanceKey(token string) string { return BalancePrefix + token }

// NameKey returns the storage key holding a client's display name.
func NameKey(token string) string { return NamePrefix + token }

// Bid is a single admitted submission. Bids are transient; they live only in
// the current batch.
type Bid struct {
	Token   string
	Message string
	Amount  int64

	// seq is the admission index within the batch, used as the dedup and
	// sort tiebreak.
	seq int
}

// AcceptedMessage is a settled round's winning message as persisted in the
// message log.
type AcceptedMessage struct {
	Message    string    `json:"message"`
	Bidder     string    `json:"bidderToken"`
	BidderName string    `json:"bidderName"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoundStats summarizes a settlement for every participant's response.
type RoundStats struct {
	// WinBid is the clearing price: the second-highest unique bid, or zero
	// for a single-bidder round.
	WinBid int64 `json:"winBid"`

	// SumBid is the sum of the unique (per-client highest) bids.
	SumBid int64 `json:"sumBid"`

	// NBids is the number of unique bidders in the round.
	NBids int `json:"nBids"`
}

// BidResult is the response resolved to one parked request after settlement.
// Duplicate submissions from the same client all receive the same result.
type BidResult struct {
	Message string     `json:"message"`
	Balance int64      `json:"balance"`
	Name    string     `json:"name"`
	Status  string     `json:"status"`
	Stats   RoundStats `json:"stats"`
}

// BidResult status values.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// ReplayPage is one page of the accepted-message log, newest first.
type ReplayPage struct {
	Messages []*AcceptedMessage `json:"messages"`

	// Next is the cursor for the following page, or null when this page was
	// short. Callers pass it back as the end parameter.
	Next *string `json:"next"`
}
