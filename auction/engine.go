package auction

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"

	"github.com/whitead/msgbid/store"
)

var (
	bidsAdmitted       = vmetrics.GetOrCreateCounter(`msgbid_bids_admitted_total`)
	settlementsTotal   = vmetrics.GetOrCreateCounter(`msgbid_settlements_total`)
	settlementFailures = vmetrics.GetOrCreateCounter(`msgbid_settlement_failures_total`)
)

// AcceptedCallback is invoked after each successful settlement with the
// message that won the round.
type AcceptedCallback func(*AcceptedMessage)

// outcome is what a parked request resolves to.
type outcome struct {
	result *BidResult
	err    error
}

// parkedReq holds one admitted bid's response until settlement. The channel
// is buffered so settlement never blocks on a resolver.
type parkedReq struct {
	token string
	ch    chan outcome
}

// Engine is the serialized round scheduler and settlement engine. One mutex
// guards every mutation path: bid admission, settlement, the alarm callback
// and admin reset. Parked requests are resolved only by settlement, by the
// settlement abort path, or by reset.
type Engine struct {
	cfg   *Config
	store store.Store
	log   *slog.Logger

	mu         sync.Mutex
	batch      []Bid
	parked     []parkedReq
	seq        int
	processing bool
	alarm      Alarm

	onAccepted AcceptedCallback
}

// NewEngine creates an engine over the given store.
func NewEngine(cfg *Config, st store.Store, log *slog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		store: st,
		log:   log,
	}
}

// SetAcceptedCallback registers a hook invoked once per settled round. Call
// before serving traffic.
func (e *Engine) SetAcceptedCallback(cb AcceptedCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAccepted = cb
}

// BatchLen returns the number of bids admitted to the current batch.
func (e *Engine) BatchLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batch)
}

// AlarmArmed reports whether the per-batch alarm is armed.
func (e *Engine) AlarmArmed() bool {
	return e.alarm.Armed()
}

// Submit validates a bid, admits it to the current batch and blocks until
// the settlement that includes it resolves. The balance check here is
// advisory; the settlement is authoritative since another bid from the same
// client may land in the same batch.
func (e *Engine) Submit(ctx context.Context, token, message string, amount int64) (*BidResult, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if message == "" {
		return nil, ErrMissingMessage
	}
	if amount <= 0 {
		return nil, ErrInvalidBid
	}

	balRaw, err := e.store.Get(ctx, BalanceKey(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	} else if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}
	balance, err := strconv.ParseInt(string(balRaw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for %s: %w", token, err)
	}
	if amount > balance {
		return nil, ErrInsufficientBalance
	}

	ch := e.admit(token, message, amount)

	// Park until the settlement covering this batch resolves us. There is no
	// client-initiated cancellation: once admitted, a bid is committed to the
	// next settlement, and every parked channel is eventually resolved.
	out := <-ch
	return out.result, out.err
}

// admit appends the bid under the serialization lock, arming the alarm on
// the first admission and settling inline at the threshold.
func (e *Engine) admit(token, message string, amount int64) chan outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	e.batch = append(e.batch, Bid{Token: token, Message: message, Amount: amount, seq: e.seq})

	ch := make(chan outcome, 1)
	e.parked = append(e.parked, parkedReq{token: token, ch: ch})
	bidsAdmitted.Inc()

	if len(e.batch) == 1 {
		// The timeout runs from the first admission and is never extended.
		e.alarm.Set(e.cfg.Timeout, e.alarmFired)
	}
	if len(e.batch) >= e.cfg.BatchSize {
		e.settleLocked()
	}
	return ch
}

// alarmFired is the alarm entry point. Settlement triggered by the threshold
// may win the lock first and drain the batch; finding it empty here is the
// benign race, not an error.
func (e *Engine) alarmFired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.batch) == 0 {
		return
	}
	e.settleLocked()
}

// settleLocked runs one settlement. Callers hold e.mu.
func (e *Engine) settleLocked() {
	if e.processing {
		return
	}
	e.processing = true
	defer func() { e.processing = false }()

	e.alarm.Cancel()

	unique := dedupBids(e.batch)
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].Amount != unique[j].Amount {
			return unique[i].Amount > unique[j].Amount
		}
		return unique[i].seq < unique[j].seq
	})

	winner := unique[0]
	var clearing, sum int64
	if len(unique) >= 2 {
		clearing = unique[1].Amount
	}
	for _, b := range unique {
		sum += b.Amount
	}

	keys := make([]string, 0, 2*len(unique))
	for _, b := range unique {
		keys = append(keys, BalanceKey(b.Token), NameKey(b.Token))
	}
	ctx := context.Background()
	vals, err := e.store.GetMulti(ctx, keys)
	if err != nil {
		e.abortLocked(fmt.Errorf("loading balances: %w", err))
		return
	}

	balances := make(map[string]int64, len(unique))
	names := make(map[string]string, len(unique))
	for _, b := range unique {
		if raw, ok := vals[BalanceKey(b.Token)]; ok {
			balances[b.Token], _ = strconv.ParseInt(string(raw), 10, 64)
		}
		names[b.Token] = string(vals[NameKey(b.Token)])
	}

	// Second-price rule with clamping: the winner pays the clearing price
	// but never goes below zero; losers accumulate up to the cap.
	for _, b := range unique {
		bal := balances[b.Token]
		if b.Token == winner.Token {
			bal -= clearing
			if bal < 0 {
				bal = 0
			}
		} else {
			bal += e.cfg.AccumulateBal
			if bal > e.cfg.MaxBal {
				bal = e.cfg.MaxBal
			}
		}
		balances[b.Token] = bal
	}

	now := time.Now().UTC()
	accepted := &AcceptedMessage{
		Message:    winner.Message,
		Bidder:     winner.Token,
		BidderName: names[winner.Token],
		Timestamp:  now,
	}
	msgJSON, err := json.Marshal(accepted)
	if err != nil {
		e.abortLocked(fmt.Errorf("encoding message: %w", err))
		return
	}

	puts := map[string][]byte{messageKey(now): msgJSON}
	for token, bal := range balances {
		puts[BalanceKey(token)] = []byte(strconv.FormatInt(bal, 10))
	}
	if err := e.store.PutMulti(ctx, puts); err != nil {
		e.abortLocked(fmt.Errorf("persisting round: %w", err))
		return
	}

	stats := RoundStats{WinBid: clearing, SumBid: sum, NBids: len(unique)}
	results := make(map[string]*BidResult, len(unique))
	for _, b := range unique {
		status := StatusRejected
		if b.Token == winner.Token {
			status = StatusAccepted
		}
		results[b.Token] = &BidResult{
			Message: winner.Message,
			Balance: balances[b.Token],
			Name:    names[b.Token],
			Status:  status,
			Stats:   stats,
		}
	}

	// Every parked request gets its client's payload, so duplicate
	// admissions from one client all see the same result.
	for _, p := range e.parked {
		p.ch <- outcome{result: results[p.token]}
	}

	e.log.Info("round settled",
		"winner", winner.Token,
		"clearing", clearing,
		"uniqueBidders", len(unique),
		"admissions", len(e.parked),
	)
	settlementsTotal.Inc()

	e.batch = nil
	e.parked = nil

	if e.onAccepted != nil {
		e.onAccepted(accepted)
	}
}

// abortLocked resolves every parked request with a settlement error and
// returns the engine to a clean state. The message is not appended and no
// balance moves.
func (e *Engine) abortLocked(err error) {
	e.log.Error("settlement aborted", "err", err)
	settlementFailures.Inc()

	for _, p := range e.parked {
		p.ch <- outcome{err: fmt.Errorf("%w: %v", ErrSettlementFailed, err)}
	}
	e.batch = nil
	e.parked = nil
	e.alarm.Cancel()
}

// Reset clears the broker: alarm disarmed, every balance:, name: and
// message: key deleted, in-memory batch dropped. Requests parked at that
// moment resolve with ErrReset rather than hanging.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.alarm.Cancel()
	for _, p := range e.parked {
		p.ch <- outcome{err: ErrReset}
	}
	e.batch = nil
	e.parked = nil

	for _, prefix := range []string{BalancePrefix, NamePrefix, MessagePrefix} {
		entries, err := e.store.List(ctx, store.ListOptions{Prefix: prefix})
		if err != nil {
			return fmt.Errorf("listing %s: %w", prefix, err)
		}
		if len(entries) == 0 {
			continue
		}
		keys := make([]string, len(entries))
		for i, entry := range entries {
			keys[i] = entry.Key
		}
		if err := e.store.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("deleting %s: %w", prefix, err)
		}
	}

	e.log.Info("broker reset")
	return nil
}

// dedupBids keeps each client's highest bid. The comparison is strict, so on
// equal amounts the earlier admission survives.
func dedupBids(batch []Bid) []Bid {
	best := make(map[string]Bid, len(batch))
	for _, b := range batch {
		if cur, ok := best[b.Token]; !ok || b.Amount > cur.Amount {
			best[b.Token] = b
		}
	}
	out := make([]Bid, 0, len(best))
	for _, b := range best {
		out = append(out, b)
	}
	return out
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// messageKey builds a log key that sorts chronologically: the epoch-ms
// prefix is zero-padded to 13 digits, and a 5-char base36 suffix separates
// settlements landing in the same millisecond.
func messageKey(t time.Time) string {
	var buf [5]byte
	rand.Read(buf[:])
	suffix := make([]byte, 5)
	for i, b := range buf {
		suffix[i] = base36[int(b)%len(base36)]
	}
	return fmt.Sprintf("%s%013d-%s", MessagePrefix, t.UnixMilli(), suffix)
}
