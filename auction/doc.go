// Package auction implements the broker's round scheduler and settlement
// engine.
//
// Bids accumulate into a batch under a single serialization lock. Settlement
// runs when the batch reaches the configured threshold or when the per-batch
// alarm fires, whichever comes first. Each settlement deduplicates bids per
// client, picks the highest unique bid as the winner, charges it the
// second-highest unique bid (second-price rule), subsidizes the losers up to
// the balance cap, appends the winning message to the durable log, and
// resolves every request parked in the batch with that client's view of the
// outcome.
package auction
