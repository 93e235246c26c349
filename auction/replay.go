package auction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/whitead/msgbid/store"
)

// DefaultReplayLimit is the page size used when the caller gives none.
const DefaultReplayLimit = 10

// Replay returns a page of accepted messages, newest first. end is the
// cursor from a previous page's Next field; the returned page starts
// strictly below it. Next is set only when the page came back full, meaning
// more messages may follow.
func (e *Engine) Replay(ctx context.Context, end string, limit int) (*ReplayPage, error) {
	if limit <= 0 {
		limit = DefaultReplayLimit
	}

	entries, err := e.store.List(ctx, store.ListOptions{
		Prefix:  MessagePrefix,
		Reverse: true,
		Limit:   limit,
		End:     end,
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	page := &ReplayPage{Messages: make([]*AcceptedMessage, 0, len(entries))}
	for _, entry := range entries {
		var msg AcceptedMessage
		if err := json.Unmarshal(entry.Value, &msg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", entry.Key, err)
		}
		page.Messages = append(page.Messages, &msg)
	}
	if len(entries) == limit {
		next := entries[len(entries)-1].Key
		page.Next = &next
	}
	return page, nil
}
