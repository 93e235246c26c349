// Package registry issues client tokens and answers balance and listing
// queries. Registration is the only place besides settlement that writes the
// balance namespace.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	vmetrics "github.com/VictoriaMetrics/metrics"

	"github.com/whitead/msgbid/auction"
	"github.com/whitead/msgbid/store"
)

var clientsRegistered = vmetrics.GetOrCreateCounter(`msgbid_clients_registered_total`)

// TokenLen is the length of issued client tokens.
const TokenLen = 16

// DefaultPageSize bounds client listings when the caller gives no page size.
const DefaultPageSize = 20

// MaxPageSize is the largest accepted page size.
const MaxPageSize = 100

// Client is a registered client's public view.
type Client struct {
	Token   string `json:"token,omitempty"`
	Balance int64  `json:"balance"`
	Name    string `json:"name"`
}

// Pagination describes one page of a client listing.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ClientPage is a paginated client listing keyed by token, in storage
// (lexicographic) order of the balance namespace.
type ClientPage struct {
	Clients    map[string]Client `json:"clients"`
	Pagination Pagination        `json:"pagination"`
}

// Registry manages client records over the shared store.
type Registry struct {
	store    store.Store
	startBal int64
	log      *slog.Logger
}

// New creates a registry issuing startBal to each new client.
func New(st store.Store, startBal int64, log *slog.Logger) *Registry {
	return &Registry{store: st, startBal: startBal, log: log}
}

// Register issues a token for name and writes the initial balance and name
// records in one atomic put.
func (r *Registry) Register(ctx context.Context, name string) (*Client, error) {
	if name == "" {
		return nil, auction.ErrMissingName
	}

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	err = r.store.PutMulti(ctx, map[string][]byte{
		auction.BalanceKey(token): []byte(strconv.FormatInt(r.startBal, 10)),
		auction.NameKey(token):    []byte(name),
	})
	if err != nil {
		return nil, fmt.Errorf("storing client: %w", err)
	}

	clientsRegistered.Inc()
	r.log.Info("client registered", "name", name)
	return &Client{Token: token, Balance: r.startBal, Name: name}, nil
}

// Balance returns the balance and name for a token.
func (r *Registry) Balance(ctx context.Context, token string) (*Client, error) {
	if token == "" {
		return nil, auction.ErrMissingToken
	}
	vals, err := r.store.GetMulti(ctx, []string{auction.BalanceKey(token), auction.NameKey(token)})
	if err != nil {
		return nil, fmt.Errorf("reading client: %w", err)
	}
	raw, ok := vals[auction.BalanceKey(token)]
	if !ok {
		return nil, auction.ErrInvalidToken
	}
	balance, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for %s: %w", token, err)
	}
	return &Client{Balance: balance, Name: string(vals[auction.NameKey(token)])}, nil
}

// ListClients returns one page of registered clients. page is 1-based.
func (r *Registry) ListClients(ctx context.Context, page, pageSize int) (*ClientPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	entries, err := r.store.List(ctx, store.ListOptions{Prefix: auction.BalancePrefix})
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}

	total := len(entries)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	stop := start + pageSize
	if stop > total {
		stop = total
	}
	pageEntries := entries[start:stop]

	nameKeys := make([]string, len(pageEntries))
	for i, entry := range pageEntries {
		nameKeys[i] = auction.NamePrefix + strings.TrimPrefix(entry.Key, auction.BalancePrefix)
	}
	names, err := r.store.GetMulti(ctx, nameKeys)
	if err != nil {
		return nil, fmt.Errorf("reading names: %w", err)
	}

	clients := make(map[string]Client, len(pageEntries))
	for i, entry := range pageEntries {
		token := strings.TrimPrefix(entry.Key, auction.BalancePrefix)
		balance, _ := strconv.ParseInt(string(entry.Value), 10, 64)
		clients[token] = Client{
			Balance: balance,
			Name:    string(names[nameKeys[i]]),
		}
	}

	return &ClientPage{
		Clients: clients,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// NewToken returns an opaque 16-character token: base64 of random bytes with
// '+' and '/' stripped, sliced to length. Collision probability over the
// remaining 62-character alphabet is negligible, so there is no existence
// check.
func NewToken() (string, error) {
	var s strings.Builder
	for s.Len() < TokenLen {
		var raw [12]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return "", err
		}
		enc := base64.StdEncoding.EncodeToString(raw[:])
		enc = strings.ReplaceAll(enc, "+", "")
		enc = strings.ReplaceAll(enc, "/", "")
		s.WriteString(enc)
	}
	return s.String()[:TokenLen], nil
}
