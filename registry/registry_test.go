package registry

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitead/msgbid/auction"
	"github.com/whitead/msgbid/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, 10, log), st
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func TestNewTokenFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		token, err := NewToken()
		require.NoError(t, err)
		require.Len(t, token, TokenLen)
		for _, c := range token {
			require.Contains(t, tokenAlphabet, string(c))
		}
		require.False(t, seen[token], "token collision")
		seen[token] = true
	}
}

func TestRegisterAndBalance(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	client, err := reg.Register(ctx, "Alice")
	require.NoError(t, err)
	require.Len(t, client.Token, TokenLen)
	require.EqualValues(t, 10, client.Balance)
	require.Equal(t, "Alice", client.Name)

	// Both records land atomically.
	_, err = st.Get(ctx, auction.BalanceKey(client.Token))
	require.NoError(t, err)
	nameRaw, err := st.Get(ctx, auction.NameKey(client.Token))
	require.NoError(t, err)
	require.Equal(t, "Alice", string(nameRaw))

	got, err := reg.Balance(ctx, client.Token)
	require.NoError(t, err)
	require.EqualValues(t, 10, got.Balance)
	require.Equal(t, "Alice", got.Name)
}

func TestRegisterRequiresName(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Register(context.Background(), "")
	require.ErrorIs(t, err, auction.ErrMissingName)
}

func TestBalanceUnknownToken(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Balance(context.Background(), "nosuchtoken12345")
	require.ErrorIs(t, err, auction.ErrInvalidToken)

	_, err = reg.Balance(context.Background(), "")
	require.ErrorIs(t, err, auction.ErrMissingToken)
}

func TestListClientsPagination(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	names := []string{"a", "b", "c", "d", "e"}
	tokens := make(map[string]string, len(names))
	for _, name := range names {
		client, err := reg.Register(ctx, name)
		require.NoError(t, err)
		tokens[client.Token] = name
	}

	page1, err := reg.ListClients(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1.Clients, 2)
	require.Equal(t, Pagination{Page: 1, PageSize: 2, Total: 5, TotalPages: 3}, page1.Pagination)

	page3, err := reg.ListClients(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3.Clients, 1)

	// Pages are disjoint and names round-trip.
	seen := make(map[string]bool)
	for p := 1; p <= 3; p++ {
		page, err := reg.ListClients(ctx, p, 2)
		require.NoError(t, err)
		for token, client := range page.Clients {
			require.False(t, seen[token])
			seen[token] = true
			require.Equal(t, tokens[token], client.Name)
			require.EqualValues(t, 10, client.Balance)
		}
	}
	require.Len(t, seen, 5)

	// Past the end: empty page, metadata intact.
	page9, err := reg.ListClients(ctx, 9, 2)
	require.NoError(t, err)
	require.Empty(t, page9.Clients)
	require.Equal(t, 5, page9.Pagination.Total)
}

func TestListClientsDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, "only")
	require.NoError(t, err)

	page, err := reg.ListClients(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Pagination.Page)
	require.Equal(t, DefaultPageSize, page.Pagination.PageSize)
	require.Len(t, page.Clients, 1)

	page, err = reg.ListClients(ctx, 1, MaxPageSize+50)
	require.NoError(t, err)
	require.Equal(t, MaxPageSize, page.Pagination.PageSize)
}

func TestTokensOmitPaddingChars(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)
	require.False(t, strings.ContainsAny(token, "+/="))
}
