package testhelpers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/stretchr/testify/require"
)

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedOrder registers an open order in the store.
func SeedOrder(t *testing.T, store application.Store, id string, parentID *string, totalCents int64) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(id, parentID, totalCents)
	require.NoError(t, err)
	require.NoError(t, store.Orders().CreateOrder(context.Background(), order))
	return order
}

// SeedSplitOrder registers a parent with one child per amount. Children are
// named parent-c1, parent-c2, ...
func SeedSplitOrder(t *testing.T, store application.Store, parentID string, childCents ...int64) []string {
	t.Helper()
	var total int64
	for _, c := range childCents {
		total += c
	}
	SeedOrder(t, store, parentID, nil, total)

	ids := make([]string, 0, len(childCents))
	for i, c := range childCents {
		id := parentID + "-c" + string(rune('1'+i))
		parent := parentID
		SeedOrder(t, store, id, &parent, c)
		ids = append(ids, id)
	}
	return ids
}

func MustOrder(t *testing.T, store application.Store, id string) *domain.Order {
	t.Helper()
	order, err := store.Orders().GetOrder(context.Background(), id)
	require.NoError(t, err)
	return order
}

func MustIntent(t *testing.T, store application.Store, id string) *domain.PaymentIntent {
	t.Helper()
	intent, err := store.Intents().FindByID(context.Background(), id)
	require.NoError(t, err)
	return intent
}
