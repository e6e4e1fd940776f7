package estests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamhaus/evr-go/core/es"
	"github.com/streamhaus/evr-go/core/es/estests/domain"
)

func collectEnvelopes(t *testing.T, sub es.Subscription, n int) []es.Envelope {
	t.Helper()
	out := make([]es.Envelope, 0, n)
	for len(out) < n {
		select {
		case env, ok := <-sub.Chan():
			require.True(t, ok)
			out = append(out, env)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout, got %d of %d", len(out), n)
		}
	}
	return out
}

func TestSubscribe_BacklogAndLive(t *testing.T) {
	s := es.NewInMemoryStore()

	_, err := es.AppendEvents(t.Context(), s, "account", "a", 0,
		&domain.AccountOpened{Holder: "alice"},
		&domain.MoneyDeposited{Amount: 1},
	)
	require.NoError(t, err)

	sub, err := s.Subscribe(t.Context(), es.WithDeliverPolicy(es.DeliverAllPolicy))
	require.NoError(t, err)
	defer sub.Cancel()

	require.EqualValues(t, 2, sub.MaxPos())

	_, err = es.AppendEvents(t.Context(), s, "account", "a", 2,
		&domain.MoneyDeposited{Amount: 2},
	)
	require.NoError(t, err)

	got := collectEnvelopes(t, sub, 3)
	for i, env := range got {
		require.EqualValues(t, i+1, env.GlobalPos)
	}
}

func TestSubscribe_NewOnly(t *testing.T) {
	s := es.NewInMemoryStore()

	_, err := es.AppendEvents(t.Context(), s, "account", "a", 0,
		&domain.AccountOpened{Holder: "alice"},
	)
	require.NoError(t, err)

	sub, err := s.Subscribe(t.Context(), es.WithDeliverPolicy(es.DeliverNewPolicy))
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = es.AppendEvents(t.Context(), s, "account", "a", 1,
		&domain.MoneyDeposited{Amount: 5},
	)
	require.NoError(t, err)

	got := collectEnvelopes(t, sub, 1)
	require.EqualValues(t, 2, got[0].GlobalPos)

	select {
	case env := <-sub.Chan():
		t.Fatalf("unexpected envelope at pos %d", env.GlobalPos)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_Filtered(t *testing.T) {
	s := es.NewInMemoryStore()

	sub, err := s.Subscribe(t.Context(),
		es.WithDeliverPolicy(es.DeliverAllPolicy),
		es.WithFilters(es.SubscribeFilter{
			StreamType: "account",
			StreamID:   "b",
		}),
	)
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = es.AppendEvents(t.Context(), s, "account", "a", 0, &domain.AccountOpened{Holder: "alice"})
	require.NoError(t, err)
	_, err = es.AppendEvents(t.Context(), s, "account", "b", 0, &domain.AccountOpened{Holder: "bob"})
	require.NoError(t, err)

	got := collectEnvelopes(t, sub, 1)
	require.Equal(t, "b", got[0].StreamID)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	s := es.NewInMemoryStore()

	sub, err := s.Subscribe(t.Context())
	require.NoError(t, err)
	sub.Cancel()

	select {
	case _, ok := <-sub.Chan():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
