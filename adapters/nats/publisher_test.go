package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/streamhaus/evr-go/core/es"
	"github.com/streamhaus/evr-go/core/es/estests/domain"
)

func TestPublisher(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	pub, err := NewPublisher(t.Context(), PublisherConfig{
		Connect:    connect,
		StreamName: "evr_test",
	})
	require.NoError(t, err)
	defer pub.Close()

	envelopes, err := es.Envelop("account", "acc-1", 0, []any{
		&domain.AccountOpened{Holder: "alice", Initial: 100},
		&domain.MoneyDeposited{Amount: 50},
	})
	require.NoError(t, err)
	for i := range envelopes {
		envelopes[i].GlobalPos = uint64(i + 1)
	}

	require.NoError(t, pub.Publish(t.Context(), envelopes))

	// redelivery of the same batch must be absorbed by the dedup window
	require.NoError(t, pub.Publish(t.Context(), envelopes))

	nc, disconnect, err := connect()
	require.NoError(t, err)
	defer disconnect()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	cons, err := js.CreateOrUpdateConsumer(t.Context(), "EVR_TEST", jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	require.NoError(t, err)

	batch, err := cons.Fetch(10, jetstream.FetchMaxWait(2*time.Second))
	require.NoError(t, err)

	got := make([]es.Envelope, 0, 2)
	for msg := range batch.Messages() {
		env, err := ParseEnvelope(msg.Data())
		require.NoError(t, err)
		got = append(got, env)
		require.NoError(t, msg.Ack())
	}
	require.NoError(t, batch.Error())

	require.Len(t, got, 2)
	require.Equal(t, envelopes[0].ID, got[0].ID)
	require.Equal(t, envelopes[1].ID, got[1].ID)
	require.Equal(t, "evr.events.account.acc-1", pub.Subject(got[0]))
}

// The env can hand its store a NATS publisher: every committed batch shows
// up on the wire in commit order.
func TestPublisher_WiredIntoStore(t *testing.T) {
	pub, err := NewPublisher(t.Context(), PublisherConfig{
		Connect: NewTestContainer(t),
	})
	require.NoError(t, err)
	defer pub.Close()

	store := es.NewInMemoryStore(es.WithStorePublisher(pub))

	_, err = es.AppendEvents(t.Context(), store, "account", "acc-1", 0,
		&domain.AccountOpened{Holder: "alice"},
	)
	require.NoError(t, err)

	cons, err := pub.js.CreateOrUpdateConsumer(t.Context(), pub.streamName, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	require.NoError(t, err)

	batch, err := cons.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
	require.NoError(t, err)
	for msg := range batch.Messages() {
		env, err := ParseEnvelope(msg.Data())
		require.NoError(t, err)
		require.Equal(t, "account", env.StreamType)
		require.EqualValues(t, 1, env.GlobalPos)
	}
	require.NoError(t, batch.Error())
}
