package events

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestEventBus_SubscribeByType(t *testing.T) {
	bus := NewEventBus()
	executed := bus.Subscribe(ActionExecuted)
	all := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Emit(ActionCreated, "a-1", "venue-1", map[string]any{"actionType": "update_item_price"})
	bus.Emit(ActionExecuted, "a-1", "venue-1", nil)

	got := <-executed
	assert.Equal(t, ActionExecuted, got.Type)
	assert.Equal(t, "1.0", got.SpecVersion)
	assert.Equal(t, Source, got.Source)
	assert.Equal(t, "venue-1", got.VenueID)
	assert.Len(t, executed, 0)

	assert.Equal(t, ActionCreated, (<-all).Type)
	assert.Equal(t, ActionExecuted, (<-all).Type)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(ActionFailed, ActionRolledBack)
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())
	bus.Emit(ActionFailed, "a-1", "venue-1", nil)
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus()
	bus.bufferSize = 1
	ch := bus.Subscribe()

	bus.Emit(ActionCreated, "a-1", "venue-1", nil)
	bus.Emit(ActionCreated, "a-2", "venue-1", nil)
	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Equal(t, "a-1", (<-ch).Subject)
}

func TestPubSubEventBus_PublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "venuesync-test", option.WithGRPCConn(conn))
	require.NoError(t, err)

	bus, err := NewPubSubEventBus(ctx, client, "action-events")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	require.NoError(t, bus.HealthCheck(ctx))

	local := bus.Subscribe(ActionRolledBack)
	bus.Emit(ActionRolledBack, "a-9", "venue-2", map[string]any{"reason": "price error"})
	bus.Flush()

	assert.Equal(t, "a-9", (<-local).Subject)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ActionRolledBack, msgs[0].Attributes["ce-type"])
	assert.Equal(t, "venue-2", msgs[0].Attributes["ce-venueid"])
	assert.Equal(t, "venue-2", msgs[0].OrderingKey)

	var ce CloudEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ce))
	assert.Equal(t, "price error", ce.Data["reason"])
	assert.Equal(t, msgs[0].Attributes["ce-id"], ce.ID)
}
