package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/safar/greenvillage/internal/events"
	"github.com/safar/greenvillage/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxLeases(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	outbox := store.NewOutboxStore(db)

	for _, id := range []string{"1", "2"} {
		ev, err := events.New(ctx, "order", id, "order.placed", map[string]string{"order_id": id})
		require.NoError(t, err)
		require.NoError(t, store.InsertOutboxEvent(ctx, db, ev))
	}

	batch, err := outbox.LockBatch(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "1", batch[0].AggregateID)
	assert.JSONEq(t, `{"order_id":"1"}`, string(batch[0].Payload))
	assert.Equal(t, events.StatusInProgress, batch[0].Status)

	again, err := outbox.LockBatch(ctx, "relay-b", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased rows must not be handed out twice")

	require.NoError(t, outbox.MarkSent(ctx, []int64{batch[0].ID}))
	require.NoError(t, outbox.MarkFailed(ctx, batch[1].ID, "broker down", 2))

	retry, err := outbox.LockBatch(ctx, "relay-b", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, batch[1].ID, retry[0].ID)
	assert.Equal(t, 1, retry[0].RetryCount)
	require.NotNil(t, retry[0].LastError)
	assert.Equal(t, "broker down", *retry[0].LastError)

	require.NoError(t, outbox.MarkFailed(ctx, retry[0].ID, "broker down", 2))

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM outbox WHERE id = $1`, retry[0].ID).Scan(&status))
	assert.Equal(t, string(events.StatusFailed), status)

	none, err := outbox.LockBatch(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOutboxExpiredLeaseIsReclaimed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	outbox := store.NewOutboxStore(db)

	ev, err := events.New(ctx, "order", "1", "order.placed", struct{}{})
	require.NoError(t, err)
	require.NoError(t, store.InsertOutboxEvent(ctx, db, ev))

	first, err := outbox.LockBatch(ctx, "relay-a", 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)

	time.Sleep(50 * time.Millisecond)

	second, err := outbox.LockBatch(ctx, "relay-b", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}
