package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starksama/herald/internal/queue"
	"github.com/starksama/herald/internal/queue/memqueue"
)

type payload struct {
	SignalID string `json:"signal_id"`
}

func TestEnqueuer_RejectsNilRepo(t *testing.T) {
	_, err := queue.NewEnqueuer(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
}

func TestEnqueuer_RejectsNilPayload(t *testing.T) {
	e, err := queue.NewEnqueuer(memqueue.New())
	require.NoError(t, err)
	err = e.Enqueue(context.Background(), "x", nil)
	assert.ErrorIs(t, err, queue.ErrPayloadNil)
}

func TestEnqueuer_RejectsInvalidPriority(t *testing.T) {
	e, err := queue.NewEnqueuer(memqueue.New())
	require.NoError(t, err)
	err = e.Enqueue(context.Background(), "x", payload{SignalID: "sig_1"}, queue.WithPriority(127))
	assert.ErrorIs(t, err, queue.ErrInvalidPriority)
}

func TestEnqueuer_DelayDefersClaimability(t *testing.T) {
	store := memqueue.New()
	e, err := queue.NewEnqueuer(store, queue.WithDefaultLane(queue.LaneHigh))
	require.NoError(t, err)

	require.NoError(t, e.Enqueue(context.Background(), "deliver", payload{SignalID: "sig_1"}, queue.WithDelay(time.Minute)))
	assert.Equal(t, 1, store.PendingCount(queue.LaneHigh))

	_, err = store.ClaimTask(context.Background(), uuid.New(), []string{queue.LaneHigh}, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoTaskToClaim, "task scheduled a minute out should not be claimable yet")
}

func TestEnqueuer_DefaultLaneAppliesWithoutOverride(t *testing.T) {
	store := memqueue.New()
	e, err := queue.NewEnqueuer(store, queue.WithDefaultLane(queue.LaneHigh))
	require.NoError(t, err)

	require.NoError(t, e.Enqueue(context.Background(), "deliver", payload{SignalID: "sig_1"}))
	assert.Equal(t, 1, store.PendingCount(queue.LaneHigh))
}
