package delivery_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starksama/herald/internal/delivery"
	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/queue"
	"github.com/starksama/herald/internal/queue/memqueue"
	"github.com/starksama/herald/internal/registry"
	"github.com/starksama/herald/internal/store/memstore"
	"github.com/starksama/herald/internal/webhookclient"
)

func newEngine(t *testing.T) (*delivery.Engine, *memstore.Store, *memqueue.Storage, *queue.Enqueuer) {
	t.Helper()
	st := memstore.New()
	reg := registry.New()
	wh := webhookclient.New(nil)
	qs := memqueue.New()
	enq, err := queue.NewEnqueuer(qs, queue.WithDefaultLane(queue.LaneNormal))
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := delivery.NewEngine(st, reg, wh, enq, log)
	return eng, st, qs, enq
}

func seedChannelSubscription(st *memstore.Store, webhookURL string) (*domain.Channel, *domain.Subscription, *domain.Subscriber) {
	ch := &domain.Channel{ID: "ch_1", Slug: "alerts", DisplayName: "Alerts", Status: domain.ChannelActive}
	st.PutChannel(ch)

	sub := &domain.Subscriber{ID: "sub_1", WebhookSecret: "shh", DeliveryMode: domain.ModeWebhook}
	st.PutSubscriber(sub)

	whID := "wh_1"
	var webhookIDPtr *string
	if webhookURL != "" {
		st.PutWebhook(&domain.Webhook{ID: whID, SubscriberID: sub.ID, URL: webhookURL, Status: domain.WebhookActive})
		webhookIDPtr = &whID
	}

	subscription := &domain.Subscription{ID: "subn_1", SubscriberID: sub.ID, ChannelID: ch.ID, WebhookID: webhookIDPtr, Status: domain.SubscriptionActive}
	st.PutSubscription(subscription)

	return ch, subscription, sub
}

func putSignal(t *testing.T, st *memstore.Store, urgency domain.Urgency) *domain.Signal {
	t.Helper()
	sig := &domain.Signal{ID: "sig_1", ChannelID: "ch_1", Title: "t", Body: "b", Urgency: urgency, Status: domain.SignalActive, CreatedAt: time.Now()}
	require.NoError(t, st.Signals().Create(context.Background(), sig))
	return sig
}

// S1: webhook success on first attempt.
func TestHandle_WebhookSuccess_RecordsDeliveryAndCounters(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	eng, st, _, _ := newEngine(t)
	_, sub, _ := seedChannelSubscription(st, ts.URL)
	sig := putSignal(t, st, domain.UrgencyNormal)

	job := domain.DeliveryJob{SignalID: sig.ID, SubscriptionID: sub.ID, WebhookID: sub.WebhookID, Attempt: 0}
	require.NoError(t, eng.Handle(context.Background(), job))

	got, _ := st.GetSignal(sig.ID)
	assert.EqualValues(t, 1, got.DeliveredCount)
	assert.EqualValues(t, 0, got.FailedCount)
	assert.EqualValues(t, 1, got.DeliveryCount)

	deliveries := st.ListDeliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, domain.DeliverySuccess, deliveries[0].Status)
}

// S2: transient failure then retry succeeds; attempt 1 is rescheduled onto
// the high lane and failure_count resets on success.
func TestHandle_TransientFailureThenRetryScheduled(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	eng, st, qs, _ := newEngine(t)
	_, sub, _ := seedChannelSubscription(st, ts.URL)
	sig := putSignal(t, st, domain.UrgencyHigh)

	job := domain.DeliveryJob{SignalID: sig.ID, SubscriptionID: sub.ID, WebhookID: sub.WebhookID, Attempt: 0}
	require.NoError(t, eng.Handle(context.Background(), job))

	assert.Equal(t, 1, qs.PendingCount(queue.LaneHigh), "attempt 1 should be scheduled on the high lane")

	got, _ := st.GetSignal(sig.ID)
	assert.EqualValues(t, 0, got.DeliveredCount)
	assert.EqualValues(t, 1, got.FailedCount)

	retryJob := domain.DeliveryJob{SignalID: sig.ID, SubscriptionID: sub.ID, WebhookID: sub.WebhookID, Attempt: 1}
	require.NoError(t, eng.Handle(context.Background(), retryJob))

	got, _ = st.GetSignal(sig.ID)
	assert.EqualValues(t, 1, got.DeliveredCount)
	assert.EqualValues(t, 1, got.FailedCount)
	assert.EqualValues(t, 2, got.DeliveryCount)

	wh, err := st.Webhooks().Get(context.Background(), *sub.WebhookID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, wh.FailureCount)
}

// S3: endpoint always fails; after attempt 5 the job DLQs instead of
// scheduling a seventh attempt.
func TestHandle_ExhaustedRetries_WritesDeadLetterEntry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	eng, st, qs, _ := newEngine(t)
	_, sub, _ := seedChannelSubscription(st, ts.URL)
	sig := putSignal(t, st, domain.UrgencyNormal)

	for attempt := 0; attempt <= 5; attempt++ {
		job := domain.DeliveryJob{SignalID: sig.ID, SubscriptionID: sub.ID, WebhookID: sub.WebhookID, Attempt: attempt}
		require.NoError(t, eng.Handle(context.Background(), job))
	}

	assert.Equal(t, 5, qs.PendingCount(queue.LaneNormal), "attempts 0..4 each schedule one retry; attempt 5 schedules no seventh job")

	entries := st.ListDeadLetters()
	require.Len(t, entries, 1)
	assert.Equal(t, sig.ID, entries[0].SignalID)
	require.Len(t, entries[0].ErrorHistory, 1)

	deliveries := st.ListDeliveries()
	assert.Len(t, deliveries, 6)
	for _, d := range deliveries {
		assert.Equal(t, domain.DeliveryFailed, d.Status)
	}
}

// Priority lane mapping: urgency determines which lane a retry lands on,
// independent of the lane the original job arrived on.
func TestHandle_RetryLaneMatchesUrgency(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	eng, st, qs, _ := newEngine(t)
	_, sub, _ := seedChannelSubscription(st, ts.URL)
	sigLow := putSignal(t, st, domain.UrgencyLow)

	job := domain.DeliveryJob{SignalID: sigLow.ID, SubscriptionID: sub.ID, WebhookID: sub.WebhookID, Attempt: 0}
	require.NoError(t, eng.Handle(context.Background(), job))

	assert.Equal(t, 1, qs.PendingCount(queue.LaneNormal))
	assert.Equal(t, 0, qs.PendingCount(queue.LaneHigh))
}

// S5: tunnel outbound channel is saturated, so delivery falls through to
// the configured webhook within the same job.
func TestHandle_TunnelFallsBackToWebhook(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	st := memstore.New()
	_, sub, _ := seedChannelSubscription(st, ts.URL)
	sig := putSignal(t, st, domain.UrgencyCritical)

	reg := registry.New()
	conn := registry.NewConnection("conn_1", sub.SubscriberID)
	for i := 0; i < 64; i++ {
		require.True(t, registry.TrySend(conn, []byte("x")))
	}
	reg.Register(conn)

	eng := delivery.NewEngine(st, reg, webhookclient.New(nil), mustEnqueuer(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	job := domain.DeliveryJob{SignalID: sig.ID, SubscriptionID: sub.ID, WebhookID: sub.WebhookID, Attempt: 0}
	require.NoError(t, eng.Handle(context.Background(), job))

	deliveries := st.ListDeliveries()
	require.Len(t, deliveries, 2, "one failed tunnel attempt and one successful webhook attempt")

	var sawTunnelFailure, sawWebhookSuccess bool
	for _, d := range deliveries {
		if d.Mode == domain.ModeAgent && d.Status == domain.DeliveryFailed {
			sawTunnelFailure = true
		}
		if d.Mode == domain.ModeWebhook && d.Status == domain.DeliverySuccess {
			sawWebhookSuccess = true
		}
	}
	assert.True(t, sawTunnelFailure)
	assert.True(t, sawWebhookSuccess)
}

func mustEnqueuer(t *testing.T) *queue.Enqueuer {
	t.Helper()
	enq, err := queue.NewEnqueuer(memqueue.New(), queue.WithDefaultLane(queue.LaneNormal))
	require.NoError(t, err)
	return enq
}

// Missing entity terminates the job without scheduling a retry or erroring.
func TestHandle_MissingSubscription_TerminatesWithoutError(t *testing.T) {
	eng, st, qs, _ := newEngine(t)
	sig := putSignal(t, st, domain.UrgencyNormal)

	job := domain.DeliveryJob{SignalID: sig.ID, SubscriptionID: "subn_missing", Attempt: 0}
	require.NoError(t, eng.Handle(context.Background(), job))

	assert.Equal(t, 0, qs.PendingCount(queue.LaneNormal))
	assert.Empty(t, st.ListDeliveries())
}
