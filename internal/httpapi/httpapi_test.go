package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starksama/herald/internal/authcrypto"
	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/httpapi"
	"github.com/starksama/herald/internal/ingest"
	"github.com/starksama/herald/internal/queue"
	"github.com/starksama/herald/internal/queue/memqueue"
	"github.com/starksama/herald/internal/registry"
	"github.com/starksama/herald/internal/store/memstore"
	"github.com/starksama/herald/internal/tunnel"
)

func newTestAPI(t *testing.T) (*httpapi.API, *memstore.Store, string) {
	t.Helper()
	st := memstore.New()
	qs := memqueue.New()
	enq, err := queue.NewEnqueuer(qs, queue.WithDefaultLane(queue.LaneNormal))
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ing := ingest.NewService(st, enq, log)
	tun := tunnel.NewServer(st, registry.New(), log)

	raw, hash, prefix := authcrypto.GenerateAPIKey(authcrypto.PublisherPrefix)
	st.PutApiKey(&domain.ApiKey{
		ID: "apik_1", KeyHash: hash, KeyPrefix: prefix,
		OwnerType: domain.OwnerPublisher, OwnerID: "pub_1", Status: domain.ApiKeyActive,
	})

	return httpapi.New(st, ing, tun, log), st, raw
}

func TestHealthz_OK(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishSignal_MissingBearerTokenIsUnauthorized(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/channels/ch_1/signals/", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublishSignal_ValidKeyPublishes(t *testing.T) {
	api, st, raw := newTestAPI(t)
	st.PutChannel(&domain.Channel{ID: "ch_1", PublisherID: "pub_1", Slug: "alerts", Status: domain.ChannelActive})
	st.PutSubscription(&domain.Subscription{ID: "subn_1", ChannelID: "ch_1", SubscriberID: "sub_1", Status: domain.SubscriptionActive})

	body, err := json.Marshal(map[string]string{"title": "disk low", "body": "90% full"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/ch_1/signals/", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ch_1", resp["channelId"])
}

func TestPublishSignal_BlankTitleIsBadRequest(t *testing.T) {
	api, st, raw := newTestAPI(t)
	st.PutChannel(&domain.Channel{ID: "ch_1", PublisherID: "pub_1", Status: domain.ChannelActive})

	body, err := json.Marshal(map[string]string{"title": "", "body": "x"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/ch_1/signals/", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryDeadLetter_SubscriberCallerIsForbidden(t *testing.T) {
	api, st, _ := newTestAPI(t)

	raw, hash, prefix := authcrypto.GenerateAPIKey(authcrypto.SubscriberPrefix)
	st.PutApiKey(&domain.ApiKey{
		ID: "apik_2", KeyHash: hash, KeyPrefix: prefix,
		OwnerType: domain.OwnerSubscriber, OwnerID: "sub_1", Status: domain.ApiKeyActive,
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/dead-letters/dlq_1/retry/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRetryDeadLetter_ReenqueuesAndReturnsNoContent(t *testing.T) {
	api, st, raw := newTestAPI(t)
	payload, err := json.Marshal(domain.DeliveryJob{SignalID: "sig_1", SubscriptionID: "subn_1", Attempt: 5})
	require.NoError(t, err)
	entry := &domain.DeadLetterEntry{ID: "dlq_1", DeliveryID: "del_1", SignalID: "sig_1", SubscriptionID: "subn_1", Payload: payload}
	require.NoError(t, st.DeadLetters().Create(context.Background(), entry))

	req := httptest.NewRequest(http.MethodPost, "/v1/dead-letters/dlq_1/retry/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	unresolved, err := st.DeadLetters().ListUnresolved(context.Background())
	require.NoError(t, err)
	require.Empty(t, unresolved)
}
