package webhookclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starksama/herald/internal/authcrypto"
	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/webhookclient"
)

func contextBackground() context.Context { return context.Background() }

func readAll(r *http.Request) ([]byte, error) { return io.ReadAll(r.Body) }

func TestDeliver_SignsAndPostsSuccessfully(t *testing.T) {
	const secret = "topsecret"

	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = readAll(r)

		sig := r.Header.Get("X-Herald-Signature")
		ts := r.Header.Get("X-Herald-Timestamp")
		require.NotEmpty(t, sig)
		require.NotEmpty(t, ts)

		tsInt, err := strconv.ParseInt(ts, 10, 64)
		require.NoError(t, err)
		assert.Equal(t, authcrypto.SignPayload(secret, tsInt, string(gotBody)), sig,
			"X-Herald-Signature must carry the literal sha256=<hex> value, not a double-prefixed one")

		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := webhookclient.New(nil)
	wh := &domain.Webhook{ID: "wh_1", URL: ts.URL, Status: domain.WebhookActive}
	ch := &domain.Channel{ID: "ch_1", Slug: "alerts", DisplayName: "Alerts"}
	sig := &domain.Signal{ID: "sig_1", Title: "t", Body: "b", Urgency: domain.UrgencyHigh, CreatedAt: time.Now()}

	result, err := client.Deliver(contextBackground(), wh, ch, sig, "del_1", secret)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "del_1", decoded["deliveryId"])
	assert.Equal(t, "wh_1", decoded["webhookId"])
}

func TestDeliver_NonSuccessStatusIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := webhookclient.New(nil)
	wh := &domain.Webhook{ID: "wh_1", URL: ts.URL}
	ch := &domain.Channel{ID: "ch_1", Slug: "alerts"}
	sig := &domain.Signal{ID: "sig_1"}

	result, err := client.Deliver(contextBackground(), wh, ch, sig, "del_1", "secret")
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func TestDeliver_InvalidURLRejected(t *testing.T) {
	client := webhookclient.New(nil)
	wh := &domain.Webhook{ID: "wh_1", URL: "ftp://example.com"}
	_, err := client.Deliver(contextBackground(), wh, &domain.Channel{}, &domain.Signal{}, "del_1", "secret")
	assert.Error(t, err)
}

func TestDeliver_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := webhookclient.New(nil)
	wh := &domain.Webhook{ID: "wh_flaky", URL: ts.URL}
	ch := &domain.Channel{ID: "ch_1"}
	sig := &domain.Signal{ID: "sig_1"}

	var lastErr error
	for i := 0; i < 6; i++ {
		_, lastErr = client.Deliver(contextBackground(), wh, ch, sig, "del_1", "secret")
	}
	assert.ErrorIs(t, lastErr, webhookclient.ErrCircuitOpen)
}
