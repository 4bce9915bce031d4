// Package webhookclient delivers a single signal to a subscriber's webhook
// endpoint over HTTP or HTTPS (§4.F). Unlike the teacher's pkg/webhook.Sender, a
// Client makes exactly one attempt per call and never retries internally:
// internal/delivery owns the fixed retry/backoff schedule, re-enqueuing a
// fresh attempt through internal/queue rather than looping here. Every
// non-2xx response is reported as a plain error and left for the caller to
// classify as transient, per the spec's literal "all non-2xx is transient"
// default (the teacher's 4xx-is-permanent short-circuit is deliberately not
// carried over).
package webhookclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/starksama/herald/internal/authcrypto"
	"github.com/starksama/herald/internal/domain"
)

// Result describes the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	LatencyMs  int64
	Success    bool
}

type channelPayload struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
}

type signalPayload struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Urgency   domain.Urgency  `json:"urgency"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"createdAt"`
}

type deliveryPayload struct {
	DeliveryID string          `json:"deliveryId"`
	WebhookID  string          `json:"webhookId"`
	Channel    channelPayload  `json:"channel"`
	Signal     signalPayload   `json:"signal"`
}

// Client delivers signed webhook requests and tracks a per-webhook circuit
// breaker so a consistently failing endpoint stops being hammered.
type Client struct {
	http     *http.Client
	breakers *breakerSet
}

func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{http: httpClient, breakers: newBreakerSet()}
}

// ErrCircuitOpen is returned without attempting an HTTP request when the
// webhook's circuit breaker is tripped.
var ErrCircuitOpen = fmt.Errorf("webhookclient: circuit breaker is open for this endpoint")

// Deliver POSTs a signed signal payload to wh.URL, signed with the owning
// subscriber's webhook secret. It makes exactly one attempt; the caller
// decides whether and when to retry.
func (c *Client) Deliver(ctx context.Context, wh *domain.Webhook, ch *domain.Channel, sig *domain.Signal, deliveryID, secret string) (Result, error) {
	if err := validateURL(wh.URL); err != nil {
		return Result{}, err
	}

	cb := c.breakers.get(wh.ID)
	if !cb.Allow() {
		return Result{}, ErrCircuitOpen
	}

	body, err := json.Marshal(deliveryPayload{
		DeliveryID: deliveryID,
		WebhookID:  wh.ID,
		Channel: channelPayload{
			ID:          ch.ID,
			Slug:        ch.Slug,
			DisplayName: ch.DisplayName,
		},
		Signal: signalPayload{
			ID:        sig.ID,
			Title:     sig.Title,
			Body:      sig.Body,
			Urgency:   sig.Urgency,
			Metadata:  sig.Metadata,
			CreatedAt: sig.CreatedAt,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("webhookclient: marshaling payload: %w", err)
	}

	result, err := c.attempt(ctx, wh, body, deliveryID, secret)
	if err != nil {
		cb.RecordFailure()
		return result, err
	}
	cb.RecordSuccess()
	return result, nil
}

func (c *Client) attempt(ctx context.Context, wh *domain.Webhook, body []byte, deliveryID, secret string) (Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("webhookclient: building request: %w", err)
	}

	timestamp := time.Now().Unix()
	signature := authcrypto.SignPayload(secret, timestamp, string(body))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Herald-Signature", signature)
	req.Header.Set("X-Herald-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Herald-Delivery-Id", deliveryID)
	if wh.Token != nil && *wh.Token != "" {
		req.Header.Set("Authorization", "Bearer "+*wh.Token)
	}

	resp, err := c.http.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Result{LatencyMs: latency}, fmt.Errorf("webhookclient: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	result := Result{
		StatusCode: resp.StatusCode,
		LatencyMs:  latency,
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if !result.Success {
		return result, fmt.Errorf("webhookclient: endpoint returned status %d", resp.StatusCode)
	}
	return result, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("webhookclient: empty webhook URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhookclient: invalid webhook URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("webhookclient: unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhookclient: webhook URL is missing a host")
	}
	return nil
}
