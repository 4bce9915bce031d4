// Package ingest implements signal publication and DLQ retry (§4.E): the
// boundary where an authenticated publisher turns a {title, body, urgency}
// payload into a persisted signal and a set of fanned-out delivery jobs.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/idgen"
	"github.com/starksama/herald/internal/queue"
	"github.com/starksama/herald/internal/store"
)

// HandlerName must match internal/delivery.HandlerName: the task name every
// fanned-out job is enqueued under. Duplicated here as a plain string
// constant, not an import of internal/delivery, to keep ingest's dependency
// surface limited to persistence and the queue.
const HandlerName = "deliver_signal"

// AuthContext is the resolved identity of the caller, produced by
// authenticating an API key (§4.A) before PublishSignal is invoked.
type AuthContext struct {
	OwnerType domain.ApiKeyOwner
	OwnerID   string
}

// PublishInput is the public payload a publisher submits.
type PublishInput struct {
	Title    string
	Body     string
	Urgency  *domain.Urgency
	Metadata json.RawMessage
}

// PublishResult is returned to the caller on success.
type PublishResult struct {
	ID        string
	ChannelID string
	CreatedAt time.Time
	Status    domain.SignalStatus
}

type Service struct {
	store    store.Store
	enqueuer *queue.Enqueuer
	log      *slog.Logger
}

func NewService(st store.Store, enq *queue.Enqueuer, log *slog.Logger) *Service {
	return &Service{store: st, enqueuer: enq, log: log}
}

// PublishSignal validates the caller and channel, persists the signal, and
// fans a DeliveryJob out to every active subscription on the channel.
func (s *Service) PublishSignal(ctx context.Context, channelID string, auth AuthContext, in PublishInput) (PublishResult, error) {
	if auth.OwnerType != domain.OwnerPublisher {
		return PublishResult{}, ErrForbidden
	}

	ch, err := s.store.Channels().Get(ctx, channelID)
	if err != nil {
		if err == store.ErrNotFound {
			return PublishResult{}, ErrNotFound
		}
		return PublishResult{}, fmt.Errorf("ingest: loading channel: %w", err)
	}
	if ch.PublisherID != auth.OwnerID {
		return PublishResult{}, ErrForbidden
	}
	if ch.Status != domain.ChannelActive {
		return PublishResult{}, fmt.Errorf("%w: channel not active", ErrBadRequest)
	}

	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	if title == "" || body == "" {
		return PublishResult{}, fmt.Errorf("%w: title and body are required", ErrBadRequest)
	}

	urgency := domain.UrgencyNormal
	if in.Urgency != nil {
		urgency = *in.Urgency
	}
	metadata := in.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	sig := &domain.Signal{
		ID:        idgen.NewID(idgen.PrefixSignal),
		ChannelID: channelID,
		Title:     title,
		Body:      body,
		Urgency:   urgency,
		Metadata:  metadata,
		Status:    domain.SignalActive,
		CreatedAt: time.Now(),
	}

	// Persisting the signal and bumping channels.signal_count happen in one
	// transaction (§4.E Action step 2): a crash between the two writes must
	// never leave signal_count out of sync with the signals actually recorded.
	if err := s.store.Signals().CreateAndBumpChannel(ctx, sig, channelID); err != nil {
		return PublishResult{}, fmt.Errorf("ingest: persisting signal: %w", err)
	}

	subs, err := s.store.Subscriptions().ListActiveByChannel(ctx, channelID)
	if err != nil {
		s.log.Error("ingest: failed to list active subscriptions", "channel_id", channelID, "error", err)
		subs = nil
	}

	lane := urgency.Lane()
	for _, sub := range subs {
		job := domain.DeliveryJob{
			SignalID:       sig.ID,
			SubscriptionID: sub.ID,
			WebhookID:      sub.WebhookID,
			Attempt:        0,
		}
		if err := s.enqueuer.Enqueue(ctx, HandlerName, job, queue.WithLane(lane)); err != nil {
			s.log.Error("ingest: failed to enqueue delivery job",
				"signal_id", sig.ID, "subscription_id", sub.ID, "error", err)
		}
	}

	return PublishResult{ID: sig.ID, ChannelID: channelID, CreatedAt: sig.CreatedAt, Status: sig.Status}, nil
}

// RetryDeadLetter re-enqueues a dead-lettered delivery as a fresh attempt-0
// job on the normal lane and marks the entry resolved. Promoted from the
// original model's admin-only DLQ retry endpoint.
func (s *Service) RetryDeadLetter(ctx context.Context, dlqID string) error {
	entries, err := s.store.DeadLetters().ListUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("ingest: listing dead letters: %w", err)
	}

	var entry *domain.DeadLetterEntry
	for _, e := range entries {
		if e.ID == dlqID {
			entry = e
			break
		}
	}
	if entry == nil {
		return ErrNotFound
	}

	var job domain.DeliveryJob
	if err := json.Unmarshal(entry.Payload, &job); err != nil {
		return fmt.Errorf("ingest: decoding dead letter payload: %w", err)
	}
	job.Attempt = 0

	if err := s.enqueuer.Enqueue(ctx, HandlerName, job, queue.WithLane(queue.LaneNormal)); err != nil {
		return fmt.Errorf("ingest: re-enqueuing dead letter: %w", err)
	}
	return s.store.DeadLetters().Resolve(ctx, dlqID)
}
