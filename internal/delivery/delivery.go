// Package delivery implements the per-job delivery worker (§4.F): loading
// the job's entities, choosing tunnel-or-webhook transport, recording the
// attempt, and applying the fixed retry/backoff/DLQ policy. It is the one
// place that depends on both internal/tunnel (to reach a live agent) and
// internal/registry (to look the connection up) without those two
// depending on each other.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/idgen"
	"github.com/starksama/herald/internal/queue"
	"github.com/starksama/herald/internal/registry"
	"github.com/starksama/herald/internal/store"
	"github.com/starksama/herald/internal/tunnel"
	"github.com/starksama/herald/internal/webhookclient"
)

// HandlerName is the queue.Handler name the delivery Engine registers under.
const HandlerName = "deliver_signal"

// Engine executes DeliveryJobs. It satisfies queue.Handler via AsHandler.
type Engine struct {
	store    store.Store
	registry *registry.Registry
	webhooks *webhookclient.Client
	enqueuer *queue.Enqueuer
	log      *slog.Logger
}

func NewEngine(st store.Store, reg *registry.Registry, wh *webhookclient.Client, enq *queue.Enqueuer, log *slog.Logger) *Engine {
	return &Engine{store: st, registry: reg, webhooks: wh, enqueuer: enq, log: log}
}

// AsHandler adapts the Engine to queue.Handler.
func (e *Engine) AsHandler() queue.Handler {
	return queue.NewTaskHandler(HandlerName, e.handleTask)
}

func (e *Engine) handleTask(ctx context.Context, job domain.DeliveryJob) error {
	return e.Handle(ctx, job)
}

// Handle runs one job to completion. Per §7, every expected outcome
// (success, failed-with-requeue, failed-with-DLQ) is reported back to the
// generic queue as success (nil): the job has "completed" from the queue's
// perspective regardless of business-level outcome. Only a genuine
// infrastructure error (e.g. the store is unreachable) is returned, letting
// the queue's own retry/DLQ mechanism catch it as a programmer/ops error.
func (e *Engine) Handle(ctx context.Context, job domain.DeliveryJob) error {
	sig, sub, ch, subscriber, ok, err := e.loadEntities(ctx, job)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	outcome := e.attempt(ctx, job, sig, sub, ch, subscriber)

	if outcome.success {
		return e.recordSuccess(ctx, job, outcome)
	}
	return e.recordFailureAndReschedule(ctx, job, sig, outcome)
}

type attemptOutcome struct {
	deliveryID string
	mode       domain.DeliveryMode
	webhookID  *string
	success    bool
	statusCode *int
	errMsg     *string
	latencyMs  *int64
}

// loadEntities loads every entity the job needs. A missing entity is a
// terminal failure for the job (logged, no retry, reported as handled); a
// non-NotFound error is treated as infrastructure trouble and bubbled up.
func (e *Engine) loadEntities(ctx context.Context, job domain.DeliveryJob) (*domain.Signal, *domain.Subscription, *domain.Channel, *domain.Subscriber, bool, error) {
	sig, err := e.store.Signals().Get(ctx, job.SignalID)
	if err != nil {
		return nil, nil, nil, nil, false, e.terminalOrBubble(ctx, job, "signal", err)
	}
	sub, err := e.store.Subscriptions().Get(ctx, job.SubscriptionID)
	if err != nil {
		return nil, nil, nil, nil, false, e.terminalOrBubble(ctx, job, "subscription", err)
	}
	ch, err := e.store.Channels().Get(ctx, sig.ChannelID)
	if err != nil {
		return nil, nil, nil, nil, false, e.terminalOrBubble(ctx, job, "channel", err)
	}
	subscriber, err := e.store.Subscribers().Get(ctx, sub.SubscriberID)
	if err != nil {
		return nil, nil, nil, nil, false, e.terminalOrBubble(ctx, job, "subscriber", err)
	}
	return sig, sub, ch, subscriber, true, nil
}

func (e *Engine) terminalOrBubble(_ context.Context, job domain.DeliveryJob, what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		e.log.Warn("delivery: job terminated, missing entity",
			slog.String("signal_id", job.SignalID),
			slog.String("subscription_id", job.SubscriptionID),
			slog.String("entity", what))
		return nil
	}
	return fmt.Errorf("delivery: loading %s: %w", what, err)
}

// attempt decides transport per §4.F and runs one delivery attempt, falling
// through from tunnel to webhook within the same job when the tunnel send
// fails and a webhook is configured. In that case the failed tunnel attempt
// is recorded here and the webhook attempt's outcome is returned.
func (e *Engine) attempt(ctx context.Context, job domain.DeliveryJob, sig *domain.Signal, sub *domain.Subscription, ch *domain.Channel, subscriber *domain.Subscriber) attemptOutcome {
	conn, hasTunnel := e.registry.Get(sub.SubscriberID)

	if hasTunnel {
		outcome := e.deliverTunnel(ctx, job, sig, ch, conn.SubscriberID)
		if outcome.success || sub.WebhookID == nil {
			return outcome
		}
		_ = e.store.Deliveries().UpdateStatus(ctx, outcome.deliveryID, domain.DeliveryFailed, nil, outcome.errMsg, nil)
		_ = e.store.Signals().IncrementCounts(ctx, job.SignalID, 0, 1, 1)
		e.log.Info("delivery: tunnel send failed, falling back to webhook",
			slog.String("subscription_id", sub.ID))
		return e.deliverWebhook(ctx, job, sig, sub, ch, subscriber)
	}

	if sub.WebhookID != nil {
		return e.deliverWebhook(ctx, job, sig, sub, ch, subscriber)
	}

	// Neither transport is available: the job fails outright.
	msg := "no tunnel connection and no webhook configured"
	return attemptOutcome{
		deliveryID: idgen.NewID(idgen.PrefixDelivery),
		mode:       domain.ModeAgent,
		success:    false,
		errMsg:     &msg,
	}
}

func (e *Engine) deliverTunnel(ctx context.Context, job domain.DeliveryJob, sig *domain.Signal, ch *domain.Channel, subscriberID string) attemptOutcome {
	deliveryID := idgen.NewID(idgen.PrefixDelivery)

	_ = e.store.Deliveries().Create(ctx, &domain.Delivery{
		ID:             deliveryID,
		SignalID:       sig.ID,
		SubscriptionID: job.SubscriptionID,
		Mode:           domain.ModeAgent,
		Attempt:        job.Attempt,
		Status:         domain.DeliveryPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})

	msg := tunnel.SignalMessage(deliveryID, ch.ID, ch.Slug, tunnel.ToTunnelSignal(sig))
	sent := tunnel.Send(e.registry, subscriberID, msg)

	if sent {
		return attemptOutcome{deliveryID: deliveryID, mode: domain.ModeAgent, success: true}
	}
	errMsg := "tunnel outbound channel send failed"
	return attemptOutcome{deliveryID: deliveryID, mode: domain.ModeAgent, success: false, errMsg: &errMsg}
}

func (e *Engine) deliverWebhook(ctx context.Context, job domain.DeliveryJob, sig *domain.Signal, sub *domain.Subscription, ch *domain.Channel, subscriber *domain.Subscriber) attemptOutcome {
	deliveryID := idgen.NewID(idgen.PrefixDelivery)

	wh, err := e.store.Webhooks().Get(ctx, *sub.WebhookID)
	if err != nil {
		errMsg := fmt.Sprintf("loading webhook: %v", err)
		return attemptOutcome{deliveryID: deliveryID, mode: domain.ModeWebhook, webhookID: sub.WebhookID, success: false, errMsg: &errMsg}
	}

	_ = e.store.Deliveries().Create(ctx, &domain.Delivery{
		ID:             deliveryID,
		SignalID:       sig.ID,
		SubscriptionID: job.SubscriptionID,
		WebhookID:      sub.WebhookID,
		Mode:           domain.ModeWebhook,
		Attempt:        job.Attempt,
		Status:         domain.DeliveryPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})

	webhookCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, sendErr := e.webhooks.Deliver(webhookCtx, wh, ch, sig, deliveryID, subscriber.WebhookSecret)
	latency := result.LatencyMs

	outcome := attemptOutcome{
		deliveryID: deliveryID,
		mode:       domain.ModeWebhook,
		webhookID:  sub.WebhookID,
		latencyMs:  &latency,
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		outcome.statusCode = &code
	}

	if sendErr == nil {
		outcome.success = true
		_ = e.store.Webhooks().UpdateSuccess(ctx, wh.ID, time.Now())
		return outcome
	}

	_ = e.store.Webhooks().UpdateFailure(ctx, wh.ID, time.Now())
	var errMsg string
	if outcome.statusCode != nil {
		errMsg = fmt.Sprintf("HTTP %d", *outcome.statusCode)
	} else {
		errMsg = sendErr.Error()
	}
	outcome.errMsg = &errMsg
	return outcome
}

func (e *Engine) recordSuccess(ctx context.Context, job domain.DeliveryJob, outcome attemptOutcome) error {
	statusCode := outcome.statusCode
	_ = e.store.Deliveries().UpdateStatus(ctx, outcome.deliveryID, domain.DeliverySuccess, statusCode, nil, outcome.latencyMs)
	_ = e.store.Signals().IncrementCounts(ctx, job.SignalID, 1, 0, 1)
	return nil
}

// recordFailureAndReschedule applies the retry/DLQ policy: updates the
// failed delivery row, bumps failed/total counters, and either schedules a
// delayed requeue of attempt+1 or writes a terminal DLQ entry.
func (e *Engine) recordFailureAndReschedule(ctx context.Context, job domain.DeliveryJob, sig *domain.Signal, outcome attemptOutcome) error {
	_ = e.store.Deliveries().UpdateStatus(ctx, outcome.deliveryID, domain.DeliveryFailed, outcome.statusCode, outcome.errMsg, outcome.latencyMs)
	_ = e.store.Signals().IncrementCounts(ctx, job.SignalID, 0, 1, 1)

	if job.Attempt >= maxAttempt {
		return e.deadLetter(ctx, job, sig, outcome)
	}

	nextAttempt := job.Attempt + 1
	delay := backoffFor(nextAttempt)
	lane := sig.Urgency.Lane()

	nextJob := domain.DeliveryJob{
		SignalID:       job.SignalID,
		SubscriptionID: job.SubscriptionID,
		WebhookID:      job.WebhookID,
		Attempt:        nextAttempt,
	}
	if err := e.enqueuer.Enqueue(ctx, HandlerName, nextJob, queue.WithLane(lane), queue.WithDelay(delay)); err != nil {
		e.log.Error("delivery: failed to schedule retry",
			slog.String("signal_id", job.SignalID),
			slog.String("subscription_id", job.SubscriptionID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (e *Engine) deadLetter(ctx context.Context, job domain.DeliveryJob, sig *domain.Signal, outcome attemptOutcome) error {
	payload, _ := json.Marshal(job)

	entry := &domain.ErrorHistoryEntry{Attempt: job.Attempt, StatusCode: outcome.statusCode}
	if outcome.errMsg != nil {
		entry.Error = *outcome.errMsg
	}

	dlq := &domain.DeadLetterEntry{
		ID:             idgen.NewID(idgen.PrefixDeadLetter),
		DeliveryID:     outcome.deliveryID,
		SignalID:       job.SignalID,
		SubscriptionID: job.SubscriptionID,
		Payload:        payload,
		ErrorHistory:   []domain.ErrorHistoryEntry{*entry},
		CreatedAt:      time.Now(),
	}
	if err := e.store.DeadLetters().Create(ctx, dlq); err != nil {
		e.log.Error("delivery: failed to write dead letter entry",
			slog.String("signal_id", job.SignalID),
			slog.String("subscription_id", job.SubscriptionID),
			slog.String("error", err.Error()))
	}
	return nil
}
