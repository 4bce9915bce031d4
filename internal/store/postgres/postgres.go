// Package postgres implements internal/store.Store on pgx, grounded on the
// teacher's pkg/pg connection/migration helpers and error-classification
// functions (pg.IsNotFoundError et al.).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/store"
	"github.com/starksama/herald/pkg/pg"
)

// Store is a pgx-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Signals() store.Signals           { return signalsRepo{s.pool} }
func (s *Store) Channels() store.Channels          { return channelsRepo{s.pool} }
func (s *Store) Subscriptions() store.Subscriptions { return subscriptionsRepo{s.pool} }
func (s *Store) Webhooks() store.Webhooks          { return webhooksRepo{s.pool} }
func (s *Store) Subscribers() store.Subscribers    { return subscribersRepo{s.pool} }
func (s *Store) Deliveries() store.Deliveries      { return deliveriesRepo{s.pool} }
func (s *Store) ApiKeys() store.ApiKeys            { return apiKeysRepo{s.pool} }
func (s *Store) DeadLetters() store.DeadLetters    { return deadLettersRepo{s.pool} }

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if pg.IsNotFoundError(err) {
		return store.ErrNotFound
	}
	if pg.IsDuplicateKeyError(err) {
		return store.ErrConflict
	}
	return err
}

type signalsRepo struct{ pool *pgxpool.Pool }

func (r signalsRepo) Create(ctx context.Context, sig *domain.Signal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO signals (id, channel_id, title, body, urgency, metadata, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sig.ID, sig.ChannelID, sig.Title, sig.Body, sig.Urgency, sig.Metadata, sig.Status, sig.CreatedAt)
	return mapErr(err)
}

// CreateAndBumpChannel implements store.Signals. It wraps the signal insert
// and the channel's signal_count increment in one transaction, the way
// internal/queue/pgqueue's ClaimTask/FailTask/MoveToDLQ wrap their own
// multi-statement writes, so a crash between the two can never desync
// channels.signal_count from the signals actually recorded.
func (r signalsRepo) CreateAndBumpChannel(ctx context.Context, sig *domain.Signal, channelID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: beginning signal create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO signals (id, channel_id, title, body, urgency, metadata, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sig.ID, sig.ChannelID, sig.Title, sig.Body, sig.Urgency, sig.Metadata, sig.Status, sig.CreatedAt); err != nil {
		return mapErr(err)
	}

	tag, err := tx.Exec(ctx, `UPDATE channels SET signal_count = signal_count + 1 WHERE id = $1`, channelID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing signal create: %w", err)
	}
	return nil
}

func (r signalsRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	var sig domain.Signal
	err := r.pool.QueryRow(ctx, `
		SELECT id, channel_id, title, body, urgency, metadata, delivery_count, delivered_count, failed_count, status, created_at
		FROM signals WHERE id = $1`, id).Scan(
		&sig.ID, &sig.ChannelID, &sig.Title, &sig.Body, &sig.Urgency, &sig.Metadata,
		&sig.DeliveryCount, &sig.DeliveredCount, &sig.FailedCount, &sig.Status, &sig.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

func (r signalsRepo) IncrementCounts(ctx context.Context, id string, deltaDelivered, deltaFailed, deltaTotal int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE signals SET delivered_count = delivered_count + $2, failed_count = failed_count + $3, delivery_count = delivery_count + $4
		WHERE id = $1`, id, deltaDelivered, deltaFailed, deltaTotal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type channelsRepo struct{ pool *pgxpool.Pool }

func (r channelsRepo) Get(ctx context.Context, id string) (*domain.Channel, error) {
	var ch domain.Channel
	err := r.pool.QueryRow(ctx, `
		SELECT id, publisher_id, slug, display_name, status, is_public, signal_count, subscriber_count
		FROM channels WHERE id = $1`, id).Scan(
		&ch.ID, &ch.PublisherID, &ch.Slug, &ch.DisplayName, &ch.Status, &ch.IsPublic, &ch.SignalCount, &ch.SubscriberCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r channelsRepo) IncrementSignalCount(ctx context.Context, id string, delta int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE channels SET signal_count = signal_count + $2 WHERE id = $1`, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r channelsRepo) IncrementSubscriberCount(ctx context.Context, id string, delta int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE channels SET subscriber_count = subscriber_count + $2 WHERE id = $1`, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type subscriptionsRepo struct{ pool *pgxpool.Pool }

func (r subscriptionsRepo) ListActiveByChannel(ctx context.Context, channelID string) ([]*domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subscriber_id, channel_id, webhook_id, status
		FROM subscriptions WHERE channel_id = $1 AND status = 'active'`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(&sub.ID, &sub.SubscriberID, &sub.ChannelID, &sub.WebhookID, &sub.Status); err != nil {
			return nil, err
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

func (r subscriptionsRepo) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := r.pool.QueryRow(ctx, `
		SELECT id, subscriber_id, channel_id, webhook_id, status FROM subscriptions WHERE id = $1`, id).Scan(
		&sub.ID, &sub.SubscriberID, &sub.ChannelID, &sub.WebhookID, &sub.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

type webhooksRepo struct{ pool *pgxpool.Pool }

func (r webhooksRepo) Get(ctx context.Context, id string) (*domain.Webhook, error) {
	var wh domain.Webhook
	err := r.pool.QueryRow(ctx, `
		SELECT id, subscriber_id, url, token, name, status, failure_count, last_success_at, last_failure_at
		FROM webhooks WHERE id = $1`, id).Scan(
		&wh.ID, &wh.SubscriberID, &wh.URL, &wh.Token, &wh.Name, &wh.Status, &wh.FailureCount, &wh.LastSuccessAt, &wh.LastFailureAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wh, nil
}

func (r webhooksRepo) UpdateSuccess(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE webhooks SET failure_count = 0, last_success_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r webhooksRepo) UpdateFailure(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE webhooks SET failure_count = failure_count + 1, last_failure_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type subscribersRepo struct{ pool *pgxpool.Pool }

func (r subscribersRepo) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := r.pool.QueryRow(ctx, `
		SELECT id, webhook_secret, delivery_mode, agent_last_connected_at FROM subscribers WHERE id = $1`, id).Scan(
		&sub.ID, &sub.WebhookSecret, &sub.DeliveryMode, &sub.AgentLastConnectedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r subscribersRepo) UpdateAgentLastConnectedAt(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE subscribers SET agent_last_connected_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type deliveriesRepo struct{ pool *pgxpool.Pool }

func (r deliveriesRepo) Create(ctx context.Context, d *domain.Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deliveries (id, signal_id, subscription_id, webhook_id, mode, attempt, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.SignalID, d.SubscriptionID, d.WebhookID, d.Mode, d.Attempt, d.Status, d.CreatedAt, d.UpdatedAt)
	return mapErr(err)
}

func (r deliveriesRepo) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, statusCode *int, errMsg *string, latencyMs *int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deliveries SET status = $2, status_code = $3, error_message = $4, latency_ms = $5, updated_at = now()
		WHERE id = $1`, id, status, statusCode, errMsg, latencyMs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type apiKeysRepo struct{ pool *pgxpool.Pool }

func (r apiKeysRepo) GetByHash(ctx context.Context, hash string) (*domain.ApiKey, error) {
	var k domain.ApiKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, key_hash, key_prefix, owner_type, owner_id, scopes, expires_at, status, last_used_at
		FROM api_keys WHERE key_hash = $1 AND status = 'active'`, hash).Scan(
		&k.ID, &k.KeyHash, &k.KeyPrefix, &k.OwnerType, &k.OwnerID, &k.Scopes, &k.ExpiresAt, &k.Status, &k.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r apiKeysRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type deadLettersRepo struct{ pool *pgxpool.Pool }

func (r deadLettersRepo) Create(ctx context.Context, e *domain.DeadLetterEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, delivery_id, signal_id, subscription_id, payload, error_history, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.DeliveryID, e.SignalID, e.SubscriptionID, e.Payload, e.ErrorHistory, e.CreatedAt)
	return mapErr(err)
}

func (r deadLettersRepo) ListUnresolved(ctx context.Context) ([]*domain.DeadLetterEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, delivery_id, signal_id, subscription_id, payload, error_history, resolved_at, created_at
		FROM dead_letters WHERE resolved_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DeadLetterEntry
	for rows.Next() {
		var e domain.DeadLetterEntry
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.SignalID, &e.SubscriptionID, &e.Payload, &e.ErrorHistory, &e.ResolvedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r deadLettersRepo) Resolve(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE dead_letters SET resolved_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
