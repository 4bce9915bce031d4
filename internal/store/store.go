// Package store declares the narrow transactional contracts the delivery
// engine needs from persistence (§4.B). Concrete implementations live in
// internal/store/postgres (production) and internal/store/memstore (tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/starksama/herald/internal/domain"
)

// ErrNotFound is returned by any Get-style lookup that finds no row.
var ErrNotFound = errors.New("store: entity not found")

// ErrConflict is returned when a uniqueness constraint is violated, e.g. a
// second active subscription for the same (subscriber, channel) pair.
var ErrConflict = errors.New("store: uniqueness violation")

// Signals is the signal persistence contract.
type Signals interface {
	Create(ctx context.Context, s *domain.Signal) error
	Get(ctx context.Context, id string) (*domain.Signal, error)
	// IncrementCounts applies relative deltas atomically, keeping
	// delivery_count = delivered_count + failed_count across concurrent workers.
	IncrementCounts(ctx context.Context, id string, deltaDelivered, deltaFailed, deltaTotal int64) error
	// CreateAndBumpChannel persists s and increments channels.signal_count by
	// one in the same transaction, per §4.E's atomicity requirement: a crash
	// between the two writes must never leave signal_count out of sync with
	// the signals actually recorded for the channel.
	CreateAndBumpChannel(ctx context.Context, s *domain.Signal, channelID string) error
}

// Channels is the channel persistence contract.
type Channels interface {
	Get(ctx context.Context, id string) (*domain.Channel, error)
	IncrementSignalCount(ctx context.Context, id string, delta int64) error
	IncrementSubscriberCount(ctx context.Context, id string, delta int64) error
}

// Subscriptions is the subscription persistence contract.
type Subscriptions interface {
	ListActiveByChannel(ctx context.Context, channelID string) ([]*domain.Subscription, error)
	Get(ctx context.Context, id string) (*domain.Subscription, error)
}

// Webhooks is the webhook persistence contract.
type Webhooks interface {
	Get(ctx context.Context, id string) (*domain.Webhook, error)
	UpdateSuccess(ctx context.Context, id string, at time.Time) error
	UpdateFailure(ctx context.Context, id string, at time.Time) error
}

// Subscribers is the subscriber persistence contract.
type Subscribers interface {
	Get(ctx context.Context, id string) (*domain.Subscriber, error)
	UpdateAgentLastConnectedAt(ctx context.Context, id string, at time.Time) error
}

// Deliveries is the delivery persistence contract.
type Deliveries interface {
	Create(ctx context.Context, d *domain.Delivery) error
	UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, statusCode *int, errMsg *string, latencyMs *int64) error
}

// ApiKeys is the API key persistence contract.
type ApiKeys interface {
	GetByHash(ctx context.Context, hash string) (*domain.ApiKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// DeadLetters is the dead-letter queue persistence contract.
type DeadLetters interface {
	Create(ctx context.Context, e *domain.DeadLetterEntry) error
	ListUnresolved(ctx context.Context) ([]*domain.DeadLetterEntry, error)
	Resolve(ctx context.Context, id string) error
}

// Store aggregates every persistence contract the engine depends on. A
// concrete implementation (postgres, memstore) satisfies Store as a whole so
// components can be constructed from a single handle.
type Store interface {
	Signals() Signals
	Channels() Channels
	Subscriptions() Subscriptions
	Webhooks() Webhooks
	Subscribers() Subscribers
	Deliveries() Deliveries
	ApiKeys() ApiKeys
	DeadLetters() DeadLetters
}
