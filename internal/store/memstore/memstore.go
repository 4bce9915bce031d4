// Package memstore implements internal/store.Store entirely in memory. It
// backs the engine's own test suites, mirroring the indexed-map-plus-mutex
// shape of the teacher's queue.MemoryStorage.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	signals       map[string]*domain.Signal
	channels      map[string]*domain.Channel
	subscriptions map[string]*domain.Subscription
	webhooks      map[string]*domain.Webhook
	subscribers   map[string]*domain.Subscriber
	deliveries    map[string]*domain.Delivery
	apiKeys       map[string]*domain.ApiKey
	dlq           map[string]*domain.DeadLetterEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		signals:       make(map[string]*domain.Signal),
		channels:      make(map[string]*domain.Channel),
		subscriptions: make(map[string]*domain.Subscription),
		webhooks:      make(map[string]*domain.Webhook),
		subscribers:   make(map[string]*domain.Subscriber),
		deliveries:    make(map[string]*domain.Delivery),
		apiKeys:       make(map[string]*domain.ApiKey),
		dlq:           make(map[string]*domain.DeadLetterEntry),
	}
}

func (s *Store) Signals() store.Signals             { return signalsRepo{s} }
func (s *Store) Channels() store.Channels            { return channelsRepo{s} }
func (s *Store) Subscriptions() store.Subscriptions  { return subscriptionsRepo{s} }
func (s *Store) Webhooks() store.Webhooks            { return webhooksRepo{s} }
func (s *Store) Subscribers() store.Subscribers      { return subscribersRepo{s} }
func (s *Store) Deliveries() store.Deliveries        { return deliveriesRepo{s} }
func (s *Store) ApiKeys() store.ApiKeys              { return apiKeysRepo{s} }
func (s *Store) DeadLetters() store.DeadLetters      { return deadLettersRepo{s} }

// Seed helpers used directly by tests to populate fixtures.

func (s *Store) PutChannel(c *domain.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.channels[c.ID] = &cp
}

func (s *Store) PutSubscription(sub *domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subscriptions[sub.ID] = &cp
}

func (s *Store) PutWebhook(w *domain.Webhook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.webhooks[w.ID] = &cp
}

func (s *Store) PutSubscriber(sub *domain.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subscribers[sub.ID] = &cp
}

func (s *Store) PutApiKey(k *domain.ApiKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.apiKeys[k.ID] = &cp
}

func (s *Store) GetSignal(id string) (*domain.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	return sig, ok
}

func (s *Store) ListDeliveries() []*domain.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		out = append(out, d)
	}
	return out
}

func (s *Store) ListDeadLetters() []*domain.DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.DeadLetterEntry, 0, len(s.dlq))
	for _, e := range s.dlq {
		out = append(out, e)
	}
	return out
}

type signalsRepo struct{ s *Store }

func (r signalsRepo) Create(_ context.Context, sig *domain.Signal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *sig
	r.s.signals[sig.ID] = &cp
	return nil
}

func (r signalsRepo) Get(_ context.Context, id string) (*domain.Signal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sig, ok := r.s.signals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sig
	return &cp, nil
}

// CreateAndBumpChannel implements store.Signals. Both writes happen while
// holding the single store-wide mutex, making them atomic with respect to
// every other caller the same way the postgres implementation's transaction
// does.
func (r signalsRepo) CreateAndBumpChannel(_ context.Context, sig *domain.Signal, channelID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ch, ok := r.s.channels[channelID]
	if !ok {
		return store.ErrNotFound
	}

	cp := *sig
	r.s.signals[sig.ID] = &cp
	ch.SignalCount++
	return nil
}

func (r signalsRepo) IncrementCounts(_ context.Context, id string, deltaDelivered, deltaFailed, deltaTotal int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sig, ok := r.s.signals[id]
	if !ok {
		return store.ErrNotFound
	}
	sig.DeliveredCount += deltaDelivered
	sig.FailedCount += deltaFailed
	sig.DeliveryCount += deltaTotal
	return nil
}

type channelsRepo struct{ s *Store }

func (r channelsRepo) Get(_ context.Context, id string) (*domain.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r channelsRepo) IncrementSignalCount(_ context.Context, id string, delta int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.channels[id]
	if !ok {
		return store.ErrNotFound
	}
	c.SignalCount += delta
	return nil
}

func (r channelsRepo) IncrementSubscriberCount(_ context.Context, id string, delta int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.channels[id]
	if !ok {
		return store.ErrNotFound
	}
	c.SubscriberCount += delta
	return nil
}

type subscriptionsRepo struct{ s *Store }

func (r subscriptionsRepo) ListActiveByChannel(_ context.Context, channelID string) ([]*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Subscription
	for _, sub := range r.s.subscriptions {
		if sub.ChannelID == channelID && sub.Status == domain.SubscriptionActive {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r subscriptionsRepo) Get(_ context.Context, id string) (*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

type webhooksRepo struct{ s *Store }

func (r webhooksRepo) Get(_ context.Context, id string) (*domain.Webhook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r webhooksRepo) UpdateSuccess(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok {
		return store.ErrNotFound
	}
	w.FailureCount = 0
	w.LastSuccessAt = &at
	return nil
}

func (r webhooksRepo) UpdateFailure(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok {
		return store.ErrNotFound
	}
	w.FailureCount++
	w.LastFailureAt = &at
	return nil
}

type subscribersRepo struct{ s *Store }

func (r subscribersRepo) Get(_ context.Context, id string) (*domain.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscribers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r subscribersRepo) UpdateAgentLastConnectedAt(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscribers[id]
	if !ok {
		return store.ErrNotFound
	}
	sub.AgentLastConnectedAt = &at
	return nil
}

type deliveriesRepo struct{ s *Store }

func (r deliveriesRepo) Create(_ context.Context, d *domain.Delivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *d
	r.s.deliveries[d.ID] = &cp
	return nil
}

func (r deliveriesRepo) UpdateStatus(_ context.Context, id string, status domain.DeliveryStatus, statusCode *int, errMsg *string, latencyMs *int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = status
	d.StatusCode = statusCode
	d.ErrorMessage = errMsg
	d.LatencyMs = latencyMs
	d.UpdatedAt = time.Now()
	return nil
}

type apiKeysRepo struct{ s *Store }

func (r apiKeysRepo) GetByHash(_ context.Context, hash string) (*domain.ApiKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, k := range r.s.apiKeys {
		if k.KeyHash == hash && k.Status == domain.ApiKeyActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r apiKeysRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.apiKeys[id]
	if !ok {
		return store.ErrNotFound
	}
	k.LastUsedAt = &at
	return nil
}

type deadLettersRepo struct{ s *Store }

func (r deadLettersRepo) Create(_ context.Context, e *domain.DeadLetterEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.dlq[e.ID] = &cp
	return nil
}

func (r deadLettersRepo) ListUnresolved(_ context.Context) ([]*domain.DeadLetterEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.DeadLetterEntry
	for _, e := range r.s.dlq {
		if e.ResolvedAt == nil {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r deadLettersRepo) Resolve(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.dlq[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	e.ResolvedAt = &now
	return nil
}
