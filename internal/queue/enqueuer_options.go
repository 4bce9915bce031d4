package queue

import "time"

type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultLane     string
	defaultPriority Priority
}

func WithDefaultLane(lane string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if lane != "" {
			o.defaultLane = lane
		}
	}
}

func WithDefaultPriority(priority Priority) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if priority.Valid() {
			o.defaultPriority = priority
		}
	}
}

type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	lane        string
	priority    Priority
	maxRetries  int8
	delay       time.Duration
	scheduledAt *time.Time
}

func WithLane(lane string) EnqueueOption {
	return func(o *enqueueOptions) {
		if lane != "" {
			o.lane = lane
		}
	}
}

func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = priority }
}

// WithMaxRetries caps the generic queue's own retry budget, reserved for
// unexpected errors; Herald's business-level retry schedule is driven by
// internal/delivery re-enqueuing with WithDelay, not by this counter.
func WithMaxRetries(maxRetries int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}

func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

func WithScheduledAt(scheduledAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.scheduledAt = &scheduledAt }
}
