package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Disposition of one processed event.
const (
	DispositionRecorded  = "recorded"
	DispositionDuplicate = "duplicate"
	DispositionRejected  = "rejected"
)

// EventResult reports what happened to one event
type EventResult struct {
	EventID     string `json:"event_id"`
	Disposition string `json:"disposition"`
}

// EventProcessor absorbs registry notification callbacks. Processing is
// idempotent per event id: a redis SETNX with TTL filters replays cheaply,
// an in-process LRU mirrors it for redis-less runs, and the store's primary
// key is the final authority.
type EventProcessor struct {
	store     EventStore
	registrar RepositoryRegistrar
	redis     *redis.Client
	seen      *lru.LRU[string, struct{}]
	ttl       time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewEventProcessor creates an event processor. redisClient and metrics may
// be nil; dedupe then relies on the in-process LRU and the store key.
func NewEventProcessor(store EventStore, registrar RepositoryRegistrar, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *EventProcessor {
	ttl := 24 * time.Hour
	return &EventProcessor{
		store:     store,
		registrar: registrar,
		redis:     redisClient,
		seen:      lru.NewLRU[string, struct{}](65536, nil, ttl),
		ttl:       ttl,
		logger:    logger,
		metrics:   metrics,
	}
}

// Process handles a batch of events in order. Replayed events are reported
// as duplicates, never errors; a registry retries its whole batch on any
// failure, so replays are the normal case.
func (p *EventProcessor) Process(ctx context.Context, events []Event) ([]EventResult, error) {
	results := make([]EventResult, 0, len(events))
	for i := range events {
		result, err := p.processOne(ctx, &events[i])
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (p *EventProcessor) processOne(ctx context.Context, event *Event) (EventResult, error) {
	result := EventResult{EventID: event.EventID}

	if err := validateEvent(event); err != nil {
		result.Disposition = DispositionRejected
		p.count(event.Action, DispositionRejected)
		p.logger.WithError(err).WithField("event_id", event.EventID).Warn("rejected registry event")
		return result, nil
	}

	if p.alreadySeen(ctx, event.EventID) {
		result.Disposition = DispositionDuplicate
		p.count(event.Action, DispositionDuplicate)
		return result, nil
	}

	inserted, err := p.store.RecordEvent(ctx, event)
	if err != nil {
		return result, fmt.Errorf("recording event %s: %w", event.EventID, err)
	}
	if !inserted {
		result.Disposition = DispositionDuplicate
		p.count(event.Action, DispositionDuplicate)
		return result, nil
	}

	if event.Action == ActionPush && p.registrar != nil {
		if projectID, ok := ParentProjectID(event.Repository); ok {
			if _, err := p.registrar.EnsureRepository(ctx, event.Repository, projectID, event.PrincipalID); err != nil {
				return result, fmt.Errorf("registering repository %q: %w", event.Repository, err)
			}
		}
	}

	result.Disposition = DispositionRecorded
	p.count(event.Action, DispositionRecorded)
	p.logger.WithField("event_id", event.EventID).
		WithField("action", event.Action).
		WithField("repository", event.Repository).
		Debug("recorded registry event")
	return result, nil
}

// alreadySeen consults redis first, falling back to the in-process LRU.
// Both are best-effort; the store key is authoritative.
func (p *EventProcessor) alreadySeen(ctx context.Context, eventID string) bool {
	if p.redis != nil {
		key := "warden:registry:event:" + eventID
		fresh, err := p.redis.SetNX(ctx, key, 1, p.ttl).Result()
		if err == nil {
			if !fresh {
				return true
			}
		} else {
			p.logger.WithError(err).Debug("registry event dedupe falling back to local cache")
		}
	}

	if _, ok := p.seen.Get(eventID); ok {
		return true
	}
	p.seen.Add(eventID, struct{}{})
	return false
}

func validateEvent(event *Event) error {
	if event.EventID == "" {
		return fmt.Errorf("%w: event id is required", authz.ErrInvalidInput)
	}
	if event.Action != ActionPush && event.Action != ActionPull {
		return fmt.Errorf("%w: unknown action %q", authz.ErrInvalidInput, event.Action)
	}
	if event.Repository == "" {
		return fmt.Errorf("%w: repository is required", authz.ErrInvalidInput)
	}
	return nil
}

func (p *EventProcessor) count(action, disposition string) {
	if p.metrics != nil {
		p.metrics.RegistryEventsTotal.WithLabelValues(action, disposition).Inc()
	}
}
