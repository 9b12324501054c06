// Package worker consumes federated model events from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/federated"
)

// Submitter pools weight updates.
type Submitter interface {
	Submit(ctx context.Context, update domain.WeightUpdate) (*federated.SubmitResult, error)
}

// Reloader refreshes a model from the current federated weights.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Worker submits weight updates received on heron.federated.update and
// reloads models whenever heron.federated.aggregated is seen, including
// aggregations performed by other instances.
type Worker struct {
	bus       domain.EventBus
	submitter Submitter
	reloaders []Reloader

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	reloads   atomic.Int64
}

// NewWorker creates a federated worker. submitter may be nil on instances
// that only follow aggregations.
func NewWorker(b domain.EventBus, submitter Submitter, reloaders ...Reloader) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       b,
		submitter: submitter,
		reloaders: reloaders,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the federated topics.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.submitter != nil {
		if err := w.subscribe(domain.TopicFederatedUpdate, w.handleUpdate); err != nil {
			return err
		}
	}
	if err := w.subscribe(domain.TopicFederatedAggregated, w.handleAggregated); err != nil {
		return err
	}

	slog.Info("federated worker started", "subscriptions", len(w.subscriptions))
	return nil
}

func (w *Worker) subscribe(topic string, handler domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, domain.GlobalTenant, topic, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	w.subscriptions = append(w.subscriptions, sub)
	return nil
}

// handleUpdate submits one weight update and announces an aggregation.
func (w *Worker) handleUpdate(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var update domain.WeightUpdate
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		slog.Error("failed to parse weight update",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	res, err := w.submitter.Submit(ctx, update)
	if err != nil {
		return fmt.Errorf("failed to submit weight update: %w", err)
	}
	w.processed.Add(1)

	if res.Aggregated {
		if err := bus.PublishJSON(ctx, w.bus, domain.GlobalTenant, domain.TopicFederatedAggregated, res); err != nil {
			slog.Error("failed to publish aggregation",
				"version", res.CurrentVersion,
				"error", err,
			)
		}
	}

	slog.Info("weight update processed",
		"contributor_id", update.ContributorID,
		"accepted", res.Accepted,
		"message", res.Message,
		"current_version", res.CurrentVersion,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// handleAggregated reloads every model. A failing model keeps its previous
// weights.
func (w *Worker) handleAggregated(ctx context.Context, msg *domain.Message) error {
	var firstErr error
	for _, r := range w.reloaders {
		if err := r.Reload(ctx); err != nil {
			slog.Error("model reload failed", "message_id", msg.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	w.reloads.Add(1)
	return firstErr
}

// Stop gracefully stops all subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("federated worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	UpdatesProcessed  int64    `json:"updatesProcessed"`
	ModelReloads      int64    `json:"modelReloads"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		UpdatesProcessed:  w.processed.Load(),
		ModelReloads:      w.reloads.Load(),
	}
}
