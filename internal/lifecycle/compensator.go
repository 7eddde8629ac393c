package lifecycle

import (
	"context"
	"log/slog"
)

// EventAssetCleanup is the type of events asking for an order prefix to be
// emptied.
const EventAssetCleanup = "asset_cleanup"

// Cleanup reasons.
const (
	ReasonCreateAborted = "create_aborted"
	ReasonDeleteFailed  = "delete_failed"
)

// CleanupEvent asks a worker to delete every object under Prefix.
type CleanupEvent struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Prefix string `json:"prefix"`
	Reason string `json:"reason"`
}

// Compensator receives the partial failures of multi-step operations.
// Implementations must not block the request for long and cannot fail it.
type Compensator interface {
	// CreateAborted is called when an order record was minted but its assets
	// could not be stored or recorded.
	CreateAborted(ctx context.Context, id, prefix string, cause error)
	// AssetCleanupFailed is called when deleting an order's assets failed.
	AssetCleanupFailed(ctx context.Context, id, prefix string, cause error)
}

// NopCompensator ignores every failure.
type NopCompensator struct{}

func (NopCompensator) CreateAborted(context.Context, string, string, error)      {}
func (NopCompensator) AssetCleanupFailed(context.Context, string, string, error) {}

// EventPublisher sends a JSON event. *aws.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, payload any, attributes map[string]string) error
}

// QueueCompensator enqueues a CleanupEvent for every failure so a worker can
// retry the prefix deletion.
type QueueCompensator struct {
	publisher EventPublisher
	logger    *slog.Logger
}

// NewQueueCompensator returns a QueueCompensator over publisher.
func NewQueueCompensator(publisher EventPublisher, logger *slog.Logger) *QueueCompensator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueCompensator{publisher: publisher, logger: logger}
}

func (q *QueueCompensator) CreateAborted(ctx context.Context, id, prefix string, cause error) {
	q.enqueue(ctx, id, prefix, ReasonCreateAborted, cause)
}

func (q *QueueCompensator) AssetCleanupFailed(ctx context.Context, id, prefix string, cause error) {
	q.enqueue(ctx, id, prefix, ReasonDeleteFailed, cause)
}

func (q *QueueCompensator) enqueue(ctx context.Context, id, prefix, reason string, cause error) {
	ev := CleanupEvent{Type: EventAssetCleanup, ID: id, Prefix: prefix, Reason: reason}
	attrs := map[string]string{"event_type": EventAssetCleanup, "order_id": id}
	if err := q.publisher.Publish(ctx, ev, attrs); err != nil {
		q.logger.Error("enqueue asset cleanup failed", "id", id, "prefix", prefix, "reason", reason, "cause", cause, "err", err)
		return
	}
	q.logger.Info("asset cleanup enqueued", "id", id, "prefix", prefix, "reason", reason)
}
