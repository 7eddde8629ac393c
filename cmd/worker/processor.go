package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/tshirt-orderflow/internal/lifecycle"
	"github.com/imrishuroy/tshirt-orderflow/internal/orders"
)

// PrefixDeleter empties an object key prefix, sparing the keys in keep.
// *objectstore.Store implements it.
type PrefixDeleter interface {
	DeletePrefixExcept(ctx context.Context, prefix string, keep ...string) (int, error)
}

// Processor handles asset cleanup messages from SQS.
type Processor struct {
	objects PrefixDeleter
	logger  *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(objects PrefixDeleter, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{objects: objects, logger: logger}
}

// Handle processes an SQS batch. Failed messages are reported individually so
// only they are redelivered; after too many receives they go to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("cleanup message failed", "message_id", rec.MessageId, "err", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev lifecycle.CleanupEvent
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if ev.Type != lifecycle.EventAssetCleanup {
		p.logger.Warn("ignoring unknown event", "type", ev.Type, "message_id", rec.MessageId)
		return nil
	}
	if ev.ID == "" || ev.Prefix != orders.Prefix(ev.ID) || strings.Contains(ev.ID, "/") {
		return fmt.Errorf("refusing to clean prefix %q for order %q", ev.Prefix, ev.ID)
	}

	// An aborted create leaves its pending record behind, and with the S3
	// record backend that record lives under the same prefix.
	var keep []string
	if ev.Reason == lifecycle.ReasonCreateAborted {
		keep = append(keep, ev.Prefix+"/"+orders.DataFile)
	}

	n, err := p.objects.DeletePrefixExcept(ctx, ev.Prefix+"/", keep...)
	if err != nil {
		return fmt.Errorf("delete prefix %s: %w", ev.Prefix, err)
	}
	p.logger.Info("order assets cleaned", "id", ev.ID, "prefix", ev.Prefix, "reason", ev.Reason, "deleted", n)
	return nil
}
