package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/vps-orderflow/internal/aws"
	"github.com/imrishuroy/vps-orderflow/internal/workflow"
)

// Retrier finishes work the request path could not. *workflow.Controller implements it.
type Retrier interface {
	RetryProvisioning(ctx context.Context, orderID string) error
	CompletePayment(ctx context.Context, orderID, sessionID, payerID string) error
}

// Processor handles provisioning retry and deferred completion messages from SQS.
type Processor struct {
	retrier Retrier
	logger  *slog.Logger
}

// NewProcessor creates a worker processor.
func NewProcessor(retrier Retrier, logger *slog.Logger) *Processor {
	return &Processor{retrier: retrier, logger: logger}
}

// Handle processes an SQS batch. Failed records are reported individually so
// only they are redelivered; after maxReceiveCount the queue moves them to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("retry message failed", "message_id", rec.MessageId, "err", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.RetryMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		// redelivery cannot fix a malformed body
		p.logger.Error("dropping invalid message body", "message_id", rec.MessageId, "err", err)
		return nil
	}
	if msg.OrderID == "" {
		p.logger.Error("dropping message without order_id", "message_id", rec.MessageId)
		return nil
	}

	log := p.logger.With("order_id", msg.OrderID, "session_id", msg.PaymentSessionID, "action", msg.Action)
	log.Info("processing retry message", "reason", msg.Reason, "receive_count", rec.Attributes["ApproximateReceiveCount"])

	switch msg.Action {
	case aws.ActionComplete:
		err := p.retrier.CompletePayment(ctx, msg.OrderID, msg.PaymentSessionID, msg.PayerID)
		var ve *workflow.ValidationError
		if errors.As(err, &ve) {
			log.Error("dropping completion message, reconcile manually", "err", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete order %s: %w", msg.OrderID, err)
		}
	case "", aws.ActionProvision:
		err := p.retrier.RetryProvisioning(ctx, msg.OrderID)
		if errors.Is(err, workflow.ErrOrderNotFound) {
			log.Warn("order not found; dropping message")
			return nil
		}
		if err != nil {
			return fmt.Errorf("retry provisioning order %s: %w", msg.OrderID, err)
		}
	default:
		log.Error("dropping message with unknown action")
	}
	return nil
}
