package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Retry actions carried by RetryMessage.
const (
	ActionProvision = "provision" // provision a completed order again
	ActionComplete  = "complete"  // record a charged payment whose completion write failed
)

// RetryMessage is the payload sent from the API to the worker when work after
// a successful charge could not finish inline. An empty Action means ActionProvision.
type RetryMessage struct {
	Action           string `json:"action,omitempty"`
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id,omitempty"`
	PayerID          string `json:"payer_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// ErrNoQueue is returned when no queue URL is configured.
var ErrNoQueue = errors.New("provisioning queue url not configured")

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// Enqueue queues an order for the worker.
func (p *Publisher) Enqueue(ctx context.Context, msg RetryMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal retry message: %w", err)
	}
	action := msg.Action
	if action == "" {
		action = ActionProvision
	}
	attrs := map[string]string{"order_id": msg.OrderID, "action": action}
	if msg.PaymentSessionID != "" {
		attrs["payment_session_id"] = msg.PaymentSessionID
	}
	return p.SendMessage(ctx, string(body), attrs)
}

// SendMessage sends a message to SQS. messageBody should be a JSON string.
// attributes map[string]string -> sent as MessageAttributes.
func (p *Publisher) SendMessage(ctx context.Context, messageBody string, attributes map[string]string) error {
	if p.QueueURL == "" {
		return ErrNoQueue
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			// using string type for all attrs
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// awsString helper
func awsString(s string) *string { return &s }
