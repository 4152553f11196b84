package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/vps-orderflow/internal/aws"
)

var (
	// ErrNotFound is returned when no order matches the key.
	ErrNotFound = errors.New("order not found")
	// ErrStatusMismatch is returned when a conditional status transition fails.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrSessionAssigned is returned when an order already carries a payment session.
	ErrSessionAssigned = errors.New("payment session already assigned")
	// ErrProvisioningClaimed is returned when an order cannot be claimed for provisioning.
	ErrProvisioningClaimed = errors.New("order not claimable for provisioning")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client       aws.DynamoDBAPI
	tableName    string
	sessionIndex string
	pendingTTL   time.Duration
	nowFunc      func() time.Time
}

// NewStore creates a new orders Store. sessionIndex names the GSI keyed by
// payment_session_id; pendingTTL bounds how long an unpaid order is kept.
func NewStore(client aws.DynamoDBAPI, tableName, sessionIndex string, pendingTTL time.Duration) *Store {
	return &Store{
		client:       client,
		tableName:    tableName,
		sessionIndex: sessionIndex,
		pendingTTL:   pendingTTL,
		nowFunc:      time.Now,
	}
}

// Create persists a new order. CreatedAt/UpdatedAt are set if empty and the
// pending TTL is stamped on pending orders.
func (s *Store) Create(ctx context.Context, order *Order) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == StatusPending && s.pendingTTL > 0 {
		order.ExpiresAt = now.Add(s.pendingTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return fmt.Errorf("order %s already exists: %w", order.OrderID, err)
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// AttachPaymentSession stores the gateway session id on a pending order. It
// fails with ErrSessionAssigned if a session id is already present.
func (s *Store) AttachPaymentSession(ctx context.Context, orderID, sessionID string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET payment_session_id = :sid, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("attribute_exists(order_id) AND attribute_not_exists(payment_session_id)"),
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionalFailure(err) {
			return ErrSessionAssigned
		}
		return fmt.Errorf("update item (attach session): %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// FindBySession looks an order up through the payment session index.
func (s *Store) FindBySession(ctx context.Context, sessionID string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.sessionIndex,
		KeyConditionExpression: awsString("payment_session_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query session index: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Items[0], &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Complete moves an order from pending to completed and records the payer.
// The write is conditional on the current status and session id, so of two
// concurrent callers only one succeeds; the other gets ErrStatusMismatch.
// Returns the updated order.
func (s *Store) Complete(ctx context.Context, orderID, sessionID, payerID string) (*Order, error) {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :new, payer_id = :pid, updated_at = :ua REMOVE expires_at"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: StatusCompleted},
			":expected": &types.AttributeValueMemberS{Value: StatusPending},
			":sid":      &types.AttributeValueMemberS{Value: sessionID},
			":pid":      &types.AttributeValueMemberS{Value: payerID},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("#s = :expected AND payment_session_id = :sid"),
		ReturnValues:        types.ReturnValueAllNew,
	}
	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalFailure(err) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item (complete): %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ClaimProvisioning marks a paid order as being provisioned by the caller for
// lease. It fails with ErrProvisioningClaimed when the order is not completed,
// already provisioned, or claimed by someone else whose lease has not run out.
// The claim is released by RecordProvisioning.
func (s *Store) ClaimProvisioning(ctx context.Context, orderID string, lease time.Duration) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET provisioning_status = :claimed, provisioning_lease = :until, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed":   &types.AttributeValueMemberS{Value: StatusCompleted},
			":claimed":     &types.AttributeValueMemberS{Value: ProvisioningInProgress},
			":provisioned": &types.AttributeValueMemberS{Value: ProvisioningProvisioned},
			":now":         &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":until":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(lease).Unix(), 10)},
			":ua":          &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("#s = :completed" +
			" AND (attribute_not_exists(provisioning_status) OR provisioning_status <> :provisioned)" +
			" AND (attribute_not_exists(provisioning_lease) OR provisioning_lease < :now)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrProvisioningClaimed
		}
		return fmt.Errorf("update item (claim provisioning): %w", err)
	}
	return nil
}

// RecordProvisioning stores the outcome of a provisioning attempt and bumps the
// attempt counter. detail is the instance id on success or the error text on failure.
func (s *Store) RecordProvisioning(ctx context.Context, orderID, status, detail string) error {
	now := s.nowFunc().UTC()
	expr := "SET provisioning_status = :ps, provisioning_attempts = if_not_exists(provisioning_attempts, :zero) + :inc, updated_at = :ua, "
	values := map[string]types.AttributeValue{
		":ps":   &types.AttributeValueMemberS{Value: status},
		":zero": &types.AttributeValueMemberN{Value: "0"},
		":inc":  &types.AttributeValueMemberN{Value: "1"},
		":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":d":    &types.AttributeValueMemberS{Value: detail},
	}
	if status == ProvisioningProvisioned {
		expr += "instance_id = :d REMOVE provisioning_error, provisioning_lease"
	} else {
		expr += "provisioning_error = :d REMOVE provisioning_lease"
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          &expr,
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString("attribute_exists(order_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update item (record provisioning): %w", err)
	}
	return nil
}

// RecordNotification stores the outcome of the confirmation email.
func (s *Store) RecordNotification(ctx context.Context, orderID, status, detail string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET notification_status = :ns, notification_error = :ne, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ns": &types.AttributeValueMemberS{Value: status},
			":ne": &types.AttributeValueMemberS{Value: detail},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("attribute_exists(order_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update item (record notification): %w", err)
	}
	return nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

// isConditionalFailure matches both the typed exception and the generic API error code.
func isConditionalFailure(err error) bool {
	var cc *types.ConditionalCheckFailedException
	if errors.As(err, &cc) {
		return true
	}
	var api smithy.APIError
	return errors.As(err, &api) && api.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }
