package aws

import (
	"context"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSClients is the set of service clients shared by the order store, the
// provisioning retry queue and the metrics publisher.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewAWSClients loads the AWS config and builds every client from it.
func NewAWSClients(ctx context.Context) (*AWSClients, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return ClientsFromConfig(cfg), nil
}

// ClientsFromConfig builds the clients from an already loaded config.
// DynamoDB uses adaptive retries so throttled conditional writes back off.
func ClientsFromConfig(cfg sdkaws.Config) *AWSClients {
	ddb := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.RetryMode = sdkaws.RetryModeAdaptive
	})
	return &AWSClients{
		DynamoDB:   ddb,
		SQS:        sqs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}
}
