package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics publishes workflow counters to CloudWatch.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	service   string
	nowFunc   func() time.Time
}

// NewMetrics returns a Metrics publisher. service is used as the Service dimension.
func NewMetrics(client CloudWatchAPI, namespace, service string) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		service:   service,
		nowFunc:   time.Now,
	}
}

// Count publishes a single count datapoint for name.
func (m *Metrics) Count(ctx context.Context, name string) error {
	value := 1.0
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awsString(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Unit:       cwtypes.StandardUnitCount,
				Value:      &value,
				Timestamp:  timePtr(m.nowFunc()),
				Dimensions: []cwtypes.Dimension{
					{Name: awsString("Service"), Value: awsString(m.service)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
