package aws

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricRecorder pushes business counters to CloudWatch under a namespace.
type MetricRecorder struct {
	client    CloudWatchAPI
	namespace string
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewMetricRecorder returns a recorder bound to namespace.
func NewMetricRecorder(client CloudWatchAPI, namespace string, logger *slog.Logger) *MetricRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Count records value for metric as a Count datapoint.
// Failures are logged, never returned: metrics must not fail a request.
func (m *MetricRecorder) Count(ctx context.Context, metric string, value float64) {
	if err := m.put(ctx, metric, value); err != nil {
		m.logger.Warn("cloudwatch put metric failed", "metric", metric, "err", err)
	}
}

func (m *MetricRecorder) put(ctx context.Context, metric string, value float64) error {
	now := m.nowFunc()
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(metric),
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &now,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
