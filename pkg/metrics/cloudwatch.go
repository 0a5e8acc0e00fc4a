package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names emitted to CloudWatch.
const (
	MetricRunFailed   = "RunFailed"
	MetricWorkerError = "WorkerError"
)

// CloudWatchSink implements Sink with PutMetricData. Emission failures are
// logged and swallowed; metrics never fail a run.
type CloudWatchSink struct {
	client    *cloudwatch.Client
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchSink builds a sink from the default AWS config chain.
func NewCloudWatchSink(ctx context.Context, namespace string, logger *slog.Logger) (*CloudWatchSink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &CloudWatchSink{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: namespace,
		logger:    logger.With("component", "metrics"),
	}, nil
}

func (s *CloudWatchSink) put(ctx context.Context, name string, value float64, dimensions []types.Dimension) {
	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(s.namespace),
		MetricData: []types.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       types.StandardUnitCount,
			Dimensions: dimensions,
		}},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "cloudwatch metric failed", "metric", name, "error", err)
	}
}

// RecordRunFailure implements Sink.
func (s *CloudWatchSink) RecordRunFailure(ctx context.Context, tenantID string, failed bool) {
	value := 0.0
	if failed {
		value = 1.0
	}
	s.put(ctx, MetricRunFailed, value, []types.Dimension{{
		Name:  aws.String("tenant_id"),
		Value: aws.String(tenantID),
	}})
	s.put(ctx, MetricRunFailed, value, nil)
}

// RecordWorkerError implements Sink.
func (s *CloudWatchSink) RecordWorkerError(ctx context.Context, errorType string) {
	s.put(ctx, MetricWorkerError, 1.0, []types.Dimension{{
		Name:  aws.String("error_type"),
		Value: aws.String(errorType),
	}})
}
