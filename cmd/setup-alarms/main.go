// The setup-alarms binary provisions the CloudWatch alarms that watch the
// RunFailed and WorkerError metrics, fleet-wide and optionally per tenant.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/metrics"
)

func alarmName(prefix, name, tenantID string) string {
	if tenantID != "" {
		return fmt.Sprintf("%s-%s-%s", prefix, tenantID, name)
	}
	return fmt.Sprintf("%s-%s", prefix, name)
}

func dimensions(tenantID string) []types.Dimension {
	if tenantID == "" {
		return nil
	}
	return []types.Dimension{{
		Name:  aws.String("tenant_id"),
		Value: aws.String(tenantID),
	}}
}

func main() {
	namespace := flag.String("namespace", "RelayInventory", "CloudWatch metric namespace")
	prefix := flag.String("alarm-prefix", "relay-inventory", "Alarm name prefix")
	tenantID := flag.String("tenant", "", "Provision per-tenant alarms for this tenant_id")
	snsTopic := flag.String("sns-topic-arn", "", "Alarm action topic ARN")
	flag.Parse()

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	client := cloudwatch.NewFromConfig(awsCfg)

	var actions []string
	if *snsTopic != "" {
		actions = []string{*snsTopic}
	}

	alarms := []struct {
		name      string
		metric    string
		threshold float64
	}{
		{"run-failed", metrics.MetricRunFailed, 1},
		{"worker-errors", metrics.MetricWorkerError, 1},
	}
	for _, alarm := range alarms {
		input := &cloudwatch.PutMetricAlarmInput{
			AlarmName:          aws.String(alarmName(*prefix, alarm.name, *tenantID)),
			Namespace:          aws.String(*namespace),
			MetricName:         aws.String(alarm.metric),
			Statistic:          types.StatisticSum,
			Period:             aws.Int32(300),
			EvaluationPeriods:  aws.Int32(1),
			Threshold:          aws.Float64(alarm.threshold),
			ComparisonOperator: types.ComparisonOperatorGreaterThanOrEqualToThreshold,
			TreatMissingData:   aws.String("notBreaching"),
			Dimensions:         dimensions(*tenantID),
			AlarmActions:       actions,
		}
		if _, err := client.PutMetricAlarm(ctx, input); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		fmt.Println("created alarm", aws.ToString(input.AlarmName))
	}
}
