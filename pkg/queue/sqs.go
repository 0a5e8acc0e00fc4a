package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// receiveWaitSeconds is the long-poll window for one Receive call.
const receiveWaitSeconds = 5

// SQSQueue implements JobQueue on one SQS queue URL.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue builds an SQS-backed queue from the default AWS config chain.
func NewSQSQueue(ctx context.Context, queueURL string) (*SQSQueue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SQSQueue{client: sqs.NewFromConfig(awsCfg), queueURL: queueURL}, nil
}

// NewSQSQueueFromClient wraps an already-constructed client.
func NewSQSQueueFromClient(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

// Send enqueues one JSON body.
func (q *SQSQueue) Send(ctx context.Context, body []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}
	return nil
}

// Receive long-polls for at most one message, carrying its approximate
// receive count for poison detection.
func (q *SQSQueue) Receive(ctx context.Context) (*Message, error) {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       receiveWaitSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}
	if len(result.Messages) == 0 {
		return nil, nil
	}
	message := result.Messages[0]
	receiveCount := 1
	if raw, ok := message.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			receiveCount = parsed
		}
	}
	return &Message{
		ReceiptHandle: aws.ToString(message.ReceiptHandle),
		Body:          []byte(aws.ToString(message.Body)),
		ReceiveCount:  receiveCount,
	}, nil
}

// Delete removes a delivered message.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// ChangeVisibility extends or shortens a delivered message's visibility.
func (q *SQSQueue) ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(timeout.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
