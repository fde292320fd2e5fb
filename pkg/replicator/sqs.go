package replicator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSClient is the slice of the SQS API the queue driver needs.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// sqsDriver publishes one message per entry to an SQS queue.
type sqsDriver struct {
	client   SQSClient
	queueURL string
}

// NewSQS returns the queue driver. Messages carry the mutation as a
// JSON body with op and resource message attributes for consumer-side
// filtering.
func NewSQS(client SQSClient, queueURL string) Driver {
	return &sqsDriver{client: client, queueURL: queueURL}
}

func (d *sqsDriver) Name() string { return "queue" }

func (d *sqsDriver) Apply(ctx context.Context, e Entry) error {
	body, err := json.Marshal(map[string]any{
		"op":       e.Op,
		"resource": e.Resource,
		"id":       e.RecordID,
		"record":   e.Record,
	})
	if err != nil {
		return fmt.Errorf("marshal sqs message: %w", err)
	}

	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"op": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.Op),
			},
			"resource": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.Resource),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send for %s/%s: %w", e.Resource, e.RecordID, err)
	}
	return nil
}
