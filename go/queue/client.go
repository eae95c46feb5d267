// Package queue provides the FIFO event queue which serializes the
// asynchronous ingestion path per dataset.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	log "github.com/sirupsen/logrus"

	"github.com/oslokommune/data-uploader/go/uploader"
)

// receiveWaitSeconds is the long-poll interval of ReceiveOne.
const receiveWaitSeconds = 20

// sqsAPI is the subset of the SQS client used by this package.
type sqsAPI interface {
	GetQueueUrlWithContext(aws.Context, *sqs.GetQueueUrlInput, ...request.Option) (*sqs.GetQueueUrlOutput, error)
	SendMessageWithContext(aws.Context, *sqs.SendMessageInput, ...request.Option) (*sqs.SendMessageOutput, error)
	ReceiveMessageWithContext(aws.Context, *sqs.ReceiveMessageInput, ...request.Option) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageWithContext(aws.Context, *sqs.DeleteMessageInput, ...request.Option) (*sqs.DeleteMessageOutput, error)
}

// Message is one received queue message.
type Message struct {
	Body          string
	TraceID       string
	ReceiptHandle string
}

// Client sends to and receives from the FIFO event queue. The queue is
// content-deduplicating, and MessageGroupId serializes handling per
// dataset.
type Client struct {
	API       sqsAPI
	QueueName string

	mu  sync.Mutex
	url string
}

// NewClient returns a Client of the named FIFO queue.
func NewClient(api sqsAPI, queueName string) *Client {
	return &Client{API: api, QueueName: queueName}
}

// Send enqueues a raw event batch for the dataset, propagating traceID
// as a message attribute. Failures surface as QueueUnavailable.
func (c *Client) Send(ctx context.Context, datasetID, body, traceID string) error {
	var url, err = c.queueURL(ctx)
	if err == nil {
		var attributes map[string]*sqs.MessageAttributeValue
		if traceID != "" {
			attributes = map[string]*sqs.MessageAttributeValue{
				"trace_id": {
					DataType:    aws.String("String"),
					StringValue: aws.String(traceID),
				},
			}
		}
		_, err = c.API.SendMessageWithContext(ctx, &sqs.SendMessageInput{
			QueueUrl:          aws.String(url),
			MessageBody:       aws.String(body),
			MessageGroupId:    aws.String("data-uploader-" + datasetID),
			MessageAttributes: attributes,
		})
	}
	if err != nil {
		log.WithFields(log.Fields{"datasetId": datasetID, "err": err}).
			Error("failed to enqueue event batch")
		return uploader.Wrap(uploader.QueueUnavailable, err,
			"Couldn't push data to the queue. Please try again, or contact "+
				"Dataspeilet if the problem persists.")
	}
	messagesSentTotal.Inc()
	return nil
}

// ReceiveOne long-polls the queue for at most one message. It returns
// (nil, nil) when the poll elapses empty.
func (c *Client) ReceiveOne(ctx context.Context) (*Message, error) {
	var url, err = c.queueURL(ctx)
	if err != nil {
		return nil, err
	}

	out, err := c.API.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(url),
		MaxNumberOfMessages:   aws.Int64(1),
		WaitTimeSeconds:       aws.Int64(receiveWaitSeconds),
		MessageAttributeNames: []*string{aws.String("All")},
	})
	if err != nil {
		return nil, fmt.Errorf("receiving from %s: %w", c.QueueName, err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	var msg = out.Messages[0]
	var received = &Message{
		Body:          aws.StringValue(msg.Body),
		ReceiptHandle: aws.StringValue(msg.ReceiptHandle),
	}
	if attr := msg.MessageAttributes["trace_id"]; attr != nil {
		received.TraceID = aws.StringValue(attr.StringValue)
	}
	return received, nil
}

// Delete acknowledges a handled message.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	var url, err = c.queueURL(ctx)
	if err != nil {
		return err
	}
	if _, err = c.API.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		return fmt.Errorf("deleting message of %s: %w", c.QueueName, err)
	}
	return nil
}

func (c *Client) queueURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.url != "" {
		return c.url, nil
	}
	var out, err = c.API.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(c.QueueName),
	})
	if err != nil {
		return "", fmt.Errorf("resolving queue %s: %w", c.QueueName, err)
	}
	c.url = aws.StringValue(out.QueueUrl)
	return c.url, nil
}
