package queue

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/stretchr/testify/require"

	"github.com/oslokommune/data-uploader/go/uploader"
)

type fakeSQS struct {
	urlLookups int
	sendErr    error
	sends      []*sqs.SendMessageInput
	pending    []*sqs.Message
	deleted    []string
}

func (f *fakeSQS) GetQueueUrlWithContext(_ aws.Context, in *sqs.GetQueueUrlInput, _ ...request.Option) (*sqs.GetQueueUrlOutput, error) {
	f.urlLookups++
	return &sqs.GetQueueUrlOutput{
		QueueUrl: aws.String("https://sqs.eu-west-1.amazonaws.com/123/" + *in.QueueName),
	}, nil
}

func (f *fakeSQS) SendMessageWithContext(_ aws.Context, in *sqs.SendMessageInput, _ ...request.Option) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessageWithContext(_ aws.Context, in *sqs.ReceiveMessageInput, _ ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	var out = &sqs.ReceiveMessageOutput{Messages: f.pending}
	f.pending = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessageWithContext(_ aws.Context, in *sqs.DeleteMessageInput, _ ...request.Option) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSend(t *testing.T) {
	var api = &fakeSQS{}
	var client = NewClient(api, "event-queue.fifo")

	require.NoError(t, client.Send(context.Background(), "ds1", `{"datasetId": "ds1"}`, "trace-1"))
	require.NoError(t, client.Send(context.Background(), "ds2", `{"datasetId": "ds2"}`, ""))

	require.Len(t, api.sends, 2)
	require.Equal(t, "data-uploader-ds1", *api.sends[0].MessageGroupId)
	require.Equal(t, `{"datasetId": "ds1"}`, *api.sends[0].MessageBody)
	require.Equal(t, "trace-1", *api.sends[0].MessageAttributes["trace_id"].StringValue)
	require.Nil(t, api.sends[1].MessageAttributes)

	// The queue URL is resolved once and cached.
	require.Equal(t, 1, api.urlLookups)
}

func TestSendFailureIsQueueUnavailable(t *testing.T) {
	var api = &fakeSQS{sendErr: awserr.New("ServiceUnavailable", "sqs is down", nil)}
	var err = NewClient(api, "event-queue.fifo").Send(context.Background(), "ds1", "{}", "")

	require.Equal(t, uploader.QueueUnavailable, uploader.KindOf(err))
	require.EqualError(t, err, "Couldn't push data to the queue. Please try again, "+
		"or contact Dataspeilet if the problem persists.")
}

func TestReceiveOneAndDelete(t *testing.T) {
	var api = &fakeSQS{pending: []*sqs.Message{{
		Body:          aws.String(`{"datasetId": "ds1"}`),
		ReceiptHandle: aws.String("rh-1"),
		MessageAttributes: map[string]*sqs.MessageAttributeValue{
			"trace_id": {DataType: aws.String("String"), StringValue: aws.String("trace-1")},
		},
	}}}
	var client = NewClient(api, "event-queue.fifo")

	var msg, err = client.ReceiveOne(context.Background())
	require.NoError(t, err)
	require.Equal(t, &Message{
		Body:          `{"datasetId": "ds1"}`,
		TraceID:       "trace-1",
		ReceiptHandle: "rh-1",
	}, msg)

	require.NoError(t, client.Delete(context.Background(), msg.ReceiptHandle))
	require.Equal(t, []string{"rh-1"}, api.deleted)

	// An elapsed empty poll is not an error.
	msg, err = client.ReceiveOne(context.Background())
	require.NoError(t, err)
	require.Nil(t, msg)
}
