package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/stretchr/testify/require"

	"github.com/oslokommune/data-uploader/go/auth"
	"github.com/oslokommune/data-uploader/go/dataset"
	"github.com/oslokommune/data-uploader/go/lock"
	"github.com/oslokommune/data-uploader/go/metadata"
	"github.com/oslokommune/data-uploader/go/queue"
	"github.com/oslokommune/data-uploader/go/schema"
	"github.com/oslokommune/data-uploader/go/signing"
	"github.com/oslokommune/data-uploader/go/status"
	"github.com/oslokommune/data-uploader/go/storage"
)

// fakeLockTable admits every conditional put.
type fakeLockTable struct {
	locks, unlocks int
}

func (f *fakeLockTable) PutItemWithContext(_ aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.locks++
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLockTable) DeleteItemWithContext(_ aws.Context, in *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	f.unlocks++
	return &dynamodb.DeleteItemOutput{}, nil
}

// fakeSQS delivers one pending message per poll.
type fakeSQS struct {
	mu      sync.Mutex
	sendErr error
	sends   []*sqs.SendMessageInput
	pending []*sqs.Message
	deleted []string
}

func (f *fakeSQS) GetQueueUrlWithContext(_ aws.Context, in *sqs.GetQueueUrlInput, _ ...request.Option) (*sqs.GetQueueUrlOutput, error) {
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.invalid/" + *in.QueueName)}, nil
}

func (f *fakeSQS) SendMessageWithContext(_ aws.Context, in *sqs.SendMessageInput, _ ...request.Option) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessageWithContext(_ aws.Context, in *sqs.ReceiveMessageInput, _ ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	var msg = f.pending[0]
	f.pending = f.pending[1:]
	return &sqs.ReceiveMessageOutput{Messages: []*sqs.Message{msg}}, nil
}

func (f *fakeSQS) DeleteMessageWithContext(_ aws.Context, in *sqs.DeleteMessageInput, _ ...request.Option) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeAlerter struct {
	newColumns []string
}

func (a *fakeAlerter) NewColumns(_ context.Context, _ string, newColumns []string) error {
	a.newColumns = newColumns
	return nil
}

// harness wires an API against httptest metadata and status services,
// an in-memory blob store, and fake AWS clients.
type harness struct {
	api   *API
	blob  *storage.Memory
	locks *fakeLockTable
	sqs   *fakeSQS

	traces   []map[string]interface{}
	finished []map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var h = &harness{
		blob:  storage.NewMemory(),
		locks: &fakeLockTable{},
		sqs:   &fakeSQS{},
	}

	var meta = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/datasets/ds1":
			fmt.Fprint(w, `{"Id": "ds1", "source": {"type": "event"}}`)
		case r.URL.Path == "/datasets/file-ds":
			fmt.Fprint(w, `{"Id": "file-ds", "accessRights": "restricted", "source": {"type": "file"}}`)
		case r.URL.Path == "/datasets/file-ds/versions/1":
			fmt.Fprint(w, `{"Id": "file-ds/1"}`)
		case r.URL.Path == "/datasets/file-ds/versions/1/editions/e1":
			fmt.Fprint(w, `{"Id": "file-ds/1/e1"}`)
		case r.URL.Path == "/datasets/dup-ds":
			fmt.Fprint(w, `{"Id": "dup-ds", "source": {"type": "event"}}`)
		case r.Method == "POST" && strings.HasPrefix(r.URL.Path, "/datasets/dup-ds/"):
			http.Error(w, "exists", http.StatusConflict)
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/editions"):
			var datasetID = strings.Split(r.URL.Path, "/")[2]
			fmt.Fprintf(w, "%q", datasetID+"/1/2024-10-22T14:43:47")
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/distributions"):
			fmt.Fprint(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(meta.Close)

	var statusAPI = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		if payload["trace_status"] == "FINISHED" {
			h.finished = append(h.finished, map[string]string{
				"trace_id": payload["trace_id"].(string),
			})
			fmt.Fprint(w, `{}`)
			return
		}
		h.traces = append(h.traces, payload)
		fmt.Fprint(w, `{"trace_id": "trace-1"}`)
	}))
	t.Cleanup(statusAPI.Close)

	var registry, err = schema.NewRegistry()
	require.NoError(t, err)

	var metaClient = metadata.NewClient(meta.URL, "service-token")
	var paths = storage.Paths{Bucket: "test-bucket"}
	var locker = lock.NewLocker(h.locks, lock.DefaultTable)
	locker.WaitInterval = time.Millisecond

	h.api = &API{
		Registry:   registry,
		Authorizer: auth.NewAuthorizer("http://authorizer.invalid", false),
		Metadata:   metaClient,
		Locker:     locker,
		Writer: &dataset.Writer{
			Blob:     h.blob,
			Paths:    paths,
			Metadata: metaClient,
			Alerts:   &fakeAlerter{},
		},
		Queue:  queue.NewClient(h.sqs, "event-queue.fifo"),
		Status: status.NewClient(statusAPI.URL),
		Paths:  paths,
		Signer: &signing.Signer{
			Region: "eu-west-1",
			Bucket: "test-bucket",
			Credentials: func() (signing.Credentials, error) {
				return signing.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "secret"}, nil
			},
		},
	}
	return h
}

func bodyOf(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &payload))
	return payload
}

func TestPushEventsV1(t *testing.T) {
	var h = newHarness(t)

	var resp = h.api.PushEvents(context.Background(), Request{
		Body: `{"datasetId": "ds1", "events": [{"id": 1, "data": "a"}, {"id": 2, "data": "b"}]}`,
	})
	require.Equal(t, 201, resp.StatusCode)
	require.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	require.Equal(t, map[string]interface{}{
		"editionId": "ds1/1/2024-10-22T14:43:47",
	}, bodyOf(t, resp))

	// The pipeline ran under the dataset's write lock.
	require.Equal(t, 1, h.locks.locks)
	require.Equal(t, 1, h.locks.unlocks)

	// The raw batch was archived and the table published.
	var keys, err = h.blob.List(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, []string{
		"processed/green/ds1/version=1/edition=2024-10-22T14:43:47/part-00000.parquet",
		"processed/green/ds1/version=1/latest/part-00000.parquet",
		"raw/green/ds1/version=1/edition=2024-10-22T14:43:47/data.json",
	}, keys)

	table, err := storage.ReadTable(context.Background(), h.blob,
		"processed/green/ds1/version=1/latest")
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	// Nothing was enqueued on the synchronous path.
	require.Empty(t, h.sqs.sends)
	require.Empty(t, h.traces)
}

func TestPushEventsV2Enqueues(t *testing.T) {
	var h = newHarness(t)
	var body = `{"datasetId": "ds1", "events": [{"id": 1}], "apiVersion": 2}`

	var resp = h.api.PushEvents(context.Background(), Request{Body: body})
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, map[string]interface{}{"trace_id": "trace-1"}, bodyOf(t, resp))

	require.Len(t, h.sqs.sends, 1)
	require.Equal(t, "data-uploader-ds1", *h.sqs.sends[0].MessageGroupId)
	require.Equal(t, body, *h.sqs.sends[0].MessageBody)
	require.Equal(t, "trace-1", *h.sqs.sends[0].MessageAttributes["trace_id"].StringValue)

	require.Len(t, h.traces, 1)
	require.Equal(t, "ds1/1", h.traces[0]["domain_id"])
	require.Equal(t, "push-events", h.traces[0]["operation"])

	// The synchronous pipeline did not run.
	require.Equal(t, 0, h.locks.locks)
	keys, err := h.blob.List(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

// paddedBody builds a well-formed v2 envelope of exactly size bytes.
func paddedBody(t *testing.T, size int) string {
	t.Helper()
	var skeleton = `{"datasetId": "ds1", "events": [{"p": ""}], "apiVersion": 2}`
	require.Greater(t, size, len(skeleton))
	var body = fmt.Sprintf(`{"datasetId": "ds1", "events": [{"p": "%s"}], "apiVersion": 2}`,
		strings.Repeat("x", size-len(skeleton)))
	require.Len(t, body, size)
	return body
}

func TestPushEventsV2BodySizeBoundary(t *testing.T) {
	var h = newHarness(t)

	// Exactly 256 KiB is rejected before anything is enqueued.
	var resp = h.api.PushEvents(context.Background(), Request{Body: paddedBody(t, 256*1024)})
	require.Equal(t, 400, resp.StatusCode)
	require.Equal(t, map[string]interface{}{
		"message": "Body is too large; must be below 256 KiB",
	}, bodyOf(t, resp))
	require.Empty(t, h.sqs.sends)

	// One byte under the limit is accepted.
	resp = h.api.PushEvents(context.Background(), Request{Body: paddedBody(t, 256*1024-1)})
	require.Equal(t, 200, resp.StatusCode)
	require.Len(t, h.sqs.sends, 1)
}

func TestPushEventsEditionConflict(t *testing.T) {
	var h = newHarness(t)

	var resp = h.api.PushEvents(context.Background(), Request{
		Body: `{"datasetId": "dup-ds", "events": [{"id": 1}]}`,
	})
	require.Equal(t, 409, resp.StatusCode)
	require.Equal(t, map[string]interface{}{
		"message": "Could not create data as resource already exists",
	}, bodyOf(t, resp))
}

func TestPushEventsV2QueueUnavailable(t *testing.T) {
	var h = newHarness(t)
	h.sqs.sendErr = awserr.New("ServiceUnavailable", "sqs is down", nil)

	var resp = h.api.PushEvents(context.Background(), Request{
		Body: `{"datasetId": "ds1", "events": [{"id": 1}], "apiVersion": 2}`,
	})
	require.Equal(t, 503, resp.StatusCode)
	require.Contains(t, bodyOf(t, resp)["message"], "Couldn't push data to the queue")
}

func TestPushEventsValidation(t *testing.T) {
	var h = newHarness(t)

	var cases = []struct {
		body    string
		status  int
		message string
	}{
		{`not json`, 400, "Body is not a valid JSON document"},
		{`{"events": [{"id": 1}]}`, 400, ""},
		{`{"datasetId": "nope", "events": [{"id": 1}]}`, 404, "Dataset nope does not exist"},
		{`{"datasetId": "file-ds", "events": [{"id": 1}]}`, 400,
			"Invalid source.type 'file' for dataset file-ds. Must be source.type='event'."},
		{`{"datasetId": "ds1", "events": [{"id": 1, "bad": {"nested": true}}]}`, 400,
			"Invalid or mixed types detected in column(s): bad"},
	}
	for _, tc := range cases {
		var resp = h.api.PushEvents(context.Background(), Request{Body: tc.body})
		require.Equal(t, tc.status, resp.StatusCode, tc.body)
		if tc.message != "" {
			require.Equal(t, tc.message, bodyOf(t, resp)["message"], tc.body)
		}
	}
}

func TestPushEventsForbidden(t *testing.T) {
	var authorizer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access": false}`)
	}))
	defer authorizer.Close()

	var h = newHarness(t)
	h.api.Authorizer = auth.NewAuthorizer(authorizer.URL, true)

	var resp = h.api.PushEvents(context.Background(), Request{
		Body:    `{"datasetId": "ds1", "events": [{"id": 1}]}`,
		Headers: map[string]string{"Authorization": "Bearer some-token"},
	})
	require.Equal(t, 403, resp.StatusCode)
	require.Equal(t, map[string]interface{}{"message": "Forbidden"}, bodyOf(t, resp))
}
