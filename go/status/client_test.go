package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartTrace(t *testing.T) {
	var posted []map[string]interface{}
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body, _ = io.ReadAll(r.Body)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		posted = append(posted, payload)
		w.Write([]byte(`{"trace_id": "trace-1"}`))
	}))
	defer server.Close()

	var traceID, err = NewClient(server.URL).StartTrace(context.Background(), Trace{
		DomainID:  "ds1/1",
		Operation: "push-events",
		User:      "janedoe",
		StartTime: time.Date(2024, 10, 22, 14, 43, 47, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "trace-1", traceID)

	require.Len(t, posted, 1)
	require.Equal(t, "dataset", posted[0]["domain"])
	require.Equal(t, "ds1/1", posted[0]["domain_id"])
	require.Equal(t, "data-uploader", posted[0]["component"])
	require.Equal(t, "push-events", posted[0]["operation"])
	require.Equal(t, "janedoe", posted[0]["user"])
	require.NotContains(t, posted[0], "s3_path")
}

func TestStartTraceWithPath(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body, _ = io.ReadAll(r.Body)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "s3://bucket/raw/green/ds1/version=1/edition=e/file.csv", payload["s3_path"])
		w.Write([]byte(`{"trace_id": "trace-2"}`))
	}))
	defer server.Close()

	var traceID, err = NewClient(server.URL).StartTrace(context.Background(), Trace{
		DomainID:  "ds1/1/e",
		Operation: "upload",
		S3Path:    "s3://bucket/raw/green/ds1/version=1/edition=e/file.csv",
	})
	require.NoError(t, err)
	require.Equal(t, "trace-2", traceID)
}

func TestStartTraceFailure(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	var _, err = NewClient(server.URL).StartTrace(context.Background(), Trace{DomainID: "ds1/1"})
	require.ErrorContains(t, err, "status API returned 500")
}

func TestFinish(t *testing.T) {
	var finished []map[string]string
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body, _ = io.ReadAll(r.Body)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		finished = append(finished, payload)
	}))
	defer server.Close()

	require.NoError(t, NewClient(server.URL).Finish(context.Background(), "trace-1"))
	require.Equal(t, []map[string]string{
		{"trace_id": "trace-1", "trace_status": "FINISHED"},
	}, finished)
}
