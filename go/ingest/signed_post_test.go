package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignedPost(t *testing.T) {
	var h = newHarness(t)

	var resp = h.api.SignedPost(context.Background(), Request{
		Body: `{"editionId": "file-ds/1/e1", "filename": "data.csv"}`,
	})
	require.Equal(t, 200, resp.StatusCode)

	var body = bodyOf(t, resp)
	require.Equal(t, "https://s3.eu-west-1.amazonaws.com/test-bucket", body["url"])
	require.Equal(t, "trace-1", body["trace_id"])

	var fields = body["fields"].(map[string]interface{})
	require.Equal(t, "raw/yellow/file-ds/version=1/edition=e1/data.csv", fields["key"])
	require.Equal(t, "private", fields["acl"])
	require.NotEmpty(t, fields["x-amz-signature"])

	require.Len(t, h.traces, 1)
	require.Equal(t, "file-ds/1", h.traces[0]["domain_id"])
	require.Equal(t, "upload", h.traces[0]["operation"])
	require.Equal(t, "s3://test-bucket/raw/yellow/file-ds/version=1/edition=e1/data.csv",
		h.traces[0]["s3_path"])
}

func TestSignedPostCreatesMissingEdition(t *testing.T) {
	var h = newHarness(t)

	for _, editionID := range []string{"file-ds/1", "file-ds/1/"} {
		var resp = h.api.SignedPost(context.Background(), Request{
			Body: `{"editionId": "` + editionID + `", "filename": "data.csv"}`,
		})
		require.Equal(t, 200, resp.StatusCode, editionID)

		var fields = bodyOf(t, resp)["fields"].(map[string]interface{})
		require.Equal(t,
			"raw/yellow/file-ds/version=1/edition=2024-10-22T14:43:47/data.csv",
			fields["key"], editionID)
	}
}

func TestSignedPostErrors(t *testing.T) {
	var h = newHarness(t)

	var cases = []struct {
		body    string
		status  int
		message string
	}{
		{`{"filename": "data.csv"}`, 400, ""},
		{`{"editionId": "file-ds", "filename": "data.csv"}`, 422,
			"Invalid dataset edition format"},
		{`{"editionId": "file-ds/1/e1/extra", "filename": "data.csv"}`, 422,
			"Invalid dataset edition format"},
		{`{"editionId": "nope/1/e1", "filename": "data.csv"}`, 404,
			"Dataset nope does not exist"},
		{`{"editionId": "ds1/1/e1", "filename": "data.csv"}`, 400,
			"Invalid source.type 'event' for dataset ds1. Must be source.type='file'."},
		{`{"editionId": "file-ds/1/unknown", "filename": "data.csv"}`, 400,
			"Incorrect dataset edition"},
	}
	for _, tc := range cases {
		var resp = h.api.SignedPost(context.Background(), Request{Body: tc.body})
		require.Equal(t, tc.status, resp.StatusCode, tc.body)
		if tc.message != "" {
			require.Equal(t, tc.message, bodyOf(t, resp)["message"], tc.body)
		}
	}
}
