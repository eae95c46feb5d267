// Package ingest dispatches request envelopes of the data uploader:
// event batches pushed to event-typed datasets, signed-post requests for
// file-typed datasets, and event batches re-entering from the queue.
package ingest

import (
	"encoding/json"
	"strings"

	"github.com/oslokommune/data-uploader/go/uploader"
)

// Request is an already-parsed gateway request envelope.
type Request struct {
	Body           string            `json:"body"`
	Headers        map[string]string `json:"headers"`
	RequestContext RequestContext    `json:"requestContext"`
}

// RequestContext carries the gateway's view of the caller.
type RequestContext struct {
	Authorizer RequestAuthorizer `json:"authorizer"`
}

// RequestAuthorizer names the authenticated principal, when the gateway
// resolved one.
type RequestAuthorizer struct {
	PrincipalID string `json:"principalId"`
}

// BearerToken extracts the bearer token of the Authorization header.
func (r Request) BearerToken() string {
	var header = r.Headers["Authorization"]
	var parts = strings.Split(header, " ")
	return parts[len(parts)-1]
}

// Principal returns the gateway principal of the request, if any.
func (r Request) Principal() string {
	return r.RequestContext.Authorizer.PrincipalID
}

// Response is a gateway response envelope.
type Response struct {
	IsBase64Encoded bool              `json:"isBase64Encoded"`
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
}

func respond(status int, payload interface{}) Response {
	var body, _ = json.Marshal(payload)
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Access-Control-Allow-Origin": "*"},
		Body:       string(body),
	}
}

func errorResponse(status int, message string) Response {
	return respond(status, map[string]string{"message": message})
}

// errorOf maps a classified pipeline error onto its response. Detail of
// unclassified errors is never surfaced, and conflicts carry a fixed
// body: the detailed message stays on the error value for logs.
func errorOf(err error) Response {
	switch kind := uploader.KindOf(err); kind {
	case uploader.Internal:
		return errorResponse(500, "Internal server error")
	case uploader.DataExists:
		return errorResponse(kind.Status(), "Could not create data as resource already exists")
	default:
		return errorResponse(kind.Status(), err.Error())
	}
}
