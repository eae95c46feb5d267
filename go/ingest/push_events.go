package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oslokommune/data-uploader/go/auth"
	"github.com/oslokommune/data-uploader/go/dataset"
	"github.com/oslokommune/data-uploader/go/frame"
	"github.com/oslokommune/data-uploader/go/lock"
	"github.com/oslokommune/data-uploader/go/metadata"
	"github.com/oslokommune/data-uploader/go/queue"
	"github.com/oslokommune/data-uploader/go/schema"
	"github.com/oslokommune/data-uploader/go/signing"
	"github.com/oslokommune/data-uploader/go/status"
	"github.com/oslokommune/data-uploader/go/storage"
)

// maxQueuedBody bounds raw body bytes on the asynchronous path; the
// queue rejects larger messages.
const maxQueuedBody = 256 * 1024

// API implements the uploader's request dispatching.
type API struct {
	Registry   *schema.Registry
	Authorizer *auth.Authorizer
	Metadata   *metadata.Client
	Locker     *lock.Locker
	Writer     *dataset.Writer
	Queue      *queue.Client
	Status     *status.Client
	Paths      storage.Paths
	Signer     *signing.Signer
}

// pushEventsEnvelope is the push-events request body.
type pushEventsEnvelope struct {
	DatasetID  string          `json:"datasetId"`
	Events     json.RawMessage `json:"events"`
	MergeOn    []string        `json:"mergeOn"`
	Version    string          `json:"version"`
	APIVersion int             `json:"apiVersion"`
}

// PushEvents handles one push-events request: it validates the envelope,
// enforces authorization, resolves the dataset as event-typed, and
// either runs the synchronous pipeline under the dataset's write lock
// (v1) or enqueues the raw body to the FIFO queue (v2).
func (a *API) PushEvents(ctx context.Context, req Request) Response {
	if err := a.Registry.Validate(schema.PushEventsRequest, []byte(req.Body)); err != nil {
		return a.observe("push-events", errorOf(err))
	}
	var env pushEventsEnvelope
	if err := json.Unmarshal([]byte(req.Body), &env); err != nil {
		return a.observe("push-events", errorResponse(400, "Body is not a valid JSON document"))
	}
	if env.Version == "" {
		env.Version = "1"
	}

	var token = req.BearerToken()
	if !a.Authorizer.HasAccess(ctx, token, auth.ScopeDatasetWrite, auth.DatasetResource(env.DatasetID)) {
		return a.observe("push-events", errorResponse(403, "Forbidden"))
	}

	ds, err := a.Metadata.GetDataset(ctx, env.DatasetID)
	if err != nil {
		return a.observe("push-events", errorOf(err))
	}
	if err = a.Metadata.ValidateSourceType(ds, metadata.SourceTypeEvent); err != nil {
		return a.observe("push-events", errorOf(err))
	}

	sourcePath, err := a.Paths.URL(ds, env.DatasetID+"/"+env.Version+"/latest", storage.StageProcessed, "")
	if err != nil {
		return a.observe("push-events", errorOf(err))
	}
	log.WithFields(log.Fields{
		"datasetId":    env.DatasetID,
		"version":      env.Version,
		"sourceS3Path": sourcePath,
		"apiVersion":   env.APIVersion,
	}).Info("handling push-events request")

	if env.APIVersion == 2 {
		return a.observe("push-events", a.enqueueEvents(ctx, req, env, sourcePath))
	}
	return a.observe("push-events", a.handleEventsLocked(ctx, ds, env))
}

// enqueueEvents is the v2 path: record a status trace and hand the raw
// body to the FIFO queue, which serializes handling per dataset.
func (a *API) enqueueEvents(ctx context.Context, req Request, env pushEventsEnvelope, sourcePath string) Response {
	if len(req.Body) >= maxQueuedBody {
		return errorResponse(400, "Body is too large; must be below 256 KiB")
	}

	var user = req.Principal()
	if user == "" {
		user = auth.Principal(req.BearerToken())
	}
	var now = time.Now().UTC()
	var traceID, err = a.Status.StartTrace(ctx, status.Trace{
		DomainID:  env.DatasetID + "/" + env.Version,
		Operation: "push-events",
		User:      user,
		StartTime: now,
		EndTime:   now,
		S3Path:    sourcePath,
	})
	if err != nil {
		// The enqueue proceeds without a trace.
		log.WithFields(log.Fields{"datasetId": env.DatasetID, "err": err}).
			Error("failed to create status trace")
	}

	if err = a.Queue.Send(ctx, env.DatasetID, req.Body, traceID); err != nil {
		return errorOf(err)
	}
	return respond(200, map[string]string{"trace_id": traceID})
}

// handleEventsLocked is the v1 path: run the pipeline while holding the
// dataset's write lock.
func (a *API) handleEventsLocked(ctx context.Context, ds *metadata.Dataset, env pushEventsEnvelope) Response {
	var batch, err = frame.DecodeBatch(env.Events)
	if err != nil {
		return errorResponse(400, "Body is not a valid JSON document")
	}

	var editionID string
	err = a.Locker.WithLock(ctx, ds.ID, func(ctx context.Context) error {
		var err error
		editionID, err = a.Writer.HandleEvents(ctx, ds, env.Version, env.MergeOn, env.Events, batch)
		return err
	})
	if err != nil {
		return errorOf(err)
	}
	return respond(201, map[string]string{"editionId": editionID})
}

func (a *API) observe(handler string, resp Response) Response {
	requestsTotal.WithLabelValues(handler, strconv.Itoa(resp.StatusCode)).Inc()
	return resp
}
