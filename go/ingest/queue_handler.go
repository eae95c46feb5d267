package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/oslokommune/data-uploader/go/frame"
	"github.com/oslokommune/data-uploader/go/metadata"
	"github.com/oslokommune/data-uploader/go/queue"
	"github.com/oslokommune/data-uploader/go/storage"
)

// HandleQueueMessage re-enters the pipeline for one enqueued event
// batch. Authorization was already verified at enqueue time. A returned
// error leaves the message to the queue's redelivery; there is no
// user-visible error channel on this path.
func (a *API) HandleQueueMessage(ctx context.Context, msg *queue.Message) (string, error) {
	var traceID = msg.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	var logger = log.WithField("traceId", traceID)

	var env pushEventsEnvelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		return "", fmt.Errorf("parsing queued envelope: %w", err)
	}
	if env.Version == "" {
		env.Version = "1"
	}

	ds, err := a.Metadata.GetDataset(ctx, env.DatasetID)
	if err != nil {
		return "", err
	}
	if err = a.Metadata.ValidateSourceType(ds, metadata.SourceTypeEvent); err != nil {
		return "", err
	}

	sourcePath, err := a.Paths.URL(ds, env.DatasetID+"/"+env.Version+"/latest", storage.StageProcessed, "")
	if err != nil {
		return "", err
	}
	logger.WithFields(log.Fields{
		"datasetId":    env.DatasetID,
		"version":      env.Version,
		"sourceS3Path": sourcePath,
	}).Info("handling queued event batch")

	batch, err := frame.DecodeBatch(env.Events)
	if err != nil {
		return "", fmt.Errorf("parsing queued events: %w", err)
	}
	editionID, err := a.Writer.HandleEvents(ctx, ds, env.Version, env.MergeOn, env.Events, batch)
	if err != nil {
		return "", err
	}

	if err = a.Status.Finish(ctx, traceID); err != nil {
		logger.WithField("err", err).Error("failed to finish status trace")
	}
	return editionID, nil
}
