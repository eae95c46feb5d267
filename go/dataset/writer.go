package dataset

import (
	"context"
	"fmt"
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/oslokommune/data-uploader/go/frame"
	"github.com/oslokommune/data-uploader/go/metadata"
	"github.com/oslokommune/data-uploader/go/storage"
	"github.com/oslokommune/data-uploader/go/uploader"
)

// MetadataAPI is the slice of the metadata service used by the Writer.
type MetadataAPI interface {
	CreateEdition(ctx context.Context, token, datasetID, version string) (string, error)
	CreateDistribution(ctx context.Context, token string, dist metadata.Distribution) error
}

// Alerter notifies dataset subscribers of new columns.
type Alerter interface {
	NewColumns(ctx context.Context, datasetID string, newColumns []string) error
}

// Writer publishes merged event batches as new dataset editions.
type Writer struct {
	Blob     storage.Blob
	Paths    storage.Paths
	Metadata MetadataAPI
	Alerts   Alerter
}

// HandleEvents merges the batch into the dataset version's latest table
// and publishes the result as a new edition: the raw batch is archived,
// the edition and the latest pointer are rewritten, a distribution is
// registered, and subscribers are notified of schema drift. It returns
// the new edition id.
//
// The raw archive strictly precedes the destructive latest rewrite, so
// the input is always recoverable. Notifier failures are logged and do
// not fail the pipeline.
func (w *Writer) HandleEvents(ctx context.Context, ds *metadata.Dataset, version string, mergeOn []string, rawEvents []byte, batch frame.Batch) (string, error) {
	var latestKey, err = w.Paths.Key(ds, fmt.Sprintf("%s/%s/latest", ds.ID, version), storage.StageProcessed, "")
	if err != nil {
		return "", err
	}

	merged, newColumns, err := Merge(ctx, w.Blob, latestKey, batch, mergeOn)
	if err != nil {
		return "", err
	}

	editionID, err := w.Metadata.CreateEdition(ctx, "", ds.ID, version)
	if err != nil {
		return "", err
	}
	rawKey, err := w.Paths.Key(ds, editionID, storage.StageRaw, "data.json")
	if err != nil {
		return "", err
	}
	editionKey, err := w.Paths.Key(ds, editionID, storage.StageProcessed, "")
	if err != nil {
		return "", err
	}

	if err = w.Blob.Put(ctx, rawKey, rawEvents, "application/json"); err != nil {
		return "", fmt.Errorf("archiving raw batch: %w", err)
	}

	// A crash here leaves the latest path empty until the next run; the
	// just-created edition path is authoritative and re-runs converge.
	stale, err := w.Blob.List(ctx, latestKey+"/")
	if err != nil {
		return "", err
	}
	if err = w.Blob.Delete(ctx, stale...); err != nil {
		return "", fmt.Errorf("clearing latest of %s/%s: %w", ds.ID, version, err)
	}

	if err = storage.WriteTable(ctx, w.Blob, editionKey, merged); err != nil {
		return "", err
	}
	if err = storage.WriteTable(ctx, w.Blob, latestKey, merged); err != nil {
		return "", err
	}

	objects, err := w.Blob.List(ctx, editionKey+"/")
	if err != nil {
		return "", err
	}
	var filenames = make([]string, len(objects))
	for i, key := range objects {
		filenames[i] = path.Base(key)
	}
	if err = w.Metadata.CreateDistribution(ctx, "", metadata.Distribution{
		EditionID:        editionID,
		DistributionType: "file",
		ContentType:      storage.TableContentType,
		Filenames:        filenames,
	}); err != nil {
		return "", err
	}

	if err = w.Alerts.NewColumns(ctx, ds.ID, newColumns); err != nil {
		alertFailuresTotal.Inc()
		log.WithFields(log.Fields{
			"datasetId": ds.ID,
			"kind":      uploader.KindOf(err),
			"err":       err,
		}).Error("schema-drift notification failed")
	}

	rowsIngestedTotal.Add(float64(len(batch)))
	editionsPublishedTotal.Inc()

	log.WithFields(log.Fields{
		"datasetId":  ds.ID,
		"editionId":  editionID,
		"rows":       merged.Len(),
		"newColumns": newColumns,
	}).Info("published dataset edition")
	return editionID, nil
}
