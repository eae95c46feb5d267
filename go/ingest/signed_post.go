package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oslokommune/data-uploader/go/auth"
	"github.com/oslokommune/data-uploader/go/metadata"
	"github.com/oslokommune/data-uploader/go/schema"
	"github.com/oslokommune/data-uploader/go/status"
	"github.com/oslokommune/data-uploader/go/storage"
	"github.com/oslokommune/data-uploader/go/uploader"
)

// signedPostExpiry bounds the validity of minted upload credentials.
const signedPostExpiry = 300 * time.Second

type signedPostEnvelope struct {
	EditionID string `json:"editionId"`
	Filename  string `json:"filename"`
}

// editionMissing reports whether the edition id names only a dataset
// version (datasetId/version, or with an empty edition part), asking for
// an edition to be auto-created.
func editionMissing(editionID string) bool {
	var parts = strings.Split(editionID, "/")
	return len(parts) == 2 || (len(parts) == 3 && parts[2] == "")
}

func validEditionFormat(editionID string) bool {
	var parts = strings.Split(editionID, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return false
	}
	return len(parts) == 2 || parts[2] != "" || editionMissing(editionID)
}

// SignedPost mints time-limited signed upload credentials for a
// file-typed dataset, auto-creating an edition when the request names
// only a version. The response carries the POST fields together with
// the id of the recorded upload trace.
func (a *API) SignedPost(ctx context.Context, req Request) Response {
	if err := a.Registry.Validate(schema.SignedPostRequest, []byte(req.Body)); err != nil {
		return a.observe("signed-post", errorOf(err))
	}
	var env signedPostEnvelope
	if err := json.Unmarshal([]byte(req.Body), &env); err != nil {
		return a.observe("signed-post", errorResponse(400, "Body is not a valid JSON document"))
	}
	if !validEditionFormat(env.EditionID) {
		return a.observe("signed-post", errorResponse(422, "Invalid dataset edition format"))
	}

	var parts = strings.Split(env.EditionID, "/")
	var datasetID, version = parts[0], parts[1]

	ds, err := a.Metadata.GetDataset(ctx, datasetID)
	if err != nil {
		return a.observe("signed-post", errorOf(err))
	}
	if err = a.Metadata.ValidateSourceType(ds, metadata.SourceTypeFile); err != nil {
		return a.observe("signed-post", errorOf(err))
	}

	var token = req.BearerToken()
	if !a.Authorizer.HasAccess(ctx, token, auth.ScopeDatasetWrite, auth.DatasetResource(datasetID)) {
		return a.observe("signed-post", errorResponse(403, "Forbidden"))
	}

	var editionID = env.EditionID
	var created bool
	if editionMissing(editionID) && a.Metadata.ValidateVersion(ctx, datasetID+"/"+version) {
		if editionID, err = a.Metadata.CreateEdition(ctx, token, datasetID, version); err != nil {
			return a.observe("signed-post", errorOf(err))
		}
		created = true
	}
	if !created && !a.Metadata.ValidateEdition(ctx, editionID) {
		return a.observe("signed-post",
			errorResponse(uploader.InvalidDatasetEdition.Status(), "Incorrect dataset edition"))
	}

	key, err := a.Paths.Key(ds, editionID, storage.StageRaw, env.Filename)
	if err != nil {
		return a.observe("signed-post", errorOf(err))
	}
	log.WithFields(log.Fields{
		"datasetId": datasetID,
		"editionId": editionID,
		"s3Key":     key,
	}).Info("minting signed post")

	var user = req.Principal()
	if user == "" {
		user = auth.Principal(token)
	}
	var now = time.Now().UTC()
	traceID, err := a.Status.StartTrace(ctx, status.Trace{
		DomainID:  datasetID + "/" + version,
		Operation: "upload",
		User:      user,
		StartTime: now,
		EndTime:   now,
		S3Path:    "s3://" + a.Paths.Bucket + "/" + key,
	})
	if err != nil {
		log.WithFields(log.Fields{"datasetId": datasetID, "err": err}).
			Error("failed to create status trace")
	}

	post, err := a.Signer.PresignPost(key, signedPostExpiry)
	if err != nil {
		return a.observe("signed-post", errorOf(err))
	}
	return a.observe("signed-post", respond(200, map[string]interface{}{
		"url":      post.URL,
		"fields":   post.Fields,
		"trace_id": traceID,
	}))
}
