// Package metadata implements the client of the metadata service which
// owns dataset, version, edition and distribution identity.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/oslokommune/data-uploader/go/uploader"
)

// Dataset source types.
const (
	SourceTypeEvent = "event"
	SourceTypeFile  = "file"
)

// Dataset is a dataset record owned by the metadata service.
type Dataset struct {
	ID           string  `json:"Id"`
	AccessRights string  `json:"accessRights"`
	ParentID     string  `json:"parent_id"`
	Source       *Source `json:"source"`
}

// Source describes how a dataset receives its data.
type Source struct {
	Type string `json:"type"`
}

// DatasetID implements storage.Dataset.
func (d *Dataset) DatasetID() string { return d.ID }

// Parent implements storage.Dataset.
func (d *Dataset) Parent() string { return d.ParentID }

// Confidentiality maps the dataset's access rights onto its
// confidentiality color. Unknown or missing access rights map to green.
func (d *Dataset) Confidentiality() string {
	switch d.AccessRights {
	case "restricted":
		return "yellow"
	case "non-public":
		return "red"
	default:
		return "green"
	}
}

// SourceType returns the dataset's source type, defaulting to event when
// the record carries no source block.
func (d *Dataset) SourceType() string {
	if d.Source == nil {
		return SourceTypeEvent
	}
	return d.Source.Type
}

const distributionAttempts = 3

// Client is an HTTP client of the metadata service. Token, when set, is
// the service's own bearer token for operations which create resources.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	// Cache of positively validated version and edition ids. Editions
	// are immutable, so positive results never go stale.
	validated *lru.Cache[string, bool]
}

// NewClient returns a Client of the metadata service at baseURL.
func NewClient(baseURL, token string) *Client {
	var validated, err = lru.New[string, bool](1024)
	if err != nil {
		panic(err) // Only fails on a non-positive size.
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: http.DefaultClient,
		validated:  validated,
	}
}

// GetDataset fetches a dataset record, or fails DatasetNotFound.
func (c *Client) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	var body, status, err = c.get(ctx, fmt.Sprintf("%s/datasets/%s", c.BaseURL, id))
	if err != nil {
		return nil, fmt.Errorf("fetching dataset %s: %w", id, err)
	}
	if status == http.StatusNotFound {
		return nil, uploader.E(uploader.DatasetNotFound, "Dataset %s does not exist", id)
	}
	if status >= 300 {
		return nil, fmt.Errorf("fetching dataset %s: status %d", id, status)
	}

	var dataset Dataset
	if err = json.Unmarshal(body, &dataset); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", id, err)
	}
	return &dataset, nil
}

// ValidateSourceType fails InvalidSourceType unless the dataset has the
// expected source type.
func (c *Client) ValidateSourceType(dataset *Dataset, expected string) error {
	if got := dataset.SourceType(); got != expected {
		return uploader.E(uploader.InvalidSourceType,
			"Invalid source.type '%s' for dataset %s. Must be source.type='%s'.",
			got, dataset.ID, expected)
	}
	return nil
}

// ValidateVersion reports whether versionID (datasetId/version) names a
// version known to the metadata service.
func (c *Client) ValidateVersion(ctx context.Context, versionID string) bool {
	var parts = strings.Split(versionID, "/")
	if len(parts) < 2 {
		return false
	}
	return c.validateID(ctx, versionID,
		fmt.Sprintf("%s/datasets/%s/versions/%s", c.BaseURL, parts[0], parts[1]))
}

// ValidateEdition reports whether editionID (datasetId/version/edition)
// names an edition known to the metadata service.
func (c *Client) ValidateEdition(ctx context.Context, editionID string) bool {
	var parts = strings.Split(editionID, "/")
	if len(parts) < 3 {
		return false
	}
	return c.validateID(ctx, editionID, fmt.Sprintf(
		"%s/datasets/%s/versions/%s/editions/%s", c.BaseURL, parts[0], parts[1], parts[2]))
}

// validateID fetches the record URL and accepts iff its Id matches the
// requested id exactly. Positive results are cached; negatives are not.
func (c *Client) validateID(ctx context.Context, id, url string) bool {
	if _, ok := c.validated.Get(id); ok {
		return true
	}

	var body, status, err = c.get(ctx, url)
	if err != nil || status >= 300 {
		return false
	}
	var record struct {
		ID string `json:"Id"`
	}
	if err = json.Unmarshal(body, &record); err != nil || record.ID != id {
		return false
	}
	c.validated.Add(id, true)
	return true
}

// CreateEdition asks the metadata service to mint a new edition of
// (datasetID, version), named by the current wall-clock time. The given
// bearer token is used when non-empty, else the client's own.
func (c *Client) CreateEdition(ctx context.Context, token, datasetID, version string) (string, error) {
	var edition = time.Now().Format("2006-01-02T15:04:05")
	var payload, _ = json.Marshal(map[string]string{
		"edition":     edition,
		"description": fmt.Sprintf("Data for %s", edition),
	})

	var url = fmt.Sprintf("%s/datasets/%s/versions/%s/editions", c.BaseURL, datasetID, version)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating edition of %s/%s: %w", datasetID, version, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token == "" {
		token = c.Token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("creating edition of %s/%s: %w", datasetID, version, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("creating edition of %s/%s: %w", datasetID, version, err)
	}
	if resp.StatusCode == http.StatusConflict {
		return "", uploader.E(uploader.DataExists,
			"Edition: %s on datasetId %s already exists", edition, datasetID)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("creating edition of %s/%s: status %d", datasetID, version, resp.StatusCode)
	}
	return strings.ReplaceAll(strings.TrimSpace(string(body)), `"`, ""), nil
}

// Distribution describes the objects of a published edition.
type Distribution struct {
	EditionID        string
	DistributionType string
	ContentType      string
	Filenames        []string
}

// CreateDistribution registers a distribution descriptor for an edition,
// retrying transient failures up to three attempts.
func (c *Client) CreateDistribution(ctx context.Context, token string, dist Distribution) error {
	var parts = strings.Split(dist.EditionID, "/")
	if len(parts) != 3 {
		return uploader.E(uploader.InvalidEditionFormat, "Invalid dataset edition format")
	}
	var url = fmt.Sprintf("%s/datasets/%s/versions/%s/editions/%s/distributions",
		c.BaseURL, parts[0], parts[1], parts[2])
	var payload, _ = json.Marshal(map[string]interface{}{
		"distribution_type": dist.DistributionType,
		"content_type":      dist.ContentType,
		"filenames":         dist.Filenames,
	})
	if token == "" {
		token = c.Token
	}

	var lastErr error
	for attempt := 1; attempt <= distributionAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating distribution of %s: %w", dist.EditionID, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				break // Not transient.
			}
		}
		log.WithFields(log.Fields{
			"editionId": dist.EditionID,
			"attempt":   attempt,
			"err":       lastErr,
		}).Warn("distribution creation failed")
	}
	return fmt.Errorf("creating distribution of %s: %w", dist.EditionID, lastErr)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
