// Package alerts notifies dataset subscribers of schema drift through
// the email gateway. Notification failures never fail the pipeline.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/ssm"

	"github.com/oslokommune/data-uploader/go/uploader"
)

// DefaultSubscriptionTable is the key/value table of dataset subscribers.
const DefaultSubscriptionTable = "dataset-subscriptions"

// DefaultKeyParameter is the SSM parameter holding the email gateway's
// shared-secret API key.
const DefaultKeyParameter = "/dataplatform/shared/email-api-key"

const (
	senderAddress = "dataplattform@oslo.kommune.no"
	senderName    = "Dataspeilet"
	subject       = "Endring i datastruktur"
)

// subscriptionTable is the subset of the DynamoDB client used here.
type subscriptionTable interface {
	GetItemWithContext(aws.Context, *dynamodb.GetItemInput, ...request.Option) (*dynamodb.GetItemOutput, error)
}

// secretStore is the subset of the SSM client used here.
type secretStore interface {
	GetParameterWithContext(aws.Context, *ssm.GetParameterInput, ...request.Option) (*ssm.GetParameterOutput, error)
}

// Notifier emails dataset subscribers when new columns appear.
type Notifier struct {
	DB           subscriptionTable
	Table        string
	Secrets      secretStore
	KeyParameter string
	EmailAPIURL  string
	HTTPClient   *http.Client

	// Lazily fetched, process-cached API key.
	keyMu sync.Mutex
	key   string
}

// NewNotifier returns a Notifier reading subscriptions from db and
// posting to the email gateway at emailAPIURL.
func NewNotifier(db subscriptionTable, secrets secretStore, emailAPIURL string) *Notifier {
	return &Notifier{
		DB:           db,
		Table:        DefaultSubscriptionTable,
		Secrets:      secrets,
		KeyParameter: DefaultKeyParameter,
		EmailAPIURL:  emailAPIURL,
		HTTPClient:   http.DefaultClient,
	}
}

// NewColumns emails the dataset's subscribers about added columns. It is
// a no-op when there are no new columns or no subscribers. All failures
// are wrapped as AlertEmail for the caller to log and swallow.
func (n *Notifier) NewColumns(ctx context.Context, datasetID string, newColumns []string) error {
	if len(newColumns) == 0 {
		return nil
	}

	var subscribers, err = n.subscribers(ctx, datasetID)
	if err != nil {
		return uploader.Wrap(uploader.AlertEmail, err,
			"looking up subscribers of %s", datasetID)
	}
	if len(subscribers) == 0 {
		return nil
	}

	if err = n.send(ctx, subscribers, composeBody(datasetID, newColumns)); err != nil {
		return uploader.Wrap(uploader.AlertEmail, err,
			"emailing subscribers of %s", datasetID)
	}
	alertsSentTotal.Inc()
	return nil
}

func (n *Notifier) subscribers(ctx context.Context, datasetID string) ([]string, error) {
	var out, err = n.DB.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(n.Table),
		Key: map[string]*dynamodb.AttributeValue{
			"DatasetId": {S: aws.String(datasetID)},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	var subscribers []string
	if attr := out.Item["Subscribers"]; attr != nil {
		for _, v := range attr.L {
			if v.S != nil {
				subscribers = append(subscribers, *v.S)
			}
		}
		// The table historically also stored subscribers as a string set.
		for _, v := range attr.SS {
			subscribers = append(subscribers, *v)
		}
	}
	return subscribers, nil
}

func composeBody(datasetID string, newColumns []string) string {
	var sorted = append([]string(nil), newColumns...)
	sort.Strings(sorted)

	var b strings.Builder
	if len(sorted) > 1 {
		fmt.Fprintf(&b, "New columns have been added to the dataset '%s':\n", datasetID)
	} else {
		fmt.Fprintf(&b, "A new column has been added to the dataset '%s':\n", datasetID)
	}
	for _, col := range sorted {
		fmt.Fprintf(&b, "- %s\n", col)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (n *Notifier) send(ctx context.Context, to []string, body string) error {
	var key, err = n.apiKey(ctx)
	if err != nil {
		return err
	}

	var payload, _ = json.Marshal(map[string]interface{}{
		"mottakerepost":  to,
		"avsenderepost":  senderAddress,
		"avsendernavn":   senderName,
		"emne":           subject,
		"meldingskropp":  strings.ReplaceAll(body, "\n", "<br />"),
	})

	req, err := http.NewRequestWithContext(ctx, "POST", n.EmailAPIURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", key)

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// apiKey fetches the email gateway key from SSM, caching it for the
// process lifetime. Fetch failures are not cached.
func (n *Notifier) apiKey(ctx context.Context) (string, error) {
	n.keyMu.Lock()
	defer n.keyMu.Unlock()

	if n.key != "" {
		return n.key, nil
	}
	var out, err = n.Secrets.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(n.KeyParameter),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", n.KeyParameter, err)
	}
	n.key = *out.Parameter.Value
	return n.key, nil
}
