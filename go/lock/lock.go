// Package lock provides the distributed per-dataset write lock, built on
// conditional writes against a key/value table.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	log "github.com/sirupsen/logrus"

	"github.com/oslokommune/data-uploader/go/uploader"
)

// DefaultTable is the conditional-write table holding lock records.
const DefaultTable = "delta-write-lock"

// lockTable is the subset of the DynamoDB client used by the Locker.
type lockTable interface {
	PutItemWithContext(aws.Context, *dynamodb.PutItemInput, ...request.Option) (*dynamodb.PutItemOutput, error)
	DeleteItemWithContext(aws.Context, *dynamodb.DeleteItemInput, ...request.Option) (*dynamodb.DeleteItemOutput, error)
}

// Locker serializes writers of a dataset through a conditional-write
// key/value table. Existence of a lock record means the lock is held;
// a conditional put on its absence is the only acquisition path.
type Locker struct {
	DB    lockTable
	Table string
	// Retries bounds acquisition attempts; WaitInterval separates them.
	Retries      int
	WaitInterval time.Duration
}

// NewLocker returns a Locker over the table with the default acquisition
// budget of 5 attempts spaced 5 seconds apart.
func NewLocker(db lockTable, table string) *Locker {
	return &Locker{DB: db, Table: table, Retries: 5, WaitInterval: 5 * time.Second}
}

// WithLock runs fn while holding the dataset's write lock. The lock
// record is deleted on every exit path, including a panic of fn. An
// exhausted acquisition budget fails Locked without running fn.
func (l *Locker) WithLock(ctx context.Context, datasetID string, fn func(context.Context) error) error {
	for attempt := 0; attempt < l.Retries; attempt++ {
		log.WithField("datasetId", datasetID).Info("locking dataset")

		var acquired, err = l.acquire(ctx, datasetID)
		if err != nil {
			return err
		}
		if acquired {
			defer l.release(datasetID)
			return fn(ctx)
		}

		lockContentionTotal.WithLabelValues(datasetID).Inc()
		log.WithFields(log.Fields{
			"datasetId": datasetID,
			"attempt":   attempt + 1,
			"wait":      l.WaitInterval,
		}).Info("dataset is locked; waiting")

		select {
		case <-time.After(l.WaitInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	lockExhaustedTotal.WithLabelValues(datasetID).Inc()
	return uploader.E(uploader.Locked,
		"The dataset remains write-locked after several retries. "+
			"This should not happen, please contact Dataspeilet.")
}

func (l *Locker) acquire(ctx context.Context, datasetID string) (bool, error) {
	var _, err = l.DB.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.Table),
		Item: map[string]*dynamodb.AttributeValue{
			"DatasetId": {S: aws.String(datasetID)},
			"Timestamp": {S: aws.String(time.Now().UTC().Format(time.RFC3339Nano))},
		},
		ConditionExpression: aws.String("attribute_not_exists(DatasetId)"),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok &&
			aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return false, nil
		}
		return false, fmt.Errorf("locking dataset %s: %w", datasetID, err)
	}
	return true, nil
}

// release deletes the lock record. It deliberately uses a fresh context:
// the lock must be released even when the request context is gone.
func (l *Locker) release(datasetID string) {
	var ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var _, err = l.DB.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.Table),
		Key: map[string]*dynamodb.AttributeValue{
			"DatasetId": {S: aws.String(datasetID)},
		},
	})
	if err != nil {
		// A stuck lock is unstuck by TTL or manual deletion.
		log.WithFields(log.Fields{"datasetId": datasetID, "err": err}).
			Error("failed to release dataset lock")
		return
	}
	log.WithField("datasetId", datasetID).Info("unlocked dataset")
}
