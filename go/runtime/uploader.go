package runtime

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/ssm"

	"github.com/oslokommune/data-uploader/go/alerts"
	"github.com/oslokommune/data-uploader/go/auth"
	"github.com/oslokommune/data-uploader/go/dataset"
	"github.com/oslokommune/data-uploader/go/ingest"
	"github.com/oslokommune/data-uploader/go/lock"
	"github.com/oslokommune/data-uploader/go/metadata"
	"github.com/oslokommune/data-uploader/go/queue"
	"github.com/oslokommune/data-uploader/go/schema"
	"github.com/oslokommune/data-uploader/go/signing"
	"github.com/oslokommune/data-uploader/go/status"
	"github.com/oslokommune/data-uploader/go/storage"
)

// BuildUploader assembles the uploader service from its configuration.
func BuildUploader(cfg *UploaderConfig) (*ingest.API, *ingest.Consumer, error) {
	var sess, err = session.NewSession(aws.NewConfig().WithRegion(cfg.Uploader.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("creating aws session: %w", err)
	}

	registry, err := schema.NewRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("compiling request schemas: %w", err)
	}

	var (
		db       = dynamodb.New(sess)
		blob     = storage.NewS3(s3.New(sess), cfg.Uploader.Bucket)
		paths    = storage.Paths{Bucket: cfg.Uploader.Bucket}
		meta     = metadata.NewClient(cfg.Uploader.MetadataAPIURL, cfg.Uploader.MetadataToken)
		notifier = alerts.NewNotifier(db, ssm.New(sess), cfg.Uploader.EmailAPIURL)
		locker   = lock.NewLocker(db, lock.DefaultTable)
		events   = queue.NewClient(sqs.New(sess), cfg.Uploader.EventQueueName)
	)
	notifier.KeyParameter = cfg.Uploader.EmailAPIKeyParameter
	locker.Retries = cfg.Lock.Retries
	locker.WaitInterval = time.Duration(cfg.Lock.WaitSeconds) * time.Second

	var api = &ingest.API{
		Registry:   registry,
		Authorizer: auth.NewAuthorizer(cfg.Uploader.AuthorizerAPIURL, cfg.Uploader.EnableAuth == "true"),
		Metadata:   meta,
		Locker:     locker,
		Writer: &dataset.Writer{
			Blob:     blob,
			Paths:    paths,
			Metadata: meta,
			Alerts:   notifier,
		},
		Queue:  events,
		Status: status.NewClient(cfg.Uploader.StatusAPIURL),
		Paths:  paths,
		Signer: &signing.Signer{
			Region: cfg.Uploader.Region,
			Bucket: cfg.Uploader.Bucket,
			Credentials: func() (signing.Credentials, error) {
				var value, err = sess.Config.Credentials.Get()
				if err != nil {
					return signing.Credentials{}, err
				}
				return signing.Credentials{
					AccessKeyID:     value.AccessKeyID,
					SecretAccessKey: value.SecretAccessKey,
					SessionToken:    value.SessionToken,
				}, nil
			},
		},
	}
	return api, &ingest.Consumer{Queue: events, API: api}, nil
}
