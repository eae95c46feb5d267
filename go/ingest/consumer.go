package ingest

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oslokommune/data-uploader/go/queue"
	"github.com/oslokommune/data-uploader/go/uploader"
)

// Consumer drives the asynchronous ingestion path: it long-polls the
// FIFO queue and handles one message at a time. In-order handling per
// dataset is the queue's MessageGroupId guarantee.
type Consumer struct {
	Queue *queue.Client
	API   *API
}

// Serve receives and handles messages until the context is cancelled.
// Failed messages are not acknowledged and return through the queue's
// redelivery mechanism.
func (c *Consumer) Serve(ctx context.Context) error {
	for {
		var msg, err = c.Queue.ReceiveOne(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.WithField("err", err).Error("queue receive failed")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if msg == nil {
			continue
		}

		editionID, err := c.API.HandleQueueMessage(ctx, msg)
		if err != nil {
			messagesHandledTotal.WithLabelValues("error").Inc()
			log.WithFields(log.Fields{
				"traceId": msg.TraceID,
				"kind":    uploader.KindOf(err),
				"err":     err,
			}).Error("queued event batch failed")
			continue
		}

		messagesHandledTotal.WithLabelValues("ok").Inc()
		log.WithFields(log.Fields{
			"traceId":   msg.TraceID,
			"editionId": editionID,
		}).Info("handled queued event batch")

		if err = c.Queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			log.WithFields(log.Fields{"traceId": msg.TraceID, "err": err}).
				Error("failed to acknowledge queue message")
		}
	}
}
