package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uploader_queue_messages_sent_total",
	Help: "counter of event batches enqueued to the FIFO event queue",
})
