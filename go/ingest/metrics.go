package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "uploader_requests_total",
	Help: "counter of handled uploader requests",
}, []string{"handler", "status"})

var messagesHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "uploader_queue_messages_handled_total",
	Help: "counter of queued event batches handled by the consumer",
}, []string{"status"})
