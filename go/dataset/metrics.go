package dataset

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rowsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uploader_rows_ingested_total",
	Help: "counter of event rows merged into dataset editions",
})

var editionsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uploader_editions_published_total",
	Help: "counter of dataset editions published",
})

var alertFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uploader_alert_failures_total",
	Help: "counter of schema-drift notifications which failed and were swallowed",
})
