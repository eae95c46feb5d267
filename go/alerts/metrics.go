package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var alertsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uploader_alerts_sent_total",
	Help: "counter of schema-drift alert emails sent to dataset subscribers",
})
